// Package httpapi exposes the service over HTTP with gin, plus a websocket
// feed of committed changes and a Prometheus scrape endpoint.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tasktree/internal/logger"
	"tasktree/internal/service"
)

type Server struct {
	svc *service.Service
	hub *Hub
	log *slog.Logger

	unsubscribe func()
}

func New(svc *service.Service, log *slog.Logger) *Server {
	if log == nil {
		log = logger.Get()
	}
	s := &Server{svc: svc, hub: NewHub(log), log: log}
	s.unsubscribe = svc.Subscribe(s.hub.Publish)
	return s
}

func (s *Server) Hub() *Hub { return s.hub }

// Close detaches from the service and drops websocket clients.
func (s *Server) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.hub.Close()
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	r.GET("/status", s.status)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", s.ws)

	api := r.Group("/api")
	{
		api.GET("/tasks", s.listTasks)
		api.POST("/tasks", s.addTask)
		api.GET("/tasks/:id", s.showTask)
		api.PATCH("/tasks/:id", s.patchTask)
		api.POST("/tasks/:id/move", s.moveTask)
		api.DELETE("/tasks/:id", s.deleteTask)

		api.GET("/templates", s.listTemplates)
		api.POST("/templates", s.createTemplate)
		api.GET("/templates/:id/tree", s.templateTree)
		api.PATCH("/templates/:id", s.editTemplate)
		api.DELETE("/templates/:id", s.deleteTemplate)
		api.POST("/templates/:id/instantiate", s.instantiate)

		api.GET("/hierarchy", s.hierarchy)
		api.POST("/relations", s.relate)
		api.DELETE("/relations/:id", s.unrelate)

		api.GET("/events", s.events)
		api.POST("/repair", s.repair)
	}
	return r
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"took", time.Since(start),
		)
	}
}

func (s *Server) status(c *gin.Context) {
	st := s.svc.Status()
	code := http.StatusOK
	if st.Stale {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"data": st, "clients": s.hub.Len()})
}
