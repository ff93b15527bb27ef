package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tasktree/internal/httpapi"
	"tasktree/internal/logger"
)

func newServeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, /ws change feed and /metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.service(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			addr := app.cfg.HTTP.Addr
			srv := httpapi.New(svc, logger.With("component", "http"))
			logger.Info("serving", "addr", addr, "backend", app.cfg.Backend)
			if err := srv.Run(ctx, addr); err != nil {
				return writeErr(cmd, err)
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "", "Listen address (default from http.addr, :8080)")
	if app.v != nil {
		_ = app.v.BindPFlag("http.addr", cmd.Flags().Lookup("addr"))
	}
	return cmd
}
