package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tasktree/internal/mutate"
)

type placementBody struct {
	AfterID   string `json:"afterId"`
	SortOrder *int   `json:"sortOrder"`
}

func (p placementBody) placement() mutate.Placement {
	return mutate.Placement{AfterID: p.AfterID, SortOrder: p.SortOrder}
}

type addTaskBody struct {
	Title      string  `json:"title"`
	ParentID   *string `json:"parentId"`
	TemplateID *string `json:"templateId"`
	placementBody
}

type patchTaskBody struct {
	Title     *string `json:"title"`
	Completed *bool   `json:"completed"`
}

type moveTaskBody struct {
	ParentID *string `json:"parentId"`
	placementBody
}

// GET /api/tasks returns the forest; ?flat=1 returns the load-ordered list.
func (s *Server) listTasks(c *gin.Context) {
	if c.Query("flat") != "" {
		tasks, err := s.svc.Tasks(c.Request.Context())
		if err != nil {
			writeErr(c, err)
			return
		}
		writeData(c, http.StatusOK, tasks)
		return
	}
	roots, err := s.svc.Forest(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	writeData(c, http.StatusOK, roots)
}

func (s *Server) showTask(c *gin.Context) {
	n, err := s.svc.Subtree(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	writeData(c, http.StatusOK, n)
}

func (s *Server) addTask(c *gin.Context) {
	var body addTaskBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid body: "+err.Error())
		return
	}
	ch, err := s.svc.AddTask(c.Request.Context(), mutate.AddTaskInput{
		Title:      body.Title,
		ParentID:   body.ParentID,
		TemplateID: body.TemplateID,
		Placement:  body.placement(),
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	writeData(c, http.StatusCreated, ch)
}

// PATCH /api/tasks/:id renames and/or toggles completion, in that order.
func (s *Server) patchTask(c *gin.Context) {
	var body patchTaskBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid body: "+err.Error())
		return
	}
	if body.Title == nil && body.Completed == nil {
		badRequest(c, "nothing to change: set title or completed")
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")

	var changes []any
	if body.Title != nil {
		ch, err := s.svc.RenameTask(ctx, id, *body.Title)
		if err != nil {
			writeErr(c, err)
			return
		}
		changes = append(changes, ch)
	}
	if body.Completed != nil {
		ch, err := s.svc.SetCompleted(ctx, id, *body.Completed)
		if err != nil {
			writeErr(c, err)
			return
		}
		changes = append(changes, ch)
	}
	writeData(c, http.StatusOK, changes)
}

func (s *Server) moveTask(c *gin.Context) {
	var body moveTaskBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid body: "+err.Error())
		return
	}
	ch, err := s.svc.MoveTask(c.Request.Context(), c.Param("id"), body.ParentID, body.placement())
	if err != nil {
		writeErr(c, err)
		return
	}
	writeData(c, http.StatusOK, ch)
}

func (s *Server) deleteTask(c *gin.Context) {
	ch, err := s.svc.DeleteTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	writeData(c, http.StatusOK, ch)
}

func (s *Server) events(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, ok := parseNonNegative(raw)
		if !ok {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	evs, err := s.svc.Events(c.Request.Context(), limit)
	if err != nil {
		writeErr(c, err)
		return
	}
	writeData(c, http.StatusOK, evs)
}

func (s *Server) repair(c *gin.Context) {
	ch, err := s.svc.Repair(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	writeData(c, http.StatusOK, ch)
}
