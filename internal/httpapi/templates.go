package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tasktree/internal/mutate"
)

type createTemplateBody struct {
	Title     string `json:"title"`
	Private   bool   `json:"private"`
	RootLevel bool   `json:"rootLevel"`
	ParentID  string `json:"parentId"`
	Position  *int   `json:"position"`
}

type editTemplateBody struct {
	Title             *string `json:"title"`
	Private           *bool   `json:"private"`
	RootLevel         *bool   `json:"rootLevel"`
	Unlink            bool    `json:"unlink"`
	ContextRelationID string  `json:"contextRelationId"`
}

type relateBody struct {
	ParentID string `json:"parentId"`
	ChildID  string `json:"childId"`
	Position *int   `json:"position"`
}

type instantiateBody struct {
	ParentID *string `json:"parentId"`
}

func (s *Server) listTemplates(c *gin.Context) {
	includePrivate, _ := strconv.ParseBool(c.DefaultQuery("private", "false"))
	tpls, err := s.svc.ListTemplates(c.Request.Context(), includePrivate)
	if err != nil {
		writeErr(c, err)
		return
	}
	writeData(c, http.StatusOK, tpls)
}

func (s *Server) templateTree(c *gin.Context) {
	n, err := s.svc.TemplateTree(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	writeData(c, http.StatusOK, n)
}

func (s *Server) hierarchy(c *gin.Context) {
	h, err := s.svc.TemplateHierarchy(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	writeData(c, http.StatusOK, h)
}

func (s *Server) createTemplate(c *gin.Context) {
	var body createTemplateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid body: "+err.Error())
		return
	}
	ch, err := s.svc.CreateTemplate(c.Request.Context(), mutate.CreateTemplateInput{
		Title:     body.Title,
		Private:   body.Private,
		RootLevel: body.RootLevel,
		ParentID:  body.ParentID,
		Position:  body.Position,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	writeData(c, http.StatusCreated, ch)
}

func (s *Server) editTemplate(c *gin.Context) {
	var body editTemplateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid body: "+err.Error())
		return
	}
	ch, err := s.svc.EditTemplate(c.Request.Context(), c.Param("id"), mutate.TemplateEdit{
		Title:             body.Title,
		Private:           body.Private,
		RootLevel:         body.RootLevel,
		Unlink:            body.Unlink,
		ContextRelationID: body.ContextRelationID,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	writeData(c, http.StatusOK, ch)
}

func (s *Server) deleteTemplate(c *gin.Context) {
	ch, err := s.svc.DeleteTemplate(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	writeData(c, http.StatusOK, ch)
}

func (s *Server) instantiate(c *gin.Context) {
	var body instantiateBody
	// An empty body instantiates at the root.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "invalid body: "+err.Error())
			return
		}
	}
	ch, err := s.svc.Instantiate(c.Request.Context(), c.Param("id"), body.ParentID)
	if err != nil {
		writeErr(c, err)
		return
	}
	writeData(c, http.StatusCreated, ch)
}

func (s *Server) relate(c *gin.Context) {
	var body relateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid body: "+err.Error())
		return
	}
	ch, err := s.svc.RelateTemplates(c.Request.Context(), body.ParentID, body.ChildID, body.Position)
	if err != nil {
		writeErr(c, err)
		return
	}
	writeData(c, http.StatusCreated, ch)
}

func (s *Server) unrelate(c *gin.Context) {
	ch, err := s.svc.UnrelateTemplates(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	writeData(c, http.StatusOK, ch)
}

func parseNonNegative(raw string) (int, bool) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
