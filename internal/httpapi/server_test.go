package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"tasktree/internal/logger"
	"tasktree/internal/model"
	"tasktree/internal/service"
	"tasktree/internal/store"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger.InitWriter(io.Discard, "error", false)
	svc := service.New(service.Options{Backend: store.NewMemory(nil)})
	s := New(svc, nil)
	t.Cleanup(s.Close)
	return s, s.Router()
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
	Kind  string          `json:"kind"`
}

func do(t *testing.T, h http.Handler, method, path string, body any) (int, envelope) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %s: %v", string(raw), err)
	}
	return v
}

func addTask(t *testing.T, h http.Handler, title string, parent *string) model.Task {
	t.Helper()
	code, env := do(t, h, http.MethodPost, "/api/tasks", map[string]any{"title": title, "parentId": parent})
	if code != http.StatusCreated {
		t.Fatalf("add %q: status %d (%s)", title, code, env.Error)
	}
	ch := decode[service.Change](t, env.Data)
	if ch.Task == nil {
		t.Fatalf("add %q: no task in change", title)
	}
	return *ch.Task
}

func TestTaskLifecycle(t *testing.T) {
	_, h := newTestServer(t)

	root := addTask(t, h, "Release", nil)
	a := addTask(t, h, "Build", &root.ID)
	b := addTask(t, h, "Ship", &root.ID)

	for _, id := range []string{a.ID, b.ID} {
		code, env := do(t, h, http.MethodPatch, "/api/tasks/"+id, map[string]any{"completed": true})
		if code != http.StatusOK {
			t.Fatalf("complete %s: %d %s", id, code, env.Error)
		}
	}

	code, env := do(t, h, http.MethodGet, "/api/tasks/"+root.ID, nil)
	if code != http.StatusOK {
		t.Fatalf("show: %d", code)
	}
	node := decode[model.TaskNode](t, env.Data)
	if !node.Completed || len(node.Children) != 2 {
		t.Fatalf("expected completed root with 2 children, got %+v", node)
	}

	code, env = do(t, h, http.MethodPatch, "/api/tasks/"+a.ID, map[string]any{"title": "Build all", "completed": false})
	if code != http.StatusOK {
		t.Fatalf("patch: %d %s", code, env.Error)
	}
	_, env = do(t, h, http.MethodGet, "/api/tasks?flat=1", nil)
	tasks := decode[[]model.Task](t, env.Data)
	byID := map[string]model.Task{}
	for _, tk := range tasks {
		byID[tk.ID] = tk
	}
	if byID[root.ID].Completed {
		t.Fatalf("root should reopen when a child reopens")
	}
	if byID[a.ID].Title != "Build all" {
		t.Fatalf("rename lost: %+v", byID[a.ID])
	}

	code, _ = do(t, h, http.MethodDelete, "/api/tasks/"+b.ID, nil)
	if code != http.StatusOK {
		t.Fatalf("delete: %d", code)
	}
	_, env = do(t, h, http.MethodGet, "/api/tasks", nil)
	roots := decode[[]model.TaskNode](t, env.Data)
	if len(roots) != 1 || len(roots[0].Children) != 1 {
		t.Fatalf("unexpected forest after delete: %+v", roots)
	}

	_, env = do(t, h, http.MethodGet, "/api/events?limit=2", nil)
	evs := decode[[]model.Event](t, env.Data)
	if len(evs) != 2 || evs[1].Type != "task.delete" {
		t.Fatalf("unexpected events tail: %+v", evs)
	}
}

func TestErrorMapping(t *testing.T) {
	_, h := newTestServer(t)
	root := addTask(t, h, "Root", nil)
	child := addTask(t, h, "Child", &root.ID)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		kind   string
	}{
		{"unknown task", http.MethodGet, "/api/tasks/task-missing", nil, http.StatusNotFound, "reference_not_found"},
		{"empty title", http.MethodPost, "/api/tasks", map[string]any{"title": "  "}, http.StatusBadRequest, "invalid_request"},
		{"no body", http.MethodPost, "/api/tasks", nil, http.StatusBadRequest, "invalid_request"},
		{"empty patch", http.MethodPatch, "/api/tasks/" + root.ID, map[string]any{}, http.StatusBadRequest, "invalid_request"},
		{"move under own child", http.MethodPost, "/api/tasks/" + root.ID + "/move", map[string]any{"parentId": child.ID}, http.StatusConflict, "cycle_detected"},
		{"bad limit", http.MethodGet, "/api/events?limit=-1", nil, http.StatusBadRequest, "invalid_request"},
		{"unknown relation", http.MethodDelete, "/api/relations/rel-missing", nil, http.StatusNotFound, "reference_not_found"},
	}
	for _, tc := range cases {
		code, env := do(t, h, tc.method, tc.path, tc.body)
		if code != tc.status || env.Kind != tc.kind {
			t.Fatalf("%s: got %d/%q (%s), want %d/%q", tc.name, code, env.Kind, env.Error, tc.status, tc.kind)
		}
	}
}

func TestTemplates(t *testing.T) {
	_, h := newTestServer(t)

	mk := func(title string, extra map[string]any) model.Template {
		body := map[string]any{"title": title}
		for k, v := range extra {
			body[k] = v
		}
		code, env := do(t, h, http.MethodPost, "/api/templates", body)
		if code != http.StatusCreated {
			t.Fatalf("create %q: %d %s", title, code, env.Error)
		}
		return *decode[service.Change](t, env.Data).Template
	}

	a := mk("Onboarding", nil)
	b := mk("Offboarding", map[string]any{"private": true})
	shared := mk("Paperwork", map[string]any{"parentId": a.ID})

	code, env := do(t, h, http.MethodPost, "/api/relations", map[string]any{"parentId": b.ID, "childId": shared.ID})
	if code != http.StatusCreated {
		t.Fatalf("relate: %d %s", code, env.Error)
	}
	rel := decode[service.Change](t, env.Data).Relation

	code, env = do(t, h, http.MethodPost, "/api/relations", map[string]any{"parentId": shared.ID, "childId": a.ID})
	if code != http.StatusConflict || env.Kind != "cycle_detected" {
		t.Fatalf("expected cycle conflict, got %d %q", code, env.Kind)
	}

	_, env = do(t, h, http.MethodGet, "/api/templates", nil)
	if got := decode[[]model.Template](t, env.Data); len(got) != 1 || got[0].ID != a.ID {
		t.Fatalf("public list: %+v", got)
	}
	_, env = do(t, h, http.MethodGet, "/api/templates?private=true", nil)
	if got := decode[[]model.Template](t, env.Data); len(got) != 2 {
		t.Fatalf("private list: %+v", got)
	}

	code, env = do(t, h, http.MethodPatch, "/api/templates/"+shared.ID, map[string]any{
		"title":             "Paperwork (exit)",
		"unlink":            true,
		"contextRelationId": rel.ID,
	})
	if code != http.StatusOK {
		t.Fatalf("unlink: %d %s", code, env.Error)
	}
	_, env = do(t, h, http.MethodGet, "/api/templates/"+a.ID+"/tree", nil)
	tree := decode[model.TemplateNode](t, env.Data)
	if len(tree.Children) != 1 || tree.Children[0].Title != "Paperwork" {
		t.Fatalf("shared template should be untouched under %s: %+v", a.ID, tree)
	}

	code, env = do(t, h, http.MethodPost, "/api/templates/"+a.ID+"/instantiate", nil)
	if code != http.StatusCreated {
		t.Fatalf("instantiate: %d %s", code, env.Error)
	}
	_, env = do(t, h, http.MethodGet, "/api/tasks", nil)
	roots := decode[[]model.TaskNode](t, env.Data)
	if len(roots) != 1 || roots[0].Title != "Onboarding" || len(roots[0].Children) != 1 {
		t.Fatalf("unexpected materialized forest: %+v", roots)
	}

	_, env = do(t, h, http.MethodGet, "/api/hierarchy", nil)
	hier := decode[service.Hierarchy](t, env.Data)
	if len(hier.Templates) != 4 || len(hier.Relations) != 2 {
		t.Fatalf("hierarchy: %d templates, %d relations", len(hier.Templates), len(hier.Relations))
	}
}

func TestStatusAndHealth(t *testing.T) {
	_, h := newTestServer(t)
	addTask(t, h, "One", nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}

	code, env := do(t, h, http.MethodGet, "/status", nil)
	if code != http.StatusOK {
		t.Fatalf("status: %d", code)
	}
	st := decode[service.Status](t, env.Data)
	if st.Tasks != 1 || st.Stale {
		t.Fatalf("status: %+v", st)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "tasktree_mutations_total") {
		t.Fatalf("metrics missing mutation counter")
	}
}

func TestWebsocketReceivesChanges(t *testing.T) {
	s, h := newTestServer(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.Hub().Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	task := addTask(t, h, "Live", nil)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "change" || msg.Data.Op != "task.add" || msg.Data.ID != task.ID {
		t.Fatalf("unexpected message: %+v", msg)
	}
}
