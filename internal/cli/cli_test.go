package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"tasktree/internal/model"
	"tasktree/internal/service"
	"tasktree/internal/store"
)

func runCLI(t *testing.T, args []string) (stdout []byte, stderr []byte, err error) {
	t.Helper()

	cmd := NewRootCmd()

	var outBuf bytes.Buffer
	var errBuf bytes.Buffer
	cmd.SetOut(&outBuf)
	cmd.SetErr(&errBuf)
	cmd.SetArgs(args)

	e := cmd.Execute()
	return outBuf.Bytes(), errBuf.Bytes(), e
}

// run invokes the CLI against dir and decodes the "data" envelope into T.
func run[T any](t *testing.T, dir string, args ...string) T {
	t.Helper()
	out, errOut, err := runCLI(t, append([]string{"--dir", dir, "--backend", "sqlite"}, args...))
	if err != nil {
		t.Fatalf("%v: %v\nstderr: %s", args, err, string(errOut))
	}
	var env struct {
		Data T `json:"data"`
	}
	if err := json.Unmarshal(out, &env); err != nil {
		t.Fatalf("%v: decode %q: %v", args, string(out), err)
	}
	return env.Data
}

func TestCLI_TaskFlow(t *testing.T) {
	dir := t.TempDir()

	root := run[service.Change](t, dir, "tasks", "add", "Release", "1.0")
	if root.Task == nil || root.Task.Title != "Release 1.0" {
		t.Fatalf("unexpected add result: %+v", root)
	}
	a := run[service.Change](t, dir, "tasks", "add", "Build", "--parent", root.ID)
	b := run[service.Change](t, dir, "tasks", "add", "Ship", "--parent", root.ID)
	first := run[service.Change](t, dir, "tasks", "add", "Plan", "--parent", root.ID, "--order", "0")
	if first.Task.SortOrder != 0 {
		t.Fatalf("expected explicit order 0, got %d", first.Task.SortOrder)
	}

	for _, id := range []string{a.ID, b.ID, first.ID} {
		run[service.Change](t, dir, "tasks", "complete", id)
	}
	node := run[model.TaskNode](t, dir, "tasks", "show", root.ID)
	if !node.Completed {
		t.Fatalf("root should complete once every child is complete")
	}
	var titles []string
	for _, c := range node.Children {
		titles = append(titles, c.Title)
	}
	if strings.Join(titles, ",") != "Plan,Build,Ship" {
		t.Fatalf("unexpected child order: %v", titles)
	}

	run[service.Change](t, dir, "tasks", "reopen", b.ID)
	node = run[model.TaskNode](t, dir, "tasks", "show", root.ID)
	if node.Completed {
		t.Fatalf("root should reopen with its child")
	}

	run[service.Change](t, dir, "tasks", "move", b.ID)
	run[service.Change](t, dir, "tasks", "rename", a.ID, "Build", "everything")
	roots := run[[]model.TaskNode](t, dir, "tasks", "list")
	if len(roots) != 2 {
		t.Fatalf("expected 2 roots after move, got %d", len(roots))
	}
	if !roots[0].Completed {
		t.Fatalf("root should be complete again once the open child moved away")
	}

	del := run[service.Change](t, dir, "tasks", "delete", root.ID)
	if len(del.Deleted) != 3 {
		t.Fatalf("expected root and two children deleted, got %v", del.Deleted)
	}

	evs := run[[]model.Event](t, dir, "events", "--limit", "0")
	if len(evs) == 0 || evs[len(evs)-1].Type != "task.delete" {
		t.Fatalf("unexpected events: %+v", evs)
	}
}

func TestCLI_TreeFormat(t *testing.T) {
	dir := t.TempDir()
	root := run[service.Change](t, dir, "tasks", "add", "Groceries")
	run[service.Change](t, dir, "tasks", "add", "Milk", "--parent", root.ID)

	out, _, err := runCLI(t, []string{"--dir", dir, "--format", "tree", "tasks", "list"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := "[ ] Groceries [0/1]\n└─ [ ] Milk\n"
	if string(out) != want {
		t.Fatalf("got %q want %q", string(out), want)
	}
}

func TestCLI_Errors(t *testing.T) {
	dir := t.TempDir()

	_, errOut, err := runCLI(t, []string{"--dir", dir, "tasks", "show", "task-nope"})
	if err == nil || ExitCode(err) != 3 {
		t.Fatalf("expected not-found exit code 3, got %v (%d)", err, ExitCode(err))
	}
	if !strings.Contains(string(errOut), "reference_not_found") {
		t.Fatalf("stderr should name the error kind: %q", string(errOut))
	}

	_, _, err = runCLI(t, []string{"--dir", dir, "tasks", "add", "   "})
	if ExitCode(err) != 2 {
		t.Fatalf("expected invalid request exit code 2, got %v", err)
	}

	root := run[service.Change](t, dir, "tasks", "add", "Root")
	child := run[service.Change](t, dir, "tasks", "add", "Child", "--parent", root.ID)
	_, _, err = runCLI(t, []string{"--dir", dir, "tasks", "move", root.ID, "--parent", child.ID})
	if ExitCode(err) != 4 {
		t.Fatalf("expected cycle exit code 4, got %v", err)
	}

	_, _, err = runCLI(t, []string{"--dir", dir, "templates", "edit", "tpl-x", "--unlink"})
	if ExitCode(err) != 2 {
		t.Fatalf("--unlink without --context should be rejected, got %v", err)
	}

	_, _, err = runCLI(t, []string{"--backend", "mongo", "tasks", "list"})
	if err == nil {
		t.Fatalf("expected unknown backend error")
	}
}

func TestCLI_Templates(t *testing.T) {
	dir := t.TempDir()

	a := run[service.Change](t, dir, "templates", "create", "Onboarding")
	b := run[service.Change](t, dir, "templates", "create", "Offboarding", "--private")
	shared := run[service.Change](t, dir, "templates", "create", "Accounts", "--parent", a.ID)
	rel := run[service.Change](t, dir, "templates", "relate", b.ID, shared.ID)
	if rel.Relation == nil || rel.Relation.ChildID != shared.ID {
		t.Fatalf("unexpected relate result: %+v", rel)
	}

	public := run[[]model.Template](t, dir, "templates", "list")
	if len(public) != 1 || public[0].ID != a.ID {
		t.Fatalf("public list: %+v", public)
	}
	all := run[[]model.Template](t, dir, "templates", "list", "--private")
	if len(all) != 2 {
		t.Fatalf("private list: %+v", all)
	}

	run[service.Change](t, dir, "templates", "edit", shared.ID, "--title", "Revoke accounts", "--unlink", "--context", rel.Relation.ID)
	treeA := run[model.TemplateNode](t, dir, "templates", "tree", a.ID)
	treeB := run[model.TemplateNode](t, dir, "templates", "tree", b.ID)
	if treeA.Children[0].Title != "Accounts" || treeB.Children[0].Title != "Revoke accounts" {
		t.Fatalf("unlink should fork only the context path: %+v / %+v", treeA, treeB)
	}

	inst := run[service.Change](t, dir, "templates", "instantiate", b.ID)
	node := run[model.TaskNode](t, dir, "tasks", "show", inst.ID)
	if node.Title != "Offboarding" || len(node.Children) != 1 || node.Children[0].Title != "Revoke accounts" {
		t.Fatalf("unexpected instantiated subtree: %+v", node)
	}
	if node.TemplateID == nil || *node.TemplateID != b.ID {
		t.Fatalf("instantiated root should remember its template")
	}

	outDir := t.TempDir()
	res := run[struct {
		Written []string `json:"written"`
	}](t, dir, "tasks", "export", inst.ID, "--to", outDir)
	if len(res.Written) != 1 {
		t.Fatalf("unexpected export result: %+v", res)
	}
	md, err := os.ReadFile(res.Written[0])
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.Contains(string(md), "- [ ] Revoke accounts") {
		t.Fatalf("unexpected export:\n%s", md)
	}

	h := run[service.Hierarchy](t, dir, "templates", "hierarchy")
	if len(h.Templates) != 4 {
		t.Fatalf("expected 4 templates after unlink, got %d", len(h.Templates))
	}

	run[service.Change](t, dir, "templates", "unrelate", rel.Relation.ID)
	run[service.Change](t, dir, "templates", "delete", a.ID)
	h = run[service.Hierarchy](t, dir, "templates", "hierarchy")
	if len(h.Templates) != 3 || len(h.Relations) != 0 {
		t.Fatalf("unexpected hierarchy: %+v", h)
	}
}

func TestCLI_Doctor(t *testing.T) {
	dir := t.TempDir()
	seed := store.Empty()
	seed.Tasks = []model.Task{
		{ID: "task-p", Title: "p", Completed: true},
		{ID: "task-c", Title: "c", ParentID: model.StrPtr("task-p")},
	}
	if err := (store.Store{Dir: dir}).Save(t.Context(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, _, err := runCLI(t, []string{"--dir", dir, "doctor", "--fail"})
	if ExitCode(err) != 6 {
		t.Fatalf("expected doctor failure, got %v", err)
	}

	out, _, err := runCLI(t, []string{"--dir", dir, "doctor", "--fix", "--fail"})
	if err != nil {
		t.Fatalf("doctor --fix: %v", err)
	}
	var res struct {
		Data store.DoctorReport `json:"data"`
		Meta struct {
			Repaired []string `json:"repaired"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Data.Issues) != 0 || len(res.Meta.Repaired) != 1 || res.Meta.Repaired[0] != "task-p" {
		t.Fatalf("unexpected doctor output: %s", string(out))
	}
}
