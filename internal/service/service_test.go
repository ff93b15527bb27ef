package service

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"tasktree/internal/model"
	"tasktree/internal/mutate"
	"tasktree/internal/store"
	"tasktree/internal/tree"
)

type flakyBackend struct {
	*store.Memory
	failApply bool
	failLoad  bool
}

func (f *flakyBackend) Load(ctx context.Context) (*store.DB, error) {
	if f.failLoad {
		return nil, errors.New("read timeout")
	}
	return f.Memory.Load(ctx)
}

func (f *flakyBackend) Apply(ctx context.Context, d store.Delta) error {
	if f.failApply {
		return errors.New("disk full")
	}
	return f.Memory.Apply(ctx, d)
}

func newTestService(t *testing.T) (*Service, *flakyBackend) {
	t.Helper()
	be := &flakyBackend{Memory: store.NewMemory(nil)}
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := New(Options{
		Backend: be,
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	})
	return s, be
}

func mustAdd(t *testing.T, s *Service, title string, parent *string) string {
	t.Helper()
	ch, err := s.AddTask(context.Background(), mutate.AddTaskInput{Title: title, ParentID: parent})
	if err != nil {
		t.Fatalf("AddTask(%s): %v", title, err)
	}
	return ch.ID
}

func findTask(t *testing.T, s *Service, id string) model.TaskNode {
	t.Helper()
	n, err := s.Subtree(context.Background(), id)
	if err != nil {
		t.Fatalf("Subtree(%s): %v", id, err)
	}
	return *n
}

func assertForestMatchesStorage(t *testing.T, s *Service, be store.Backend) {
	t.Helper()
	ctx := context.Background()
	got, err := s.Forest(ctx)
	if err != nil {
		t.Fatalf("Forest: %v", err)
	}
	db, err := be.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if want := tree.Build(db.Tasks); !reflect.DeepEqual(got, want) {
		t.Fatalf("cached forest differs from a rebuild of storage")
	}
}

func TestService_ScenarioT1(t *testing.T) {
	ctx := context.Background()
	s, be := newTestService(t)

	t1 := mustAdd(t, s, "T1", nil)
	s1 := mustAdd(t, s, "S1", &t1)
	s2 := mustAdd(t, s, "S2", &t1)
	s3 := mustAdd(t, s, "S3", &t1)

	if _, err := s.SetCompleted(ctx, s1, true); err != nil {
		t.Fatalf("complete S1: %v", err)
	}
	if findTask(t, s, t1).Completed {
		t.Fatalf("T1 complete after S1 only")
	}
	for _, id := range []string{s2, s3} {
		if _, err := s.SetCompleted(ctx, id, true); err != nil {
			t.Fatalf("complete %s: %v", id, err)
		}
	}
	if !findTask(t, s, t1).Completed {
		t.Fatalf("T1 should be complete")
	}
	ch, err := s.SetCompleted(ctx, s2, false)
	if err != nil {
		t.Fatalf("reopen S2: %v", err)
	}
	if findTask(t, s, t1).Completed {
		t.Fatalf("T1 should reopen")
	}
	if ch.Op != "task.reopen" || len(ch.Affected) != 2 {
		t.Fatalf("unexpected change: op=%s affected=%v", ch.Op, ch.Affected)
	}

	node := findTask(t, s, t1)
	var order []string
	for _, c := range node.Children {
		order = append(order, c.ID)
	}
	if !reflect.DeepEqual(order, []string{s1, s2, s3}) {
		t.Fatalf("children order %v", order)
	}
	assertForestMatchesStorage(t, s, be)

	evs, err := s.Events(ctx, 0)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(evs) != 8 || evs[len(evs)-1].Type != "task.reopen" || evs[len(evs)-1].EntityID != s2 {
		t.Fatalf("unexpected events: %d, last=%+v", len(evs), evs[len(evs)-1])
	}
}

func TestService_NoOpWritesNothing(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	id := mustAdd(t, s, "Same", nil)

	notified := 0
	unsubscribe := s.Subscribe(func(Change) { notified++ })
	defer unsubscribe()

	ch, err := s.RenameTask(ctx, id, "Same")
	if err != nil {
		t.Fatalf("RenameTask: %v", err)
	}
	if !ch.Delta.Empty() || notified != 0 {
		t.Fatalf("no-op rename should not write or notify")
	}
	evs, _ := s.Events(ctx, 0)
	if len(evs) != 1 {
		t.Fatalf("no-op must not log an event, got %d", len(evs))
	}

	if _, err := s.RenameTask(ctx, id, "Other"); err != nil {
		t.Fatalf("RenameTask: %v", err)
	}
	if notified != 1 {
		t.Fatalf("expected one notification, got %d", notified)
	}
}

func TestService_ValidationErrorsDoNotWrite(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	if _, err := s.AddTask(ctx, mutate.AddTaskInput{Title: "x", Placement: mutate.Placement{AfterID: "ghost"}}); mutate.KindOf(err) != mutate.KindReferenceNotFound {
		t.Fatalf("expected reference_not_found, got %v", err)
	}
	if _, err := s.SetCompleted(ctx, "ghost", true); mutate.KindOf(err) != mutate.KindReferenceNotFound {
		t.Fatalf("expected reference_not_found, got %v", err)
	}
	if st := s.Status(); st.Tasks != 0 || st.Stale {
		t.Fatalf("unexpected status: %+v", st)
	}
	evs, _ := s.Events(ctx, 0)
	if len(evs) != 0 {
		t.Fatalf("rejected mutations must not log events")
	}
}

func TestService_PersistenceFailureMarksStale(t *testing.T) {
	ctx := context.Background()
	s, be := newTestService(t)
	p := mustAdd(t, s, "P", nil)
	c := mustAdd(t, s, "C", &p)

	be.failApply = true
	_, err := s.SetCompleted(ctx, c, true)
	var pe mutate.PersistenceError
	if !errors.As(err, &pe) || mutate.KindOf(err) != mutate.KindPersistenceFailure {
		t.Fatalf("expected persistence failure, got %v", err)
	}
	st := s.Status()
	if !st.Stale || st.LastError == "" {
		t.Fatalf("status should be stale after a failed write: %+v", st)
	}

	be.failApply = false
	if findTask(t, s, c).Completed {
		t.Fatalf("failed write must not show up in the rebuilt forest")
	}
	if s.Status().Stale {
		t.Fatalf("a successful read clears the stale flag")
	}
	if _, err := s.SetCompleted(ctx, c, true); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !findTask(t, s, p).Completed {
		t.Fatalf("P should complete after retry")
	}
	assertForestMatchesStorage(t, s, be)

	be.failLoad = true
	if _, err := s.Forest(ctx); mutate.KindOf(err) != mutate.KindPersistenceFailure {
		t.Fatalf("expected persistence failure on load, got %v", err)
	}
	be.failLoad = false
}

func TestService_SeesWritesFromAnotherWriter(t *testing.T) {
	ctx := context.Background()
	s, be := newTestService(t)
	other := New(Options{Backend: be})

	a := mustAdd(t, s, "A", nil)
	if _, err := other.AddTask(ctx, mutate.AddTaskInput{Title: "B", ParentID: &a}); err != nil {
		t.Fatalf("other.AddTask: %v", err)
	}
	if len(findTask(t, s, a).Children) != 1 {
		t.Fatalf("forest should pick up the other writer's task")
	}
	assertForestMatchesStorage(t, s, be)
}

// millisBackend rounds timestamps down to milliseconds on load, like the
// Neo4j backend does.
type millisBackend struct {
	*store.Memory
}

func (m millisBackend) Load(ctx context.Context) (*store.DB, error) {
	db, err := m.Memory.Load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range db.Tasks {
		db.Tasks[i].CreatedAt = db.Tasks[i].CreatedAt.Truncate(time.Millisecond)
		db.Tasks[i].UpdatedAt = db.Tasks[i].UpdatedAt.Truncate(time.Millisecond)
	}
	for i := range db.Templates {
		db.Templates[i].CreatedAt = db.Templates[i].CreatedAt.Truncate(time.Millisecond)
		db.Templates[i].UpdatedAt = db.Templates[i].UpdatedAt.Truncate(time.Millisecond)
	}
	return db, nil
}

func TestService_OwnWritesMatchNextLoad(t *testing.T) {
	ctx := context.Background()
	be := millisBackend{Memory: store.NewMemory(nil)}
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := New(Options{
		Backend: be,
		Now: func() time.Time {
			clock = clock.Add(1234567 * time.Nanosecond)
			return clock
		},
	})

	a := mustAdd(t, s, "A", nil)
	mustAdd(t, s, "B", &a)
	if _, err := s.CreateTemplate(ctx, mutate.CreateTemplateInput{Title: "Tpl"}); err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}

	fresh, err := be.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if d := store.Diff(s.base, fresh); !d.Empty() {
		t.Fatalf("own writes should load back unchanged, got %+v", d)
	}
}

func TestService_MoveAndDelete(t *testing.T) {
	ctx := context.Background()
	s, be := newTestService(t)
	a := mustAdd(t, s, "A", nil)
	b := mustAdd(t, s, "B", nil)
	a1 := mustAdd(t, s, "A1", &a)
	mustAdd(t, s, "A1x", &a1)

	if _, err := s.MoveTask(ctx, a1, &b, mutate.Placement{}); err != nil {
		t.Fatalf("MoveTask: %v", err)
	}
	if _, err := s.MoveTask(ctx, b, &a1, mutate.Placement{}); mutate.KindOf(err) != mutate.KindCycleDetected {
		t.Fatalf("expected cycle_detected, got %v", err)
	}
	assertForestMatchesStorage(t, s, be)

	ch, err := s.DeleteTask(ctx, b)
	if err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if len(ch.Deleted) != 3 {
		t.Fatalf("expected B, A1, A1x deleted, got %v", ch.Deleted)
	}
	forest, _ := s.Forest(ctx)
	if len(forest) != 1 || forest[0].ID != a || len(forest[0].Children) != 0 {
		t.Fatalf("unexpected forest after delete")
	}
}

func TestService_Templates(t *testing.T) {
	ctx := context.Background()
	s, be := newTestService(t)

	tplA, err := s.CreateTemplate(ctx, mutate.CreateTemplateInput{Title: "TplA"})
	if err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	tplB, _ := s.CreateTemplate(ctx, mutate.CreateTemplateInput{Title: "TplB"})
	tpl1, err := s.CreateTemplate(ctx, mutate.CreateTemplateInput{Title: "Tpl1", ParentID: tplA.ID})
	if err != nil {
		t.Fatalf("CreateTemplate child: %v", err)
	}
	relB, err := s.RelateTemplates(ctx, tplB.ID, tpl1.ID, nil)
	if err != nil {
		t.Fatalf("RelateTemplates: %v", err)
	}
	if _, err := s.RelateTemplates(ctx, tpl1.ID, tplA.ID, nil); mutate.KindOf(err) != mutate.KindCycleDetected {
		t.Fatalf("expected cycle_detected, got %v", err)
	}

	title := "Fork"
	edit, err := s.EditTemplate(ctx, tpl1.ID, mutate.TemplateEdit{Title: &title, Unlink: true, ContextRelationID: relB.ID})
	if err != nil {
		t.Fatalf("EditTemplate unlink: %v", err)
	}
	h, err := s.TemplateHierarchy(ctx)
	if err != nil {
		t.Fatalf("TemplateHierarchy: %v", err)
	}
	if len(h.Templates) != 4 || len(h.Relations) != 2 {
		t.Fatalf("expected 4 templates and 2 relations, got %d/%d", len(h.Templates), len(h.Relations))
	}

	treeB, err := s.TemplateTree(ctx, tplB.ID)
	if err != nil {
		t.Fatalf("TemplateTree: %v", err)
	}
	if len(treeB.Children) != 1 || treeB.Children[0].ID != edit.ID || treeB.Children[0].Title != "Fork" {
		t.Fatalf("TplB should see the fork: %+v", treeB.Children)
	}
	treeA, _ := s.TemplateTree(ctx, tplA.ID)
	if treeA.Children[0].Title != "Tpl1" {
		t.Fatalf("TplA should still see the original")
	}

	inst, err := s.Instantiate(ctx, tplA.ID, nil)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	root := findTask(t, s, inst.ID)
	if len(root.Children) != 1 || root.Children[0].Title != "Tpl1" {
		t.Fatalf("unexpected instance: %+v", root)
	}

	if _, err := s.DeleteTemplate(ctx, tplA.ID); err != nil {
		t.Fatalf("DeleteTemplate: %v", err)
	}
	list, err := s.ListTemplates(ctx, false)
	if err != nil {
		t.Fatalf("ListTemplates: %v", err)
	}
	titles := map[string]bool{}
	for _, tp := range list {
		titles[tp.Title] = true
	}
	if !titles["Tpl1"] || !titles["TplB"] || titles["TplA"] {
		t.Fatalf("Tpl1 should be promoted after losing TplA: %v", titles)
	}
	if root := findTask(t, s, inst.ID); root.TemplateID == nil || *root.TemplateID != tplA.ID {
		t.Fatalf("instances keep the deleted template id")
	}
	assertForestMatchesStorage(t, s, be)
}

func TestService_Repair(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seed := store.Empty()
	seed.Tasks = []model.Task{
		{ID: "p", Title: "p", Completed: true, CreatedAt: now},
		{ID: "c", ParentID: model.StrPtr("p"), Title: "c", CreatedAt: now},
	}
	s := New(Options{Backend: store.NewMemory(seed)})
	report, err := s.Doctor(ctx)
	if err != nil {
		t.Fatalf("Doctor: %v", err)
	}
	if !report.HasErrors() || report.Issues[0].Code != "completion_mismatch" {
		t.Fatalf("expected completion_mismatch, got %#v", report.Issues)
	}
	ch, err := s.Repair(ctx)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if !reflect.DeepEqual(ch.Affected, []string{"p"}) {
		t.Fatalf("expected p repaired, got %v", ch.Affected)
	}
	again, err := s.Repair(ctx)
	if err != nil || !again.Delta.Empty() {
		t.Fatalf("second repair should be a no-op: %+v %v", again, err)
	}
	if report, _ = s.Doctor(ctx); len(report.Issues) != 0 {
		t.Fatalf("expected clean report after repair, got %#v", report.Issues)
	}
}

type countingLocker struct {
	acquired int
	fail     error
}

func (l *countingLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.fail != nil {
		return nil, l.fail
	}
	l.acquired++
	return func() {}, nil
}

func TestService_UsesLocker(t *testing.T) {
	ctx := context.Background()
	lk := &countingLocker{}
	s := New(Options{Backend: store.NewMemory(nil), Locker: lk})
	if _, err := s.AddTask(ctx, mutate.AddTaskInput{Title: "x"}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if _, err := s.Forest(ctx); err != nil {
		t.Fatalf("Forest: %v", err)
	}
	if lk.acquired != 1 {
		t.Fatalf("only writes take the lock, got %d", lk.acquired)
	}
	lk.fail = errors.New("redis down")
	if _, err := s.AddTask(ctx, mutate.AddTaskInput{Title: "y"}); mutate.KindOf(err) != mutate.KindPersistenceFailure {
		t.Fatalf("expected persistence failure when the lock fails, got %v", err)
	}
}
