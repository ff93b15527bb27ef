package mutate

import (
	"testing"
	"time"

	"tasktree/internal/model"
	"tasktree/internal/store"
)

var testNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func task(id, parent string, order int, done bool) model.Task {
	t := model.Task{ID: id, Title: id, SortOrder: order, Completed: done, CreatedAt: testNow, UpdatedAt: testNow}
	if parent != "" {
		t.ParentID = model.StrPtr(parent)
	}
	return t
}

func newDB(tasks ...model.Task) *store.DB {
	db := store.Empty()
	db.Tasks = append(db.Tasks, tasks...)
	return db
}

func mustTask(t *testing.T, db *store.DB, id string) *model.Task {
	t.Helper()
	x, ok := db.FindTask(id)
	if !ok {
		t.Fatalf("task %s not found", id)
	}
	return x
}

func childIDs(db *store.DB, parent string) []string {
	var out []string
	for _, c := range db.ChildrenOf(parent) {
		out = append(out, c.ID)
	}
	return out
}

// assertConsistent checks that every task with children is complete iff all
// of its children are.
func assertConsistent(t *testing.T, db *store.DB) {
	t.Helper()
	for _, x := range db.Tasks {
		kids := db.ChildrenOf(x.ID)
		if len(kids) == 0 {
			continue
		}
		if want := allComplete(kids); x.Completed != want {
			t.Fatalf("task %s completed=%v but children aggregate=%v", x.ID, x.Completed, want)
		}
	}
}

func assertUniqueOrders(t *testing.T, db *store.DB, parent string) {
	t.Helper()
	seen := map[int]string{}
	for _, c := range db.ChildrenOf(parent) {
		if other, ok := seen[c.SortOrder]; ok {
			t.Fatalf("duplicate sort order %d under %q: %s and %s", c.SortOrder, parent, other, c.ID)
		}
		seen[c.SortOrder] = c.ID
	}
}
