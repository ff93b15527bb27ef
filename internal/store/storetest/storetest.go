// Package storetest checks that a store.Backend honours the storage contract.
package storetest

import (
	"context"
	"testing"
	"time"

	"tasktree/internal/model"
	"tasktree/internal/store"
)

// Run exercises open()'s backend. Each subtest gets a fresh, empty backend.
func Run(t *testing.T, open func(t *testing.T) store.Backend) {
	t.Run("EmptyLoad", func(t *testing.T) { testEmptyLoad(t, open(t)) })
	t.Run("PutAndLoadOrdered", func(t *testing.T) { testPutAndLoad(t, open(t)) })
	t.Run("UpdateInPlace", func(t *testing.T) { testUpdate(t, open(t)) })
	t.Run("Deletes", func(t *testing.T) { testDeletes(t, open(t)) })
	t.Run("Events", func(t *testing.T) { testEvents(t, open(t)) })
}

var base = time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

func task(id, parent string, order int) model.Task {
	t := model.Task{ID: id, Title: "title " + id, SortOrder: order, CreatedAt: base, UpdatedAt: base}
	if parent != "" {
		t.ParentID = model.StrPtr(parent)
	}
	return t
}

func seed() store.Delta {
	withTpl := task("task-b", "task-root", 0)
	withTpl.TemplateID = model.StrPtr("tpl-a")
	withTpl.Completed = true
	return store.Delta{
		PutTasks: []model.Task{
			task("task-root", "", 0),
			task("task-c", "task-root", 2),
			withTpl,
			task("task-a", "task-root", 1),
			task("task-other", "", 1),
		},
		PutTemplates: []model.Template{
			{ID: "tpl-a", Title: "A", RootLevel: true, CreatedAt: base, UpdatedAt: base},
			{ID: "tpl-b", Title: "B", Private: true, CreatedAt: base, UpdatedAt: base},
			{ID: "tpl-c", Title: "C", CreatedAt: base, UpdatedAt: base},
		},
		PutRelations: []model.TemplateRelation{
			{ID: "rel-1", ParentID: "tpl-a", ChildID: "tpl-b", Position: 0, Expanded: true},
			{ID: "rel-2", ParentID: "tpl-a", ChildID: "tpl-c", Position: 1},
		},
		Events: []model.Event{{ID: "evt-seed", TS: base, Type: "seed", EntityID: "task-root"}},
	}
}

func mustApply(t *testing.T, b store.Backend, d store.Delta) {
	t.Helper()
	if err := b.Apply(context.Background(), d); err != nil {
		t.Fatalf("Apply: %v", err)
	}
}

func mustLoad(t *testing.T, b store.Backend) *store.DB {
	t.Helper()
	db, err := b.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return db
}

func testEmptyLoad(t *testing.T, b store.Backend) {
	db := mustLoad(t, b)
	if len(db.Tasks) != 0 || len(db.Templates) != 0 || len(db.Relations) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", db)
	}
}

func testPutAndLoad(t *testing.T, b store.Backend) {
	mustApply(t, b, seed())
	db := mustLoad(t, b)

	if len(db.Tasks) != 5 || len(db.Templates) != 3 || len(db.Relations) != 2 {
		t.Fatalf("unexpected counts: %d tasks, %d templates, %d relations", len(db.Tasks), len(db.Templates), len(db.Relations))
	}
	// Load order: inside one parent group tasks ascend by sort order.
	var kids []string
	for _, x := range db.Tasks {
		if x.ParentKey() == "task-root" {
			kids = append(kids, x.ID)
		}
	}
	if len(kids) != 3 || kids[0] != "task-b" || kids[1] != "task-a" || kids[2] != "task-c" {
		t.Fatalf("children not in sort order: %v", kids)
	}

	b1, ok := db.FindTask("task-b")
	if !ok || !b1.Completed || b1.TemplateID == nil || *b1.TemplateID != "tpl-a" || !b1.CreatedAt.Equal(base) {
		t.Fatalf("task-b did not round-trip: %+v", b1)
	}
	if root, _ := db.FindTask("task-root"); root.ParentID != nil {
		t.Fatalf("root task gained a parent: %+v", root)
	}
	tb, ok := db.FindTemplate("tpl-b")
	if !ok || !tb.Private || tb.RootLevel {
		t.Fatalf("tpl-b did not round-trip: %+v", tb)
	}
	r1, ok := db.FindRelation("rel-1")
	if !ok || r1.ParentID != "tpl-a" || r1.ChildID != "tpl-b" || !r1.Expanded {
		t.Fatalf("rel-1 did not round-trip: %+v", r1)
	}
}

func testUpdate(t *testing.T, b store.Backend) {
	mustApply(t, b, seed())

	moved := task("task-a", "task-other", 0)
	moved.Title = "renamed"
	moved.Completed = true
	mustApply(t, b, store.Delta{
		PutTasks:     []model.Task{moved},
		PutTemplates: []model.Template{{ID: "tpl-c", Title: "C2", RootLevel: true, CreatedAt: base, UpdatedAt: base.Add(time.Minute)}},
		PutRelations: []model.TemplateRelation{{ID: "rel-1", ParentID: "tpl-a", ChildID: "tpl-c", Position: 3}},
	})

	db := mustLoad(t, b)
	a, _ := db.FindTask("task-a")
	if a.Title != "renamed" || !a.Completed || a.ParentKey() != "task-other" {
		t.Fatalf("task-a not updated: %+v", a)
	}
	if len(db.ChildrenOf("task-root")) != 2 {
		t.Fatalf("task-a still listed under task-root")
	}
	c, _ := db.FindTemplate("tpl-c")
	if c.Title != "C2" || !c.RootLevel || !c.UpdatedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("tpl-c not updated: %+v", c)
	}
	r1, _ := db.FindRelation("rel-1")
	if r1.ChildID != "tpl-c" || r1.Position != 3 {
		t.Fatalf("rel-1 not rewired: %+v", r1)
	}
	if len(db.Relations) != 2 {
		t.Fatalf("rewire must not duplicate relations: %+v", db.Relations)
	}
}

func testDeletes(t *testing.T, b store.Backend) {
	mustApply(t, b, seed())
	mustApply(t, b, store.Delta{
		DeleteTaskIDs:     []string{"task-root", "task-a", "task-b", "task-c"},
		DeleteRelationIDs: []string{"rel-1", "rel-2"},
		DeleteTemplateIDs: []string{"tpl-b"},
	})
	db := mustLoad(t, b)
	if len(db.Tasks) != 1 || db.Tasks[0].ID != "task-other" {
		t.Fatalf("unexpected tasks after delete: %+v", db.Tasks)
	}
	if len(db.Relations) != 0 || len(db.Templates) != 2 {
		t.Fatalf("unexpected templates/relations after delete: %+v %+v", db.Templates, db.Relations)
	}
}

func testEvents(t *testing.T, b store.Backend) {
	ctx := context.Background()
	mustApply(t, b, seed())
	for i, typ := range []string{"task.add", "task.complete"} {
		mustApply(t, b, store.Delta{Events: []model.Event{{
			ID:       "evt-" + typ,
			TS:       base.Add(time.Duration(i+1) * time.Second),
			Type:     typ,
			EntityID: "task-a",
			Payload:  map[string]any{"n": i},
		}}})
	}
	evs, err := b.Events(ctx, 0)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(evs) != 3 || evs[0].ID != "evt-seed" || evs[2].ID != "evt-task.complete" {
		t.Fatalf("expected chronological events, got %+v", evs)
	}
	tail, err := b.Events(ctx, 2)
	if err != nil {
		t.Fatalf("Events tail: %v", err)
	}
	if len(tail) != 2 || tail[0].ID != "evt-task.add" || tail[1].ID != "evt-task.complete" {
		t.Fatalf("expected last two events, got %+v", tail)
	}
}
