package tree

import (
	"math/rand"
	"reflect"
	"testing"
	"time"

	"tasktree/internal/model"
	"tasktree/internal/store"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func tk(id, parent string, order int) model.Task {
	t := model.Task{ID: id, Title: id, SortOrder: order, CreatedAt: t0, UpdatedAt: t0}
	if parent != "" {
		t.ParentID = model.StrPtr(parent)
	}
	return t
}

func ids(nodes []*model.TaskNode) []string {
	var out []string
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

func TestBuild(t *testing.T) {
	in := []model.Task{
		tk("a", "", 0),
		tk("b", "", 1),
		tk("a1", "a", 0),
		tk("a2", "a", 1),
		tk("a1x", "a1", 0),
	}
	roots := Build(in)
	if got := ids(roots); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("roots: %v", got)
	}
	if got := ids(roots[0].Children); !reflect.DeepEqual(got, []string{"a1", "a2"}) {
		t.Fatalf("a children: %v", got)
	}
	if got := ids(roots[0].Children[0].Children); !reflect.DeepEqual(got, []string{"a1x"}) {
		t.Fatalf("a1 children: %v", got)
	}
	if roots[1].Children == nil {
		t.Fatalf("leaf children should be an empty slice, not nil")
	}
}

func TestBuild_KeepsInputOrder(t *testing.T) {
	// Not pre-sorted: output follows the input, not SortOrder.
	roots := Build([]model.Task{tk("p", "", 0), tk("y", "p", 5), tk("x", "p", 1)})
	if got := ids(roots[0].Children); !reflect.DeepEqual(got, []string{"y", "x"}) {
		t.Fatalf("children: %v", got)
	}
}

func TestBuild_OrphansBecomeRoots(t *testing.T) {
	roots := Build([]model.Task{tk("a", "", 0), tk("o", "missing", 0), tk("o1", "o", 0)})
	if got := ids(roots); !reflect.DeepEqual(got, []string{"a", "o"}) {
		t.Fatalf("roots: %v", got)
	}
	if got := ids(roots[1].Children); !reflect.DeepEqual(got, []string{"o1"}) {
		t.Fatalf("orphan keeps its own children: %v", got)
	}
	if len(Build(nil)) != 0 {
		t.Fatalf("empty input should give an empty forest")
	}
}

func TestWalkAndFind(t *testing.T) {
	roots := Build([]model.Task{tk("a", "", 0), tk("b", "", 1), tk("a1", "a", 0)})
	var seen []string
	var depths []int
	Walk(roots, func(n *model.TaskNode, d int) bool {
		seen = append(seen, n.ID)
		depths = append(depths, d)
		return true
	})
	if !reflect.DeepEqual(seen, []string{"a", "a1", "b"}) || !reflect.DeepEqual(depths, []int{0, 1, 0}) {
		t.Fatalf("walk: %v %v", seen, depths)
	}
	if n := Find(roots, "a1"); n == nil || n.ID != "a1" {
		t.Fatalf("Find a1: %v", n)
	}
	if Find(roots, "zz") != nil {
		t.Fatalf("Find should miss")
	}
}

func rebuild(db *store.DB) []*model.TaskNode {
	tasks := append([]model.Task(nil), db.Tasks...)
	store.SortForLoad(tasks)
	return Build(tasks)
}

func TestForest_PatchMatchesRebuild(t *testing.T) {
	before := store.Empty()
	before.Tasks = []model.Task{
		tk("a", "", 0),
		tk("a1", "a", 0),
		tk("a2", "a", 1),
		tk("b", "", 1),
		tk("b1", "b", 0),
		tk("o", "ghost", 0),
	}
	f := NewForest(before.Tasks)
	if !reflect.DeepEqual(f.Snapshot(), rebuild(before)) {
		t.Fatalf("initial forest differs from Build")
	}

	after := before.Clone()
	// Move a2 under b ahead of b1, delete a1, add a child to o, add the ghost.
	a2, _ := after.FindTask("a2")
	a2.ParentID = model.StrPtr("b")
	a2.SortOrder = 0
	b1, _ := after.FindTask("b1")
	b1.SortOrder = 1
	after.RemoveTasks(map[string]bool{"a1": true})
	after.AddTask(tk("o1", "o", 0))
	after.AddTask(tk("ghost", "", 2))

	f.Patch(store.Diff(before, after))
	if got, want := f.Snapshot(), rebuild(after); !reflect.DeepEqual(got, want) {
		t.Fatalf("patched forest differs from rebuild:\n got %v\nwant %v", ids(got), ids(want))
	}
	if f.Len() != len(after.Tasks) {
		t.Fatalf("Len: %d want %d", f.Len(), len(after.Tasks))
	}
}

func TestForest_DeleteParentOrphansChildren(t *testing.T) {
	before := store.Empty()
	before.Tasks = []model.Task{tk("p", "", 0), tk("c", "p", 0), tk("z", "", 1)}
	f := NewForest(before.Tasks)

	after := before.Clone()
	after.RemoveTasks(map[string]bool{"p": true})
	f.Patch(store.Diff(before, after))
	if got, want := f.Snapshot(), rebuild(after); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", ids(got), ids(want))
	}
}

func TestForest_RandomPatches(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	db := store.Empty()
	f := NewForest(nil)
	next := 0
	for step := 0; step < 200; step++ {
		before := db.Clone()
		switch op := rng.Intn(4); {
		case op < 2 || len(db.Tasks) == 0:
			parent := ""
			if len(db.Tasks) > 0 && rng.Intn(3) > 0 {
				parent = db.Tasks[rng.Intn(len(db.Tasks))].ID
			}
			id := "t" + string(rune('a'+next%26)) + string(rune('a'+next/26%26)) + string(rune('a'+next/676%26))
			next++
			db.AddTask(tk(id, parent, rng.Intn(5)))
		case op == 2:
			victim := db.Tasks[rng.Intn(len(db.Tasks))].ID
			drop := map[string]bool{victim: true}
			for _, d := range db.DescendantIDs(victim) {
				drop[d] = true
			}
			db.RemoveTasks(drop)
		default:
			x := &db.Tasks[rng.Intn(len(db.Tasks))]
			x.SortOrder = rng.Intn(5)
			x.Completed = !x.Completed
		}
		f.Patch(store.Diff(before, db))
		if got, want := f.Snapshot(), rebuild(db); !reflect.DeepEqual(got, want) {
			t.Fatalf("step %d: patched forest differs from rebuild", step)
		}
	}
}

func TestForest_SnapshotDoesNotAlias(t *testing.T) {
	f := NewForest([]model.Task{tk("a", "", 0), tk("a1", "a", 0)})
	snap := f.Snapshot()
	snap[0].Title = "changed"
	snap[0].Children[0].Children = append(snap[0].Children[0].Children, &model.TaskNode{})
	again := f.Snapshot()
	if again[0].Title != "a" || len(again[0].Children[0].Children) != 0 {
		t.Fatalf("snapshot aliases live nodes")
	}
}
