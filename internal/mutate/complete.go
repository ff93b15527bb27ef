package mutate

import (
	"strings"
	"time"

	"tasktree/internal/model"
	"tasktree/internal/store"
)

type ToggleResult struct {
	Task *model.Task
	// Changed lists every task whose completed flag flipped, in write order.
	Changed []string
}

// SetCompleted toggles taskID to completed and restores the invariant
// "a task with children is complete iff all its children are complete".
//
// Downward: every descendant that differs is set to the new value.
// Upward: parents are inferred one level at a time until a parent already
// holds the value (fixed point) or, when completing, a sibling is still open.
// Running it twice yields the same snapshot.
func SetCompleted(db *store.DB, taskID string, completed bool, now time.Time) (ToggleResult, error) {
	taskID = strings.TrimSpace(taskID)
	if db == nil || taskID == "" {
		return ToggleResult{}, invalidf("missing task id")
	}
	x, ok := db.FindTask(taskID)
	if !ok {
		return ToggleResult{}, NotFoundError{Kind: "task", ID: taskID}
	}

	var changed []string
	set := func(t *model.Task, v bool) {
		t.Completed = v
		t.UpdatedAt = now
		changed = append(changed, t.ID)
	}

	if x.Completed != completed {
		set(x, completed)
	}
	changed = append(changed, cascadeDown(db, x.ID, completed, now)...)
	changed = append(changed, inferUp(db, x.ID, completed, now)...)

	x, _ = db.FindTask(taskID)
	return ToggleResult{Task: x, Changed: changed}, nil
}

// cascadeDown walks the subtree below rootID with an explicit stack and sets
// every descendant that differs from v. Nodes already equal to v are left
// unwritten but still walked, so a stale descendant deeper down is fixed too.
func cascadeDown(db *store.DB, rootID string, v bool, now time.Time) []string {
	var changed []string
	seen := map[string]bool{rootID: true}
	stack := []string{rootID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range db.ChildrenOf(id) {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			if c.Completed != v {
				c.Completed = v
				c.UpdatedAt = now
				changed = append(changed, c.ID)
			}
			stack = append(stack, c.ID)
		}
	}
	return changed
}

func inferUp(db *store.DB, fromID string, v bool, now time.Time) []string {
	var changed []string
	cur, _ := db.FindTask(fromID)
	seen := map[string]bool{}
	for cur != nil && cur.ParentID != nil {
		p, ok := db.FindTask(*cur.ParentID)
		if !ok || seen[p.ID] {
			// Orphans have no parent to update.
			break
		}
		seen[p.ID] = true
		if p.Completed == v {
			break
		}
		if v && !allComplete(db.ChildrenOf(p.ID)) {
			break
		}
		p.Completed = v
		p.UpdatedAt = now
		changed = append(changed, p.ID)
		cur = p
	}
	return changed
}

func allComplete(tasks []*model.Task) bool {
	for _, t := range tasks {
		if !t.Completed {
			return false
		}
	}
	return true
}

// Reconcile re-derives completion for taskID and its ancestors after the set
// of children under taskID changed (insert, delete, move, materialize).
// A task with children takes the aggregate of its children. A childless task
// keeps its own flag; becoming childless never completes it.
func Reconcile(db *store.DB, taskID string, now time.Time) []string {
	var changed []string
	seen := map[string]bool{}
	cur := strings.TrimSpace(taskID)
	for cur != "" && !seen[cur] {
		seen[cur] = true
		t, ok := db.FindTask(cur)
		if !ok {
			break
		}
		kids := db.ChildrenOf(t.ID)
		if len(kids) == 0 {
			break
		}
		want := allComplete(kids)
		if t.Completed == want {
			break
		}
		t.Completed = want
		t.UpdatedAt = now
		changed = append(changed, t.ID)
		cur = t.ParentKey()
	}
	return changed
}

// RepairAll recomputes every parent bottom-up from its children. It is the
// recovery path after an interrupted cascade; on a consistent snapshot it
// changes nothing.
func RepairAll(db *store.DB, now time.Time) []string {
	// Post-order via two stacks: push parents before children, then pop in reverse.
	var order []string
	seen := map[string]bool{}
	stack := []string{}
	for _, t := range db.Tasks {
		if t.ParentID == nil {
			stack = append(stack, t.ID)
			continue
		}
		if _, ok := db.FindTask(*t.ParentID); !ok {
			stack = append(stack, t.ID)
		}
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		order = append(order, id)
		for _, c := range db.ChildrenOf(id) {
			stack = append(stack, c.ID)
		}
	}

	var changed []string
	for i := len(order) - 1; i >= 0; i-- {
		t, _ := db.FindTask(order[i])
		kids := db.ChildrenOf(t.ID)
		if len(kids) == 0 {
			continue
		}
		want := allComplete(kids)
		if t.Completed != want {
			t.Completed = want
			t.UpdatedAt = now
			changed = append(changed, t.ID)
		}
	}
	return changed
}
