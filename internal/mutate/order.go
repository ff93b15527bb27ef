package mutate

import (
	"strings"
	"time"

	"tasktree/internal/model"
	"tasktree/internal/store"
)

// Placement selects where a task lands among its siblings.
// AfterID wins over SortOrder; with neither the task is appended.
type Placement struct {
	AfterID   string `json:"afterId,omitempty"`
	SortOrder *int   `json:"sortOrder,omitempty"`
}

type OrderShift struct {
	TaskID string `json:"taskId"`
	From   int    `json:"from"`
	To     int    `json:"to"`
}

// InsertPlan is the Order Manager's answer: the new task's parent and order,
// plus the sibling shifts that keep orders unique.
type InsertPlan struct {
	ParentID  *string      `json:"parentId,omitempty"`
	SortOrder int          `json:"sortOrder"`
	Shifts    []OrderShift `json:"shifts,omitempty"`
}

// PlanInsert computes an insertion position without touching db.
//
// excludeID names a task that must not count as a sibling (the task being
// moved); pass "" for plain inserts.
func PlanInsert(db *store.DB, parentID *string, p Placement, excludeID string) (InsertPlan, error) {
	afterID := strings.TrimSpace(p.AfterID)
	excludeID = strings.TrimSpace(excludeID)

	if afterID != "" {
		ref, ok := db.FindTask(afterID)
		if !ok || ref.ID == excludeID {
			return InsertPlan{}, NotFoundError{Kind: "task", ID: afterID}
		}
		if parentID != nil && strings.TrimSpace(*parentID) != ref.ParentKey() {
			return InsertPlan{}, NotFoundError{Kind: "sibling", ID: afterID}
		}
		plan := InsertPlan{ParentID: ref.ParentID, SortOrder: ref.SortOrder + 1}
		for _, sib := range siblings(db, ref.ParentKey(), excludeID) {
			if sib.ID == ref.ID || sib.SortOrder <= ref.SortOrder {
				continue
			}
			plan.Shifts = append(plan.Shifts, OrderShift{TaskID: sib.ID, From: sib.SortOrder, To: sib.SortOrder + 1})
		}
		return plan, nil
	}

	parentKey := ""
	if parentID != nil {
		parentKey = strings.TrimSpace(*parentID)
	}
	sibs := siblings(db, parentKey, excludeID)

	if p.SortOrder != nil {
		at := *p.SortOrder
		if at < 0 {
			return InsertPlan{}, invalidf("sort order must be >= 0, got %d", at)
		}
		plan := InsertPlan{ParentID: parentID, SortOrder: at}
		for _, sib := range sibs {
			if sib.SortOrder < at {
				continue
			}
			plan.Shifts = append(plan.Shifts, OrderShift{TaskID: sib.ID, From: sib.SortOrder, To: sib.SortOrder + 1})
		}
		return plan, nil
	}

	// Append: the sibling count, bumped past the last order when deletes left gaps.
	next := len(sibs)
	if len(sibs) > 0 && sibs[len(sibs)-1].SortOrder >= next {
		next = sibs[len(sibs)-1].SortOrder + 1
	}
	return InsertPlan{ParentID: parentID, SortOrder: next}, nil
}

// ApplyInsertPlan writes the plan's sibling shifts.
func ApplyInsertPlan(db *store.DB, plan InsertPlan, now time.Time) {
	for _, sh := range plan.Shifts {
		if t, ok := db.FindTask(sh.TaskID); ok {
			t.SortOrder = sh.To
			t.UpdatedAt = now
		}
	}
}

func siblings(db *store.DB, parentKey, excludeID string) []*model.Task {
	all := db.ChildrenOf(parentKey)
	if excludeID == "" {
		return all
	}
	out := make([]*model.Task, 0, len(all))
	for _, t := range all {
		if t.ID != excludeID {
			out = append(out, t)
		}
	}
	return out
}
