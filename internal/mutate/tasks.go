package mutate

import (
	"strings"
	"time"

	"tasktree/internal/model"
	"tasktree/internal/store"
)

type AddTaskInput struct {
	Title      string
	ParentID   *string
	TemplateID *string
	Placement  Placement
}

type TaskResult struct {
	Task *model.Task
	// Reconciled lists ancestors whose completed flag was re-derived.
	Reconciled   []string
	EventPayload map[string]any
}

// AddTask inserts a new incomplete task. With Placement.AfterID and no
// ParentID the reference's parent is used.
func AddTask(db *store.DB, in AddTaskInput, now time.Time) (TaskResult, error) {
	title := strings.TrimSpace(in.Title)
	if db == nil || title == "" {
		return TaskResult{}, invalidf("task title is required")
	}
	parentID := trimPtr(in.ParentID)
	if parentID != nil {
		if _, ok := db.FindTask(*parentID); !ok {
			return TaskResult{}, NotFoundError{Kind: "task", ID: *parentID}
		}
	}

	plan, err := PlanInsert(db, parentID, in.Placement, "")
	if err != nil {
		return TaskResult{}, err
	}
	ApplyInsertPlan(db, plan, now)

	id := db.NextID(store.PrefixTask)
	db.AddTask(model.Task{
		ID:         id,
		TemplateID: trimPtr(in.TemplateID),
		ParentID:   trimPtr(plan.ParentID),
		Title:      title,
		SortOrder:  plan.SortOrder,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	t, _ := db.FindTask(id)

	var reconciled []string
	if t.ParentID != nil {
		reconciled = Reconcile(db, *t.ParentID, now)
	}
	t, _ = db.FindTask(id)
	return TaskResult{
		Task:       t,
		Reconciled: reconciled,
		EventPayload: map[string]any{
			"title":     t.Title,
			"parentId":  t.ParentKey(),
			"sortOrder": t.SortOrder,
		},
	}, nil
}

type DeleteResult struct {
	DeletedIDs []string
	Reconciled []string
}

// DeleteTask removes taskID and its whole subtree. Siblings keep their
// orders. The former parent is reconciled when it still has children.
func DeleteTask(db *store.DB, taskID string, now time.Time) (DeleteResult, error) {
	taskID = strings.TrimSpace(taskID)
	if db == nil || taskID == "" {
		return DeleteResult{}, invalidf("missing task id")
	}
	t, ok := db.FindTask(taskID)
	if !ok {
		return DeleteResult{}, NotFoundError{Kind: "task", ID: taskID}
	}
	parentKey := t.ParentKey()

	ids := append([]string{taskID}, db.DescendantIDs(taskID)...)
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	db.RemoveTasks(drop)

	var reconciled []string
	if parentKey != "" {
		reconciled = Reconcile(db, parentKey, now)
	}
	return DeleteResult{DeletedIDs: ids, Reconciled: reconciled}, nil
}

func RenameTask(db *store.DB, taskID, title string, now time.Time) (TaskResult, error) {
	taskID = strings.TrimSpace(taskID)
	title = strings.TrimSpace(title)
	if db == nil || taskID == "" {
		return TaskResult{}, invalidf("missing task id")
	}
	if title == "" {
		return TaskResult{}, invalidf("task title is required")
	}
	t, ok := db.FindTask(taskID)
	if !ok {
		return TaskResult{}, NotFoundError{Kind: "task", ID: taskID}
	}
	if t.Title == title {
		return TaskResult{Task: t}, nil
	}
	prev := t.Title
	t.Title = title
	t.UpdatedAt = now
	return TaskResult{
		Task:         t,
		EventPayload: map[string]any{"from": prev, "to": title},
	}, nil
}

// MoveTask reparents taskID (nil parent = root) and places it via the
// Order Manager. Moving a task under itself or one of its descendants is a
// cycle. Old and new parent chains are reconciled.
func MoveTask(db *store.DB, taskID string, newParentID *string, p Placement, now time.Time) (TaskResult, error) {
	taskID = strings.TrimSpace(taskID)
	if db == nil || taskID == "" {
		return TaskResult{}, invalidf("missing task id")
	}
	t, ok := db.FindTask(taskID)
	if !ok {
		return TaskResult{}, NotFoundError{Kind: "task", ID: taskID}
	}
	newParentID = trimPtr(newParentID)
	if newParentID != nil {
		if _, ok := db.FindTask(*newParentID); !ok {
			return TaskResult{}, NotFoundError{Kind: "task", ID: *newParentID}
		}
	}

	plan, err := PlanInsert(db, newParentID, p, taskID)
	if err != nil {
		return TaskResult{}, err
	}
	if plan.ParentID != nil {
		target := *plan.ParentID
		if target == taskID {
			return TaskResult{}, CycleError{ParentID: target, ChildID: taskID}
		}
		for _, d := range db.DescendantIDs(taskID) {
			if d == target {
				return TaskResult{}, CycleError{ParentID: target, ChildID: taskID}
			}
		}
	}

	oldParent := t.ParentKey()
	fromOrder := t.SortOrder
	ApplyInsertPlan(db, plan, now)
	t, _ = db.FindTask(taskID)
	t.ParentID = trimPtr(plan.ParentID)
	t.SortOrder = plan.SortOrder
	t.UpdatedAt = now
	db.Invalidate()

	var reconciled []string
	if oldParent != "" {
		reconciled = append(reconciled, Reconcile(db, oldParent, now)...)
	}
	if plan.ParentID != nil {
		reconciled = append(reconciled, Reconcile(db, *plan.ParentID, now)...)
	}
	t, _ = db.FindTask(taskID)
	return TaskResult{
		Task:       t,
		Reconciled: reconciled,
		EventPayload: map[string]any{
			"fromParentId": oldParent,
			"toParentId":   t.ParentKey(),
			"fromOrder":    fromOrder,
			"toOrder":      t.SortOrder,
		},
	}, nil
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
