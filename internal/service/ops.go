package service

import (
	"context"
	"time"

	"tasktree/internal/model"
	"tasktree/internal/mutate"
	"tasktree/internal/store"
	"tasktree/internal/tree"
)

func (s *Service) AddTask(ctx context.Context, in mutate.AddTaskInput) (Change, error) {
	return s.write(ctx, "task.add", func(db *store.DB, now time.Time) (Change, map[string]any, error) {
		res, err := mutate.AddTask(db, in, now)
		if err != nil {
			return Change{}, nil, err
		}
		return Change{ID: res.Task.ID, Task: copyTask(res.Task)}, res.EventPayload, nil
	})
}

// SetCompleted toggles a task and propagates completion both ways.
func (s *Service) SetCompleted(ctx context.Context, taskID string, completed bool) (Change, error) {
	op := "task.complete"
	if !completed {
		op = "task.reopen"
	}
	return s.write(ctx, op, func(db *store.DB, now time.Time) (Change, map[string]any, error) {
		res, err := mutate.SetCompleted(db, taskID, completed, now)
		if err != nil {
			return Change{}, nil, err
		}
		return Change{ID: res.Task.ID, Task: copyTask(res.Task)}, map[string]any{
			"completed": completed,
			"changed":   res.Changed,
		}, nil
	})
}

func (s *Service) DeleteTask(ctx context.Context, taskID string) (Change, error) {
	return s.write(ctx, "task.delete", func(db *store.DB, now time.Time) (Change, map[string]any, error) {
		res, err := mutate.DeleteTask(db, taskID, now)
		if err != nil {
			return Change{}, nil, err
		}
		return Change{ID: res.DeletedIDs[0]}, map[string]any{
			"deleted":    res.DeletedIDs,
			"reconciled": res.Reconciled,
		}, nil
	})
}

func (s *Service) RenameTask(ctx context.Context, taskID, title string) (Change, error) {
	return s.write(ctx, "task.rename", func(db *store.DB, now time.Time) (Change, map[string]any, error) {
		res, err := mutate.RenameTask(db, taskID, title, now)
		if err != nil {
			return Change{}, nil, err
		}
		return Change{ID: res.Task.ID, Task: copyTask(res.Task)}, res.EventPayload, nil
	})
}

// MoveTask reparents a task; nil parent moves it to the root list.
func (s *Service) MoveTask(ctx context.Context, taskID string, parentID *string, p mutate.Placement) (Change, error) {
	return s.write(ctx, "task.move", func(db *store.DB, now time.Time) (Change, map[string]any, error) {
		res, err := mutate.MoveTask(db, taskID, parentID, p, now)
		if err != nil {
			return Change{}, nil, err
		}
		return Change{ID: res.Task.ID, Task: copyTask(res.Task)}, res.EventPayload, nil
	})
}

func (s *Service) CreateTemplate(ctx context.Context, in mutate.CreateTemplateInput) (Change, error) {
	return s.write(ctx, "template.create", func(db *store.DB, now time.Time) (Change, map[string]any, error) {
		res, err := mutate.CreateTemplate(db, in, now)
		if err != nil {
			return Change{}, nil, err
		}
		return templateChange(res), res.EventPayload, nil
	})
}

func (s *Service) EditTemplate(ctx context.Context, templateID string, e mutate.TemplateEdit) (Change, error) {
	return s.write(ctx, "template.edit", func(db *store.DB, now time.Time) (Change, map[string]any, error) {
		res, err := mutate.EditTemplate(db, templateID, e, now)
		if err != nil {
			return Change{}, nil, err
		}
		return templateChange(res), res.EventPayload, nil
	})
}

func (s *Service) RelateTemplates(ctx context.Context, parentID, childID string, position *int) (Change, error) {
	return s.write(ctx, "template.relate", func(db *store.DB, now time.Time) (Change, map[string]any, error) {
		res, err := mutate.RelateTemplates(db, parentID, childID, position, now)
		if err != nil {
			return Change{}, nil, err
		}
		ch := templateChange(res)
		ch.ID = res.Relation.ID
		return ch, res.EventPayload, nil
	})
}

func (s *Service) UnrelateTemplates(ctx context.Context, relationID string) (Change, error) {
	return s.write(ctx, "template.unrelate", func(db *store.DB, now time.Time) (Change, map[string]any, error) {
		res, err := mutate.UnrelateTemplates(db, relationID, now)
		if err != nil {
			return Change{}, nil, err
		}
		ch := templateChange(res)
		ch.ID = res.Relation.ID
		res.EventPayload["promoted"] = res.Promoted
		return ch, res.EventPayload, nil
	})
}

func (s *Service) DeleteTemplate(ctx context.Context, templateID string) (Change, error) {
	return s.write(ctx, "template.delete", func(db *store.DB, now time.Time) (Change, map[string]any, error) {
		res, err := mutate.DeleteTemplate(db, templateID, now)
		if err != nil {
			return Change{}, nil, err
		}
		res.EventPayload["promoted"] = res.Promoted
		return templateChange(res), res.EventPayload, nil
	})
}

// Instantiate materializes a template under targetParentID (nil for a new root).
func (s *Service) Instantiate(ctx context.Context, templateID string, targetParentID *string) (Change, error) {
	return s.write(ctx, "template.instantiate", func(db *store.DB, now time.Time) (Change, map[string]any, error) {
		res, err := mutate.Materialize(db, templateID, targetParentID, now)
		if err != nil {
			return Change{}, nil, err
		}
		return Change{ID: res.Root.ID, Task: copyTask(res.Root)}, map[string]any{
			"templateId": templateID,
			"created":    res.CreatedIDs,
			"reconciled": res.Reconciled,
		}, nil
	})
}

// Repair re-derives completion for every parent from its children.
func (s *Service) Repair(ctx context.Context) (Change, error) {
	return s.write(ctx, "repair", func(db *store.DB, now time.Time) (Change, map[string]any, error) {
		changed := mutate.RepairAll(db, now)
		return Change{}, map[string]any{"changed": changed}, nil
	})
}

// Doctor reports snapshot problems without changing anything.
func (s *Service) Doctor(ctx context.Context) (store.DoctorReport, error) {
	var out store.DoctorReport
	err := s.read(ctx, func(db *store.DB) error {
		out = mutate.Diagnose(db, s.now().UTC())
		return nil
	})
	return out, err
}

// Forest returns a deep copy of the current task forest.
func (s *Service) Forest(ctx context.Context) ([]*model.TaskNode, error) {
	var out []*model.TaskNode
	err := s.read(ctx, func(*store.DB) error {
		out = s.forest.Snapshot()
		return nil
	})
	return out, err
}

// Subtree returns the node for taskID with its descendants.
func (s *Service) Subtree(ctx context.Context, taskID string) (*model.TaskNode, error) {
	var out *model.TaskNode
	err := s.read(ctx, func(db *store.DB) error {
		if _, ok := db.FindTask(taskID); !ok {
			return mutate.NotFoundError{Kind: "task", ID: taskID}
		}
		n := tree.Find(s.forest.Roots(), taskID)
		if n == nil {
			return mutate.NotFoundError{Kind: "task", ID: taskID}
		}
		out = tree.CloneNode(n)
		return nil
	})
	return out, err
}

// Tasks returns the flat task list in load order.
func (s *Service) Tasks(ctx context.Context) ([]model.Task, error) {
	var out []model.Task
	err := s.read(ctx, func(db *store.DB) error {
		out = make([]model.Task, 0, len(db.Tasks))
		for _, t := range db.Tasks {
			out = append(out, store.CloneTask(t))
		}
		store.SortForLoad(out)
		return nil
	})
	return out, err
}

func (s *Service) TemplateHierarchy(ctx context.Context) (Hierarchy, error) {
	var out Hierarchy
	err := s.read(ctx, func(db *store.DB) error {
		out.Templates = append([]model.Template{}, db.Templates...)
		out.Relations = append([]model.TemplateRelation{}, db.Relations...)
		return nil
	})
	return out, err
}

func (s *Service) ListTemplates(ctx context.Context, includePrivate bool) ([]model.Template, error) {
	var out []model.Template
	err := s.read(ctx, func(db *store.DB) error {
		out = mutate.ListTemplates(db, includePrivate)
		return nil
	})
	return out, err
}

func (s *Service) TemplateTree(ctx context.Context, templateID string) (*model.TemplateNode, error) {
	var out *model.TemplateNode
	err := s.read(ctx, func(db *store.DB) error {
		var err error
		out, err = mutate.TemplateTree(db, templateID)
		return err
	})
	return out, err
}

func (s *Service) Events(ctx context.Context, limit int) ([]model.Event, error) {
	evs, err := s.backend.Events(ctx, limit)
	if err != nil {
		return nil, mutate.PersistenceError{Op: "events", Err: err}
	}
	return evs, nil
}

func templateChange(res mutate.TemplateResult) Change {
	ch := Change{}
	if res.Template != nil {
		t := *res.Template
		ch.ID = t.ID
		ch.Template = &t
	}
	if res.Relation != nil {
		r := *res.Relation
		ch.Relation = &r
	}
	return ch
}

func copyTask(t *model.Task) *model.Task {
	if t == nil {
		return nil
	}
	c := store.CloneTask(*t)
	return &c
}
