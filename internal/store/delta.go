package store

import "tasktree/internal/model"

// Delta is the set of writes produced by one mutation.
type Delta struct {
	PutTasks          []model.Task             `json:"putTasks,omitempty"`
	DeleteTaskIDs     []string                 `json:"deleteTaskIds,omitempty"`
	PutTemplates      []model.Template         `json:"putTemplates,omitempty"`
	DeleteTemplateIDs []string                 `json:"deleteTemplateIds,omitempty"`
	PutRelations      []model.TemplateRelation `json:"putRelations,omitempty"`
	DeleteRelationIDs []string                 `json:"deleteRelationIds,omitempty"`
	Events            []model.Event            `json:"events,omitempty"`
}

// Empty reports whether the delta writes nothing (events aside).
func (d Delta) Empty() bool {
	return len(d.PutTasks) == 0 && len(d.DeleteTaskIDs) == 0 &&
		len(d.PutTemplates) == 0 && len(d.DeleteTemplateIDs) == 0 &&
		len(d.PutRelations) == 0 && len(d.DeleteRelationIDs) == 0
}

// Diff computes the writes that turn before into after.
// Puts follow after's order; deletes follow before's order.
func Diff(before, after *DB) Delta {
	var d Delta

	oldTasks := make(map[string]model.Task, len(before.Tasks))
	for _, t := range before.Tasks {
		oldTasks[t.ID] = t
	}
	newTasks := make(map[string]bool, len(after.Tasks))
	for _, t := range after.Tasks {
		newTasks[t.ID] = true
		if prev, ok := oldTasks[t.ID]; ok && TasksEqual(prev, t) {
			continue
		}
		d.PutTasks = append(d.PutTasks, CloneTask(t))
	}
	for _, t := range before.Tasks {
		if !newTasks[t.ID] {
			d.DeleteTaskIDs = append(d.DeleteTaskIDs, t.ID)
		}
	}

	oldTpls := make(map[string]model.Template, len(before.Templates))
	for _, t := range before.Templates {
		oldTpls[t.ID] = t
	}
	newTpls := make(map[string]bool, len(after.Templates))
	for _, t := range after.Templates {
		newTpls[t.ID] = true
		if prev, ok := oldTpls[t.ID]; ok && prev.Title == t.Title && prev.Private == t.Private &&
			prev.RootLevel == t.RootLevel && prev.CreatedAt.Equal(t.CreatedAt) && prev.UpdatedAt.Equal(t.UpdatedAt) {
			continue
		}
		d.PutTemplates = append(d.PutTemplates, t)
	}
	for _, t := range before.Templates {
		if !newTpls[t.ID] {
			d.DeleteTemplateIDs = append(d.DeleteTemplateIDs, t.ID)
		}
	}

	oldRels := make(map[string]model.TemplateRelation, len(before.Relations))
	for _, r := range before.Relations {
		oldRels[r.ID] = r
	}
	newRels := make(map[string]bool, len(after.Relations))
	for _, r := range after.Relations {
		newRels[r.ID] = true
		if prev, ok := oldRels[r.ID]; ok && prev == r {
			continue
		}
		d.PutRelations = append(d.PutRelations, r)
	}
	for _, r := range before.Relations {
		if !newRels[r.ID] {
			d.DeleteRelationIDs = append(d.DeleteRelationIDs, r.ID)
		}
	}
	return d
}

// TasksEqual compares two tasks field by field, following pointers.
func TasksEqual(a, b model.Task) bool {
	return a.ID == b.ID &&
		a.Title == b.Title &&
		a.Completed == b.Completed &&
		a.SortOrder == b.SortOrder &&
		strPtrEqual(a.ParentID, b.ParentID) &&
		strPtrEqual(a.TemplateID, b.TemplateID) &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ApplyDelta applies d to db in place. Backends without transactions of their
// own (memory) and the forest cache share this logic.
func ApplyDelta(db *DB, d Delta) {
	if len(d.DeleteTaskIDs) > 0 {
		del := map[string]bool{}
		for _, id := range d.DeleteTaskIDs {
			del[id] = true
		}
		db.RemoveTasks(del)
	}
	for _, t := range d.PutTasks {
		if cur, ok := db.FindTask(t.ID); ok {
			*cur = CloneTask(t)
			db.Invalidate()
			continue
		}
		db.AddTask(CloneTask(t))
	}
	if len(d.DeleteRelationIDs) > 0 {
		del := map[string]bool{}
		for _, id := range d.DeleteRelationIDs {
			del[id] = true
		}
		db.RemoveRelations(del)
	}
	for _, id := range d.DeleteTemplateIDs {
		db.RemoveTemplate(id)
	}
	for _, t := range d.PutTemplates {
		if cur, ok := db.FindTemplate(t.ID); ok {
			*cur = t
			continue
		}
		db.AddTemplate(t)
	}
	for _, r := range d.PutRelations {
		if cur, ok := db.FindRelation(r.ID); ok {
			*cur = r
			db.Invalidate()
			continue
		}
		db.AddRelation(r)
	}
}
