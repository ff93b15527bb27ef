package store

import (
	"context"
	"strings"

	"tasktree/internal/model"
)

// DB is an in-memory snapshot of the whole record set.
// Mutations work on a Clone and the difference is committed as a Delta.
type DB struct {
	Tasks     []model.Task             `json:"tasks"`
	Templates []model.Template         `json:"templates"`
	Relations []model.TemplateRelation `json:"relations"`

	// Derived indexes. These are not persisted.
	idxBuilt      bool
	idxTaskPos    map[string]int
	idxChildren   map[string][]int
	idxTplPos     map[string]int
	idxRelByChild map[string][]int
	idxRelByPar   map[string][]int
}

// Backend is the storage contract the engine calls into.
//
// Load returns tasks ordered ascending by sort order within each parent group.
// Apply commits every write of one mutation (including its events) as one unit.
type Backend interface {
	Load(ctx context.Context) (*DB, error)
	Apply(ctx context.Context, d Delta) error
	Events(ctx context.Context, limit int) ([]model.Event, error)
	Close() error
}

func (db *DB) ensureIndexes() {
	if db == nil || db.idxBuilt {
		return
	}
	db.idxTaskPos = make(map[string]int, len(db.Tasks))
	db.idxChildren = map[string][]int{}
	for i, t := range db.Tasks {
		db.idxTaskPos[t.ID] = i
		db.idxChildren[t.ParentKey()] = append(db.idxChildren[t.ParentKey()], i)
	}
	db.idxTplPos = make(map[string]int, len(db.Templates))
	for i, t := range db.Templates {
		db.idxTplPos[t.ID] = i
	}
	db.idxRelByChild = map[string][]int{}
	db.idxRelByPar = map[string][]int{}
	for i, r := range db.Relations {
		db.idxRelByChild[r.ChildID] = append(db.idxRelByChild[r.ChildID], i)
		db.idxRelByPar[r.ParentID] = append(db.idxRelByPar[r.ParentID], i)
	}
	db.idxBuilt = true
}

// Invalidate drops derived indexes. Call it after changing slice membership,
// a task's ParentID or a relation's endpoints.
func (db *DB) Invalidate() {
	if db != nil {
		db.idxBuilt = false
	}
}

func (db *DB) FindTask(id string) (*model.Task, bool) {
	if db == nil {
		return nil, false
	}
	db.ensureIndexes()
	i, ok := db.idxTaskPos[strings.TrimSpace(id)]
	if !ok {
		return nil, false
	}
	return &db.Tasks[i], true
}

func (db *DB) FindTemplate(id string) (*model.Template, bool) {
	if db == nil {
		return nil, false
	}
	db.ensureIndexes()
	i, ok := db.idxTplPos[strings.TrimSpace(id)]
	if !ok {
		return nil, false
	}
	return &db.Templates[i], true
}

func (db *DB) FindRelation(id string) (*model.TemplateRelation, bool) {
	id = strings.TrimSpace(id)
	for i := range db.Relations {
		if db.Relations[i].ID == id {
			return &db.Relations[i], true
		}
	}
	return nil, false
}

// ChildrenOf returns the children of parentID ("" for roots) ordered by sort order.
// The returned pointers alias db.Tasks.
func (db *DB) ChildrenOf(parentID string) []*model.Task {
	if db == nil {
		return nil
	}
	db.ensureIndexes()
	idxs := db.idxChildren[strings.TrimSpace(parentID)]
	out := make([]*model.Task, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, &db.Tasks[i])
	}
	SortTasksByOrder(out)
	return out
}

// IncomingRelations returns the relations whose child is templateID.
func (db *DB) IncomingRelations(templateID string) []model.TemplateRelation {
	db.ensureIndexes()
	var out []model.TemplateRelation
	for _, i := range db.idxRelByChild[strings.TrimSpace(templateID)] {
		out = append(out, db.Relations[i])
	}
	return out
}

// OutgoingRelations returns the relations whose parent is templateID, by position.
func (db *DB) OutgoingRelations(templateID string) []model.TemplateRelation {
	db.ensureIndexes()
	var out []model.TemplateRelation
	for _, i := range db.idxRelByPar[strings.TrimSpace(templateID)] {
		out = append(out, db.Relations[i])
	}
	SortRelationsByPosition(out)
	return out
}

// DescendantIDs returns every transitive descendant of taskID (excluding itself).
func (db *DB) DescendantIDs(taskID string) []string {
	var out []string
	stack := []string{taskID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range db.ChildrenOf(id) {
			out = append(out, c.ID)
			stack = append(stack, c.ID)
		}
	}
	return out
}

func (db *DB) AddTask(t model.Task) {
	db.Tasks = append(db.Tasks, t)
	db.Invalidate()
}

// RemoveTasks drops the given ids from the snapshot.
func (db *DB) RemoveTasks(ids map[string]bool) {
	out := db.Tasks[:0]
	for _, t := range db.Tasks {
		if ids[t.ID] {
			continue
		}
		out = append(out, t)
	}
	db.Tasks = out
	db.Invalidate()
}

func (db *DB) AddTemplate(t model.Template) {
	db.Templates = append(db.Templates, t)
	db.Invalidate()
}

func (db *DB) RemoveTemplate(id string) {
	out := db.Templates[:0]
	for _, t := range db.Templates {
		if t.ID == id {
			continue
		}
		out = append(out, t)
	}
	db.Templates = out
	db.Invalidate()
}

func (db *DB) AddRelation(r model.TemplateRelation) {
	db.Relations = append(db.Relations, r)
	db.Invalidate()
}

func (db *DB) RemoveRelations(ids map[string]bool) {
	out := db.Relations[:0]
	for _, r := range db.Relations {
		if ids[r.ID] {
			continue
		}
		out = append(out, r)
	}
	db.Relations = out
	db.Invalidate()
}

// Clone returns a deep copy that shares nothing with db.
func (db *DB) Clone() *DB {
	if db == nil {
		return &DB{}
	}
	out := &DB{
		Tasks:     make([]model.Task, len(db.Tasks)),
		Templates: make([]model.Template, len(db.Templates)),
		Relations: make([]model.TemplateRelation, len(db.Relations)),
	}
	for i, t := range db.Tasks {
		out.Tasks[i] = CloneTask(t)
	}
	copy(out.Templates, db.Templates)
	copy(out.Relations, db.Relations)
	return out
}

// CloneTask copies t including its pointer fields.
func CloneTask(t model.Task) model.Task {
	if t.ParentID != nil {
		t.ParentID = model.StrPtr(*t.ParentID)
	}
	if t.TemplateID != nil {
		t.TemplateID = model.StrPtr(*t.TemplateID)
	}
	return t
}

// Empty returns a snapshot with non-nil slices for stable callers.
func Empty() *DB {
	return &DB{
		Tasks:     []model.Task{},
		Templates: []model.Template{},
		Relations: []model.TemplateRelation{},
	}
}
