package mutate

import (
	"time"

	"tasktree/internal/graph"
	"tasktree/internal/store"
)

// Diagnose extends store.Doctor with the checks that need engine rules:
// completion consistency and template-graph acyclicity. db is not modified.
func Diagnose(db *store.DB, now time.Time) store.DoctorReport {
	r := store.Doctor(db)
	if db == nil {
		return r
	}

	for _, id := range RepairAll(db.Clone(), now) {
		r.Add(store.DoctorIssueLevelError, "completion_mismatch", "task", id,
			"task %s disagrees with its children's completion", id)
	}

	g := graph.New(db.Relations)
	for _, rel := range db.Relations {
		if rel.ParentID == rel.ChildID {
			continue
		}
		if g.Reaches(rel.ChildID, rel.ParentID) {
			r.Add(store.DoctorIssueLevelError, "template_cycle", "relation", rel.ID,
				"relation %s (%s -> %s) closes a cycle", rel.ID, rel.ParentID, rel.ChildID)
		}
	}
	return r
}
