package store

import (
	"sort"

	"tasktree/internal/model"
)

// SortTasksByOrder sorts sibling tasks in place: sort order, then CreatedAt, then ID.
func SortTasksByOrder(tasks []*model.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return compareTasksByOrderCreatedID(*tasks[i], *tasks[j]) < 0
	})
}

func compareTasksByOrderCreatedID(a, b model.Task) int {
	if a.SortOrder < b.SortOrder {
		return -1
	}
	if a.SortOrder > b.SortOrder {
		return 1
	}
	if a.CreatedAt.Before(b.CreatedAt) {
		return -1
	}
	if a.CreatedAt.After(b.CreatedAt) {
		return 1
	}
	if a.ID < b.ID {
		return -1
	}
	if a.ID > b.ID {
		return 1
	}
	return 0
}

// SortForLoad orders a flat task slice the way Backend.Load must return it:
// grouped by parent, ascending sort order inside each group.
func SortForLoad(tasks []model.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		pi, pj := tasks[i].ParentKey(), tasks[j].ParentKey()
		if pi != pj {
			return pi < pj
		}
		return compareTasksByOrderCreatedID(tasks[i], tasks[j]) < 0
	})
}

// SortRelationsByPosition orders sibling relations by position, then ID.
func SortRelationsByPosition(rels []model.TemplateRelation) {
	sort.SliceStable(rels, func(i, j int) bool {
		if rels[i].Position != rels[j].Position {
			return rels[i].Position < rels[j].Position
		}
		return rels[i].ID < rels[j].ID
	})
}

// TaskLess reports whether a sorts before b among siblings.
func TaskLess(a, b model.Task) bool {
	return compareTasksByOrderCreatedID(a, b) < 0
}
