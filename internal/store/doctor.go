package store

import (
	"fmt"
	"sort"
)

type DoctorIssueLevel string

const (
	DoctorIssueLevelError DoctorIssueLevel = "error"
	DoctorIssueLevelWarn  DoctorIssueLevel = "warn"
)

type DoctorIssue struct {
	Level   DoctorIssueLevel `json:"level"`
	Code    string           `json:"code"`
	Message string           `json:"message"`

	EntityKind string `json:"entityKind,omitempty"`
	EntityID   string `json:"entityId,omitempty"`
}

type DoctorReport struct {
	Issues []DoctorIssue `json:"issues"`
}

func (r DoctorReport) HasErrors() bool {
	for _, it := range r.Issues {
		if it.Level == DoctorIssueLevelError {
			return true
		}
	}
	return false
}

func (r *DoctorReport) Add(level DoctorIssueLevel, code, kind, id, format string, args ...any) {
	r.Issues = append(r.Issues, DoctorIssue{
		Level:      level,
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		EntityKind: kind,
		EntityID:   id,
	})
}

// Doctor checks the structural invariants of a snapshot: task parent links,
// sibling orders and relation endpoints. It does not modify db.
func Doctor(db *DB) DoctorReport {
	var r DoctorReport
	if db == nil {
		r.Issues = []DoctorIssue{}
		return r
	}

	for _, t := range db.Tasks {
		if t.ParentID == nil {
			continue
		}
		if *t.ParentID == t.ID {
			r.Add(DoctorIssueLevelError, "self_parent", "task", t.ID, "task %s is its own parent", t.ID)
			continue
		}
		if _, ok := db.FindTask(*t.ParentID); !ok {
			r.Add(DoctorIssueLevelWarn, "orphan_task", "task", t.ID, "task %s references missing parent %s; shown as a root", t.ID, *t.ParentID)
		}
	}

	// Parent chains must terminate. Colors: 1 = on the current chain, 2 = done.
	color := map[string]int{}
	for _, t := range db.Tasks {
		if color[t.ID] != 0 {
			continue
		}
		var chain []string
		cur := t.ID
		for cur != "" && color[cur] == 0 {
			color[cur] = 1
			chain = append(chain, cur)
			next, ok := db.FindTask(cur)
			if !ok || next.ParentID == nil {
				cur = ""
				break
			}
			cur = *next.ParentID
		}
		if cur != "" && color[cur] == 1 {
			r.Add(DoctorIssueLevelError, "parent_cycle", "task", cur, "task %s is its own ancestor", cur)
		}
		for _, id := range chain {
			color[id] = 2
		}
	}

	groups := map[string]map[int][]string{}
	for _, t := range db.Tasks {
		g := groups[t.ParentKey()]
		if g == nil {
			g = map[int][]string{}
			groups[t.ParentKey()] = g
		}
		g[t.SortOrder] = append(g[t.SortOrder], t.ID)
	}
	parents := make([]string, 0, len(groups))
	for p := range groups {
		parents = append(parents, p)
	}
	sort.Strings(parents)
	for _, p := range parents {
		orders := make([]int, 0, len(groups[p]))
		for o := range groups[p] {
			orders = append(orders, o)
		}
		sort.Ints(orders)
		for _, o := range orders {
			ids := groups[p][o]
			if len(ids) < 2 {
				continue
			}
			sort.Strings(ids)
			label := p
			if label == "" {
				label = "(root)"
			}
			r.Add(DoctorIssueLevelWarn, "duplicate_sort_order", "task", ids[0], "siblings under %s share sort order %d: %v", label, o, ids)
		}
	}

	for _, rel := range db.Relations {
		if rel.ParentID == rel.ChildID {
			r.Add(DoctorIssueLevelError, "self_relation", "relation", rel.ID, "relation %s links template %s to itself", rel.ID, rel.ParentID)
		}
		if _, ok := db.FindTemplate(rel.ParentID); !ok {
			r.Add(DoctorIssueLevelError, "dangling_relation", "relation", rel.ID, "relation %s references missing parent template %s", rel.ID, rel.ParentID)
		}
		if _, ok := db.FindTemplate(rel.ChildID); !ok {
			r.Add(DoctorIssueLevelError, "dangling_relation", "relation", rel.ID, "relation %s references missing child template %s", rel.ID, rel.ChildID)
		}
	}
	for _, t := range db.Templates {
		if !t.RootLevel && len(db.IncomingRelations(t.ID)) == 0 {
			r.Add(DoctorIssueLevelWarn, "unreachable_template", "template", t.ID, "template %s has no parents and is not root-level", t.ID)
		}
	}

	if r.Issues == nil {
		r.Issues = []DoctorIssue{}
	}
	return r
}
