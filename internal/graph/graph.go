// Package graph is a read-only adjacency view over template relations.
//
// The relation set forms a DAG: a template may have many parents, and a
// template with no incoming relation is a root. Build a Graph per snapshot;
// it does not track later changes.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"tasktree/internal/model"
)

// CycleError is returned when linking ParentID -> ChildID would close a loop,
// or when a traversal meets a node already on its path.
type CycleError struct {
	ParentID string
	ChildID  string
}

func (e CycleError) Error() string {
	return fmt.Sprintf("cycle detected: %s is already an ancestor of %s", e.ChildID, e.ParentID)
}

// MaxExpandSteps caps the number of nodes a path expansion may visit. Shared
// templates multiply per path, so a small DAG can expand to millions of nodes.
const MaxExpandSteps = 10000

// ExpansionLimitError is returned when expanding Root would exceed Limit nodes.
type ExpansionLimitError struct {
	Root  string
	Limit int
}

func (e ExpansionLimitError) Error() string {
	return fmt.Sprintf("expanding template %s exceeds %d nodes", e.Root, e.Limit)
}

type Graph struct {
	out map[string][]model.TemplateRelation
	in  map[string][]model.TemplateRelation
}

func New(rels []model.TemplateRelation) *Graph {
	g := &Graph{
		out: map[string][]model.TemplateRelation{},
		in:  map[string][]model.TemplateRelation{},
	}
	for _, r := range rels {
		g.out[r.ParentID] = append(g.out[r.ParentID], r)
		g.in[r.ChildID] = append(g.in[r.ChildID], r)
	}
	for k := range g.out {
		rs := g.out[k]
		sort.SliceStable(rs, func(i, j int) bool {
			if rs[i].Position != rs[j].Position {
				return rs[i].Position < rs[j].Position
			}
			return rs[i].ID < rs[j].ID
		})
	}
	return g
}

// Children returns the outgoing relations of id ordered by Position.
func (g *Graph) Children(id string) []model.TemplateRelation {
	return append([]model.TemplateRelation(nil), g.out[strings.TrimSpace(id)]...)
}

// Instances returns the incoming relations of id, one per place it is reused.
func (g *Graph) Instances(id string) []model.TemplateRelation {
	return append([]model.TemplateRelation(nil), g.in[strings.TrimSpace(id)]...)
}

func (g *Graph) IsRoot(id string) bool {
	return len(g.in[strings.TrimSpace(id)]) == 0
}

// Reaches reports whether to is reachable from from via outgoing edges.
// A node reaches itself.
func (g *Graph) Reaches(from, to string) bool {
	if from == to {
		return true
	}
	seen := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, r := range g.out[id] {
			if r.ChildID == to {
				return true
			}
			if !seen[r.ChildID] {
				seen[r.ChildID] = true
				stack = append(stack, r.ChildID)
			}
		}
	}
	return false
}

// CanLink checks that adding parent -> child keeps the graph acyclic.
func (g *Graph) CanLink(parentID, childID string) error {
	parentID = strings.TrimSpace(parentID)
	childID = strings.TrimSpace(childID)
	if g.Reaches(childID, parentID) {
		return CycleError{ParentID: parentID, ChildID: childID}
	}
	return nil
}

// Subtree returns every template reachable from root via outgoing edges,
// each once, in discovery order. root itself is not included.
func (g *Graph) Subtree(root string) []string {
	root = strings.TrimSpace(root)
	var out []string
	seen := map[string]bool{root: true}
	queue := []string{root}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, r := range g.out[id] {
			if seen[r.ChildID] {
				continue
			}
			seen[r.ChildID] = true
			out = append(out, r.ChildID)
			queue = append(queue, r.ChildID)
		}
	}
	return out
}
