package graph

import (
	"strings"

	"tasktree/internal/model"
)

// Step is one node of a path expansion. A template shared by two parents
// inside the walked subtree yields one Step per path.
type Step struct {
	// Index numbers steps in visit order; the root is 0.
	Index int
	// ParentIndex is the Index of the step this one hangs under, -1 for the root.
	ParentIndex int
	TemplateID  string
	// Relation is the edge that led here; nil for the root.
	Relation *model.TemplateRelation
	Depth    int
}

type frame struct {
	index int
	id    string
	rels  []model.TemplateRelation
	next  int
}

// Walk expands the DAG below root depth-first, calling fn in pre-order with
// children taken by Position. A node that recurs on the current path aborts
// the walk with CycleError. A walk that would visit more than MaxExpandSteps
// nodes stops with ExpansionLimitError. An error from fn aborts the walk and
// is returned.
func (g *Graph) Walk(root string, fn func(Step) error) error {
	root = strings.TrimSpace(root)
	if err := fn(Step{Index: 0, ParentIndex: -1, TemplateID: root}); err != nil {
		return err
	}
	onPath := map[string]bool{root: true}
	stack := []*frame{{index: 0, id: root, rels: g.out[root]}}
	nextIndex := 1

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.next >= len(top.rels) {
			delete(onPath, top.id)
			stack = stack[:len(stack)-1]
			continue
		}
		r := top.rels[top.next]
		top.next++
		if onPath[r.ChildID] {
			return CycleError{ParentID: r.ParentID, ChildID: r.ChildID}
		}
		if nextIndex >= MaxExpandSteps {
			return ExpansionLimitError{Root: root, Limit: MaxExpandSteps}
		}
		rel := r
		st := Step{
			Index:       nextIndex,
			ParentIndex: top.index,
			TemplateID:  r.ChildID,
			Relation:    &rel,
			Depth:       len(stack),
		}
		nextIndex++
		if err := fn(st); err != nil {
			return err
		}
		onPath[r.ChildID] = true
		stack = append(stack, &frame{index: st.Index, id: r.ChildID, rels: g.out[r.ChildID]})
	}
	return nil
}

// Expand returns the path expansion below root as a nested tree, resolving
// templates through lookup. Templates lookup cannot find are skipped along
// with everything under them.
func (g *Graph) Expand(root string, lookup func(id string) (model.Template, bool)) (*model.TemplateNode, error) {
	var nodes []*model.TemplateNode
	var rootNode *model.TemplateNode
	err := g.Walk(root, func(s Step) error {
		tpl, ok := lookup(s.TemplateID)
		var parent *model.TemplateNode
		if s.ParentIndex >= 0 {
			parent = nodes[s.ParentIndex]
		}
		if !ok || (s.ParentIndex >= 0 && parent == nil) {
			nodes = append(nodes, nil)
			return nil
		}
		n := &model.TemplateNode{Template: tpl, Children: []*model.TemplateNode{}}
		if s.Relation != nil {
			n.RelationID = s.Relation.ID
			n.Position = s.Relation.Position
		}
		nodes = append(nodes, n)
		if parent == nil {
			rootNode = n
			return nil
		}
		parent.Children = append(parent.Children, n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rootNode, nil
}
