// Package tree turns flat parent-pointer task records into an ordered forest.
package tree

import (
	"tasktree/internal/model"
)

// Build groups tasks into a forest in one pass over the input.
//
// tasks must already be ordered by sort order inside each parent group
// (store.SortForLoad); Build never sorts, so children appear in input order.
// A task whose parent is absent from the input becomes a root.
func Build(tasks []model.Task) []*model.TaskNode {
	nodes := make(map[string]*model.TaskNode, len(tasks))
	ordered := make([]*model.TaskNode, 0, len(tasks))
	for _, t := range tasks {
		n := &model.TaskNode{Task: t, Children: []*model.TaskNode{}}
		nodes[t.ID] = n
		ordered = append(ordered, n)
	}

	roots := []*model.TaskNode{}
	for _, n := range ordered {
		if n.ParentID != nil {
			if p, ok := nodes[*n.ParentID]; ok && p != n {
				p.Children = append(p.Children, n)
				continue
			}
		}
		roots = append(roots, n)
	}
	return roots
}

// Walk visits nodes depth-first in order. fn returning false skips the
// node's children.
func Walk(roots []*model.TaskNode, fn func(n *model.TaskNode, depth int) bool) {
	type item struct {
		n     *model.TaskNode
		depth int
	}
	stack := make([]item, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, item{roots[i], 0})
	}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(it.n, it.depth) {
			continue
		}
		for i := len(it.n.Children) - 1; i >= 0; i-- {
			stack = append(stack, item{it.n.Children[i], it.depth + 1})
		}
	}
}

// Find returns the node with id, or nil.
func Find(roots []*model.TaskNode, id string) *model.TaskNode {
	var out *model.TaskNode
	Walk(roots, func(n *model.TaskNode, _ int) bool {
		if n.ID == id {
			out = n
		}
		return out == nil
	})
	return out
}
