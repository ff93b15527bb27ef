package tree

import (
	"sort"

	"tasktree/internal/model"
	"tasktree/internal/store"
)

// Forest is an id-indexed forest that can absorb a store.Delta without a
// full rebuild. After Patch it equals Build over the post-delta snapshot.
//
// Forest is not safe for concurrent use; the service guards it.
type Forest struct {
	nodes map[string]*model.TaskNode
	// byParent maps a raw parent key ("" for roots) to its child ids, whether
	// or not the parent exists.
	byParent map[string]map[string]bool
	roots    []*model.TaskNode
}

func NewForest(tasks []model.Task) *Forest {
	f := &Forest{
		nodes:    make(map[string]*model.TaskNode, len(tasks)),
		byParent: map[string]map[string]bool{},
	}
	dirty := map[string]bool{"": true}
	for _, t := range tasks {
		f.nodes[t.ID] = &model.TaskNode{Task: store.CloneTask(t), Children: []*model.TaskNode{}}
		f.link(t.ParentKey(), t.ID)
		dirty[t.ID] = true
	}
	f.regroup(dirty)
	return f
}

func (f *Forest) Len() int { return len(f.nodes) }

// Roots returns the live root nodes. Callers must not modify them.
func (f *Forest) Roots() []*model.TaskNode { return f.roots }

// Patch applies d: deletions first, then puts, then only the touched sibling
// groups are re-sorted.
func (f *Forest) Patch(d store.Delta) {
	dirty := map[string]bool{}

	for _, id := range d.DeleteTaskIDs {
		n, ok := f.nodes[id]
		if !ok {
			continue
		}
		f.unlink(n.ParentKey(), id)
		delete(f.nodes, id)
		dirty[n.ParentKey()] = true
		if len(f.byParent[id]) > 0 {
			// Surviving children are now orphans and surface as roots.
			dirty[""] = true
		}
	}

	for _, t := range d.PutTasks {
		t = store.CloneTask(t)
		if n, ok := f.nodes[t.ID]; ok {
			oldKey := n.ParentKey()
			n.Task = t
			if oldKey != t.ParentKey() {
				f.unlink(oldKey, t.ID)
				f.link(t.ParentKey(), t.ID)
				dirty[oldKey] = true
			}
			dirty[t.ParentKey()] = true
			continue
		}
		f.nodes[t.ID] = &model.TaskNode{Task: t, Children: []*model.TaskNode{}}
		f.link(t.ParentKey(), t.ID)
		dirty[t.ParentKey()] = true
		if len(f.byParent[t.ID]) > 0 {
			// Former orphans found their parent.
			dirty[t.ID] = true
			dirty[""] = true
		}
	}

	f.regroup(dirty)
}

// Snapshot returns a deep copy of the forest.
func (f *Forest) Snapshot() []*model.TaskNode {
	out := make([]*model.TaskNode, len(f.roots))
	for i, r := range f.roots {
		out[i] = CloneNode(r)
	}
	return out
}

// CloneNode deep-copies n and its descendants.
func CloneNode(n *model.TaskNode) *model.TaskNode {
	out := &model.TaskNode{Task: store.CloneTask(n.Task)}
	type pair struct{ src, dst *model.TaskNode }
	stack := []pair{{n, out}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		p.dst.Children = make([]*model.TaskNode, len(p.src.Children))
		for i, c := range p.src.Children {
			p.dst.Children[i] = &model.TaskNode{Task: store.CloneTask(c.Task)}
			stack = append(stack, pair{c, p.dst.Children[i]})
		}
	}
	return out
}

func (f *Forest) link(parentKey, id string) {
	set := f.byParent[parentKey]
	if set == nil {
		set = map[string]bool{}
		f.byParent[parentKey] = set
	}
	set[id] = true
}

func (f *Forest) unlink(parentKey, id string) {
	set := f.byParent[parentKey]
	delete(set, id)
	if len(set) == 0 {
		delete(f.byParent, parentKey)
	}
}

// regroup rebuilds the child lists named in dirty. Keys that are "" or no
// longer a live node rebuild the root list instead.
func (f *Forest) regroup(dirty map[string]bool) {
	rootsDirty := false
	for key := range dirty {
		n, ok := f.nodes[key]
		if key == "" || !ok {
			rootsDirty = true
			continue
		}
		n.Children = f.sortedGroup(key)
	}
	if !rootsDirty {
		return
	}

	// Build order: real roots first, then orphan groups by missing parent key.
	roots := f.sortedGroup("")
	var orphanKeys []string
	for key := range f.byParent {
		if key == "" {
			continue
		}
		if _, ok := f.nodes[key]; !ok {
			orphanKeys = append(orphanKeys, key)
		}
	}
	sort.Strings(orphanKeys)
	for _, key := range orphanKeys {
		roots = append(roots, f.sortedGroup(key)...)
	}
	f.roots = roots
}

func (f *Forest) sortedGroup(key string) []*model.TaskNode {
	out := make([]*model.TaskNode, 0, len(f.byParent[key]))
	for id := range f.byParent[key] {
		if id == key {
			continue
		}
		out = append(out, f.nodes[id])
	}
	sort.Slice(out, func(i, j int) bool { return store.TaskLess(out[i].Task, out[j].Task) })
	return out
}
