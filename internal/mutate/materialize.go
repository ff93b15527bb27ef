package mutate

import (
	"strings"
	"time"

	"tasktree/internal/graph"
	"tasktree/internal/model"
	"tasktree/internal/store"
)

type MaterializeResult struct {
	Root *model.Task
	// CreatedIDs holds the new task ids in walk order; the root comes first.
	CreatedIDs []string
	Reconciled []string
}

// Materialize creates one task per path through the template graph below
// templateID. A template reached by two paths yields two tasks. Relation
// positions become sort orders; the root task is appended under
// targetParentID (nil for a new root). New tasks start incomplete.
//
// The whole expansion is validated before anything is written.
func Materialize(db *store.DB, templateID string, targetParentID *string, now time.Time) (MaterializeResult, error) {
	templateID = strings.TrimSpace(templateID)
	if db == nil || templateID == "" {
		return MaterializeResult{}, invalidf("missing template id")
	}
	if _, ok := db.FindTemplate(templateID); !ok {
		return MaterializeResult{}, NotFoundError{Kind: "template", ID: templateID}
	}
	targetParentID = trimPtr(targetParentID)
	if targetParentID != nil {
		if _, ok := db.FindTask(*targetParentID); !ok {
			return MaterializeResult{}, NotFoundError{Kind: "task", ID: *targetParentID}
		}
	}

	var steps []graph.Step
	err := graph.New(db.Relations).Walk(templateID, func(s graph.Step) error {
		if _, ok := db.FindTemplate(s.TemplateID); !ok {
			return NotFoundError{Kind: "template", ID: s.TemplateID}
		}
		steps = append(steps, s)
		return nil
	})
	if err != nil {
		return MaterializeResult{}, err
	}

	plan, err := PlanInsert(db, targetParentID, Placement{}, "")
	if err != nil {
		return MaterializeResult{}, err
	}

	used := map[string]bool{}
	ids := make([]string, len(steps))
	for i := range steps {
		id := db.NextID(store.PrefixTask)
		for used[id] {
			id = db.NextID(store.PrefixTask)
		}
		used[id] = true
		ids[i] = id
	}

	for _, s := range steps {
		tpl, _ := db.FindTemplate(s.TemplateID)
		t := model.Task{
			ID:         ids[s.Index],
			TemplateID: model.StrPtr(tpl.ID),
			Title:      tpl.Title,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if s.ParentIndex < 0 {
			t.ParentID = trimPtr(targetParentID)
			t.SortOrder = plan.SortOrder
		} else {
			t.ParentID = model.StrPtr(ids[s.ParentIndex])
			t.SortOrder = s.Relation.Position
		}
		db.Tasks = append(db.Tasks, t)
	}
	db.Invalidate()

	var reconciled []string
	if targetParentID != nil {
		reconciled = Reconcile(db, *targetParentID, now)
	}
	root, _ := db.FindTask(ids[0])
	return MaterializeResult{Root: root, CreatedIDs: ids, Reconciled: reconciled}, nil
}
