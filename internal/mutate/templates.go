package mutate

import (
	"sort"
	"strings"
	"time"

	"tasktree/internal/graph"
	"tasktree/internal/model"
	"tasktree/internal/store"
)

type CreateTemplateInput struct {
	Title     string
	Private   bool
	RootLevel bool
	// ParentID optionally links the new template under an existing one.
	ParentID string
	Position *int
}

type TemplateResult struct {
	Template *model.Template
	Relation *model.TemplateRelation
	// Copied maps original template ids to the ids of their unlinked copies.
	Copied map[string]string
	// Promoted lists templates flagged root-level so they stay reachable.
	Promoted     []string
	EventPayload map[string]any
}

// CreateTemplate adds a template. Without a parent it has no incoming
// relation, so it is created root-level.
func CreateTemplate(db *store.DB, in CreateTemplateInput, now time.Time) (TemplateResult, error) {
	title := strings.TrimSpace(in.Title)
	parentID := strings.TrimSpace(in.ParentID)
	if db == nil || title == "" {
		return TemplateResult{}, invalidf("template title is required")
	}
	if parentID != "" {
		if _, ok := db.FindTemplate(parentID); !ok {
			return TemplateResult{}, NotFoundError{Kind: "template", ID: parentID}
		}
	}

	tpl := model.Template{
		ID:        db.NextID(store.PrefixTemplate),
		Title:     title,
		Private:   in.Private,
		RootLevel: in.RootLevel || parentID == "",
		CreatedAt: now,
		UpdatedAt: now,
	}
	db.AddTemplate(tpl)

	res := TemplateResult{EventPayload: map[string]any{"title": tpl.Title, "private": tpl.Private, "rootLevel": tpl.RootLevel}}
	if parentID != "" {
		pos, shifted := placeRelation(db, parentID, in.Position)
		r := model.TemplateRelation{
			ID:       db.NextID(store.PrefixRelation),
			ParentID: parentID,
			ChildID:  tpl.ID,
			Position: pos,
		}
		db.AddRelation(r)
		res.Relation, _ = db.FindRelation(r.ID)
		res.EventPayload["parentId"] = parentID
		if len(shifted) > 0 {
			res.EventPayload["shiftedRelations"] = shifted
		}
	}
	res.Template, _ = db.FindTemplate(tpl.ID)
	return res, nil
}

// TemplateEdit holds the optional fields of a template edit.
type TemplateEdit struct {
	Title     *string
	Private   *bool
	RootLevel *bool

	// Unlink forks the template for the context relation instead of editing
	// the shared record. Only valid when the template has several parents.
	Unlink            bool
	ContextRelationID string
}

// EditTemplate applies e to templateID, or to an independent copy when
// e.Unlink is set. All checks run before anything is written.
func EditTemplate(db *store.DB, templateID string, e TemplateEdit, now time.Time) (TemplateResult, error) {
	templateID = strings.TrimSpace(templateID)
	if db == nil || templateID == "" {
		return TemplateResult{}, invalidf("missing template id")
	}
	if _, ok := db.FindTemplate(templateID); !ok {
		return TemplateResult{}, NotFoundError{Kind: "template", ID: templateID}
	}
	var title string
	if e.Title != nil {
		title = strings.TrimSpace(*e.Title)
		if title == "" {
			return TemplateResult{}, invalidf("template title is required")
		}
	}

	res := TemplateResult{EventPayload: map[string]any{}}
	target := templateID

	g := graph.New(db.Relations)
	if e.Unlink {
		instances := g.Instances(templateID)
		if len(instances) <= 1 {
			return TemplateResult{}, invalidf("unlink needs a template with more than one parent; %s has %d", templateID, len(instances))
		}
		ctxID := strings.TrimSpace(e.ContextRelationID)
		if ctxID == "" {
			return TemplateResult{}, invalidf("unlink needs the context relation id")
		}
		found := false
		for _, r := range instances {
			if r.ID == ctxID {
				found = true
				break
			}
		}
		if !found {
			return TemplateResult{}, NotFoundError{Kind: "relation", ID: ctxID}
		}

		res.Copied = copySubgraph(db, templateID, now)
		target = res.Copied[templateID]
		ctx, _ := db.FindRelation(ctxID)
		ctx.ChildID = target
		db.Invalidate()
		res.EventPayload["unlinkedFrom"] = templateID
		res.EventPayload["contextRelationId"] = ctxID
	} else if e.RootLevel != nil && !*e.RootLevel && g.IsRoot(templateID) {
		return TemplateResult{}, OrphanTemplateError{TemplateID: templateID}
	}

	tpl, _ := db.FindTemplate(target)
	changed := e.Unlink
	if e.Title != nil && tpl.Title != title {
		res.EventPayload["title"] = title
		tpl.Title = title
		changed = true
	}
	if e.Private != nil && tpl.Private != *e.Private {
		res.EventPayload["private"] = *e.Private
		tpl.Private = *e.Private
		changed = true
	}
	if e.RootLevel != nil && tpl.RootLevel != *e.RootLevel {
		res.EventPayload["rootLevel"] = *e.RootLevel
		tpl.RootLevel = *e.RootLevel
		changed = true
	}
	if changed {
		tpl.UpdatedAt = now
	}
	res.Template = tpl
	return res, nil
}

// copySubgraph duplicates rootID and everything reachable below it. Shared
// nodes inside the subgraph are copied once, so the copy keeps the same
// DAG shape. Returns old id -> new id.
func copySubgraph(db *store.DB, rootID string, now time.Time) map[string]string {
	g := graph.New(db.Relations)
	members := append([]string{rootID}, g.Subtree(rootID)...)

	ids := make(map[string]string, len(members))
	for _, id := range members {
		orig, _ := db.FindTemplate(id)
		cp := *orig
		cp.ID = db.NextID(store.PrefixTemplate)
		// Copies are reached through their relations, never listed on their own.
		cp.RootLevel = false
		cp.CreatedAt = now
		cp.UpdatedAt = now
		db.AddTemplate(cp)
		ids[id] = cp.ID
	}
	for _, id := range members {
		for _, r := range g.Children(id) {
			db.AddRelation(model.TemplateRelation{
				ID:       db.NextID(store.PrefixRelation),
				ParentID: ids[r.ParentID],
				ChildID:  ids[r.ChildID],
				Position: r.Position,
				Expanded: r.Expanded,
			})
		}
	}
	return ids
}

// RelateTemplates links childID under parentID. position nil appends.
func RelateTemplates(db *store.DB, parentID, childID string, position *int, now time.Time) (TemplateResult, error) {
	parentID = strings.TrimSpace(parentID)
	childID = strings.TrimSpace(childID)
	if db == nil || parentID == "" || childID == "" {
		return TemplateResult{}, invalidf("parent and child template ids are required")
	}
	if _, ok := db.FindTemplate(parentID); !ok {
		return TemplateResult{}, NotFoundError{Kind: "template", ID: parentID}
	}
	child, ok := db.FindTemplate(childID)
	if !ok {
		return TemplateResult{}, NotFoundError{Kind: "template", ID: childID}
	}
	if position != nil && *position < 0 {
		return TemplateResult{}, invalidf("position must be >= 0, got %d", *position)
	}
	if err := graph.New(db.Relations).CanLink(parentID, childID); err != nil {
		return TemplateResult{}, err
	}

	pos, shifted := placeRelation(db, parentID, position)
	r := model.TemplateRelation{
		ID:       db.NextID(store.PrefixRelation),
		ParentID: parentID,
		ChildID:  childID,
		Position: pos,
	}
	db.AddRelation(r)
	rel, _ := db.FindRelation(r.ID)
	child, _ = db.FindTemplate(childID)
	payload := map[string]any{
		"parentId": parentID,
		"childId":  childID,
		"position": rel.Position,
	}
	if len(shifted) > 0 {
		payload["shiftedRelations"] = shifted
	}
	return TemplateResult{Template: child, Relation: rel, EventPayload: payload}, nil
}

// UnrelateTemplates removes one relation. A child left without parents is
// promoted to root-level.
func UnrelateTemplates(db *store.DB, relationID string, now time.Time) (TemplateResult, error) {
	relationID = strings.TrimSpace(relationID)
	if db == nil || relationID == "" {
		return TemplateResult{}, invalidf("missing relation id")
	}
	r, ok := db.FindRelation(relationID)
	if !ok {
		return TemplateResult{}, NotFoundError{Kind: "relation", ID: relationID}
	}
	rel := *r
	db.RemoveRelations(map[string]bool{relationID: true})
	promoted := promoteUnreachable(db, []string{rel.ChildID}, now)
	child, _ := db.FindTemplate(rel.ChildID)
	return TemplateResult{
		Template: child,
		Relation: &rel,
		Promoted: promoted,
		EventPayload: map[string]any{
			"parentId": rel.ParentID,
			"childId":  rel.ChildID,
		},
	}, nil
}

// DeleteTemplate removes a template and every relation touching it. Tasks
// created from it keep their TemplateID. Children left without parents
// are promoted to root-level.
func DeleteTemplate(db *store.DB, templateID string, now time.Time) (TemplateResult, error) {
	templateID = strings.TrimSpace(templateID)
	if db == nil || templateID == "" {
		return TemplateResult{}, invalidf("missing template id")
	}
	tpl, ok := db.FindTemplate(templateID)
	if !ok {
		return TemplateResult{}, NotFoundError{Kind: "template", ID: templateID}
	}
	deleted := *tpl

	drop := map[string]bool{}
	var children []string
	for _, r := range db.IncomingRelations(templateID) {
		drop[r.ID] = true
	}
	for _, r := range db.OutgoingRelations(templateID) {
		drop[r.ID] = true
		children = append(children, r.ChildID)
	}
	db.RemoveRelations(drop)
	db.RemoveTemplate(templateID)
	promoted := promoteUnreachable(db, children, now)

	return TemplateResult{
		Template: &deleted,
		Promoted: promoted,
		EventPayload: map[string]any{
			"title":            deleted.Title,
			"removedRelations": len(drop),
		},
	}, nil
}

func promoteUnreachable(db *store.DB, ids []string, now time.Time) []string {
	var out []string
	g := graph.New(db.Relations)
	seen := map[string]bool{}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		tpl, ok := db.FindTemplate(id)
		if !ok || tpl.RootLevel || !g.IsRoot(id) {
			continue
		}
		tpl.RootLevel = true
		tpl.UpdatedAt = now
		out = append(out, id)
	}
	return out
}

// placeRelation returns the position for a new relation under parentID.
// nil appends after the last position. An explicit position shifts the
// relations at or after it by one, so positions under one parent stay unique.
func placeRelation(db *store.DB, parentID string, position *int) (int, []string) {
	if position == nil {
		next := 0
		for _, r := range db.OutgoingRelations(parentID) {
			if r.Position >= next {
				next = r.Position + 1
			}
		}
		return next, nil
	}
	at := *position
	var shifted []string
	for i := range db.Relations {
		r := &db.Relations[i]
		if r.ParentID != parentID || r.Position < at {
			continue
		}
		r.Position++
		shifted = append(shifted, r.ID)
	}
	return at, shifted
}

// ListTemplates returns the root-visible templates (no parents, or flagged
// root-level) ordered by title. Private templates are left out unless
// includePrivate is set.
func ListTemplates(db *store.DB, includePrivate bool) []model.Template {
	out := []model.Template{}
	if db == nil {
		return out
	}
	g := graph.New(db.Relations)
	for _, t := range db.Templates {
		if t.Private && !includePrivate {
			continue
		}
		if t.RootLevel || g.IsRoot(t.ID) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// TemplateTree expands templateID for display.
func TemplateTree(db *store.DB, templateID string) (*model.TemplateNode, error) {
	templateID = strings.TrimSpace(templateID)
	if _, ok := db.FindTemplate(templateID); !ok {
		return nil, NotFoundError{Kind: "template", ID: templateID}
	}
	return graph.New(db.Relations).Expand(templateID, func(id string) (model.Template, bool) {
		t, ok := db.FindTemplate(id)
		if !ok {
			return model.Template{}, false
		}
		return *t, true
	})
}
