// Package graphstore keeps tasks and templates in Neo4j.
//
// Tasks are (:Task) nodes linked to their parent by HAS_PARENT; the template
// graph is (:Template)-[:CONTAINS]->(:Template). The parent id is also kept
// as a property so orphaned tasks survive a missing parent node.
package graphstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"tasktree/internal/model"
	"tasktree/internal/store"
)

type Store struct {
	driver   neo4j.DriverWithContext
	database string
}

// Open connects to uri and ensures the id constraints exist.
func Open(ctx context.Context, uri, user, password, database string) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, err
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j unreachable: %w", err)
	}
	s := &Store{driver: driver, database: database}
	if err := s.migrate(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.database})
}

func (s *Store) migrate(ctx context.Context) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	for _, q := range []string{
		"CREATE CONSTRAINT task_id IF NOT EXISTS FOR (t:Task) REQUIRE t.id IS UNIQUE",
		"CREATE CONSTRAINT template_id IF NOT EXISTS FOR (t:Template) REQUIRE t.id IS UNIQUE",
		"CREATE CONSTRAINT event_id IF NOT EXISTS FOR (e:Event) REQUIRE e.id IS UNIQUE",
	} {
		if _, err := session.Run(ctx, q, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Load(ctx context.Context) (*store.DB, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		out := store.Empty()

		res, err := tx.Run(ctx,
			"MATCH (t:Task) "+
				"RETURN t.id AS id, t.parentId AS parent_id, t.templateId AS template_id, t.title AS title, "+
				"t.completed AS completed, t.sortOrder AS sort_order, t.createdAt AS created_at, t.updatedAt AS updated_at",
			nil,
		)
		if err != nil {
			return nil, err
		}
		for res.Next(ctx) {
			rec := res.Record()
			out.Tasks = append(out.Tasks, model.Task{
				ID:         str(rec, "id"),
				ParentID:   optStr(rec, "parent_id"),
				TemplateID: optStr(rec, "template_id"),
				Title:      str(rec, "title"),
				Completed:  boolean(rec, "completed"),
				SortOrder:  int(i64(rec, "sort_order")),
				CreatedAt:  millis(rec, "created_at"),
				UpdatedAt:  millis(rec, "updated_at"),
			})
		}
		if err := res.Err(); err != nil {
			return nil, err
		}

		res, err = tx.Run(ctx,
			"MATCH (t:Template) "+
				"RETURN t.id AS id, t.title AS title, t.private AS private, t.rootLevel AS root_level, "+
				"t.createdAt AS created_at, t.updatedAt AS updated_at ORDER BY t.id",
			nil,
		)
		if err != nil {
			return nil, err
		}
		for res.Next(ctx) {
			rec := res.Record()
			out.Templates = append(out.Templates, model.Template{
				ID:        str(rec, "id"),
				Title:     str(rec, "title"),
				Private:   boolean(rec, "private"),
				RootLevel: boolean(rec, "root_level"),
				CreatedAt: millis(rec, "created_at"),
				UpdatedAt: millis(rec, "updated_at"),
			})
		}
		if err := res.Err(); err != nil {
			return nil, err
		}

		res, err = tx.Run(ctx,
			"MATCH (p:Template)-[r:CONTAINS]->(c:Template) "+
				"RETURN r.id AS id, p.id AS parent_id, c.id AS child_id, r.position AS position, r.expanded AS expanded "+
				"ORDER BY p.id, r.position, r.id",
			nil,
		)
		if err != nil {
			return nil, err
		}
		for res.Next(ctx) {
			rec := res.Record()
			out.Relations = append(out.Relations, model.TemplateRelation{
				ID:       str(rec, "id"),
				ParentID: str(rec, "parent_id"),
				ChildID:  str(rec, "child_id"),
				Position: int(i64(rec, "position")),
				Expanded: boolean(rec, "expanded"),
			})
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	db := result.(*store.DB)
	store.SortForLoad(db.Tasks)
	return db, nil
}

// Apply commits d in one write transaction.
func (s *Store) Apply(ctx context.Context, d store.Delta) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		run := func(q string, params map[string]any) error {
			res, err := tx.Run(ctx, q, params)
			if err != nil {
				return err
			}
			_, err = res.Consume(ctx)
			return err
		}

		if len(d.DeleteTaskIDs) > 0 {
			if err := run("MATCH (t:Task) WHERE t.id IN $ids DETACH DELETE t", map[string]any{"ids": d.DeleteTaskIDs}); err != nil {
				return nil, err
			}
		}
		// Nodes first, then edges, so a child may precede its parent in the delta.
		for _, t := range d.PutTasks {
			if err := run("MERGE (t:Task {id: $id}) SET t += $props", map[string]any{"id": t.ID, "props": taskProps(t)}); err != nil {
				return nil, err
			}
		}
		for _, t := range d.PutTasks {
			if err := run("MATCH (t:Task {id: $id})-[r:HAS_PARENT]->() DELETE r", map[string]any{"id": t.ID}); err != nil {
				return nil, err
			}
			if t.ParentID == nil {
				continue
			}
			if err := run(
				"MATCH (t:Task {id: $id}), (p:Task {id: $parent}) MERGE (t)-[:HAS_PARENT]->(p)",
				map[string]any{"id": t.ID, "parent": *t.ParentID},
			); err != nil {
				return nil, err
			}
		}
		if len(d.DeleteRelationIDs) > 0 {
			if err := run("MATCH ()-[r:CONTAINS]->() WHERE r.id IN $ids DELETE r", map[string]any{"ids": d.DeleteRelationIDs}); err != nil {
				return nil, err
			}
		}
		if len(d.DeleteTemplateIDs) > 0 {
			if err := run("MATCH (t:Template) WHERE t.id IN $ids DETACH DELETE t", map[string]any{"ids": d.DeleteTemplateIDs}); err != nil {
				return nil, err
			}
		}
		for _, t := range d.PutTemplates {
			props := map[string]any{
				"title":     t.Title,
				"private":   t.Private,
				"rootLevel": t.RootLevel,
				"createdAt": t.CreatedAt.UnixMilli(),
				"updatedAt": t.UpdatedAt.UnixMilli(),
			}
			if err := run("MERGE (t:Template {id: $id}) SET t += $props", map[string]any{"id": t.ID, "props": props}); err != nil {
				return nil, err
			}
		}
		for _, r := range d.PutRelations {
			// Endpoints may change (unlink rewires a relation), so replace the edge.
			if err := run("MATCH ()-[r:CONTAINS {id: $id}]->() DELETE r", map[string]any{"id": r.ID}); err != nil {
				return nil, err
			}
			if err := run(
				"MATCH (p:Template {id: $parent}), (c:Template {id: $child}) "+
					"CREATE (p)-[:CONTAINS {id: $id, position: $position, expanded: $expanded}]->(c)",
				map[string]any{"id": r.ID, "parent": r.ParentID, "child": r.ChildID, "position": r.Position, "expanded": r.Expanded},
			); err != nil {
				return nil, err
			}
		}
		for _, ev := range d.Events {
			raw, err := json.Marshal(ev.Payload)
			if err != nil {
				return nil, err
			}
			if err := run(
				"CREATE (:Event {id: $id, ts: $ts, type: $type, entityId: $entity, payload: $payload})",
				map[string]any{"id": ev.ID, "ts": ev.TS.UnixMilli(), "type": ev.Type, "entity": ev.EntityID, "payload": string(raw)},
			); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func (s *Store) Events(ctx context.Context, limit int) ([]model.Event, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	q := "MATCH (e:Event) RETURN e.id AS id, e.ts AS ts, e.type AS type, e.entityId AS entity_id, e.payload AS payload ORDER BY e.ts DESC, e.id DESC"
	params := map[string]any{}
	if limit > 0 {
		q += " LIMIT $limit"
		params["limit"] = limit
	}
	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, q, params)
		if err != nil {
			return nil, err
		}
		var evs []model.Event
		for res.Next(ctx) {
			rec := res.Record()
			ev := model.Event{
				ID:       str(rec, "id"),
				TS:       millis(rec, "ts"),
				Type:     str(rec, "type"),
				EntityID: str(rec, "entity_id"),
			}
			if raw := str(rec, "payload"); raw != "" {
				var payload any
				if err := json.Unmarshal([]byte(raw), &payload); err != nil {
					return nil, err
				}
				ev.Payload = payload
			}
			evs = append(evs, ev)
		}
		return evs, res.Err()
	})
	if err != nil {
		return nil, err
	}
	evs, _ := result.([]model.Event)
	out := make([]model.Event, 0, len(evs))
	for i := len(evs) - 1; i >= 0; i-- {
		out = append(out, evs[i])
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.driver.Close(context.Background())
}

func taskProps(t model.Task) map[string]any {
	props := map[string]any{
		"title":      t.Title,
		"completed":  t.Completed,
		"sortOrder":  t.SortOrder,
		"createdAt":  t.CreatedAt.UnixMilli(),
		"updatedAt":  t.UpdatedAt.UnixMilli(),
		"parentId":   nil,
		"templateId": nil,
	}
	if t.ParentID != nil {
		props["parentId"] = *t.ParentID
	}
	if t.TemplateID != nil {
		props["templateId"] = *t.TemplateID
	}
	return props
}

func str(rec *neo4j.Record, key string) string {
	v, _ := rec.Get(key)
	s, _ := v.(string)
	return s
}

func optStr(rec *neo4j.Record, key string) *string {
	v, _ := rec.Get(key)
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}

func i64(rec *neo4j.Record, key string) int64 {
	v, _ := rec.Get(key)
	n, _ := v.(int64)
	return n
}

func boolean(rec *neo4j.Record, key string) bool {
	v, _ := rec.Get(key)
	b, _ := v.(bool)
	return b
}

func millis(rec *neo4j.Record, key string) time.Time {
	return time.UnixMilli(i64(rec, key)).UTC()
}
