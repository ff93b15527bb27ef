package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tasktree/internal/model"

	_ "modernc.org/sqlite"
)

const sqliteFileName = "tasktree.sqlite"

// Store is the SQLite-backed Backend. The database file lives in Dir and is
// opened per call, so several short-lived CLI processes can share it.
type Store struct {
	Dir string
}

func (s Store) Ensure() error {
	return os.MkdirAll(s.Dir, 0o755)
}

func (s Store) sqlitePath() string {
	return filepath.Join(filepath.Clean(s.Dir), sqliteFileName)
}

func (s Store) openSQLite(ctx context.Context) (*sql.DB, error) {
	if err := s.Ensure(); err != nil {
		return nil, err
	}
	// modernc.org/sqlite driver name is "sqlite".
	db, err := sql.Open("sqlite", s.sqlitePath())
	if err != nil {
		return nil, err
	}
	// WAL enables one writer + many readers; busy_timeout helps avoid "database is locked" flakiness.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := migrateSQLiteState(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Load reads the whole snapshot. Tasks come back grouped by parent and ordered
// by sort order inside each group.
func (s Store) Load(ctx context.Context) (*DB, error) {
	db, err := s.openSQLite(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return loadStateFromSQLite(ctx, db)
}

// Apply commits one delta in a single transaction.
func (s Store) Apply(ctx context.Context, d Delta) error {
	db, err := s.openSQLite(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := applyDeltaTx(ctx, tx, d); err != nil {
		return err
	}
	return tx.Commit()
}

// Save replaces the stored snapshot with st (used for seeding and repair).
func (s Store) Save(ctx context.Context, st *DB) error {
	if st == nil {
		return errors.New("nil db")
	}
	db, err := s.openSQLite(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range []string{"tasks", "templates", "template_relations"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+t); err != nil {
			return err
		}
	}
	d := Delta{
		PutTasks:     st.Tasks,
		PutTemplates: st.Templates,
		PutRelations: st.Relations,
	}
	if err := applyDeltaTx(ctx, tx, d); err != nil {
		return err
	}
	return tx.Commit()
}

func (s Store) Events(ctx context.Context, limit int) ([]model.Event, error) {
	db, err := s.openSQLite(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	q := `SELECT json FROM events ORDER BY ts_unixms DESC, seq DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	evs, err := readJSONRows[model.Event](ctx, db, q, args...)
	if err != nil {
		return nil, err
	}
	// Newest-first from SQL; callers get chronological order.
	for i, j := 0, len(evs)-1; i < j; i, j = i+1, j-1 {
		evs[i], evs[j] = evs[j], evs[i]
	}
	if evs == nil {
		evs = []model.Event{}
	}
	return evs, nil
}

func (s Store) Close() error { return nil }

func applyDeltaTx(ctx context.Context, tx *sql.Tx, d Delta) error {
	nowMs := time.Now().UTC().UnixMilli()

	for _, id := range d.DeleteTaskIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
			return err
		}
	}
	for _, t := range d.PutTasks {
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encode task %s: %w", t.ID, err)
		}
		tplID := ""
		if t.TemplateID != nil {
			tplID = *t.TemplateID
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO tasks(
			id, parent_id, template_id, sort_order, completed, title,
			created_at_unixms, json, updated_at_unixms
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.ParentKey(), tplID, t.SortOrder, boolToInt(t.Completed), t.Title,
			t.CreatedAt.UTC().UnixMilli(), string(raw), nowMs,
		); err != nil {
			return err
		}
	}
	for _, id := range d.DeleteRelationIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM template_relations WHERE id = ?`, id); err != nil {
			return err
		}
	}
	for _, id := range d.DeleteTemplateIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id); err != nil {
			return err
		}
	}
	for _, t := range d.PutTemplates {
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encode template %s: %w", t.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO templates(id, title, private, root_level, json, updated_at_unixms) VALUES(?, ?, ?, ?, ?, ?)`,
			t.ID, t.Title, boolToInt(t.Private), boolToInt(t.RootLevel), string(raw), nowMs); err != nil {
			return err
		}
	}
	for _, r := range d.PutRelations {
		raw, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode relation %s: %w", r.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO template_relations(id, parent_id, child_id, position, json, updated_at_unixms) VALUES(?, ?, ?, ?, ?, ?)`,
			r.ID, r.ParentID, r.ChildID, r.Position, string(raw), nowMs); err != nil {
			return err
		}
	}
	for _, ev := range d.Events {
		raw, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", ev.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO events(id, ts_unixms, type, entity_id, json) VALUES(?, ?, ?, ?, ?)`,
			ev.ID, ev.TS.UTC().UnixMilli(), ev.Type, ev.EntityID, string(raw)); err != nil {
			return err
		}
	}
	return nil
}

func migrateSQLiteState(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			parent_id TEXT NOT NULL,
			template_id TEXT NOT NULL,
			sort_order INTEGER NOT NULL,
			completed INTEGER NOT NULL,
			title TEXT NOT NULL,
			created_at_unixms INTEGER NOT NULL,
			json TEXT NOT NULL,
			updated_at_unixms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_parent_order ON tasks(parent_id, sort_order);`,
		`CREATE TABLE IF NOT EXISTS templates (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			private INTEGER NOT NULL,
			root_level INTEGER NOT NULL,
			json TEXT NOT NULL,
			updated_at_unixms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS template_relations (
			id TEXT PRIMARY KEY,
			parent_id TEXT NOT NULL,
			child_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			json TEXT NOT NULL,
			updated_at_unixms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_relations_parent ON template_relations(parent_id, position);`,
		`CREATE INDEX IF NOT EXISTS idx_relations_child ON template_relations(child_id);`,
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			ts_unixms INTEGER NOT NULL,
			type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_id, ts_unixms);`,
	}
	for _, st := range stmts {
		if _, err := db.ExecContext(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

func loadStateFromSQLite(ctx context.Context, db *sql.DB) (*DB, error) {
	out := Empty()

	tasks, err := readJSONRows[model.Task](ctx, db, `SELECT json FROM tasks ORDER BY parent_id, sort_order, created_at_unixms, id`)
	if err != nil {
		return nil, err
	}
	tpls, err := readJSONRows[model.Template](ctx, db, `SELECT json FROM templates ORDER BY id`)
	if err != nil {
		return nil, err
	}
	rels, err := readJSONRows[model.TemplateRelation](ctx, db, `SELECT json FROM template_relations ORDER BY parent_id, position, id`)
	if err != nil {
		return nil, err
	}

	// Ensure nil slices are empty for stable callers.
	if tasks != nil {
		out.Tasks = tasks
	}
	if tpls != nil {
		out.Templates = tpls
	}
	if rels != nil {
		out.Relations = rels
	}
	return out, nil
}

func readJSONRows[T any](ctx context.Context, db *sql.DB, query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var js string
		if err := rows.Scan(&js); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal([]byte(js), &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
