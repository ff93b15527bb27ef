// Package pgstore is the Postgres backend, built on gorm.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"tasktree/internal/model"
	"tasktree/internal/store"
)

type taskRow struct {
	ID         string    `gorm:"primaryKey;type:varchar(64)"`
	ParentID   *string   `gorm:"type:varchar(64);index:idx_tasks_parent_order,priority:1"`
	TemplateID *string   `gorm:"type:varchar(64)"`
	Title      string    `gorm:"not null"`
	Completed  bool      `gorm:"not null;default:false"`
	SortOrder  int       `gorm:"not null;index:idx_tasks_parent_order,priority:2"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt  time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (taskRow) TableName() string { return "tasks" }

type templateRow struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)"`
	Title     string    `gorm:"not null"`
	Private   bool      `gorm:"not null;default:false"`
	RootLevel bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (templateRow) TableName() string { return "templates" }

type relationRow struct {
	ID       string `gorm:"primaryKey;type:varchar(64)"`
	ParentID string `gorm:"not null;type:varchar(64);index:idx_relations_parent_position,priority:1"`
	ChildID  string `gorm:"not null;type:varchar(64);index"`
	Position int    `gorm:"not null;index:idx_relations_parent_position,priority:2"`
	Expanded bool   `gorm:"not null;default:false"`
}

func (relationRow) TableName() string { return "template_relations" }

type eventRow struct {
	Seq      uint      `gorm:"primaryKey;autoIncrement"`
	ID       string    `gorm:"not null;uniqueIndex;type:varchar(64)"`
	TS       time.Time `gorm:"not null;index"`
	Type     string    `gorm:"not null;type:varchar(64)"`
	EntityID string    `gorm:"not null;type:varchar(64);index"`
	Payload  string    `gorm:"type:text"`
}

func (eventRow) TableName() string { return "events" }

// Store implements store.Backend on a Postgres database.
type Store struct {
	db *gorm.DB
}

// Open connects to dsn and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := autoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&taskRow{},
		&templateRow{},
		&relationRow{},
		&eventRow{},
	)
}

func (s *Store) Load(ctx context.Context) (*store.DB, error) {
	var tasks []taskRow
	var tpls []templateRow
	var rels []relationRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Order("sort_order, created_at, id").Find(&tasks).Error; err != nil {
			return err
		}
		if err := tx.Order("id").Find(&tpls).Error; err != nil {
			return err
		}
		return tx.Order("parent_id, position, id").Find(&rels).Error
	})
	if err != nil {
		return nil, err
	}

	out := store.Empty()
	for _, r := range tasks {
		out.Tasks = append(out.Tasks, model.Task{
			ID:         r.ID,
			ParentID:   r.ParentID,
			TemplateID: r.TemplateID,
			Title:      r.Title,
			Completed:  r.Completed,
			SortOrder:  r.SortOrder,
			CreatedAt:  r.CreatedAt.UTC(),
			UpdatedAt:  r.UpdatedAt.UTC(),
		})
	}
	store.SortForLoad(out.Tasks)
	for _, r := range tpls {
		out.Templates = append(out.Templates, model.Template{
			ID:        r.ID,
			Title:     r.Title,
			Private:   r.Private,
			RootLevel: r.RootLevel,
			CreatedAt: r.CreatedAt.UTC(),
			UpdatedAt: r.UpdatedAt.UTC(),
		})
	}
	for _, r := range rels {
		out.Relations = append(out.Relations, model.TemplateRelation(r))
	}
	return out, nil
}

// Apply commits d in one transaction.
func (s *Store) Apply(ctx context.Context, d store.Delta) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(d.DeleteTaskIDs) > 0 {
			if err := tx.Where("id IN ?", d.DeleteTaskIDs).Delete(&taskRow{}).Error; err != nil {
				return err
			}
		}
		if len(d.PutTasks) > 0 {
			rows := make([]taskRow, 0, len(d.PutTasks))
			for _, t := range d.PutTasks {
				rows = append(rows, taskRow{
					ID:         t.ID,
					ParentID:   t.ParentID,
					TemplateID: t.TemplateID,
					Title:      t.Title,
					Completed:  t.Completed,
					SortOrder:  t.SortOrder,
					CreatedAt:  t.CreatedAt,
					UpdatedAt:  t.UpdatedAt,
				})
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error; err != nil {
				return err
			}
		}
		if len(d.DeleteRelationIDs) > 0 {
			if err := tx.Where("id IN ?", d.DeleteRelationIDs).Delete(&relationRow{}).Error; err != nil {
				return err
			}
		}
		if len(d.DeleteTemplateIDs) > 0 {
			if err := tx.Where("id IN ?", d.DeleteTemplateIDs).Delete(&templateRow{}).Error; err != nil {
				return err
			}
		}
		if len(d.PutTemplates) > 0 {
			rows := make([]templateRow, 0, len(d.PutTemplates))
			for _, t := range d.PutTemplates {
				rows = append(rows, templateRow{
					ID:        t.ID,
					Title:     t.Title,
					Private:   t.Private,
					RootLevel: t.RootLevel,
					CreatedAt: t.CreatedAt,
					UpdatedAt: t.UpdatedAt,
				})
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error; err != nil {
				return err
			}
		}
		if len(d.PutRelations) > 0 {
			rows := make([]relationRow, 0, len(d.PutRelations))
			for _, r := range d.PutRelations {
				rows = append(rows, relationRow(r))
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error; err != nil {
				return err
			}
		}
		for _, ev := range d.Events {
			raw, err := json.Marshal(ev.Payload)
			if err != nil {
				return err
			}
			row := eventRow{ID: ev.ID, TS: ev.TS, Type: ev.Type, EntityID: ev.EntityID, Payload: string(raw)}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Events(ctx context.Context, limit int) ([]model.Event, error) {
	q := s.db.WithContext(ctx).Order("ts DESC, seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []eventRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Event, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		ev := model.Event{ID: r.ID, TS: r.TS.UTC(), Type: r.Type, EntityID: r.EntityID}
		if r.Payload != "" {
			var payload any
			if err := json.Unmarshal([]byte(r.Payload), &payload); err != nil {
				return nil, err
			}
			ev.Payload = payload
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
