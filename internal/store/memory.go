package store

import (
	"context"
	"errors"
	"sync"

	"tasktree/internal/model"
)

var ErrClosed = errors.New("store closed")

// Memory is a process-local Backend used by tests and `--backend memory`.
type Memory struct {
	mu     sync.Mutex
	db     *DB
	events []model.Event
	closed bool
}

func NewMemory(seed *DB) *Memory {
	db := Empty()
	if seed != nil {
		db = seed.Clone()
	}
	return &Memory{db: db}
}

func (m *Memory) Load(ctx context.Context) (*DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := m.db.Clone()
	SortForLoad(out.Tasks)
	return out, nil
}

func (m *Memory) Apply(ctx context.Context, d Delta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	ApplyDelta(m.db, d)
	m.events = append(m.events, d.Events...)
	return nil
}

func (m *Memory) Events(ctx context.Context, limit int) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit >= len(m.events) {
		return append([]model.Event{}, m.events...), nil
	}
	return append([]model.Event{}, m.events[len(m.events)-limit:]...), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
