// Package service is the single entry point for every mutation and read.
//
// Each mutation is read-decide-write: load a fresh snapshot from the backend,
// run a pure function from internal/mutate on a clone, commit the difference
// as one delta and patch the cached forest with it. Backend storage is the
// only source of truth; the forest is derived and dropped after any failure.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"tasktree/internal/lock"
	"tasktree/internal/logger"
	"tasktree/internal/metrics"
	"tasktree/internal/model"
	"tasktree/internal/mutate"
	"tasktree/internal/store"
	"tasktree/internal/tree"
)

const (
	DefaultLockKey = "tasktree:writer"
	DefaultLockTTL = 30 * time.Second
)

type Options struct {
	Backend store.Backend
	// Locker guards writers across processes. Nil means in-process only.
	Locker  lock.Locker
	LockKey string
	LockTTL time.Duration
	Now     func() time.Time
	Logger  *slog.Logger
}

// Change describes one committed (or no-op) mutation.
type Change struct {
	Op       string                  `json:"op"`
	ID       string                  `json:"id,omitempty"`
	Task     *model.Task             `json:"task,omitempty"`
	Template *model.Template         `json:"template,omitempty"`
	Relation *model.TemplateRelation `json:"relation,omitempty"`
	// Affected lists every record id the delta put; Deleted every id it removed.
	Affected []string    `json:"affected"`
	Deleted  []string    `json:"deleted,omitempty"`
	Delta    store.Delta `json:"delta"`
}

type Status struct {
	Loading      bool      `json:"loading"`
	Stale        bool      `json:"stale"`
	LastError    string    `json:"lastError,omitempty"`
	LastChangeAt time.Time `json:"lastChangeAt"`
	Tasks        int       `json:"tasks"`
	Templates    int       `json:"templates"`
	Relations    int       `json:"relations"`
}

// Hierarchy is the flat template graph.
type Hierarchy struct {
	Templates []model.Template         `json:"templates"`
	Relations []model.TemplateRelation `json:"relations"`
}

type Service struct {
	mu      sync.Mutex
	backend store.Backend
	locker  lock.Locker
	lockKey string
	lockTTL time.Duration
	now     func() time.Time
	log     *slog.Logger

	// base is the snapshot forest reflects; both are nil when stale.
	base   *store.DB
	forest *tree.Forest
	status Status

	subMu  sync.Mutex
	subSeq int
	subs   map[int]func(Change)
}

func New(opts Options) *Service {
	s := &Service{
		backend: opts.Backend,
		locker:  opts.Locker,
		lockKey: opts.LockKey,
		lockTTL: opts.LockTTL,
		now:     opts.Now,
		log:     opts.Logger,
		subs:    map[int]func(Change){},
	}
	if s.locker == nil {
		s.locker = lock.Noop{}
	}
	if s.lockKey == "" {
		s.lockKey = DefaultLockKey
	}
	if s.lockTTL <= 0 {
		s.lockTTL = DefaultLockTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = logger.Get()
	}
	return s
}

func (s *Service) Close() error { return s.backend.Close() }

// Subscribe registers fn for every committed change. fn runs on the
// mutating goroutine after the service lock is released.
func (s *Service) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subSeq++
	id := s.subSeq
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Service) notify(ch Change) {
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(ch)
	}
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

type mutation func(db *store.DB, now time.Time) (Change, map[string]any, error)

func (s *Service) write(ctx context.Context, op string, fn mutation) (Change, error) {
	start := time.Now()
	ch, err := s.writeLocked(ctx, op, fn)
	metrics.ObserveMutation(op, string(mutate.KindOf(err)), time.Since(start))
	if err != nil {
		var pe mutate.PersistenceError
		if errors.As(err, &pe) {
			s.log.Error("mutation failed", "op", op, "err", err)
		} else {
			s.log.Debug("mutation rejected", "op", op, "kind", mutate.KindOf(err), "err", err)
		}
		return Change{}, err
	}
	s.log.Debug("mutation", "op", op, "id", ch.ID, "puts", len(ch.Affected), "deletes", len(ch.Deleted), "took", time.Since(start))
	if !ch.Delta.Empty() {
		s.notify(ch)
	}
	return ch, nil
}

func (s *Service) writeLocked(ctx context.Context, op string, fn mutation) (Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	release, err := s.locker.Acquire(ctx, s.lockKey, s.lockTTL)
	if err != nil {
		return Change{}, mutate.PersistenceError{Op: "lock", Err: err}
	}
	defer release()

	before, err := s.loadLocked(ctx)
	if err != nil {
		return Change{}, err
	}
	after := before.Clone()
	// Backends keep millisecond timestamps; a finer clock would make every
	// record written here differ from its next load.
	now := s.now().UTC().Truncate(time.Millisecond)

	ch, payload, err := fn(after, now)
	if err != nil {
		return Change{}, err
	}
	ch.Op = op

	d := store.Diff(before, after)
	if d.Empty() {
		ch.Affected = []string{}
		return ch, nil
	}
	d.Events = []model.Event{{
		ID:       store.NewEventID(),
		TS:       now,
		Type:     op,
		EntityID: ch.ID,
		Payload:  payload,
	}}
	if err := s.backend.Apply(ctx, d); err != nil {
		s.markStaleLocked(err)
		return Change{}, mutate.PersistenceError{Op: op, Err: err}
	}

	metrics.ObserveWrites(
		len(d.PutTasks)+len(d.DeleteTaskIDs),
		len(d.PutTemplates)+len(d.DeleteTemplateIDs),
		len(d.PutRelations)+len(d.DeleteRelationIDs),
	)
	s.forest.Patch(d)
	s.base = after
	s.status.LastChangeAt = now
	s.setCountsLocked(after)
	metrics.ForestNodes.Set(float64(s.forest.Len()))

	ch.Delta = d
	ch.Affected, ch.Deleted = touched(d)
	return ch, nil
}

// loadLocked reads a fresh snapshot and brings the cached forest up to it,
// patching with the difference when a base is known.
func (s *Service) loadLocked(ctx context.Context) (*store.DB, error) {
	s.status.Loading = true
	fresh, err := s.backend.Load(ctx)
	s.status.Loading = false
	if err != nil {
		s.markStaleLocked(err)
		return nil, mutate.PersistenceError{Op: "load", Err: err}
	}

	if s.forest == nil || s.base == nil {
		s.forest = tree.NewForest(fresh.Tasks)
		metrics.ForestRebuilds.Inc()
	} else if d := store.Diff(s.base, fresh); !d.Empty() {
		// Another process wrote since our last commit.
		s.forest.Patch(d)
	}
	s.base = fresh
	s.status.Stale = false
	s.status.LastError = ""
	s.setCountsLocked(fresh)
	metrics.ForestNodes.Set(float64(s.forest.Len()))
	return fresh, nil
}

func (s *Service) markStaleLocked(err error) {
	s.base = nil
	s.forest = nil
	s.status.Stale = true
	s.status.LastError = err.Error()
}

func (s *Service) setCountsLocked(db *store.DB) {
	s.status.Tasks = len(db.Tasks)
	s.status.Templates = len(db.Templates)
	s.status.Relations = len(db.Relations)
}

func touched(d store.Delta) (puts, deletes []string) {
	puts = []string{}
	for _, t := range d.PutTasks {
		puts = append(puts, t.ID)
	}
	for _, t := range d.PutTemplates {
		puts = append(puts, t.ID)
	}
	for _, r := range d.PutRelations {
		puts = append(puts, r.ID)
	}
	deletes = append(deletes, d.DeleteTaskIDs...)
	deletes = append(deletes, d.DeleteTemplateIDs...)
	deletes = append(deletes, d.DeleteRelationIDs...)
	return puts, deletes
}

// read runs fn against a fresh snapshot under the service lock.
func (s *Service) read(ctx context.Context, fn func(db *store.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}
	return fn(db)
}
