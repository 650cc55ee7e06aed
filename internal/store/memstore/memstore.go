// Package memstore is an in-process store.Store used by tests and the
// single-process development mode.
//
// Import Path: fleetd.io/fleetd/internal/store/memstore
package memstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"fleetd.io/fleetd/internal/store"
)

type table struct {
	rows  map[string]store.Row
	order []string
}

// Store keeps rows in memory behind a single mutex.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store with every table created.
func New(opts ...Option) *Store {
	s := &Store{
		tables: make(map[string]*table, len(store.Tables)),
		now:    time.Now,
	}
	for _, name := range store.Tables {
		s.tables[name] = &table{rows: make(map[string]store.Row)}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) table(name string) (*table, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownTable, name)
	}
	return t, nil
}

// Create implements store.Store.
func (s *Store) Create(_ context.Context, name string, row store.Row) (string, error) {
	norm, err := store.NormalizeRow(row)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(name)
	if err != nil {
		return "", err
	}

	id := norm.ID()
	if id == "" {
		id = store.NewID()
	}
	if _, exists := t.rows[id]; exists {
		return "", fmt.Errorf("%w: %s/%s", store.ErrDuplicate, name, id)
	}

	ts := store.FormatTime(s.now())
	norm[store.ColID] = id
	norm[store.ColCreatedAt] = ts
	norm[store.ColUpdatedAt] = ts
	if _, ok := norm[store.ColDeletedAt]; !ok {
		norm[store.ColDeletedAt] = nil
	}

	t.rows[id] = norm
	t.order = append(t.order, id)
	return id, nil
}

// Get implements store.Store.
func (s *Store) Get(_ context.Context, name, id string) (store.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.table(name)
	if err != nil {
		return nil, err
	}
	row, ok := t.rows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return row.Clone(), nil
}

// Update implements store.Store.
func (s *Store) Update(_ context.Context, name, id string, fields store.Row, cond store.Condition) (bool, error) {
	norm, err := store.NormalizeRow(fields)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(name)
	if err != nil {
		return false, err
	}
	row, ok := t.rows[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if !store.Holds(row, cond) {
		return false, nil
	}

	updated := row.Clone()
	for k, v := range norm {
		if k == store.ColID || k == store.ColCreatedAt {
			continue
		}
		updated[k] = v
	}
	updated[store.ColUpdatedAt] = store.FormatTime(s.now())
	t.rows[id] = updated
	return true, nil
}

// List implements store.Store.
func (s *Store) List(_ context.Context, name string, q store.Query) ([]store.Row, error) {
	filters, err := store.NormalizeRow(q.Filters)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.table(name)
	if err != nil {
		return nil, err
	}

	out := make([]store.Row, 0, len(t.order))
	for _, id := range t.order {
		row := t.rows[id]
		if !q.ShowDeleted && row.Deleted() {
			continue
		}
		if q.IDPrefix != "" && !strings.HasPrefix(id, q.IDPrefix) {
			continue
		}
		if !store.Matches(row, filters) {
			continue
		}
		out = append(out, row.Clone())
	}
	return out, nil
}

// SoftDelete implements store.Store.
func (s *Store) SoftDelete(_ context.Context, name, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(name)
	if err != nil {
		return err
	}
	row, ok := t.rows[id]
	if !ok {
		return store.ErrNotFound
	}
	updated := row.Clone()
	ts := store.FormatTime(s.now())
	updated[store.ColDeletedAt] = ts
	updated[store.ColUpdatedAt] = ts
	t.rows[id] = updated
	return nil
}

var _ store.Store = (*Store)(nil)
