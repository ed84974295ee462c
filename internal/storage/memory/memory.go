// Package memory is an in-process transaction store. It backs the "memory"
// data backend and the processor tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"moneta/internal/core"
	"moneta/internal/storage"
)

type Store struct {
	mu        sync.Mutex
	seq       int
	templates map[uuid.UUID]*entry
	items     []core.Transaction
}

type entry struct {
	seq  int
	tmpl core.Template
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{templates: map[uuid.UUID]*entry{}}
}

// NewWithTemplates returns a store seeded with templates, keeping their ids
// and bookkeeping state.
func NewWithTemplates(templates ...core.Template) *Store {
	s := New()
	for _, t := range templates {
		_, _ = s.CreateTemplate(context.Background(), t)
	}
	return s
}

func (s *Store) CreateTemplate(_ context.Context, t core.Template) (core.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	s.seq++
	s.templates[t.ID] = &entry{seq: s.seq, tmpl: cloneTemplate(t)}
	return cloneTemplate(t), nil
}

func (s *Store) GetTemplate(_ context.Context, id uuid.UUID) (core.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.templates[id]
	if !ok {
		return core.Template{}, storage.ErrNotFound
	}
	return cloneTemplate(e.tmpl), nil
}

func (s *Store) ListActiveRecurring(_ context.Context) ([]core.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]*entry, 0, len(s.templates))
	for _, e := range s.templates {
		if e.tmpl.IsActive {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.tmpl.Date.Equal(b.tmpl.Date) {
			return a.tmpl.Date.Before(b.tmpl.Date)
		}
		return a.seq < b.seq
	})
	out := make([]core.Template, len(entries))
	for i, e := range entries {
		out[i] = cloneTemplate(e.tmpl)
	}
	return out, nil
}

func (s *Store) AdvanceLastProcessed(_ context.Context, id uuid.UUID, expected, next *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.templates[id]
	if !ok {
		return storage.ErrNotFound
	}
	if !sameInstant(e.tmpl.LastProcessedAt, expected) {
		return storage.ErrStaleTemplate
	}
	e.tmpl.LastProcessedAt = cloneTime(next)
	return nil
}

func (s *Store) DeactivateTemplate(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.templates[id]
	if !ok {
		return storage.ErrNotFound
	}
	e.tmpl.IsActive = false
	return nil
}

// InsertTransaction stores the transaction and assigns it an id.
func (s *Store) InsertTransaction(_ context.Context, t core.Transaction) (core.Transaction, error) {
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.IsRecurring = false
	s.items = append(s.items, t)
	return t, nil
}

func (s *Store) ListTransactions(_ context.Context, f storage.TransactionFilter) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, t := range s.items {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneTemplate(t core.Template) core.Template {
	t.LastProcessedAt = cloneTime(t.LastProcessedAt)
	t.EndDate = cloneTime(t.EndDate)
	if t.Tags != nil {
		t.Tags = append([]string(nil), t.Tags...)
	}
	return t
}
