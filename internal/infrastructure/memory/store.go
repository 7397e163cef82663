package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/execution-hub/dsp-connector/internal/domain/entity"
)

type lease struct {
	holder    string
	expiresAt time.Time
}

type record struct {
	data  []byte
	meta  entity.StatefulEntity
	lease *lease
}

type table struct {
	mu      sync.Mutex
	records map[string]*record
}

// Store is an in-process entity.Store. Entities are stored serialized, so callers
// always work on private copies. Views created with WithHolder share the same data
// and behave like separate connector instances.
type Store[T entity.Stateful] struct {
	t             *table
	holder        string
	leaseDuration time.Duration
	now           func() time.Time
}

func NewStore[T entity.Stateful](holder string, leaseDuration time.Duration) *Store[T] {
	if leaseDuration <= 0 {
		leaseDuration = time.Minute
	}
	return &Store[T]{
		t:             &table{records: make(map[string]*record)},
		holder:        holder,
		leaseDuration: leaseDuration,
		now:           time.Now,
	}
}

// WithHolder returns a view of the same data leasing under another holder id.
func (s *Store[T]) WithHolder(holder string) *Store[T] {
	c := *s
	c.holder = holder
	return &c
}

// WithClock returns a view using now for lease expiry.
func (s *Store[T]) WithClock(now func() time.Time) *Store[T] {
	c := *s
	c.now = now
	return &c
}

func (s *Store[T]) leased(r *record, now time.Time) bool {
	return r.lease != nil && r.lease.expiresAt.After(now)
}

func (s *Store[T]) acquire(r *record, now time.Time) {
	r.lease = &lease{holder: s.holder, expiresAt: now.Add(s.leaseDuration)}
}

func (s *Store[T]) decode(r *record) (T, error) {
	var out T
	if err := json.Unmarshal(r.data, &out); err != nil {
		return out, fmt.Errorf("decode entity: %w", err)
	}
	return out, nil
}

func (s *Store[T]) NextNotLeased(ctx context.Context, q entity.Query) ([]T, error) {
	_ = ctx
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	now := s.now()

	candidates := make([]*record, 0)
	for _, r := range s.t.records {
		if r.meta.State != q.State || r.meta.Type != q.Type || r.meta.Pending || s.leased(r, now) {
			continue
		}
		candidates = append(candidates, r)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].meta.StateTimestamp == candidates[j].meta.StateTimestamp {
			return candidates[i].meta.ID < candidates[j].meta.ID
		}
		return candidates[i].meta.StateTimestamp < candidates[j].meta.StateTimestamp
	})
	if q.Limit > 0 && len(candidates) > q.Limit {
		candidates = candidates[:q.Limit]
	}

	out := make([]T, 0, len(candidates))
	for _, r := range candidates {
		e, err := s.decode(r)
		if err != nil {
			return nil, err
		}
		s.acquire(r, now)
		out = append(out, e)
	}
	return out, nil
}

func (s *Store[T]) FindByIDAndLease(ctx context.Context, id string) (T, error) {
	_ = ctx
	var zero T
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	r, ok := s.t.records[id]
	if !ok {
		return zero, entity.ErrNotFound
	}
	now := s.now()
	if s.leased(r, now) {
		return zero, entity.ErrAlreadyLeased
	}
	e, err := s.decode(r)
	if err != nil {
		return zero, err
	}
	s.acquire(r, now)
	return e, nil
}

func (s *Store[T]) FindByID(ctx context.Context, id string) (T, error) {
	_ = ctx
	var zero T
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	r, ok := s.t.records[id]
	if !ok {
		return zero, nil
	}
	return s.decode(r)
}

func (s *Store[T]) FindByCorrelationID(ctx context.Context, correlationID string) (T, error) {
	_ = ctx
	var zero T
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	for _, r := range s.t.records {
		if correlationID != "" && r.meta.CorrelationID == correlationID {
			return s.decode(r)
		}
	}
	return zero, nil
}

func (s *Store[T]) Save(ctx context.Context, e T) error {
	_ = ctx
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entity: %w", err)
	}
	meta := *e.Entity()
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	if r, ok := s.t.records[meta.ID]; ok {
		if s.leased(r, s.now()) && r.lease.holder != s.holder {
			return entity.ErrAlreadyLeased
		}
		r.data, r.meta, r.lease = data, meta, nil
		return nil
	}
	s.t.records[meta.ID] = &record{data: data, meta: meta}
	return nil
}

func (s *Store[T]) BreakLease(ctx context.Context, id string) error {
	_ = ctx
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	r, ok := s.t.records[id]
	if !ok {
		return entity.ErrNotFound
	}
	if r.lease == nil {
		return nil
	}
	if s.leased(r, s.now()) && r.lease.holder != s.holder {
		return entity.ErrAlreadyLeased
	}
	r.lease = nil
	return nil
}

func (s *Store[T]) Delete(ctx context.Context, id string) error {
	_ = ctx
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	r, ok := s.t.records[id]
	if !ok {
		return entity.ErrNotFound
	}
	if s.leased(r, s.now()) && r.lease.holder != s.holder {
		return entity.ErrAlreadyLeased
	}
	delete(s.t.records, id)
	return nil
}

// Leased reports whether id currently holds an unexpired lease.
func (s *Store[T]) Leased(id string) bool {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	r, ok := s.t.records[id]
	return ok && s.leased(r, s.now())
}

func (s *Store[T]) List(ctx context.Context, q entity.Query) ([]T, error) {
	_ = ctx
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	matched := make([]*record, 0)
	for _, r := range s.t.records {
		if (q.State != 0 && r.meta.State != q.State) || (q.Type != "" && r.meta.Type != q.Type) {
			continue
		}
		matched = append(matched, r)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].meta.UpdatedAt > matched[j].meta.UpdatedAt
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	out := make([]T, 0, len(matched))
	for _, r := range matched {
		e, err := s.decode(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
