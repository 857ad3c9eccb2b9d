package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"ratchet/internal/record"
)

type memItem struct {
	rec         *record.Record
	relevance   float64
	attempts    int
	availableAt time.Time
	leaseExpiry time.Time
	enqueuedAt  time.Time
	seq         int
}

// MemStore is an in-memory Store for tests. Implements Store with the
// same lease and ordering semantics as SQLStore.
type MemStore struct {
	mu      sync.Mutex
	lease   time.Duration
	now     func() time.Time
	seq     int
	queues  map[record.Stage]map[string]*memItem
	records map[string]*record.Record
	flags   map[string]bool
}

// NewMemStore returns a new in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{
		lease:   DefaultLeaseDuration,
		now:     time.Now,
		queues:  make(map[record.Stage]map[string]*memItem),
		records: make(map[string]*record.Record),
		flags:   make(map[string]bool),
	}
}

// SetLease overrides the claim visibility timeout.
func (s *MemStore) SetLease(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lease = d
}

// SetNow injects a clock for lease-expiry tests.
func (s *MemStore) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemStore) Close() error { return nil }

func copyRecord(rec *record.Record) *record.Record {
	payload, err := json.Marshal(rec)
	if err != nil {
		cp := *rec
		return &cp
	}
	var out record.Record
	if err := json.Unmarshal(payload, &out); err != nil {
		cp := *rec
		return &cp
	}
	return &out
}

func (s *MemStore) Enqueue(ctx context.Context, stage record.Stage, rec *record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueueLocked(stage, rec)
	s.records[rec.ID] = copyRecord(rec)
	return nil
}

func (s *MemStore) enqueueLocked(stage record.Stage, rec *record.Record) {
	q := s.queues[stage]
	if q == nil {
		q = make(map[string]*memItem)
		s.queues[stage] = q
	}
	s.seq++
	q[rec.ID] = &memItem{
		rec:         copyRecord(rec),
		relevance:   rec.Relevance,
		availableAt: s.now(),
		enqueuedAt:  s.now(),
		seq:         s.seq,
	}
}

func (s *MemStore) Claim(ctx context.Context, stage record.Stage, limit int) ([]*Claimed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		return nil, nil
	}
	now := s.now()
	var ready []*memItem
	for _, it := range s.queues[stage] {
		if it.availableAt.After(now) {
			continue
		}
		if !it.leaseExpiry.IsZero() && it.leaseExpiry.After(now) {
			continue
		}
		ready = append(ready, it)
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].relevance != ready[j].relevance {
			return ready[i].relevance > ready[j].relevance
		}
		return ready[i].seq < ready[j].seq
	})
	if len(ready) > limit {
		ready = ready[:limit]
	}
	var out []*Claimed
	for _, it := range ready {
		it.leaseExpiry = now.Add(s.lease)
		it.attempts++
		out = append(out, &Claimed{Record: copyRecord(it.rec), Attempts: it.attempts})
	}
	return out, nil
}

func (s *MemStore) Ack(ctx context.Context, stage record.Stage, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queues[stage]
	if q == nil {
		return fmt.Errorf("ack %s/%s: %w", stage, id, ErrNotFound)
	}
	if _, ok := q[id]; !ok {
		return fmt.Errorf("ack %s/%s: %w", stage, id, ErrNotFound)
	}
	delete(q, id)
	return nil
}

func (s *MemStore) Requeue(ctx context.Context, stage record.Stage, id string, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queues[stage]
	it, ok := q[id]
	if !ok {
		return fmt.Errorf("requeue %s/%s: %w", stage, id, ErrNotFound)
	}
	it.leaseExpiry = time.Time{}
	it.availableAt = s.now().Add(delay)
	return nil
}

func (s *MemStore) Move(ctx context.Context, from, to record.Stage, rec *record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q := s.queues[from]; q != nil {
		delete(q, rec.ID)
	}
	s.records[rec.ID] = copyRecord(rec)
	if !to.Terminal() {
		s.enqueueLocked(to, rec)
	}
	return nil
}

func (s *MemStore) Count(ctx context.Context, stage record.Stage) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[stage]), nil
}

func (s *MemStore) Counts(ctx context.Context) (map[record.Stage]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[record.Stage]int)
	for _, rec := range s.records {
		out[rec.Status]++
	}
	return out, nil
}

func (s *MemStore) SaveRecord(ctx context.Context, rec *record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = copyRecord(rec)
	return nil
}

func (s *MemStore) GetRecord(ctx context.Context, id string) (*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	return copyRecord(rec), nil
}

func (s *MemStore) ListStage(ctx context.Context, stage record.Stage) ([]*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*record.Record
	for _, rec := range s.records {
		if rec.Status == stage {
			out = append(out, copyRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) SetFlag(ctx context.Context, name string, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[name] = on
	return nil
}

func (s *MemStore) Flags(ctx context.Context) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.flags))
	for k, v := range s.flags {
		out[k] = v
	}
	return out, nil
}
