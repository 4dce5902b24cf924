package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Repository for tests and local runs.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[string]Record
	ttlWindow time.Duration
	nowFunc   func() time.Time
}

// NewMemoryStore constructs an empty store. Records older than ttlWindow are treated as
// absent.
func NewMemoryStore(ttlWindow time.Duration) *MemoryStore {
	return &MemoryStore{records: map[string]Record{}, ttlWindow: ttlWindow, nowFunc: time.Now}
}

// CreateIfNotExists implements Repository.
func (s *MemoryStore) CreateIfNotExists(_ context.Context, key, fingerprint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFunc().UTC()
	if rec, ok := s.records[key]; ok && (rec.ExpiresAt == 0 || now.Unix() < rec.ExpiresAt) {
		return false, nil
	}
	rec := Record{
		IdempotencyKey: key,
		Fingerprint:    fingerprint,
		Status:         StatusInProgress,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if s.ttlWindow > 0 {
		rec.ExpiresAt = now.Add(s.ttlWindow).Unix()
	}
	s.records[key] = rec
	return true, nil
}

// Get implements Repository.
func (s *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// MarkDone implements Repository.
func (s *MemoryStore) MarkDone(_ context.Context, key, responseBody string, responseStatus int) error {
	return s.update(key, func(r *Record) {
		r.Status = StatusDone
		r.ResponseBody = responseBody
		r.ResponseStatus = responseStatus
	})
}

// MarkFailed implements Repository.
func (s *MemoryStore) MarkFailed(_ context.Context, key, note string) error {
	return s.update(key, func(r *Record) {
		r.Status = StatusFailed
		r.Note = note
	})
}

func (s *MemoryStore) update(key string, fn func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[key]
	rec.IdempotencyKey = key
	fn(&rec)
	rec.UpdatedAt = s.nowFunc().UTC()
	s.records[key] = rec
	return nil
}
