package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vietddude/chainguard/internal/core/domain"
)

// ErrorStore keeps error records in process memory.
type ErrorStore struct {
	mu      sync.RWMutex
	records map[string]*domain.ErrorRecord
}

func NewErrorStore() *ErrorStore {
	return &ErrorStore{records: make(map[string]*domain.ErrorRecord)}
}

func (s *ErrorStore) Put(ctx context.Context, rec *domain.ErrorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return nil
}

func (s *ErrorStore) GetAll(ctx context.Context) ([]*domain.ErrorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.ErrorRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, nil
}

func (s *ErrorStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *ErrorStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*domain.ErrorRecord)
	return nil
}

// Trim keeps the newest max records.
func (s *ErrorStore) Trim(ctx context.Context, max int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	excess := len(s.records) - max
	if excess <= 0 {
		return 0, nil
	}
	recs := make([]*domain.ErrorRecord, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].Timestamp.Equal(recs[j].Timestamp) {
			return recs[i].Timestamp.Before(recs[j].Timestamp)
		}
		return recs[i].ID < recs[j].ID
	})
	for _, rec := range recs[:excess] {
		delete(s.records, rec.ID)
	}
	return excess, nil
}

// Len returns the number of stored records.
func (s *ErrorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
