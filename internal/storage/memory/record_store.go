package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/JakeFAU/popup-crawler/internal/crawler"
)

// RecordStore keeps upserted records keyed by ID.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]*crawler.Record
	upserts int
}

// NewRecordStore constructs an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string]*crawler.Record)}
}

// UpsertRecord stores a copy of record.
func (s *RecordStore) UpsertRecord(_ context.Context, record *crawler.Record) error {
	if record == nil || record.ID == "" {
		return errors.New("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record.Clone()
	s.upserts++
	return nil
}

// SaveRecord lets the store double as a crawler.RecordSink.
func (s *RecordStore) SaveRecord(ctx context.Context, record *crawler.Record) (string, error) {
	if err := s.UpsertRecord(ctx, record); err != nil {
		return "", err
	}
	return "memory://" + record.ID, nil
}

// Get returns a copy of the record stored under id.
func (s *RecordStore) Get(id string) (*crawler.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// IDs returns the stored IDs sorted.
func (s *RecordStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Upserts returns how many writes the store has accepted.
func (s *RecordStore) Upserts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upserts
}

// Close is a no-op.
func (s *RecordStore) Close() error { return nil }
