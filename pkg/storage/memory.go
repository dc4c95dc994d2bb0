package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/staywise/dwh-pipeline/pkg/models"
)

// MemoryStore is an in-process Store used by tests and dry runs. It
// copies records on the way in and out so callers can never mutate a
// committed partition.
type MemoryStore struct {
	mu         sync.RWMutex
	partitions map[string][]models.Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{partitions: make(map[string][]models.Record)}
}

func (s *MemoryStore) Append(_ context.Context, partition string, records []models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.partitions[partition] = append(s.partitions[partition], models.CloneRecord(rec))
	}
	return nil
}

func (s *MemoryStore) Read(_ context.Context, partition string) ([]models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.partitions[partition]
	out := make([]models.Record, 0, len(stored))
	for _, rec := range stored {
		out = append(out, models.CloneRecord(rec))
	}
	return out, nil
}

func (s *MemoryStore) WriteReplace(_ context.Context, partition string, records []models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	replaced := make([]models.Record, 0, len(records))
	for _, rec := range records {
		replaced = append(replaced, models.CloneRecord(rec))
	}
	s.partitions[partition] = replaced
	return nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for key := range s.partitions {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
