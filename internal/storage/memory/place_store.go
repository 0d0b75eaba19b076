package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mapfolio/place-crawler/internal/place"
)

// PlaceStore is a mutex-guarded place.PlaceStore.
type PlaceStore struct {
	mu     sync.RWMutex
	places map[string]place.Place
}

// NewPlaceStore constructs an empty place store.
func NewPlaceStore() *PlaceStore {
	return &PlaceStore{places: make(map[string]place.Place)}
}

// Upsert overwrites the row for p.ID.
func (s *PlaceStore) Upsert(_ context.Context, p place.Place) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.UpdatedAt = time.Now().UTC()
	s.places[p.ID] = p
	return nil
}

// ExistingIDs returns the subset of ids already stored.
func (s *PlaceStore) ExistingIDs(_ context.Context, ids []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var existing []string
	for _, id := range ids {
		if _, ok := s.places[id]; ok {
			existing = append(existing, id)
		}
	}
	return existing, nil
}

// Get fetches a stored place (test helper).
func (s *PlaceStore) Get(id string) (place.Place, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.places[id]
	return p, ok
}

// Len reports the number of stored rows (test helper).
func (s *PlaceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.places)
}
