package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/mapfolio/place-crawler/internal/place"
)

// FolderStore is a mutex-guarded place.FolderStore.
type FolderStore struct {
	mu      sync.Mutex
	folders map[string]place.Folder
	links   map[string]map[string]struct{}
}

// NewFolderStore constructs an empty folder store.
func NewFolderStore() *FolderStore {
	return &FolderStore{
		folders: make(map[string]place.Folder),
		links:   make(map[string]map[string]struct{}),
	}
}

// Put stores a folder (test/dev seeding helper).
func (s *FolderStore) Put(f place.Folder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders[f.ID] = f
}

// Get fetches a folder by id.
func (s *FolderStore) Get(_ context.Context, folderID string) (place.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[folderID]
	if !ok {
		return place.Folder{}, place.ErrNotFound
	}
	return f, nil
}

// LinkPlaces attaches place ids to the folder, ignoring duplicates.
func (s *FolderStore) LinkPlaces(_ context.Context, folderID string, placeIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.links[folderID]
	if !ok {
		set = make(map[string]struct{})
		s.links[folderID] = set
	}
	for _, id := range placeIDs {
		set[id] = struct{}{}
	}
	return nil
}

// Linked returns the sorted place ids linked to a folder (test helper).
func (s *FolderStore) Linked(folderID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.links[folderID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
