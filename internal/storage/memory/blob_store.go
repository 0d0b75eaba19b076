package memory

import (
	"context"
	"fmt"
	"sync"
)

// BlobStore keeps objects in a map. It doubles as the no-op archive for
// deployments without a bucket configured.
type BlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewBlobStore constructs an empty blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string][]byte)}
}

// PutObject stores data under path and returns a mem:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[path] = cp
	return fmt.Sprintf("mem://%s", path), nil
}

// Object returns a stored object (test helper).
func (s *BlobStore) Object(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	return data, ok
}
