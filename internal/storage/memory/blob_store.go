package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/mgoodale/webscout/internal/research"
)

// BlobStore keeps binary artifacts in-memory and returns pseudo URIs.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

var _ research.BlobStore = (*BlobStore)(nil)

/// Put persists the content and returns a memory:// URI.
func (s *BlobStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), data...)
	return fmt.Sprintf("memory://%s", key), nil
}

// Get returns a stored artifact.
func (s *BlobStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	if !ok {
		return nil, research.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Delete removes a stored artifact.
func (s *BlobStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return research.ErrNotFound
	}
	delete(s.data, key)
	return nil
}
