package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/mgoodale/webscout/internal/research"
)

type scratchpadKey struct {
	userID string
	key    string
}

// ScratchpadStore keeps scratchpad entries in process memory.
type ScratchpadStore struct {
	mu      sync.RWMutex
	entries map[scratchpadKey]research.ScratchpadEntry
}

// NewScratchpadStore constructs a ScratchpadStore.
func NewScratchpadStore() *ScratchpadStore {
	return &ScratchpadStore{entries: make(map[scratchpadKey]research.ScratchpadEntry)}
}

var _ research.ScratchpadStore = (*ScratchpadStore)(nil)

// Upsert replaces any existing entry with the same (user, key) pair,
// preserving the original creation time.
func (s *ScratchpadStore) Upsert(_ context.Context, entry *research.ScratchpadEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := scratchpadKey{userID: entry.UserID, key: entry.Key}
	stored := *entry
	if prev, ok := s.entries[k]; ok {
		stored.CreatedAt = prev.CreatedAt
	}
	s.entries[k] = stored
	return nil
}

// Get fetches one entry.
func (s *ScratchpadStore) Get(_ context.Context, userID, key string) (*research.ScratchpadEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[scratchpadKey{userID: userID, key: key}]
	if !ok {
		return nil, research.ErrNotFound
	}
	out := entry
	return &out, nil
}

// List returns all of a user's entries sorted by key.
func (s *ScratchpadStore) List(_ context.Context, userID string) ([]*research.ScratchpadEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*research.ScratchpadEntry
	for k, entry := range s.entries {
		if k.userID != userID {
			continue
		}
		e := entry
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes one entry.
func (s *ScratchpadStore) Delete(_ context.Context, userID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := scratchpadKey{userID: userID, key: key}
	if _, ok := s.entries[k]; !ok {
		return research.ErrNotFound
	}
	delete(s.entries, k)
	return nil
}
