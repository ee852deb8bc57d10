package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/mgoodale/webscout/internal/research"
)

// UserStore keeps accounts in process memory.
type UserStore struct {
	mu       sync.RWMutex
	users    map[string]research.User
	byAPIKey map[string]string
}

// NewUserStore constructs a UserStore.
func NewUserStore() *UserStore {
	return &UserStore{
		users:    make(map[string]research.User),
		byAPIKey: make(map[string]string),
	}
}

var _ research.UserStore = (*UserStore)(nil)

// AddUser registers an account. Test and bootstrap helper.
func (s *UserStore) AddUser(user research.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.ID]; exists {
		return errors.New("user already exists")
	}
	s.users[user.ID] = user
	if user.APIKey != "" {
		s.byAPIKey[user.APIKey] = user.ID
	}
	return nil
}

// GetUser fetches an account by ID.
func (s *UserStore) GetUser(_ context.Context, id string) (*research.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, research.ErrNotFound
	}
	out := user
	return &out, nil
}

// GetUserByAPIKey resolves an account from its API key.
func (s *UserStore) GetUserByAPIKey(_ context.Context, apiKey string) (*research.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byAPIKey[apiKey]
	if !ok {
		return nil, research.ErrNotFound
	}
	user := s.users[id]
	return &user, nil
}

// ConsumeCredits adds credits to the usage count, failing without a
// partial update when the quota would be exceeded.
func (s *UserStore) ConsumeCredits(_ context.Context, userID string, credits int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return research.ErrNotFound
	}
	if user.UsageCount+credits > user.UsageQuota {
		return research.ErrQuotaExceeded
	}
	user.UsageCount += credits
	s.users[userID] = user
	return nil
}
