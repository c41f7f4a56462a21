package auth

import (
	"context"
	"sync"
	"time"

	"github.com/xtrntr/predictions/internal/models"
)

// MemoryStore keeps users in memory. It is used when no database is
// configured.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[string]*models.User
	nextID int
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*models.User), nextID: 1}
}

// CreateUser stores a new user
func (s *MemoryStore) CreateUser(_ context.Context, username, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; exists {
		return nil, models.ErrUserExists
	}
	user := &models.User{
		ID:           s.nextID,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	s.nextID++
	s.users[username] = user

	cp := *user
	return &cp, nil
}

// GetUserByUsername retrieves a user by username
func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[username]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}
