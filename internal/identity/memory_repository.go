package identity

import (
	"context"
	"sync"
)

type memoryRepository struct {
	mu     sync.RWMutex
	byID   map[string]User
	byName map[string]string
}

// NewMemoryRepository builds an in-memory user directory for dev and tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		byID:   make(map[string]User),
		byName: make(map[string]string),
	}
}

func (r *memoryRepository) Create(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[user.ID]; exists {
		return ErrUserExists
	}
	if _, exists := r.byName[user.Username]; exists {
		return ErrUserExists
	}
	r.byID[user.ID] = user
	r.byName[user.Username] = user.ID
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.byID[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (r *memoryRepository) FindByUsername(_ context.Context, username string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[username]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return r.byID[id], nil
}
