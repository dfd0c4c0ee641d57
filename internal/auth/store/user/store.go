package user

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"auditlog/internal/auth"
	"auditlog/pkg/platform/sentinel"
)

// InMemoryUserStore holds accounts keyed by exact email.
type InMemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]auth.User
}

func New(users ...auth.User) *InMemoryUserStore {
	s := &InMemoryUserStore{users: make(map[string]auth.User, len(users))}
	for _, u := range users {
		s.users[u.Email] = u
	}
	return s
}

// LoadFile reads a JSON array of users. A missing file yields an empty store
// so every login fails as user_not_found.
func LoadFile(path string) (*InMemoryUserStore, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}
	var users []auth.User
	if err := json.Unmarshal(raw, &users); err != nil {
		return nil, fmt.Errorf("decode users file %s: %w", path, err)
	}
	return New(users...), nil
}

// FindByEmail returns sentinel.ErrNotFound for unknown emails.
func (s *InMemoryUserStore) FindByEmail(_ context.Context, email string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[email]
	if !ok {
		return auth.User{}, sentinel.ErrNotFound
	}
	return u, nil
}
