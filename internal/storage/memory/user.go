package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskloop/auth-service/internal/models"
	"github.com/taskloop/auth-service/internal/storage"
)

type UserManager struct {
	mu    sync.RWMutex
	users map[string]models.User // keyed by id
}

func NewUserManager() *UserManager {
	return &UserManager{users: make(map[string]models.User)}
}

func (m *UserManager) CreateUser(_ context.Context, email, passwordHash string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Email == email {
			return nil, storage.ErrUserExists
		}
	}

	user := models.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		Status:       models.UserStatusActive,
		CreatedAt:    time.Now(),
	}
	m.users[user.ID] = user
	return &user, nil
}

func (m *UserManager) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, storage.ErrUserNotFound
}

func (m *UserManager) GetUserByID(_ context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return &u, nil
}

// Storage bundles the in-memory repositories behind the storage.Storage
// interface for tests and local runs without postgres.
type Storage struct {
	*SessionManager
	*UserManager
}

func NewStorage() *Storage {
	return &Storage{
		SessionManager: NewSessionManager(),
		UserManager:    NewUserManager(),
	}
}
