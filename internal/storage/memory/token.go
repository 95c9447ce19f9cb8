package memory

import (
	"context"
	"sync"
	"time"
)

// TokenManager is an in-process access-token denylist for tests and
// single-node runs without redis.
type TokenManager struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewTokenManager() *TokenManager {
	return &TokenManager{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *TokenManager) InvalidateToken(_ context.Context, token string, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[token] = m.now().Add(expiration)
	return nil
}

func (m *TokenManager) IsTokenInvalidated(_ context.Context, token string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	deadline, ok := m.entries[token]
	if !ok {
		return false, nil
	}
	return m.now().Before(deadline), nil
}
