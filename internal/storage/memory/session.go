package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/taskloop/auth-service/internal/models"
	"github.com/taskloop/auth-service/internal/storage"
)

// SessionManager keeps refresh-token records in process memory. The mutex
// gives RotateSession the same winner-takes-all semantics as the
// conditional UPDATE in the postgres implementation.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]models.RefreshTokenRecord // keyed by selector
	now      func() time.Time
}

func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]models.RefreshTokenRecord),
		now:      time.Now,
	}
}

func (m *SessionManager) CreateSession(_ context.Context, rec models.RefreshTokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[rec.Selector] = rec
	return nil
}

func (m *SessionManager) FindBySelector(_ context.Context, selector string) (*models.RefreshTokenRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.sessions[selector]
	if !ok {
		return nil, storage.ErrSessionNotFound
	}
	return &rec, nil
}

func (m *SessionManager) RotateSession(_ context.Context, selector string, next models.RefreshTokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[selector]
	if !ok {
		return storage.ErrSessionNotFound
	}
	if rec.Status != models.SessionStatusActive {
		return storage.ErrSessionRotated
	}

	rec.Status = models.SessionStatusRotated
	m.sessions[selector] = rec
	m.sessions[next.Selector] = next
	return nil
}

func (m *SessionManager) RevokeLineage(_ context.Context, lineageID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sel, rec := range m.sessions {
		if rec.LineageID == lineageID && rec.Status != models.SessionStatusRevoked {
			rec.Status = models.SessionStatusRevoked
			rec.RevokedReason = reason
			m.sessions[sel] = rec
		}
	}
	return nil
}

func (m *SessionManager) RevokeUserLineage(_ context.Context, userID, lineageID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	revoked := false
	for sel, rec := range m.sessions {
		if rec.UserID != userID || rec.LineageID != lineageID {
			continue
		}
		if rec.Status == models.SessionStatusRevoked {
			continue
		}
		rec.Status = models.SessionStatusRevoked
		rec.RevokedReason = reason
		m.sessions[sel] = rec
		revoked = true
	}
	if !revoked {
		return storage.ErrSessionNotFound
	}
	return nil
}

func (m *SessionManager) RevokeAllForUser(_ context.Context, userID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sel, rec := range m.sessions {
		if rec.UserID == userID && rec.Status != models.SessionStatusRevoked {
			rec.Status = models.SessionStatusRevoked
			rec.RevokedReason = reason
			m.sessions[sel] = rec
		}
	}
	return nil
}

func (m *SessionManager) ListActiveSessions(_ context.Context, userID string) ([]models.RefreshTokenRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	var recs []models.RefreshTokenRecord
	for _, rec := range m.sessions {
		if rec.UserID == userID && rec.Status == models.SessionStatusActive && !rec.Expired(now) {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
	return recs, nil
}

// Record returns a copy of the stored record for storage-inspection tests.
func (m *SessionManager) Record(selector string) (models.RefreshTokenRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.sessions[selector]
	return rec, ok
}
