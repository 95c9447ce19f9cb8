package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/taskloop/auth-service/internal/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionRotated is returned by RotateSession when the record left the
	// active state between lookup and rotation. The losing side of a
	// concurrent double-refresh observes this; it is indistinguishable from
	// replay of a stolen token and is treated as such upstream.
	ErrSessionRotated = errors.New("session already rotated")
	ErrUserNotFound   = errors.New("user not found")
	ErrUserExists     = errors.New("user already exists")
)

type Storage interface {
	SessionRepository
	UserRepository
}

// SessionRepository is the durable refresh-token store. All writes go
// through the session service; nothing else mutates these records.
type SessionRepository interface {
	CreateSession(ctx context.Context, rec models.RefreshTokenRecord) error
	// FindBySelector returns the record in any state, revoked and rotated
	// included — the caller needs terminal states to detect replay.
	FindBySelector(ctx context.Context, selector string) (*models.RefreshTokenRecord, error)
	// RotateSession transitions the record at selector from active to
	// rotated and inserts next as the lineage's new head, atomically.
	// Exactly one of two concurrent calls on the same selector succeeds;
	// the other gets ErrSessionRotated.
	RotateSession(ctx context.Context, selector string, next models.RefreshTokenRecord) error
	RevokeLineage(ctx context.Context, lineageID, reason string) error
	// RevokeUserLineage revokes a lineage only if it belongs to userID;
	// ErrSessionNotFound otherwise.
	RevokeUserLineage(ctx context.Context, userID, lineageID, reason string) error
	RevokeAllForUser(ctx context.Context, userID, reason string) error
	// ListActiveSessions returns the active head of every non-expired
	// lineage owned by userID, newest first.
	ListActiveSessions(ctx context.Context, userID string) ([]models.RefreshTokenRecord, error)
}

type UserRepository interface {
	CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// TokenStorage is the short-lived denylist for access tokens invalidated
// before their natural expiry (logout). Entries carry a TTL equal to the
// token's remaining lifetime, so the set stays small.
type TokenStorage interface {
	InvalidateToken(ctx context.Context, token string, expiration time.Duration) error
	IsTokenInvalidated(ctx context.Context, token string) (bool, error)
}

// UserStatusCache caches account status so hardened middleware can reject
// disabled accounts without a database hit on the request path.
type UserStatusCache interface {
	SetUserStatus(ctx context.Context, userID string, status models.UserStatus, ttl time.Duration) error
	GetUserStatus(ctx context.Context, userID string) (models.UserStatus, bool, error)
}

// DBTX lets repositories run over *sql.DB and *sql.Tx alike.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
