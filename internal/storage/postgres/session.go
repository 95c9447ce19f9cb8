package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/taskloop/auth-service/internal/models"
	"github.com/taskloop/auth-service/internal/storage"
)

type SessionRepository struct {
	db storage.DBTX
}

func NewSessionRepository(db storage.DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, user_id, lineage_id, selector, verifier_hash, user_agent, client_ip, status, revoked_reason, created_at, expires_at`

func (r *SessionRepository) CreateSession(ctx context.Context, rec models.RefreshTokenRecord) error {
	query := `INSERT INTO refresh_tokens (` + sessionColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		rec.ID,
		rec.UserID,
		rec.LineageID,
		rec.Selector,
		rec.VerifierHash,
		rec.UserAgent,
		rec.IPAddress,
		rec.Status,
		rec.RevokedReason,
		rec.CreatedAt,
		rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert refresh token: %w", err)
	}
	return nil
}

func (r *SessionRepository) FindBySelector(ctx context.Context, selector string) (*models.RefreshTokenRecord, error) {
	query := `SELECT ` + sessionColumns + ` FROM refresh_tokens WHERE selector = $1`
	rec, err := scanSession(r.db.QueryRowContext(ctx, query, selector))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return rec, nil
}

// markRotated is the conditional half of rotation: it succeeds only while
// the record is still active, so two concurrent rotations of the same
// selector cannot both win.
func (r *SessionRepository) markRotated(ctx context.Context, selector string) error {
	query := `UPDATE refresh_tokens SET status = 'rotated' WHERE selector = $1 AND status = 'active'`
	res, err := r.db.ExecContext(ctx, query, selector)
	if err != nil {
		return fmt.Errorf("failed to mark refresh token rotated: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrSessionRotated
	}
	return nil
}

func (r *SessionRepository) RevokeLineage(ctx context.Context, lineageID, reason string) error {
	query := `UPDATE refresh_tokens SET status = 'revoked', revoked_reason = $2 WHERE lineage_id = $1 AND status IN ('active', 'rotated')`
	_, err := r.db.ExecContext(ctx, query, lineageID, reason)
	if err != nil {
		return fmt.Errorf("failed to revoke lineage: %w", err)
	}
	return nil
}

func (r *SessionRepository) RevokeUserLineage(ctx context.Context, userID, lineageID, reason string) error {
	query := `UPDATE refresh_tokens SET status = 'revoked', revoked_reason = $3 WHERE lineage_id = $2 AND user_id = $1 AND status IN ('active', 'rotated')`
	res, err := r.db.ExecContext(ctx, query, userID, lineageID, reason)
	if err != nil {
		return fmt.Errorf("failed to revoke user lineage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID, reason string) error {
	query := `UPDATE refresh_tokens SET status = 'revoked', revoked_reason = $2 WHERE user_id = $1 AND status IN ('active', 'rotated')`
	_, err := r.db.ExecContext(ctx, query, userID, reason)
	if err != nil {
		return fmt.Errorf("failed to revoke user sessions: %w", err)
	}
	return nil
}

func (r *SessionRepository) ListActiveSessions(ctx context.Context, userID string) ([]models.RefreshTokenRecord, error) {
	query := `SELECT ` + sessionColumns + ` FROM refresh_tokens WHERE user_id = $1 AND status = 'active' AND expires_at > now() ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var recs []models.RefreshTokenRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return recs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.RefreshTokenRecord, error) {
	var rec models.RefreshTokenRecord
	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.LineageID,
		&rec.Selector,
		&rec.VerifierHash,
		&rec.UserAgent,
		&rec.IPAddress,
		&rec.Status,
		&rec.RevokedReason,
		&rec.CreatedAt,
		&rec.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
