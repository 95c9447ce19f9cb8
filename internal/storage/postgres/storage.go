package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/taskloop/auth-service/internal/models"
)

type Storage struct {
	db *sql.DB
	*UserRepository
	*SessionRepository
}

func NewStorage(db *sql.DB) *Storage {
	return &Storage{
		db:                db,
		UserRepository:    NewUserRepository(db),
		SessionRepository: NewSessionRepository(db),
	}
}

// RotateSession performs the read-modify-write of refresh rotation as one
// transaction: the old record is conditionally marked rotated and the
// successor is inserted into the same lineage. A concurrent rotation of
// the same selector loses with storage.ErrSessionRotated and nothing is
// written.
func (s *Storage) RotateSession(ctx context.Context, oldSelector string, next models.RefreshTokenRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	sessionRepoTx := NewSessionRepository(tx)

	if err := sessionRepoTx.markRotated(ctx, oldSelector); err != nil {
		return err
	}

	if err := sessionRepoTx.CreateSession(ctx, next); err != nil {
		return fmt.Errorf("failed to create rotated session in tx: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}
