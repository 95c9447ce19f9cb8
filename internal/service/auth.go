package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/taskloop/auth-service/internal/models"
	"github.com/taskloop/auth-service/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account disabled")
	// ErrInvalidRefreshToken and ErrTokenReuseDetected are reported to
	// clients identically (session invalid, log in again) and only
	// distinguished in server-side logs.
	ErrInvalidRefreshToken  = errors.New("invalid refresh token")
	ErrTokenReuseDetected   = errors.New("refresh token reuse detected")
	ErrRevokeCurrentSession = errors.New("cannot revoke current session, use logout")
)

const userStatusCacheTTL = time.Minute

// AuthService owns the refresh-token lifecycle: issuance, rotation,
// revocation and replay detection. It is the only writer of
// RefreshTokenRecord state.
type AuthService struct {
	tokenService *TokenService
	storage      storage.Storage
	statusCache  storage.UserStatusCache
	webhook      *WebhookService
	log          *zap.SugaredLogger
}

func NewAuthService(
	tokenService *TokenService,
	st storage.Storage,
	statusCache storage.UserStatusCache,
	webhook *WebhookService,
	log *zap.SugaredLogger,
) *AuthService {
	return &AuthService{
		tokenService: tokenService,
		storage:      st,
		statusCache:  statusCache,
		webhook:      webhook,
		log:          log,
	}
}

// Login verifies credentials and starts a new lineage: one active refresh
// record plus a fresh access token.
func (s *AuthService) Login(ctx context.Context, email, password string, meta models.UserMetadata) (*models.TokenPair, error) {
	user, err := s.storage.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			// Burn a comparison anyway so the response time does not
			// reveal whether the account exists.
			_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5B0xlQK1x1x1x1x1x1x1x1x1x1x1x"), []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	if user.Status != models.UserStatusActive {
		return nil, ErrAccountDisabled
	}
	s.cacheUserStatus(ctx, user.ID, user.Status)

	lineageID := uuid.NewString()
	pair, err := s.issueTokens(ctx, user.ID, lineageID, meta)
	if err != nil {
		return nil, err
	}

	s.log.Infow("session created", "userID", user.ID, "lineageID", lineageID, "ip", meta.IPAddress)
	return pair, nil
}

// Refresh rotates a refresh secret. Presenting an already-rotated or
// revoked secret is treated as theft: the whole lineage is revoked and the
// caller must re-authenticate. A lost race between two concurrent
// refreshes of the same secret lands in the same branch on purpose.
func (s *AuthService) Refresh(ctx context.Context, rawSecret string, meta models.UserMetadata) (*models.TokenPair, error) {
	selector, err := s.tokenService.SelectorFromSecret(rawSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRefreshToken, err)
	}

	rec, err := s.storage.FindBySelector(ctx, selector)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			s.log.Infow("refresh with unknown token", "ip", meta.IPAddress)
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("find session: %w", err)
	}

	if err := s.tokenService.VerifyRefreshSecret(rawSecret, rec.VerifierHash); err != nil {
		return nil, ErrInvalidRefreshToken
	}

	if rec.Status != models.SessionStatusActive {
		return nil, s.handleReuse(ctx, rec, meta)
	}

	if rec.Expired(s.tokenService.now()) {
		return nil, ErrInvalidRefreshToken
	}

	newSecret, newSelector, newVerifierHash, err := s.tokenService.CreateRefreshSecret()
	if err != nil {
		return nil, fmt.Errorf("create refresh secret: %w", err)
	}

	now := s.tokenService.now()
	next := models.RefreshTokenRecord{
		ID:           uuid.NewString(),
		UserID:       rec.UserID,
		LineageID:    rec.LineageID,
		Selector:     newSelector,
		VerifierHash: newVerifierHash,
		UserAgent:    meta.UserAgent,
		IPAddress:    meta.IPAddress,
		Status:       models.SessionStatusActive,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.tokenService.RefreshTTL()),
	}

	if err := s.storage.RotateSession(ctx, selector, next); err != nil {
		if errors.Is(err, storage.ErrSessionRotated) || errors.Is(err, storage.ErrSessionNotFound) {
			return nil, s.handleReuse(ctx, rec, meta)
		}
		return nil, fmt.Errorf("rotate session: %w", err)
	}

	accessToken, _, err := s.tokenService.CreateAccessToken(rec.UserID, rec.LineageID)
	if err != nil {
		return nil, fmt.Errorf("create access token: %w", err)
	}

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: newSecret,
		ExpiresIn:    int64(s.tokenService.AccessTTL().Seconds()),
	}, nil
}

// handleReuse contains the theft policy: revoke the entire lineage so the
// attacker's copy and the legitimate client's copy both die. Logged as a
// security event, distinct from ordinary invalid-token noise.
func (s *AuthService) handleReuse(ctx context.Context, rec *models.RefreshTokenRecord, meta models.UserMetadata) error {
	if err := s.storage.RevokeLineage(ctx, rec.LineageID, models.RevokeReasonReuseDetected); err != nil {
		s.log.Errorw("failed to revoke lineage after reuse", "lineageID", rec.LineageID, "error", err)
	}

	s.log.Warnw("refresh token reuse detected, lineage revoked",
		"userID", rec.UserID,
		"lineageID", rec.LineageID,
		"presentedIP", meta.IPAddress,
		"recordedIP", rec.IPAddress,
	)
	if s.webhook != nil {
		s.webhook.NotifySecurityEvent(ctx, map[string]interface{}{
			"event":       "token_reuse_detected",
			"user_id":     rec.UserID,
			"lineage_id":  rec.LineageID,
			"client_ip":   meta.IPAddress,
			"recorded_ip": rec.IPAddress,
			"user_agent":  meta.UserAgent,
		})
	}

	return ErrTokenReuseDetected
}

// Logout ends the caller's current session: the lineage named by the
// access token's sid claim is revoked and the access token itself is
// denylisted for its remaining lifetime. Other devices are unaffected.
func (s *AuthService) Logout(ctx context.Context, userID, lineageID, accessToken string) error {
	if err := s.storage.RevokeUserLineage(ctx, userID, lineageID, models.RevokeReasonLogout); err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			// Already revoked or expired; logout is idempotent.
			return nil
		}
		return fmt.Errorf("revoke lineage: %w", err)
	}

	if err := s.tokenService.InvalidateAccessToken(ctx, accessToken); err != nil {
		// The lineage is already dead; a failed denylist write only widens
		// the access token's remaining window.
		s.log.Errorw("failed to denylist access token on logout", "error", err)
	}

	s.log.Infow("session ended", "userID", userID, "lineageID", lineageID)
	return nil
}

// ListSessions returns the caller's live sessions, one per lineage,
// newest first.
func (s *AuthService) ListSessions(ctx context.Context, userID, currentLineage string) ([]models.SessionInfo, error) {
	recs, err := s.storage.ListActiveSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	infos := make([]models.SessionInfo, 0, len(recs))
	for _, rec := range recs {
		infos = append(infos, models.SessionInfo{
			ID:        rec.LineageID,
			Device:    rec.UserAgent,
			IPAddress: rec.IPAddress,
			CreatedAt: rec.CreatedAt,
			IsCurrent: rec.LineageID == currentLineage,
		})
	}
	return infos, nil
}

// RevokeSession revokes one of the caller's other sessions. Targeting the
// caller's own lineage is rejected to avoid self-lockout races; logout is
// the path for that.
func (s *AuthService) RevokeSession(ctx context.Context, userID, lineageID, currentLineage string) error {
	if lineageID == currentLineage {
		return ErrRevokeCurrentSession
	}

	if err := s.storage.RevokeUserLineage(ctx, userID, lineageID, models.RevokeReasonUserRevoked); err != nil {
		return err
	}

	s.log.Infow("session revoked by user", "userID", userID, "lineageID", lineageID)
	return nil
}

// RevokeAllForUser is the global revoke used by the password-reset
// collaborator: every lineage of the user dies, regardless of device.
func (s *AuthService) RevokeAllForUser(ctx context.Context, userID, reason string) error {
	if err := s.storage.RevokeAllForUser(ctx, userID, reason); err != nil {
		return fmt.Errorf("revoke all for user: %w", err)
	}

	s.log.Infow("all sessions revoked", "userID", userID, "reason", reason)
	return nil
}

// UserStatus reports the cached account status for hardened middleware.
// A miss is not an error and not a denial.
func (s *AuthService) UserStatus(ctx context.Context, userID string) (models.UserStatus, bool, error) {
	if s.statusCache == nil {
		return "", false, nil
	}
	return s.statusCache.GetUserStatus(ctx, userID)
}

func (s *AuthService) issueTokens(ctx context.Context, userID, lineageID string, meta models.UserMetadata) (*models.TokenPair, error) {
	rawSecret, selector, verifierHash, err := s.tokenService.CreateRefreshSecret()
	if err != nil {
		return nil, fmt.Errorf("create refresh secret: %w", err)
	}

	now := s.tokenService.now()
	rec := models.RefreshTokenRecord{
		ID:           uuid.NewString(),
		UserID:       userID,
		LineageID:    lineageID,
		Selector:     selector,
		VerifierHash: verifierHash,
		UserAgent:    meta.UserAgent,
		IPAddress:    meta.IPAddress,
		Status:       models.SessionStatusActive,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.tokenService.RefreshTTL()),
	}

	if err := s.storage.CreateSession(ctx, rec); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	accessToken, _, err := s.tokenService.CreateAccessToken(userID, lineageID)
	if err != nil {
		return nil, fmt.Errorf("create access token: %w", err)
	}

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: rawSecret,
		ExpiresIn:    int64(s.tokenService.AccessTTL().Seconds()),
	}, nil
}

func (s *AuthService) cacheUserStatus(ctx context.Context, userID string, status models.UserStatus) {
	if s.statusCache == nil {
		return
	}
	if err := s.statusCache.SetUserStatus(ctx, userID, status, userStatusCacheTTL); err != nil {
		s.log.Errorw("failed to cache user status", "userID", userID, "error", err)
	}
}
