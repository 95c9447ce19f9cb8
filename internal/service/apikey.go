package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	currentAPIKeyRedisKey      = "apikey:current"
	previousAPIKeyRedisKey     = "apikey:previous"
	apiKeyRotationTimeRedisKey = "apikey:rotated_at"

	// apiKeyRotationGrace keeps the previous key valid after a rotation so
	// collaborating services can roll their config without an outage.
	apiKeyRotationGrace = 24 * time.Hour
)

// APIKeyService guards the service-internal surface (global session
// revocation called by the password-reset collaborator). The shared key
// comes from deployment config and is stored hashed in redis; rotation
// keeps the previous key alive for a grace window.
type APIKeyService struct {
	rdb *redis.Client
	log *zap.SugaredLogger
	key string
}

func NewAPIKeyService(rdb *redis.Client, log *zap.SugaredLogger, key string) *APIKeyService {
	return &APIKeyService{rdb: rdb, log: log, key: key}
}

// SyncAPIKey reconciles redis with the configured key at boot. A changed
// key demotes the stored one to previous and starts the grace window.
func (s *APIKeyService) SyncAPIKey(ctx context.Context) error {
	if s.key == "" {
		return errors.New("internal API key is not configured")
	}

	hashed := hashAPIKey(s.key)

	current, err := s.rdb.Get(ctx, currentAPIKeyRedisKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return s.initAPIKey(ctx, hashed)
		}
		return fmt.Errorf("get current api key: %w", err)
	}

	if hashesEqual(hashed, current) {
		return nil
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, previousAPIKeyRedisKey, current, apiKeyRotationGrace)
	pipe.Set(ctx, currentAPIKeyRedisKey, hashed, 0)
	pipe.Set(ctx, apiKeyRotationTimeRedisKey, time.Now().UTC().Format(time.RFC3339), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rotate api key: %w", err)
	}

	s.log.Infow("internal API key rotated", "grace", apiKeyRotationGrace)
	return nil
}

// IsValidAPIKey accepts the current key, or the previous one while the
// rotation grace window is open.
func (s *APIKeyService) IsValidAPIKey(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	hashed := hashAPIKey(key)

	current, err := s.rdb.Get(ctx, currentAPIKeyRedisKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("get current api key: %w", err)
	}
	if hashesEqual(hashed, current) {
		return true, nil
	}

	previous, err := s.rdb.Get(ctx, previousAPIKeyRedisKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("get previous api key: %w", err)
	}
	if !hashesEqual(hashed, previous) {
		return false, nil
	}

	rotatedAtStr, err := s.rdb.Get(ctx, apiKeyRotationTimeRedisKey).Result()
	if err != nil {
		return false, fmt.Errorf("get api key rotation time: %w", err)
	}
	rotatedAt, err := time.Parse(time.RFC3339, rotatedAtStr)
	if err != nil {
		return false, fmt.Errorf("parse api key rotation time: %w", err)
	}

	return time.Since(rotatedAt) <= apiKeyRotationGrace, nil
}

func (s *APIKeyService) initAPIKey(ctx context.Context, hashed string) error {
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, currentAPIKeyRedisKey, hashed, 0)
	pipe.Set(ctx, apiKeyRotationTimeRedisKey, time.Now().UTC().Format(time.RFC3339), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("init api key: %w", err)
	}
	s.log.Info("internal API key initialized")
	return nil
}

func hashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

func hashesEqual(a, b string) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
