package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskloop/auth-service/internal/models"
)

// StatusCache holds per-user account status with a short TTL. A cache miss
// means "no opinion": hardened middleware lets the request through rather
// than falling back to the database on the hot path.
type StatusCache struct {
	client *redis.Client
}

func NewStatusCache(client *redis.Client) *StatusCache {
	return &StatusCache{client: client}
}

func (s *StatusCache) SetUserStatus(ctx context.Context, userID string, status models.UserStatus, ttl time.Duration) error {
	return s.client.Set(ctx, statusKey(userID), string(status), ttl).Err()
}

func (s *StatusCache) GetUserStatus(ctx context.Context, userID string) (models.UserStatus, bool, error) {
	result, err := s.client.Get(ctx, statusKey(userID)).Result()
	if err == redis.Nil {
		return "", false, nil
	} else if err != nil {
		return "", false, err
	}
	return models.UserStatus(result), true, nil
}

func statusKey(userID string) string {
	return "user_status:" + userID
}
