package util

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/lib/pq"
)

const (
	connectTimeout = 5 * time.Second

	dbMaxOpenConns    = 25
	dbConnMaxLifetime = 5 * time.Minute
)

// NewDBConnection opens the postgres pool named by DATABASE_URL and
// verifies it with a bounded ping. The returned cleanup closes the pool.
func NewDBConnection(logger *zap.SugaredLogger) (*sql.DB, func(), error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(dbMaxOpenConns)
	db.SetConnMaxLifetime(dbConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("connected to postgres")

	cleanup := func() {
		if err := db.Close(); err != nil {
			logger.Errorf("close postgres pool: %v", err)
		}
	}
	return db, cleanup, nil
}

// NewRedisClient connects to the redis named by REDIS_ADDR (with optional
// REDIS_PASSWORD) and verifies the connection before returning it.
func NewRedisClient(logger *zap.SugaredLogger) (*redis.Client, func(), error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return nil, nil, fmt.Errorf("REDIS_ADDR is not set")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("connected to redis")

	cleanup := func() {
		if err := client.Close(); err != nil {
			logger.Errorf("close redis client: %v", err)
		}
	}
	return client, cleanup, nil
}
