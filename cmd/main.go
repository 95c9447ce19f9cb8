package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/taskloop/auth-service/internal/api"
	"github.com/taskloop/auth-service/internal/controller"
	"github.com/taskloop/auth-service/internal/migrations"
	"github.com/taskloop/auth-service/internal/service"
	"github.com/taskloop/auth-service/internal/storage/postgres"
	storageredis "github.com/taskloop/auth-service/internal/storage/redis"
	"github.com/taskloop/auth-service/internal/util"

	_ "github.com/lib/pq"
)

func main() {
	ctx := context.Background()
	logger := util.NewZapLogger()

	db, dbCleanup, err := util.NewDBConnection(logger)
	if err != nil {
		logger.Fatal(zap.Error(err))
	}
	if err := migrations.RunMigrations(db, logger); err != nil {
		logger.Fatal(zap.Error(err))
	}

	redisClient, redisCleanup, err := util.NewRedisClient(logger)
	if err != nil {
		logger.Fatal(zap.Error(err))
	}

	apiKeyService := service.NewAPIKeyService(redisClient, logger, util.GetInternalAPIKey())
	if err := apiKeyService.SyncAPIKey(ctx); err != nil {
		logger.Fatal(zap.Error(err))
	}

	storage := postgres.NewStorage(db)
	cleanupFuncs := []func(){dbCleanup, redisCleanup}

	tokenStorage := storageredis.NewTokenStorage(redisClient)
	statusCache := storageredis.NewStatusCache(redisClient)
	tokenService := service.NewTokenService(util.NewTokenConfig(), tokenStorage)
	webhookService := service.NewWebhookService(logger, util.GetSecurityWebhookURL())
	authService := service.NewAuthService(tokenService, storage, statusCache, webhookService, logger)

	ctrl := controller.NewController(logger, authService, tokenService)

	apiServer := api.NewAPI(
		ctrl,
		tokenService,
		authService,
		apiKeyService,
		util.NewMiddlewareConfig(),
		util.NewServerConfig(),
		logger,
		cleanupFuncs,
	)
	apiServer.Run(ctx)
}
