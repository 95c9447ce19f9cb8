package api

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"go.uber.org/zap"

	"github.com/taskloop/auth-service/internal/controller"
	"github.com/taskloop/auth-service/internal/service"
	"github.com/taskloop/auth-service/internal/util"
)

const (
	shutdownTimeout  = 5 * time.Second
	rateLimitExpires = 3 * time.Minute
)

type API struct {
	server          *echo.Echo
	controller      *controller.Controller
	tokenService    *service.TokenService
	authService     *service.AuthService
	apiKeyService   *service.APIKeyService
	mwConfig        *util.MiddlewareConfig
	log             *zap.SugaredLogger
	gracefulTimeout time.Duration
	cleanupFuncs    []func()
}

func NewAPI(
	c *controller.Controller,
	tokenService *service.TokenService,
	authService *service.AuthService,
	apiKeyService *service.APIKeyService,
	mwConfig *util.MiddlewareConfig,
	sc *util.ServerConfig,
	l *zap.SugaredLogger,
	cleanupFuncs []func(),
) *API {
	e := echo.New()

	e.Server.Addr = sc.ServerAddr
	e.Server.WriteTimeout = sc.WriteTimeout
	e.Server.ReadTimeout = sc.ReadTimeout
	e.Server.IdleTimeout = sc.IdleTimeout
	e.HTTPErrorHandler = ErrorHandler(l)

	return &API{
		server:          e,
		controller:      c,
		tokenService:    tokenService,
		authService:     authService,
		apiKeyService:   apiKeyService,
		mwConfig:        mwConfig,
		log:             l,
		gracefulTimeout: sc.GracefulTimeout,
		cleanupFuncs:    cleanupFuncs,
	}
}

func (a *API) Run(ctxBackground context.Context) {
	ctx, stop := signal.NotifyContext(ctxBackground, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.server.Use(echomiddleware.RequestLoggerWithConfig(GetLoggerMiddlewareConfig(a)))

	RegisterRoutes(a.server, a.controller, a.tokenService, a.authService, a.apiKeyService, a.mwConfig)

	a.ListenGracefulShutdown(ctx)
}

// RegisterRoutes wires the HTTP surface. Split out of Run so handler tests
// can mount the same routes on a bare echo instance.
func RegisterRoutes(
	e *echo.Echo,
	c *controller.Controller,
	tokenService *service.TokenService,
	authService *service.AuthService,
	apiKeyValidator APIKeyValidator,
	mwConfig *util.MiddlewareConfig,
) {
	e.GET("/ping", c.CheckServer)

	auth := e.Group("/auth")

	// Credential-bearing endpoints get a local rate limiter; everything
	// else is protected by token verification alone.
	limiter := echomiddleware.RateLimiterWithConfig(echomiddleware.RateLimiterConfig{
		Store: echomiddleware.NewRateLimiterMemoryStoreWithConfig(echomiddleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(mwConfig.RateLimit),
			Burst:     mwConfig.RateBurst,
			ExpiresIn: rateLimitExpires,
		}),
	})
	auth.POST("/sign-in", c.SignIn, limiter)
	auth.POST("/refresh", c.RefreshTokens, limiter)

	protected := auth.Group("", BearerAuthMiddleware(tokenService, authService, mwConfig.HardenedValidation))
	protected.POST("/logout", c.Logout)
	protected.GET("/sessions", c.ListSessions)
	protected.DELETE("/sessions/:id", c.RevokeSession)

	internal := e.Group("/internal", APIKeyAuthMiddleware(apiKeyValidator))
	internal.POST("/users/:id/revoke-sessions", c.RevokeUserSessions)
}

func (a *API) ListenGracefulShutdown(ctx context.Context) {
	go func() {
		err := a.server.Start(a.server.Server.Addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()
	a.log.Infof("Listening on: %s", a.server.Server.Addr)

	<-ctx.Done()
	a.log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := a.server.Shutdown(shutdownCtx)
	if err != nil {
		a.log.Errorf("shutdown: %v", err)
	}

	longShutdown := make(chan struct{}, 1)

	go func() {
		time.Sleep(a.gracefulTimeout)
		longShutdown <- struct{}{}
	}()

	select {
	case <-shutdownCtx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			a.log.Info("server shutdown completed")
		} else {
			a.log.Errorf("server shutdown: %v", ctx.Err())
		}
	case <-longShutdown:
		a.log.Infof("finished")
	}

	for _, cleanup := range a.cleanupFuncs {
		cleanup()
	}
}
