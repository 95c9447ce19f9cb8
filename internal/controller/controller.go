package controller

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/taskloop/auth-service/internal/models"
	"github.com/taskloop/auth-service/internal/service"
)

// RefreshCookieName is the HTTP-only cookie carrying the raw refresh
// secret. Scoped to /auth so it is never sent to ordinary API routes.
const RefreshCookieName = "refresh_token"

const refreshCookiePath = "/auth"

type Controller struct {
	zapLogger    *zap.SugaredLogger
	authService  *service.AuthService
	tokenService *service.TokenService
}

func NewController(logger *zap.SugaredLogger, authService *service.AuthService, tokenService *service.TokenService) *Controller {
	return &Controller{
		zapLogger:    logger,
		authService:  authService,
		tokenService: tokenService,
	}
}

// (POST /auth/sign-in).
func (c *Controller) SignIn(ctx echo.Context) error {
	var req models.SignInRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password are required")
	}

	pair, err := c.authService.Login(ctx.Request().Context(), req.Email, req.Password, clientMetadata(ctx))
	if err != nil {
		return err
	}

	c.setRefreshCookie(ctx, pair.RefreshToken)
	return ctx.JSON(http.StatusOK, models.TokenPairResponse{
		AccessToken: pair.AccessToken,
		ExpiresIn:   pair.ExpiresIn,
	})
}

// (POST /auth/refresh).
func (c *Controller) RefreshTokens(ctx echo.Context) error {
	cookie, err := ctx.Cookie(RefreshCookieName)
	if err != nil || cookie.Value == "" {
		return service.ErrInvalidRefreshToken
	}

	pair, err := c.authService.Refresh(ctx.Request().Context(), cookie.Value, clientMetadata(ctx))
	if err != nil {
		c.clearRefreshCookie(ctx)
		return err
	}

	c.setRefreshCookie(ctx, pair.RefreshToken)
	return ctx.JSON(http.StatusOK, models.TokenPairResponse{
		AccessToken: pair.AccessToken,
		ExpiresIn:   pair.ExpiresIn,
	})
}

// (POST /auth/logout).
func (c *Controller) Logout(ctx echo.Context) error {
	userID, _ := ctx.Get(models.MwUserIDKey).(string)
	lineageID, _ := ctx.Get(models.MwLineageKey).(string)
	token, _ := ctx.Get(models.MwTokenKey).(string)

	if err := c.authService.Logout(ctx.Request().Context(), userID, lineageID, token); err != nil {
		return err
	}

	c.clearRefreshCookie(ctx)
	return ctx.JSON(http.StatusOK, map[string]string{"status": "logged out"})
}

// (GET /auth/sessions).
func (c *Controller) ListSessions(ctx echo.Context) error {
	userID, _ := ctx.Get(models.MwUserIDKey).(string)
	lineageID, _ := ctx.Get(models.MwLineageKey).(string)

	sessions, err := c.authService.ListSessions(ctx.Request().Context(), userID, lineageID)
	if err != nil {
		return err
	}

	return ctx.JSON(http.StatusOK, sessions)
}

// (DELETE /auth/sessions/:id).
func (c *Controller) RevokeSession(ctx echo.Context) error {
	userID, _ := ctx.Get(models.MwUserIDKey).(string)
	lineageID, _ := ctx.Get(models.MwLineageKey).(string)
	targetID := ctx.Param("id")

	if err := c.authService.RevokeSession(ctx.Request().Context(), userID, targetID, lineageID); err != nil {
		return err
	}

	return ctx.JSON(http.StatusOK, map[string]string{"status": "session revoked"})
}

// (POST /internal/users/:id/revoke-sessions).
// Called by the password-reset collaborator after a credential change.
func (c *Controller) RevokeUserSessions(ctx echo.Context) error {
	userID := ctx.Param("id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user id is required")
	}

	if err := c.authService.RevokeAllForUser(ctx.Request().Context(), userID, models.RevokeReasonPasswordReset); err != nil {
		return err
	}

	return ctx.JSON(http.StatusOK, map[string]string{"status": "sessions revoked"})
}

// (GET /ping).
func (c *Controller) CheckServer(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, "ok")
}

func (c *Controller) setRefreshCookie(ctx echo.Context, rawSecret string) {
	ctx.SetCookie(&http.Cookie{
		Name:     RefreshCookieName,
		Value:    rawSecret,
		Path:     refreshCookiePath,
		Expires:  time.Now().Add(c.tokenService.RefreshTTL()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (c *Controller) clearRefreshCookie(ctx echo.Context) {
	ctx.SetCookie(&http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func clientMetadata(ctx echo.Context) models.UserMetadata {
	return models.UserMetadata{
		UserAgent: ctx.Request().UserAgent(),
		IPAddress: ctx.RealIP(),
	}
}
