package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/taskloop/auth-service/internal/service"
	"github.com/taskloop/auth-service/internal/storage"
	"github.com/taskloop/auth-service/internal/util"
)

// sessionInvalidReason is the single response body for every refresh-path
// failure. Invalid tokens and detected replays must be indistinguishable
// to the caller; only server-side logs tell them apart.
const sessionInvalidReason = "session invalid"

func ErrorHandler(log *zap.SugaredLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		switch {
		case isSessionEndedError(err):
			writeReason(log, c, http.StatusUnauthorized, sessionInvalidReason)
			return
		case isUnauthorizedTokenError(err):
			writeReason(log, c, http.StatusUnauthorized, "invalid access token")
			return
		case errors.Is(err, service.ErrInvalidCredentials):
			writeReason(log, c, http.StatusUnauthorized, "invalid credentials")
			return
		case errors.Is(err, service.ErrAccountDisabled):
			writeReason(log, c, http.StatusUnauthorized, "account disabled")
			return
		case errors.Is(err, service.ErrRevokeCurrentSession):
			writeReason(log, c, http.StatusBadRequest, "cannot revoke current session")
			return
		case errors.Is(err, storage.ErrSessionNotFound):
			writeReason(log, c, http.StatusNotFound, "session not found")
			return
		}

		var respErr util.ResponseError
		if errors.As(err, &respErr) {
			writeReason(log, c, respErr.Status, respErr.Msg)
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			if he.Code == http.StatusInternalServerError {
				log.Errorw("HTTP error", "error", err, "uri", c.Request().RequestURI)
			}
			msg, ok := he.Message.(string)
			if !ok {
				msg = http.StatusText(he.Code)
			}
			writeReason(log, c, he.Code, msg)
			return
		}

		log.Errorw("unhandled error", "error", err, "uri", c.Request().RequestURI)
		writeReason(log, c, http.StatusInternalServerError, "internal server error")
	}
}

// isSessionEndedError covers the refresh path: both failure kinds force
// re-login and share one response.
func isSessionEndedError(err error) bool {
	return errors.Is(err, service.ErrInvalidRefreshToken) ||
		errors.Is(err, service.ErrTokenReuseDetected)
}

func isUnauthorizedTokenError(err error) bool {
	return errors.Is(err, service.ErrTokenExpired) ||
		errors.Is(err, service.ErrTokenInvalid) ||
		errors.Is(err, service.ErrTokenMalformed) ||
		errors.Is(err, service.ErrTokenRevoked)
}

func writeReason(log *zap.SugaredLogger, c echo.Context, status int, reason string) {
	if err := c.JSON(status, map[string]string{"reason": reason}); err != nil {
		log.Errorw("failed to write json response", "error", err)
	}
}
