package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/dimonss/AccountingForRepairsBackend/internal/middleware"
	"github.com/dimonss/AccountingForRepairsBackend/internal/service"
)

// ok writes the success envelope.  data and msg are omitted when empty.
func ok(c echo.Context, status int, data any, msg string) error {
	body := echo.Map{"success": true}
	if data != nil {
		body["data"] = data
	}
	if msg != "" {
		body["message"] = msg
	}
	return c.JSON(status, body)
}

func fail(c echo.Context, status int, msg, code string) error {
	body := echo.Map{"success": false, "error": msg}
	if code != "" {
		body["code"] = code
	}
	return c.JSON(status, body)
}

// writeError maps service errors onto HTTP.  Credential and token problems
// are 4xx; anything unrecognised is logged and reported as a bare 500.
func writeError(c echo.Context, log *zap.Logger, err error) error {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		return fail(c, http.StatusBadRequest, ve.Msg, "VALIDATION_ERROR")
	case errors.Is(err, service.ErrInvalidCredentials):
		return fail(c, http.StatusUnauthorized, "Invalid credentials", "INVALID_CREDENTIALS")
	case errors.Is(err, service.ErrInvalidOrExpiredToken):
		return fail(c, http.StatusUnauthorized, "Invalid or expired refresh token", "INVALID_REFRESH_TOKEN")
	case errors.Is(err, service.ErrMissingToken):
		return fail(c, http.StatusUnauthorized, "Refresh token required", middleware.CodeTokenMissing)
	case errors.Is(err, service.ErrIncorrectPassword):
		return fail(c, http.StatusBadRequest, "Current password is incorrect", "INCORRECT_PASSWORD")
	case errors.Is(err, service.ErrPrincipalUnavailable):
		return fail(c, http.StatusUnauthorized, "Invalid or inactive user", middleware.CodePrincipalUnavailable)
	case errors.Is(err, service.ErrAuthenticationRequired):
		return fail(c, http.StatusUnauthorized, "Authentication required", middleware.CodeAuthRequired)
	case errors.Is(err, service.ErrInsufficientPermissions):
		return fail(c, http.StatusForbidden, "Insufficient permissions", middleware.CodeForbidden)
	case errors.Is(err, service.ErrConflict):
		return fail(c, http.StatusConflict, "Username or email already exists", "CONFLICT")
	case errors.Is(err, service.ErrNotFound):
		return fail(c, http.StatusNotFound, "Not found", "NOT_FOUND")
	}
	log.Error("request failed",
		zap.Error(err),
		zap.String("request_id", middleware.RequestID(c)),
		zap.String("path", c.Path()))
	return fail(c, http.StatusInternalServerError, "Internal server error", "")
}
