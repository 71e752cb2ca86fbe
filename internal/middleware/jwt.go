package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/dimonss/AccountingForRepairsBackend/internal/model"
	"github.com/dimonss/AccountingForRepairsBackend/internal/queue"
	"github.com/dimonss/AccountingForRepairsBackend/internal/service"
)

// Authenticator resolves an access token into a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (model.Principal, error)
}

// EventSink receives audit events for denied requests.
type EventSink interface {
	Publish(ev queue.AuthEvent)
}

// Guard bundles the dependencies of the auth middlewares.
type Guard struct {
	Auth   Authenticator
	Events EventSink // may be nil
	Log    *zap.Logger
}

// Machine readable codes returned on 401/403 so that a client can decide
// whether refreshing its access token is worth a try.
const (
	CodeTokenMissing         = "TOKEN_MISSING"
	CodeTokenExpired         = "TOKEN_EXPIRED"
	CodeInvalidToken         = "INVALID_TOKEN"
	CodeInvalidTokenType     = "INVALID_TOKEN_TYPE"
	CodePrincipalUnavailable = "PRINCIPAL_UNAVAILABLE"
	CodeAuthRequired         = "AUTHENTICATION_REQUIRED"
	CodeForbidden            = "INSUFFICIENT_PERMISSIONS"
)

// bearer extracts the token of an "Authorization: Bearer <token>" header.
func bearer(c echo.Context) string {
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	const prefix = "Bearer "
	if len(auth) < len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

// Authenticate returns an Echo middleware that validates the Bearer access
// token and attaches the principal to the request.  Every failure is a 401
// carrying a code specific to its cause; only store faults become 500s.
func (g *Guard) Authenticate() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, err := g.Auth.Authenticate(c.Request().Context(), bearer(c))
			if err != nil {
				return g.authFailure(c, err)
			}
			setPrincipal(c, p)
			return next(c)
		}
	}
}

func (g *Guard) authFailure(c echo.Context, err error) error {
	var msg, code string
	switch {
	case errors.Is(err, service.ErrMissingToken):
		msg, code = "Access token required", CodeTokenMissing
	case errors.Is(err, service.ErrTokenExpired):
		msg, code = "Token expired", CodeTokenExpired
	case errors.Is(err, service.ErrWrongTokenType):
		msg, code = "Invalid token type", CodeInvalidTokenType
	case errors.Is(err, service.ErrTokenMalformed):
		msg, code = "Invalid token", CodeInvalidToken
	case errors.Is(err, service.ErrPrincipalUnavailable):
		msg, code = "Invalid or inactive user", CodePrincipalUnavailable
	default:
		g.logger().Error("authenticate failed", zap.Error(err), zap.String("request_id", requestID(c)))
		return deny(c, http.StatusInternalServerError, "Authentication failed", "")
	}
	g.rejected(c, code)
	return deny(c, http.StatusUnauthorized, msg, code)
}

// rejected records a refused access token.  A request without any token
// is only logged at debug level; everything else also goes to the audit
// trail.
func (g *Guard) rejected(c echo.Context, code string) {
	fields := []zap.Field{
		zap.String("code", code),
		zap.String("method", c.Request().Method),
		zap.String("path", c.Path()),
		zap.String("ip", c.RealIP()),
		zap.String("request_id", requestID(c)),
	}
	if code == CodeTokenMissing {
		g.logger().Debug("access token missing", fields...)
		return
	}
	g.logger().Warn("access token rejected", fields...)
	if g.Events == nil {
		return
	}
	ev := queue.NewEvent(queue.AuthRejected, time.Now())
	ev.IP = c.RealIP()
	ev.UserAgent = c.Request().UserAgent()
	ev.Reason = fmt.Sprintf("%s %s: %s", c.Request().Method, c.Path(), code)
	g.Events.Publish(ev)
}

func (g *Guard) logger() *zap.Logger {
	if g.Log == nil {
		return zap.NewNop()
	}
	return g.Log
}
