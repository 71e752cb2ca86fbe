package middleware // middleware provides shared request processing for handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dimonss/AccountingForRepairsBackend/internal/model"
	"github.com/dimonss/AccountingForRepairsBackend/internal/queue"
	"github.com/dimonss/AccountingForRepairsBackend/internal/service"
)

// RequireRole returns a middleware that lets the request through only
// when the authenticated principal holds one of roles.  It must run after
// Authenticate.  No principal is a 401, a principal with another role a
// 403; the latter is recorded in the audit trail.
func (g *Guard) RequireRole(roles ...model.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var principal *model.Principal
			if p, ok := PrincipalFrom(c); ok {
				principal = &p
			}
			switch err := service.Authorize(principal, roles...); err {
			case nil:
				return next(c)
			case service.ErrAuthenticationRequired:
				return deny(c, http.StatusUnauthorized, "Authentication required", CodeAuthRequired)
			default:
				g.denied(c, principal, roles)
				return deny(c, http.StatusForbidden, "Insufficient permissions", CodeForbidden)
			}
		}
	}
}

func (g *Guard) denied(c echo.Context, p *model.Principal, roles []model.Role) {
	if g.Events == nil {
		return
	}
	ev := queue.NewEvent(queue.AccessDenied, time.Now())
	ev.UserID = p.ID
	ev.Username = p.Username
	ev.IP = c.RealIP()
	ev.UserAgent = c.Request().UserAgent()
	ev.Reason = fmt.Sprintf("%s %s requires %v, has %s", c.Request().Method, c.Path(), roles, p.Role)
	g.Events.Publish(ev)
}
