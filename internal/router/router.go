package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dimonss/AccountingForRepairsBackend/internal/handler"
	"github.com/dimonss/AccountingForRepairsBackend/internal/middleware"
	"github.com/dimonss/AccountingForRepairsBackend/internal/model"
)

// RegisterRoutes registers routes that do not require authentication: the
// liveness check and the Prometheus scrape endpoint.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/health", handler.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterAuth registers the /api/auth routes.  login and refresh go
// through limiter, which may be a pass-through.  logout only needs the
// refresh token in its body.  Everything else requires a valid access
// token, and account administration additionally requires the admin role.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, guard *middleware.Guard, limiter echo.MiddlewareFunc) {
	g := e.Group("/api/auth")
	g.POST("/login", a.Login, limiter)
	g.POST("/refresh", a.Refresh, limiter)
	g.POST("/logout", a.Logout)

	authn := guard.Authenticate()
	g.POST("/logout-all", a.LogoutAll, authn)
	g.GET("/sessions", a.ListSessions, authn)
	g.DELETE("/sessions/:id", a.RevokeSession, authn)
	g.GET("/me", a.Me, authn)
	g.POST("/change-password", a.ChangePassword, authn)

	admin := guard.RequireRole(model.RoleAdmin)
	g.POST("/register", a.Register, authn, admin)
	g.GET("/users", a.ListUsers, authn, admin)
	g.PUT("/users/:id", a.UpdateUser, authn, admin)
}
