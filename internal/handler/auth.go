package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/dimonss/AccountingForRepairsBackend/internal/config"
	"github.com/dimonss/AccountingForRepairsBackend/internal/middleware"
	"github.com/dimonss/AccountingForRepairsBackend/internal/model"
	"github.com/dimonss/AccountingForRepairsBackend/internal/service"
)

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Cfg      config.Config
	Sessions *service.SessionManager
	Users    *service.UserService
	Log      *zap.Logger
}

func NewAuthHandler(cfg config.Config, s *service.SessionManager, u *service.UserService, log *zap.Logger) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Sessions: s, Users: u, Log: log.Named("auth")}
}

// ----- DTOs -----

type loginReq struct {
	Username string `json:"username"`
	Email    string `json:"email"` // alias of username
	Password string `json:"password"`
}
type refreshReq struct {
	RefreshToken string `json:"refreshToken"`
}
type changePasswordReq struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}
type registerReq struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

type userPart struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}
type expiresPart struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}
type tokensResp struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	User         *userPart   `json:"user,omitempty"`
	ExpiresIn    expiresPart `json:"expiresIn"`
}
type sessionPart struct {
	ID         uint64    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	UserAgent  string    `json:"user_agent"`
	IPAddress  string    `json:"ip_address"`
}

func principalPart(p model.Principal) userPart {
	return userPart{ID: p.ID, Username: p.Username, Email: p.Email, FullName: p.FullName, Role: string(p.Role)}
}

func (h *AuthHandler) tokens(pair service.TokenPair, user *userPart) tokensResp {
	return tokensResp{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         user,
		ExpiresIn: expiresPart{
			AccessToken:      h.Cfg.AccessTTLRaw,
			RefreshToken:     h.Cfg.RefreshTTLRaw,
			AccessExpiresAt:  pair.AccessExpiresAt,
			RefreshExpiresAt: pair.RefreshExpiresAt,
		},
	}
}

func clientMeta(c echo.Context) service.ClientMeta {
	return service.ClientMeta{UserAgent: c.Request().UserAgent(), IP: c.RealIP()}
}

func timeout(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), 5*time.Second)
}

func badBody(c echo.Context) error {
	return fail(c, http.StatusBadRequest, "Invalid request body", "VALIDATION_ERROR")
}

// principal returns the caller or writes a 401 when the route was mounted
// without Authenticate.
func principal(c echo.Context) (model.Principal, bool) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		_ = fail(c, http.StatusUnauthorized, "Authentication required", middleware.CodeAuthRequired)
	}
	return p, ok
}

// Login: verify credentials and return a new pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	login := req.Username
	if login == "" {
		login = req.Email
	}

	ctx, cancel := timeout(c)
	defer cancel()

	res, err := h.Sessions.Login(ctx, login, req.Password, clientMeta(c))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	user := principalPart(res.User.Principal())
	return ok(c, http.StatusOK, h.tokens(res.TokenPair, &user), "")
}

// Refresh: redeem a refresh token for a new pair; the old one dies.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}

	ctx, cancel := timeout(c)
	defer cancel()

	pair, err := h.Sessions.Refresh(ctx, req.RefreshToken, clientMeta(c))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return ok(c, http.StatusOK, h.tokens(pair, nil), "")
}

// Logout: revoke the given refresh token if it exists.  Always 200 unless
// the store fails.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req refreshReq
	_ = c.Bind(&req) // the body is optional

	ctx, cancel := timeout(c)
	defer cancel()

	if err := h.Sessions.Logout(ctx, req.RefreshToken, clientMeta(c)); err != nil {
		return writeError(c, h.Log, err)
	}
	return ok(c, http.StatusOK, nil, "Logged out successfully")
}

// LogoutAll: revoke every session of the caller.
func (h *AuthHandler) LogoutAll(c echo.Context) error {
	p, found := principal(c)
	if !found {
		return nil
	}
	ctx, cancel := timeout(c)
	defer cancel()

	if err := h.Sessions.LogoutAll(ctx, p, clientMeta(c)); err != nil {
		return writeError(c, h.Log, err)
	}
	return ok(c, http.StatusOK, nil, "Logged out from all devices successfully")
}

// ListSessions: list the caller's active sessions.
func (h *AuthHandler) ListSessions(c echo.Context) error {
	p, found := principal(c)
	if !found {
		return nil
	}
	ctx, cancel := timeout(c)
	defer cancel()

	list, err := h.Sessions.ListSessions(ctx, p)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	out := make([]sessionPart, 0, len(list))
	for _, t := range list {
		out = append(out, sessionPart{
			ID:         t.ID,
			CreatedAt:  t.CreatedAt,
			LastUsedAt: t.LastUsedAt,
			ExpiresAt:  t.ExpiresAt,
			UserAgent:  t.UserAgent,
			IPAddress:  t.IPAddress,
		})
	}
	return ok(c, http.StatusOK, out, "")
}

// RevokeSession: revoke one of the caller's sessions by id.
func (h *AuthHandler) RevokeSession(c echo.Context) error {
	p, found := principal(c)
	if !found {
		return nil
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return fail(c, http.StatusBadRequest, "Invalid session id", "VALIDATION_ERROR")
	}
	ctx, cancel := timeout(c)
	defer cancel()

	if err := h.Sessions.RevokeSession(ctx, p, id, clientMeta(c)); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return fail(c, http.StatusNotFound, "Session not found", "NOT_FOUND")
		}
		return writeError(c, h.Log, err)
	}
	return ok(c, http.StatusOK, nil, "Session revoked successfully")
}

// Me: return the authenticated principal.
func (h *AuthHandler) Me(c echo.Context) error {
	p, found := principal(c)
	if !found {
		return nil
	}
	return ok(c, http.StatusOK, echo.Map{"user": principalPart(p)}, "")
}

// ChangePassword: replace the caller's password and end all sessions.
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	p, found := principal(c)
	if !found {
		return nil
	}
	var req changePasswordReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ctx, cancel := timeout(c)
	defer cancel()

	if err := h.Sessions.ChangePassword(ctx, p, req.CurrentPassword, req.NewPassword, clientMeta(c)); err != nil {
		return writeError(c, h.Log, err)
	}
	return ok(c, http.StatusOK, nil, "Password changed successfully. Please login again.")
}
