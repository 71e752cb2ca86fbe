package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/dimonss/AccountingForRepairsBackend/internal/config"
	"github.com/dimonss/AccountingForRepairsBackend/internal/database"
	"github.com/dimonss/AccountingForRepairsBackend/internal/handler"
	"github.com/dimonss/AccountingForRepairsBackend/internal/middleware"
	"github.com/dimonss/AccountingForRepairsBackend/internal/model"
	"github.com/dimonss/AccountingForRepairsBackend/internal/repository"
	"github.com/dimonss/AccountingForRepairsBackend/internal/service"
	"github.com/dimonss/AccountingForRepairsBackend/internal/utils"
)

type app struct {
	e      *echo.Echo
	users  *repository.UserRepo
	hasher *utils.PasswordHasher
}

func newApp(t *testing.T) *app {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.EnsureSchema(context.Background(), db, database.SQLite))

	cfg := config.Config{
		AccessTTLRaw:  "15m",
		AccessTTL:     15 * time.Minute,
		RefreshTTLRaw: "30d",
		RefreshTTL:    30 * 24 * time.Hour,
	}
	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	hasher := utils.NewPasswordHasher(bcrypt.MinCost, 2)
	codec := utils.NewTokenCodec("router-test-secret", time.Now)
	opts := service.SessionOptions{AccessTTL: cfg.AccessTTL, RefreshTTL: cfg.RefreshTTL}
	sessions := service.NewSessionManager(users, tokens, hasher, codec, opts)
	accounts := service.NewUserService(users, tokens, hasher, opts)

	e := echo.New()
	guard := &middleware.Guard{Auth: sessions, Log: zap.NewNop()}
	RegisterRoutes(e)
	limiter := middleware.NewTokenBucket(config.RateLimitConfig{}, nil, zap.NewNop())
	RegisterAuth(e, handler.NewAuthHandler(cfg, sessions, accounts, zap.NewNop()), guard, limiter)
	return &app{e: e, users: users, hasher: hasher}
}

func (a *app) addUser(t *testing.T, username, password string, role model.Role) {
	t.Helper()
	hash, err := a.hasher.Hash(context.Background(), password)
	require.NoError(t, err)
	_, err = a.users.Create(context.Background(), model.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		FullName:     "User " + username,
		Role:         role,
		IsActive:     true,
		CreatedAt:    time.Now(),
	})
	require.NoError(t, err)
}

func (a *app) do(t *testing.T, method, path, token, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func (a *app) login(t *testing.T, username, password string) (access, refresh string) {
	t.Helper()
	code, body := a.do(t, http.MethodPost, "/api/auth/login", "",
		`{"username":"`+username+`","password":"`+password+`"}`)
	require.Equal(t, http.StatusOK, code, body)
	data := body["data"].(map[string]any)
	return data["accessToken"].(string), data["refreshToken"].(string)
}

func TestHealth(t *testing.T) {
	a := newApp(t)
	code, body := a.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestLoginThenMe(t *testing.T) {
	a := newApp(t)
	a.addUser(t, "alice", "secret1", model.RoleEmployee)

	code, body := a.do(t, http.MethodPost, "/api/auth/login", "", `{"username":"alice","password":"secret1"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	assert.NotEmpty(t, data["accessToken"])
	assert.Len(t, data["refreshToken"], 128)
	user := data["user"].(map[string]any)
	assert.Equal(t, "alice", user["username"])
	assert.Equal(t, "employee", user["role"])
	assert.NotContains(t, user, "password_hash")
	exp := data["expiresIn"].(map[string]any)
	assert.Equal(t, "15m", exp["accessToken"])
	assert.Equal(t, "30d", exp["refreshToken"])

	code, body = a.do(t, http.MethodGet, "/api/auth/me", data["accessToken"].(string), "")
	require.Equal(t, http.StatusOK, code)
	me := body["data"].(map[string]any)["user"].(map[string]any)
	assert.Equal(t, "alice", me["username"])
	assert.Equal(t, "alice@example.com", me["email"])
}

func TestLoginByEmailAndWrongPassword(t *testing.T) {
	a := newApp(t)
	a.addUser(t, "alice", "secret1", model.RoleEmployee)

	code, _ := a.do(t, http.MethodPost, "/api/auth/login", "", `{"email":"ALICE@example.com","password":"secret1"}`)
	assert.Equal(t, http.StatusOK, code)

	code, body := a.do(t, http.MethodPost, "/api/auth/login", "", `{"username":"alice","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Invalid credentials", body["error"])

	code, body = a.do(t, http.MethodPost, "/api/auth/login", "", `{"username":"ghost","password":"secret1"}`)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Invalid credentials", body["error"])

	code, body = a.do(t, http.MethodPost, "/api/auth/login", "", `{"username":"alice"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, body["success"])
}

func TestMeRequiresToken(t *testing.T) {
	a := newApp(t)
	code, body := a.do(t, http.MethodGet, "/api/auth/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Access token required", body["error"])
	assert.Equal(t, middleware.CodeTokenMissing, body["code"])

	code, body = a.do(t, http.MethodGet, "/api/auth/me", "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Invalid token", body["error"])
}

func TestRefreshRotatesAndOldTokenDies(t *testing.T) {
	a := newApp(t)
	a.addUser(t, "alice", "secret1", model.RoleEmployee)
	_, refresh := a.login(t, "alice", "secret1")

	code, body := a.do(t, http.MethodPost, "/api/auth/refresh", "", `{"refreshToken":"`+refresh+`"}`)
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]any)
	next := data["refreshToken"].(string)
	assert.NotEqual(t, refresh, next)
	assert.NotContains(t, data, "user")

	code, body = a.do(t, http.MethodPost, "/api/auth/refresh", "", `{"refreshToken":"`+refresh+`"}`)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Invalid or expired refresh token", body["error"])

	code, body = a.do(t, http.MethodPost, "/api/auth/refresh", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Refresh token required", body["error"])
}

func TestLogoutIsIdempotent(t *testing.T) {
	a := newApp(t)
	a.addUser(t, "alice", "secret1", model.RoleEmployee)
	_, refresh := a.login(t, "alice", "secret1")

	for i := 0; i < 2; i++ {
		code, body := a.do(t, http.MethodPost, "/api/auth/logout", "", `{"refreshToken":"`+refresh+`"}`)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "Logged out successfully", body["message"])
	}
	code, _ := a.do(t, http.MethodPost, "/api/auth/refresh", "", `{"refreshToken":"`+refresh+`"}`)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestSessionsListAndRevoke(t *testing.T) {
	a := newApp(t)
	a.addUser(t, "alice", "secret1", model.RoleEmployee)
	access, _ := a.login(t, "alice", "secret1")
	a.login(t, "alice", "secret1")

	code, body := a.do(t, http.MethodGet, "/api/auth/sessions", access, "")
	require.Equal(t, http.StatusOK, code)
	list := body["data"].([]any)
	require.Len(t, list, 2)
	first := list[0].(map[string]any)
	assert.NotContains(t, first, "token_hash")
	id := int(first["id"].(float64))

	path := "/api/auth/sessions/" + itoa(id)
	code, body = a.do(t, http.MethodDelete, path, access, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Session revoked successfully", body["message"])

	code, body = a.do(t, http.MethodDelete, path, access, "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Session not found", body["error"])

	code, _ = a.do(t, http.MethodDelete, "/api/auth/sessions/abc", access, "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = a.do(t, http.MethodGet, "/api/auth/sessions", access, "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["data"].([]any), 1)
}

func TestLogoutAllEndsEverySession(t *testing.T) {
	a := newApp(t)
	a.addUser(t, "alice", "secret1", model.RoleEmployee)
	access, r1 := a.login(t, "alice", "secret1")
	_, r2 := a.login(t, "alice", "secret1")

	code, body := a.do(t, http.MethodPost, "/api/auth/logout-all", access, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Logged out from all devices successfully", body["message"])

	for _, r := range []string{r1, r2} {
		code, _ = a.do(t, http.MethodPost, "/api/auth/refresh", "", `{"refreshToken":"`+r+`"}`)
		assert.Equal(t, http.StatusUnauthorized, code)
	}
}

func TestChangePassword(t *testing.T) {
	a := newApp(t)
	a.addUser(t, "alice", "secret1", model.RoleEmployee)
	access, refresh := a.login(t, "alice", "secret1")

	code, body := a.do(t, http.MethodPost, "/api/auth/change-password", access,
		`{"currentPassword":"wrong1","newPassword":"secret2"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Current password is incorrect", body["error"])

	code, body = a.do(t, http.MethodPost, "/api/auth/change-password", access,
		`{"currentPassword":"secret1","newPassword":"secret2"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Password changed successfully. Please login again.", body["message"])

	code, _ = a.do(t, http.MethodPost, "/api/auth/refresh", "", `{"refreshToken":"`+refresh+`"}`)
	assert.Equal(t, http.StatusUnauthorized, code)
	a.login(t, "alice", "secret2")
}

func TestRegisterRequiresAdmin(t *testing.T) {
	a := newApp(t)
	a.addUser(t, "alice", "secret1", model.RoleEmployee)
	a.addUser(t, "root", "secret1", model.RoleAdmin)
	payload := `{"username":"bob","email":"bob@example.com","password":"secret1","full_name":"Bob","role":"manager"}`

	code, _ := a.do(t, http.MethodPost, "/api/auth/register", "", payload)
	assert.Equal(t, http.StatusUnauthorized, code)

	employee, _ := a.login(t, "alice", "secret1")
	code, body := a.do(t, http.MethodPost, "/api/auth/register", employee, payload)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "Insufficient permissions", body["error"])

	admin, _ := a.login(t, "root", "secret1")
	code, body = a.do(t, http.MethodPost, "/api/auth/register", admin, payload)
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, "User created successfully", body["message"])
	user := body["data"].(map[string]any)["user"].(map[string]any)
	assert.Equal(t, "manager", user["role"])

	code, _ = a.do(t, http.MethodPost, "/api/auth/register", admin, payload)
	assert.Equal(t, http.StatusConflict, code)

	code, body = a.do(t, http.MethodPost, "/api/auth/register", admin,
		`{"username":"carol","email":"carol@example.com","password":"secret1","full_name":"Carol","role":"boss"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Invalid role. Must be admin, manager, or employee", body["error"])

	a.login(t, "bob", "secret1")
}

func TestAdminUpdatesUser(t *testing.T) {
	a := newApp(t)
	a.addUser(t, "root", "secret1", model.RoleAdmin)
	a.addUser(t, "alice", "secret1", model.RoleEmployee)
	admin, _ := a.login(t, "root", "secret1")
	_, aliceRefresh := a.login(t, "alice", "secret1")

	code, body := a.do(t, http.MethodGet, "/api/auth/users", admin, "")
	require.Equal(t, http.StatusOK, code)
	var aliceID int
	for _, raw := range body["data"].([]any) {
		u := raw.(map[string]any)
		if u["username"] == "alice" {
			aliceID = int(u["id"].(float64))
		}
	}
	require.NotZero(t, aliceID)

	code, body = a.do(t, http.MethodPut, "/api/auth/users/"+itoa(aliceID), admin, `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "No fields to update", body["error"])

	code, body = a.do(t, http.MethodPut, "/api/auth/users/9999", admin, `{"full_name":"X"}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "User not found", body["error"])

	code, body = a.do(t, http.MethodPut, "/api/auth/users/"+itoa(aliceID), admin, `{"is_active":false}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["data"].(map[string]any)["user"].(map[string]any)["is_active"])

	code, _ = a.do(t, http.MethodPost, "/api/auth/refresh", "", `{"refreshToken":"`+aliceRefresh+`"}`)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = a.do(t, http.MethodPost, "/api/auth/login", "", `{"username":"alice","password":"secret1"}`)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}
