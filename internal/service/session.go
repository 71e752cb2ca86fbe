// Package service holds the authentication core: the session manager that
// issues, rotates and revokes tokens, the role gate, user administration
// and the refresh token sweeper.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/dimonss/AccountingForRepairsBackend/internal/metrics"
	"github.com/dimonss/AccountingForRepairsBackend/internal/model"
	"github.com/dimonss/AccountingForRepairsBackend/internal/queue"
	"github.com/dimonss/AccountingForRepairsBackend/internal/repository"
	"github.com/dimonss/AccountingForRepairsBackend/internal/utils"
)

const minPasswordLen = 6

// UserStore is the part of the credential store the session manager reads
// and writes.
type UserStore interface {
	GetByID(ctx context.Context, id uint64) (model.User, error)
	GetActiveByLogin(ctx context.Context, login string) (model.User, error)
	UpdateLastLogin(ctx context.Context, id uint64, at time.Time) error
	UpdatePassword(ctx context.Context, id uint64, hash string, at time.Time) error
}

// TokenStore persists refresh token records.
type TokenStore interface {
	Store(ctx context.Context, t model.RefreshToken) (uint64, error)
	FindActiveByHash(ctx context.Context, hash string) (model.RefreshToken, error)
	FindByHash(ctx context.Context, hash string) (model.RefreshToken, error)
	Rotate(ctx context.Context, oldID uint64, usedAt time.Time, next model.RefreshToken) (uint64, error)
	RevokeByHash(ctx context.Context, hash string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID uint64) (int64, error)
	RevokeForUser(ctx context.Context, id, userID uint64) error
	ListActive(ctx context.Context, userID uint64, now time.Time) ([]model.RefreshToken, error)
	PurgeForUser(ctx context.Context, userID uint64, now time.Time) (int64, error)
}

// EventSink receives audit events.  Publish must not block.
type EventSink interface {
	Publish(ev queue.AuthEvent)
}

type discardSink struct{}

func (discardSink) Publish(queue.AuthEvent) {}

// ClientMeta describes the device a request came from.
type ClientMeta struct {
	UserAgent string
	IP        string
}

// TokenPair is what a successful login or refresh hands to the client.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// LoginResult is a token pair plus the account that logged in.
type LoginResult struct {
	TokenPair
	User model.User
}

// SessionOptions configures a SessionManager.
type SessionOptions struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Events     EventSink        // nil discards events
	Log        *zap.Logger      // nil disables logging
	Now        func() time.Time // nil uses time.Now
}

// SessionManager issues access/refresh pairs and drives every refresh
// token through its lifecycle: active, then revoked (rotation, logout,
// password change) or expired.
type SessionManager struct {
	users  UserStore
	tokens TokenStore
	hasher *utils.PasswordHasher
	codec  *utils.TokenCodec
	events EventSink
	log    *zap.Logger

	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewSessionManager wires a session manager.  The codec should share the
// clock given in opts.Now.
func NewSessionManager(users UserStore, tokens TokenStore, hasher *utils.PasswordHasher, codec *utils.TokenCodec, opts SessionOptions) *SessionManager {
	m := &SessionManager{
		users:      users,
		tokens:     tokens,
		hasher:     hasher,
		codec:      codec,
		events:     opts.Events,
		log:        opts.Log,
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		now:        opts.Now,
	}
	if m.events == nil {
		m.events = discardSink{}
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.accessTTL <= 0 {
		m.accessTTL = utils.DefaultTTL
	}
	if m.refreshTTL <= 0 {
		m.refreshTTL = 30 * 24 * time.Hour
	}
	m.log = m.log.Named("session")
	return m
}

// Login authenticates an active user by username or email and opens a new
// session.  Unknown accounts and wrong passwords both yield
// ErrInvalidCredentials.
func (m *SessionManager) Login(ctx context.Context, login, password string, meta ClientMeta) (LoginResult, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return LoginResult{}, invalid("Username and password are required")
	}

	user, err := m.users.GetActiveByLogin(ctx, login)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		m.hasher.VerifyDummy(ctx, password)
		return LoginResult{}, m.loginFailed(0, login, meta, "unknown or inactive user")
	case err != nil:
		metrics.LoginAttempts.WithLabelValues("error").Inc()
		return LoginResult{}, fmt.Errorf("login: load user: %w", err)
	}

	ok, err := m.verify(ctx, user.PasswordHash, password)
	if err != nil {
		metrics.LoginAttempts.WithLabelValues("error").Inc()
		return LoginResult{}, fmt.Errorf("login: verify password: %w", err)
	}
	if !ok {
		return LoginResult{}, m.loginFailed(user.ID, login, meta, "wrong password")
	}

	now := m.now()
	if n, err := m.tokens.PurgeForUser(ctx, user.ID, now); err != nil {
		m.log.Warn("purge stale tokens failed", zap.Uint64("user_id", user.ID), zap.Error(err))
	} else if n > 0 {
		m.log.Debug("purged stale tokens", zap.Uint64("user_id", user.ID), zap.Int64("count", n))
	}
	if err := m.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		metrics.LoginAttempts.WithLabelValues("error").Inc()
		return LoginResult{}, fmt.Errorf("login: update last login: %w", err)
	}

	pair, rec, err := m.newPair(user.ID, meta, now)
	if err != nil {
		metrics.LoginAttempts.WithLabelValues("error").Inc()
		return LoginResult{}, fmt.Errorf("login: %w", err)
	}
	if _, err := m.tokens.Store(ctx, rec); err != nil {
		metrics.LoginAttempts.WithLabelValues("error").Inc()
		return LoginResult{}, fmt.Errorf("login: store refresh token: %w", err)
	}

	last := now.UTC()
	user.LastLogin = &last
	metrics.LoginAttempts.WithLabelValues("success").Inc()
	m.emit(queue.LoginSucceeded, user.ID, user.Username, meta, "")
	return LoginResult{TokenPair: pair, User: user}, nil
}

func (m *SessionManager) loginFailed(userID uint64, login string, meta ClientMeta, reason string) error {
	metrics.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
	m.emit(queue.LoginFailed, userID, login, meta, reason)
	return ErrInvalidCredentials
}

// Refresh redeems raw for a new pair and revokes it.  A token that is
// unknown, revoked, expired, owned by an inactive user, or lost a race
// against a concurrent redemption yields ErrInvalidOrExpiredToken.
func (m *SessionManager) Refresh(ctx context.Context, raw string, meta ClientMeta) (TokenPair, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return TokenPair{}, ErrMissingToken
	}
	hash := utils.HashRefreshRaw(raw)
	now := m.now()

	rec, err := m.tokens.FindActiveByHash(ctx, hash)
	if errors.Is(err, repository.ErrNotFound) {
		m.detectReuse(ctx, hash, meta)
		metrics.Refreshes.WithLabelValues("rejected").Inc()
		return TokenPair{}, ErrInvalidOrExpiredToken
	}
	if err != nil {
		metrics.Refreshes.WithLabelValues("error").Inc()
		return TokenPair{}, fmt.Errorf("refresh: lookup: %w", err)
	}
	// compared here rather than in SQL so the database clock never matters
	if rec.Expired(now) {
		metrics.Refreshes.WithLabelValues("rejected").Inc()
		return TokenPair{}, ErrInvalidOrExpiredToken
	}

	pair, next, err := m.newPair(rec.UserID, meta, now)
	if err != nil {
		metrics.Refreshes.WithLabelValues("error").Inc()
		return TokenPair{}, fmt.Errorf("refresh: %w", err)
	}
	if _, err := m.tokens.Rotate(ctx, rec.ID, now, next); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			metrics.Refreshes.WithLabelValues("rejected").Inc()
			metrics.ReuseDetected.Inc()
			m.log.Warn("refresh token redeemed concurrently", zap.Uint64("user_id", rec.UserID), zap.Uint64("token_id", rec.ID))
			m.emit(queue.TokenReuse, rec.UserID, "", meta, "concurrent redemption")
			return TokenPair{}, ErrInvalidOrExpiredToken
		}
		metrics.Refreshes.WithLabelValues("error").Inc()
		return TokenPair{}, fmt.Errorf("refresh: rotate: %w", err)
	}

	metrics.Refreshes.WithLabelValues("success").Inc()
	metrics.Revocations.WithLabelValues("rotation").Inc()
	m.emit(queue.TokenRefreshed, rec.UserID, "", meta, "")
	return pair, nil
}

// detectReuse records a revoked token being presented again.  Such a
// token was either stolen or replayed by a confused client; both copies
// are already dead, so the only action is the audit trail.
func (m *SessionManager) detectReuse(ctx context.Context, hash string, meta ClientMeta) {
	rec, err := m.tokens.FindByHash(ctx, hash)
	if err != nil || !rec.IsRevoked {
		return
	}
	metrics.ReuseDetected.Inc()
	m.log.Warn("revoked refresh token presented", zap.Uint64("user_id", rec.UserID), zap.Uint64("token_id", rec.ID), zap.String("ip", meta.IP))
	m.emit(queue.TokenReuse, rec.UserID, "", meta, "revoked token presented")
}

// Logout revokes the session behind raw.  Unknown or already revoked
// tokens are not an error.
func (m *SessionManager) Logout(ctx context.Context, raw string, meta ClientMeta) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	hash := utils.HashRefreshRaw(raw)
	rec, err := m.tokens.FindByHash(ctx, hash)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("logout: lookup: %w", err)
	}
	changed, err := m.tokens.RevokeByHash(ctx, hash)
	if err != nil {
		return fmt.Errorf("logout: revoke: %w", err)
	}
	if changed {
		metrics.Revocations.WithLabelValues("logout").Inc()
		m.emit(queue.LoggedOut, rec.UserID, "", meta, "")
	}
	return nil
}

// LogoutAll revokes every session of p.
func (m *SessionManager) LogoutAll(ctx context.Context, p model.Principal, meta ClientMeta) error {
	n, err := m.tokens.RevokeAllForUser(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("logout all: %w", err)
	}
	metrics.Revocations.WithLabelValues("logout_all").Add(float64(n))
	m.emit(queue.LoggedOutAll, p.ID, p.Username, meta, fmt.Sprintf("%d sessions", n))
	return nil
}

// ChangePassword replaces the password of p after checking the current
// one, then revokes all of p's sessions so every device has to log in
// again.
func (m *SessionManager) ChangePassword(ctx context.Context, p model.Principal, current, next string, meta ClientMeta) error {
	if current == "" || next == "" {
		return invalid("Current password and new password are required")
	}
	if err := validatePassword(next, "New password"); err != nil {
		return err
	}

	user, err := m.users.GetByID(ctx, p.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrPrincipalUnavailable
	}
	if err != nil {
		return fmt.Errorf("change password: load user: %w", err)
	}
	ok, err := m.verify(ctx, user.PasswordHash, current)
	if err != nil {
		return fmt.Errorf("change password: verify: %w", err)
	}
	if !ok {
		m.emit(queue.PasswordChanged, p.ID, p.Username, meta, "rejected: wrong current password")
		return ErrIncorrectPassword
	}

	hash, err := m.hasher.Hash(ctx, next)
	if err != nil {
		return fmt.Errorf("change password: hash: %w", err)
	}
	now := m.now()
	if err := m.users.UpdatePassword(ctx, p.ID, hash, now); err != nil {
		return fmt.Errorf("change password: update: %w", err)
	}
	n, err := m.tokens.RevokeAllForUser(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("change password: revoke sessions: %w", err)
	}
	metrics.Revocations.WithLabelValues("password_change").Add(float64(n))
	m.emit(queue.PasswordChanged, p.ID, p.Username, meta, "")
	return nil
}

// ListSessions returns the active sessions of p, most recently used first.
func (m *SessionManager) ListSessions(ctx context.Context, p model.Principal) ([]model.RefreshToken, error) {
	list, err := m.tokens.ListActive(ctx, p.ID, m.now())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return list, nil
}

// RevokeSession revokes session id if it is an active session of p.
func (m *SessionManager) RevokeSession(ctx context.Context, p model.Principal, id uint64, meta ClientMeta) error {
	err := m.tokens.RevokeForUser(ctx, id, p.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	metrics.Revocations.WithLabelValues("session_delete").Inc()
	m.emit(queue.SessionRevoked, p.ID, p.Username, meta, fmt.Sprintf("session %d", id))
	return nil
}

// Authenticate resolves an access token into the principal it was issued
// for.  Token failures keep their kind (ErrTokenExpired,
// ErrTokenMalformed, ErrWrongTokenType); a missing or deactivated account
// is ErrPrincipalUnavailable.
func (m *SessionManager) Authenticate(ctx context.Context, raw string) (model.Principal, error) {
	if raw == "" {
		return model.Principal{}, ErrMissingToken
	}
	id, err := m.codec.VerifyAccess(raw)
	if err != nil {
		return model.Principal{}, err
	}
	user, err := m.users.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Principal{}, ErrPrincipalUnavailable
	}
	if err != nil {
		return model.Principal{}, fmt.Errorf("authenticate: load user: %w", err)
	}
	if !user.IsActive {
		return model.Principal{}, ErrPrincipalUnavailable
	}
	return user.Principal(), nil
}

func (m *SessionManager) newPair(userID uint64, meta ClientMeta, now time.Time) (TokenPair, model.RefreshToken, error) {
	access, err := m.codec.IssueAccess(userID, m.accessTTL)
	if err != nil {
		return TokenPair{}, model.RefreshToken{}, fmt.Errorf("issue access token: %w", err)
	}
	raw, err := utils.NewRefreshToken()
	if err != nil {
		return TokenPair{}, model.RefreshToken{}, fmt.Errorf("issue refresh token: %w", err)
	}
	// stored at second precision; rounded up so a session never lives
	// shorter than refreshTTL
	exp := ceilSecond(now.Add(m.refreshTTL).UTC())
	rec := model.RefreshToken{
		UserID:    userID,
		TokenHash: utils.HashRefreshRaw(raw),
		CreatedAt: now,
		ExpiresAt: exp,
		UserAgent: clip(meta.UserAgent, 255),
		IPAddress: clip(meta.IP, 45),
	}
	return TokenPair{
		AccessToken:      access.Token,
		RefreshToken:     raw,
		AccessExpiresAt:  access.Exp,
		RefreshExpiresAt: exp,
	}, rec, nil
}

func ceilSecond(t time.Time) time.Time {
	if f := t.Truncate(time.Second); !f.Equal(t) {
		return f.Add(time.Second)
	}
	return t
}

func (m *SessionManager) verify(ctx context.Context, hash, plain string) (bool, error) {
	start := time.Now()
	defer func() { metrics.PasswordVerifyLatency.Observe(time.Since(start).Seconds()) }()
	return m.hasher.Verify(ctx, hash, plain)
}

func (m *SessionManager) emit(t queue.EventType, userID uint64, username string, meta ClientMeta, reason string) {
	ev := queue.NewEvent(t, m.now())
	ev.UserID = userID
	ev.Username = username
	ev.IP = meta.IP
	ev.UserAgent = meta.UserAgent
	ev.Reason = reason
	m.events.Publish(ev)
}

func validatePassword(pw, field string) error {
	if utf8.RuneCountInString(pw) < minPasswordLen {
		return invalid(fmt.Sprintf("%s must be at least %d characters long", field, minPasswordLen))
	}
	if len(pw) > utils.MaxPasswordBytes {
		return invalid(fmt.Sprintf("%s must be at most %d bytes long", field, utils.MaxPasswordBytes))
	}
	return nil
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// back off to a rune boundary
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
