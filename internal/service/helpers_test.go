package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dimonss/AccountingForRepairsBackend/internal/database"
	"github.com/dimonss/AccountingForRepairsBackend/internal/model"
	"github.com/dimonss/AccountingForRepairsBackend/internal/queue"
	"github.com/dimonss/AccountingForRepairsBackend/internal/repository"
	"github.com/dimonss/AccountingForRepairsBackend/internal/utils"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	mu     sync.Mutex
	events []queue.AuthEvent
}

func (s *recordingSink) Publish(ev queue.AuthEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) count(t queue.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type fixture struct {
	clock    *clock
	users    *repository.UserRepo
	tokens   *repository.TokenRepo
	hasher   *utils.PasswordHasher
	codec    *utils.TokenCodec
	sink     *recordingSink
	sessions *SessionManager
	accounts *UserService
}

const (
	accessTTL  = 15 * time.Minute
	refreshTTL = 24 * time.Hour
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.EnsureSchema(context.Background(), db, database.SQLite))

	f := &fixture{
		clock:  &clock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		users:  repository.NewUserRepo(db),
		tokens: repository.NewTokenRepo(db),
		hasher: utils.NewPasswordHasher(bcrypt.MinCost, 4),
		sink:   &recordingSink{},
	}
	f.codec = utils.NewTokenCodec("test-secret", f.clock.Now)
	opts := SessionOptions{AccessTTL: accessTTL, RefreshTTL: refreshTTL, Events: f.sink, Now: f.clock.Now}
	f.sessions = NewSessionManager(f.users, f.tokens, f.hasher, f.codec, opts)
	f.accounts = NewUserService(f.users, f.tokens, f.hasher, opts)
	return f
}

func (f *fixture) addUser(t *testing.T, username, password string, role model.Role) model.User {
	t.Helper()
	hash, err := f.hasher.Hash(context.Background(), password)
	require.NoError(t, err)
	u := model.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		FullName:     "User " + username,
		Role:         role,
		IsActive:     true,
		CreatedAt:    f.clock.Now(),
	}
	id, err := f.users.Create(context.Background(), u)
	require.NoError(t, err)
	u.ID = id
	return u
}

var meta = ClientMeta{UserAgent: "test-agent", IP: "192.0.2.1"}
