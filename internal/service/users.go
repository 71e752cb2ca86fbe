package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dimonss/AccountingForRepairsBackend/internal/metrics"
	"github.com/dimonss/AccountingForRepairsBackend/internal/model"
	"github.com/dimonss/AccountingForRepairsBackend/internal/queue"
	"github.com/dimonss/AccountingForRepairsBackend/internal/repository"
	"github.com/dimonss/AccountingForRepairsBackend/internal/utils"
)

// UserAdminStore is the part of the credential store used for account
// administration.
type UserAdminStore interface {
	Create(ctx context.Context, u model.User) (uint64, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	GetByUsername(ctx context.Context, username string) (model.User, error)
	List(ctx context.Context) ([]model.User, error)
	Update(ctx context.Context, id uint64, p model.UserPatch, at time.Time) error
	SetCredentials(ctx context.Context, id uint64, hash string, role model.Role, active bool, at time.Time) error
}

// TokenRevoker revokes every session of a user.
type TokenRevoker interface {
	RevokeAllForUser(ctx context.Context, userID uint64) (int64, error)
}

// NewUser is the input of Register and BootstrapAdmin.
type NewUser struct {
	Username string
	Email    string
	Password string
	FullName string
	Role     string // empty means employee
}

// UserService creates and edits staff accounts.  Every mutating call
// requires an admin actor.
type UserService struct {
	users  UserAdminStore
	tokens TokenRevoker
	hasher *utils.PasswordHasher
	events EventSink
	log    *zap.Logger
	now    func() time.Time
}

// NewUserService wires a user service.  Only Events, Log and Now of opts
// are used.
func NewUserService(users UserAdminStore, tokens TokenRevoker, hasher *utils.PasswordHasher, opts SessionOptions) *UserService {
	s := &UserService{users: users, tokens: tokens, hasher: hasher, events: opts.Events, log: opts.Log, now: opts.Now}
	if s.events == nil {
		s.events = discardSink{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.log = s.log.Named("users")
	return s
}

func (in NewUser) validate() (model.Role, error) {
	if strings.TrimSpace(in.Username) == "" || strings.TrimSpace(in.Email) == "" ||
		in.Password == "" || strings.TrimSpace(in.FullName) == "" {
		return "", invalid("Username, email, password, and full name are required")
	}
	if err := validatePassword(in.Password, "Password"); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Role) == "" {
		return model.RoleEmployee, nil
	}
	role, ok := model.ParseRole(in.Role)
	if !ok {
		return "", invalid("Invalid role. Must be admin, manager, or employee")
	}
	return role, nil
}

// Register creates an active account on behalf of actor.
func (s *UserService) Register(ctx context.Context, actor model.Principal, in NewUser) (model.User, error) {
	if err := Authorize(&actor, model.RoleAdmin); err != nil {
		return model.User{}, err
	}
	role, err := in.validate()
	if err != nil {
		return model.User{}, err
	}
	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return model.User{}, fmt.Errorf("register: hash: %w", err)
	}
	now := s.now()
	u := model.User{
		Username:     strings.TrimSpace(in.Username),
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash: hash,
		FullName:     strings.TrimSpace(in.FullName),
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
	}
	id, err := s.users.Create(ctx, u)
	if errors.Is(err, repository.ErrConflict) {
		return model.User{}, ErrConflict
	}
	if err != nil {
		return model.User{}, fmt.Errorf("register: %w", err)
	}
	created, err := s.users.GetByID(ctx, id)
	if err != nil {
		return model.User{}, fmt.Errorf("register: reload: %w", err)
	}
	s.emit(queue.UserCreated, actor, created, "role="+string(role))
	return created, nil
}

// List returns every account, newest first.
func (s *UserService) List(ctx context.Context, actor model.Principal) ([]model.User, error) {
	if err := Authorize(&actor, model.RoleAdmin); err != nil {
		return nil, err
	}
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// Update edits full name, role or active flag of user id.  Deactivating an
// account revokes all of its sessions.
func (s *UserService) Update(ctx context.Context, actor model.Principal, id uint64, p model.UserPatch) (model.User, error) {
	if err := Authorize(&actor, model.RoleAdmin); err != nil {
		return model.User{}, err
	}
	if p.Empty() {
		return model.User{}, invalid("No fields to update")
	}
	if p.FullName != nil && strings.TrimSpace(*p.FullName) == "" {
		return model.User{}, invalid("Full name cannot be empty")
	}
	if _, err := s.users.GetByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("update user: load: %w", err)
	}
	if err := s.users.Update(ctx, id, p, s.now()); err != nil {
		return model.User{}, fmt.Errorf("update user: %w", err)
	}
	if p.IsActive != nil && !*p.IsActive {
		n, err := s.tokens.RevokeAllForUser(ctx, id)
		if err != nil {
			return model.User{}, fmt.Errorf("update user: revoke sessions: %w", err)
		}
		metrics.Revocations.WithLabelValues("deactivated").Add(float64(n))
	}
	updated, err := s.users.GetByID(ctx, id)
	if err != nil {
		return model.User{}, fmt.Errorf("update user: reload: %w", err)
	}
	s.emit(queue.UserUpdated, actor, updated, "")
	return updated, nil
}

// BootstrapAdmin makes sure an admin account named in.Username exists with
// the given password.  An existing account is reset to an active admin.
// The bool reports whether the account was created.
func (s *UserService) BootstrapAdmin(ctx context.Context, in NewUser) (model.User, bool, error) {
	in.Role = string(model.RoleAdmin)
	if _, err := in.validate(); err != nil {
		return model.User{}, false, err
	}
	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return model.User{}, false, fmt.Errorf("bootstrap admin: hash: %w", err)
	}
	now := s.now()

	existing, err := s.users.GetByUsername(ctx, in.Username)
	switch {
	case err == nil:
		if err := s.users.SetCredentials(ctx, existing.ID, hash, model.RoleAdmin, true, now); err != nil {
			return model.User{}, false, fmt.Errorf("bootstrap admin: reset: %w", err)
		}
		u, err := s.users.GetByID(ctx, existing.ID)
		return u, false, err
	case !errors.Is(err, repository.ErrNotFound):
		return model.User{}, false, fmt.Errorf("bootstrap admin: lookup: %w", err)
	}

	id, err := s.users.Create(ctx, model.User{
		Username:     strings.TrimSpace(in.Username),
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash: hash,
		FullName:     strings.TrimSpace(in.FullName),
		Role:         model.RoleAdmin,
		IsActive:     true,
		CreatedAt:    now,
	})
	if errors.Is(err, repository.ErrConflict) {
		return model.User{}, false, ErrConflict
	}
	if err != nil {
		return model.User{}, false, fmt.Errorf("bootstrap admin: create: %w", err)
	}
	u, err := s.users.GetByID(ctx, id)
	return u, true, err
}

func (s *UserService) emit(t queue.EventType, actor model.Principal, target model.User, reason string) {
	ev := queue.NewEvent(t, s.now())
	ev.UserID = target.ID
	ev.Username = target.Username
	ev.Reason = strings.TrimSpace(fmt.Sprintf("by=%s %s", actor.Username, reason))
	s.events.Publish(ev)
}
