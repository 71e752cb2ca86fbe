package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimonss/AccountingForRepairsBackend/internal/model"
	"github.com/dimonss/AccountingForRepairsBackend/internal/queue"
)

func TestRegisterRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	emp := f.addUser(t, "emp", "password", model.RoleEmployee)
	mgr := f.addUser(t, "mgr", "password", model.RoleManager)

	in := NewUser{Username: "new", Email: "new@example.com", Password: "secret1", FullName: "New One"}
	for _, actor := range []model.User{emp, mgr} {
		_, err := f.accounts.Register(context.Background(), actor.Principal(), in)
		assert.ErrorIs(t, err, ErrInsufficientPermissions)
	}
}

func TestRegisterCreatesLoginableUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.addUser(t, "root", "password", model.RoleAdmin)

	u, err := f.accounts.Register(ctx, admin.Principal(), NewUser{
		Username: "carol", Email: "Carol@Example.com", Password: "secret1", FullName: "Carol",
	})
	require.NoError(t, err)
	assert.Equal(t, model.RoleEmployee, u.Role)
	assert.Equal(t, "carol@example.com", u.Email)
	assert.True(t, u.IsActive)
	assert.Equal(t, 1, f.sink.count(queue.UserCreated))

	_, err = f.sessions.Login(ctx, "carol", "secret1", meta)
	require.NoError(t, err)

	_, err = f.accounts.Register(ctx, admin.Principal(), NewUser{
		Username: "carol", Email: "other@example.com", Password: "secret1", FullName: "Carol",
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	admin := f.addUser(t, "root", "password", model.RoleAdmin).Principal()
	cases := map[string]NewUser{
		"Username, email, password, and full name are required": {Username: "x", Email: "x@example.com", Password: "secret1"},
		"Password must be at least 6 characters long":           {Username: "x", Email: "x@example.com", Password: "abc", FullName: "X"},
		"Invalid role. Must be admin, manager, or employee":     {Username: "x", Email: "x@example.com", Password: "secret1", FullName: "X", Role: "owner"},
	}
	for msg, in := range cases {
		_, err := f.accounts.Register(context.Background(), admin, in)
		var ve *ValidationError
		require.True(t, errors.As(err, &ve), msg)
		assert.Equal(t, msg, ve.Msg)
	}
}

func TestUpdateUserDeactivationRevokesSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.addUser(t, "root", "password", model.RoleAdmin).Principal()
	alice := f.addUser(t, "alice", "correct", model.RoleEmployee)

	login, err := f.sessions.Login(ctx, "alice", "correct", meta)
	require.NoError(t, err)

	role := model.RoleManager
	off := false
	u, err := f.accounts.Update(ctx, admin, alice.ID, model.UserPatch{Role: &role, IsActive: &off})
	require.NoError(t, err)
	assert.Equal(t, model.RoleManager, u.Role)
	assert.False(t, u.IsActive)

	on := true
	_, err = f.accounts.Update(ctx, admin, alice.ID, model.UserPatch{IsActive: &on})
	require.NoError(t, err)
	_, err = f.sessions.Refresh(ctx, login.RefreshToken, meta)
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)
}

func TestUpdateUserErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.addUser(t, "root", "password", model.RoleAdmin).Principal()

	name := "Nobody"
	_, err := f.accounts.Update(ctx, admin, 999, model.UserPatch{FullName: &name})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.accounts.Update(ctx, admin, 1, model.UserPatch{})
	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestListUsers(t *testing.T) {
	f := newFixture(t)
	admin := f.addUser(t, "root", "password", model.RoleAdmin)
	emp := f.addUser(t, "emp", "password", model.RoleEmployee)

	list, err := f.accounts.List(context.Background(), admin.Principal())
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = f.accounts.List(context.Background(), emp.Principal())
	assert.ErrorIs(t, err, ErrInsufficientPermissions)
}

func TestBootstrapAdminCreatesThenResets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := NewUser{Username: "admin", Email: "admin@example.com", Password: "admin123", FullName: "System Administrator"}

	u, created, err := f.accounts.BootstrapAdmin(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.RoleAdmin, u.Role)

	off := false
	role := model.RoleEmployee
	require.NoError(t, f.users.Update(ctx, u.ID, model.UserPatch{IsActive: &off, Role: &role}, f.clock.Now()))

	in.Password = "changed1"
	again, created, err := f.accounts.BootstrapAdmin(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, u.ID, again.ID)
	assert.Equal(t, model.RoleAdmin, again.Role)
	assert.True(t, again.IsActive)

	_, err = f.sessions.Login(ctx, "admin", "changed1", meta)
	assert.NoError(t, err)
}
