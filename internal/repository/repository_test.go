package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dimonss/AccountingForRepairsBackend/internal/database"
	"github.com/dimonss/AccountingForRepairsBackend/internal/model"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.EnsureSchema(context.Background(), db, database.SQLite))
	return db
}

func seedUser(t *testing.T, users *UserRepo, username string, role model.Role) model.User {
	t.Helper()
	u := model.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "hash-" + username,
		FullName:     "User " + username,
		Role:         role,
		IsActive:     true,
		CreatedAt:    t0,
	}
	id, err := users.Create(context.Background(), u)
	require.NoError(t, err)
	u.ID = id
	return u
}
