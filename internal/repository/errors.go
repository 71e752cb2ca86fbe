// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// services to tell failure scenarios apart without inspecting SQL errors.
package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when no row matches, or when a conditional
// update lost its race and changed nothing.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert or update would violate a unique
// constraint, such as a duplicate username or email.
var ErrConflict = errors.New("conflict")

// isDuplicate reports whether err is a unique-key violation on either
// supported database.
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
