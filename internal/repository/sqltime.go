package repository

import (
	"database/sql"
	"time"
)

// dbTime normalises t before it is written or compared in SQL.  DATETIME
// columns hold whole seconds, and SQLite compares timestamps as text, so
// every value goes in as UTC at second precision.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
