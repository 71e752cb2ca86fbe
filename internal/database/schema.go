package database

import (
	"context"
	"database/sql"
	"fmt"
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		username      VARCHAR(50)  NOT NULL UNIQUE,
		email         VARCHAR(100) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		full_name     VARCHAR(100) NOT NULL,
		role          ENUM('admin','manager','employee') NOT NULL DEFAULT 'employee',
		is_active     TINYINT(1)   NOT NULL DEFAULT 1,
		created_at    DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at    DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_login    DATETIME     NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id           BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		user_id      BIGINT UNSIGNED NOT NULL,
		token_hash   CHAR(64)     NOT NULL UNIQUE,
		expires_at   DATETIME     NOT NULL,
		created_at   DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_used_at DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP,
		user_agent   VARCHAR(255) NULL,
		ip_address   VARCHAR(45)  NULL,
		is_revoked   TINYINT(1)   NOT NULL DEFAULT 0,
		INDEX idx_refresh_tokens_user (user_id),
		INDEX idx_refresh_tokens_expires (expires_at),
		CONSTRAINT fk_refresh_tokens_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Timestamps are declared DATETIME so the driver scans them into time.Time.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		username      TEXT     NOT NULL UNIQUE,
		email         TEXT     NOT NULL UNIQUE,
		password_hash TEXT     NOT NULL,
		full_name     TEXT     NOT NULL,
		role          TEXT     NOT NULL DEFAULT 'employee' CHECK (role IN ('admin','manager','employee')),
		is_active     INTEGER  NOT NULL DEFAULT 1,
		created_at    DATETIME NOT NULL,
		updated_at    DATETIME NOT NULL,
		last_login    DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id      INTEGER  NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		token_hash   TEXT     NOT NULL UNIQUE,
		expires_at   DATETIME NOT NULL,
		created_at   DATETIME NOT NULL,
		last_used_at DATETIME NOT NULL,
		user_agent   TEXT,
		ip_address   TEXT,
		is_revoked   INTEGER  NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user ON refresh_tokens(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_expires ON refresh_tokens(expires_at)`,
}

// EnsureSchema creates the users and refresh_tokens tables when they do not
// exist yet.  It never alters existing tables.
func EnsureSchema(ctx context.Context, db *sql.DB, d Dialect) error {
	stmts := mysqlSchema
	if d == SQLite {
		stmts = sqliteSchema
	}
	for _, q := range stmts {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
