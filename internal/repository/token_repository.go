package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dimonss/AccountingForRepairsBackend/internal/model"
)

const tokenColumns = "rt.id, rt.user_id, rt.token_hash, rt.expires_at, rt.created_at, rt.last_used_at, rt.user_agent, rt.ip_address, rt.is_revoked"

// TokenRepo persists refresh tokens.  Only the SHA-256 hash of a raw token
// is ever stored, so a row can only be reached by whoever holds the raw
// value.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

func scanToken(row rowScanner) (model.RefreshToken, error) {
	var (
		t      model.RefreshToken
		ua, ip sql.NullString
	)
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt, &t.LastUsedAt, &ua, &ip, &t.IsRevoked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RefreshToken{}, ErrNotFound
		}
		return model.RefreshToken{}, err
	}
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.LastUsedAt = t.LastUsedAt.UTC()
	t.UserAgent, t.IPAddress = ua.String, ip.String
	return t, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertToken(ctx context.Context, db execer, t model.RefreshToken) (uint64, error) {
	created := dbTime(t.CreatedAt)
	res, err := db.ExecContext(ctx,
		"INSERT INTO refresh_tokens (user_id, token_hash, expires_at, created_at, last_used_at, user_agent, ip_address, is_revoked) VALUES (?,?,?,?,?,?,?,0)",
		t.UserID, t.TokenHash, dbTime(t.ExpiresAt), created, created, nullString(t.UserAgent), nullString(t.IPAddress))
	if err != nil {
		if isDuplicate(err) {
			return 0, ErrConflict
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// Store inserts a new, non-revoked refresh token row.
func (r *TokenRepo) Store(ctx context.Context, t model.RefreshToken) (uint64, error) {
	return insertToken(ctx, r.DB, t)
}

// FindActiveByHash returns the non-revoked token matching hash whose owner
// is still active.  Expiry is left to the caller so that it is judged
// against the application clock.
func (r *TokenRepo) FindActiveByHash(ctx context.Context, hash string) (model.RefreshToken, error) {
	return scanToken(r.DB.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM refresh_tokens rt JOIN users u ON u.id = rt.user_id"+
			" WHERE rt.token_hash=? AND rt.is_revoked=0 AND u.is_active=1 LIMIT 1", hash))
}

// FindByHash returns the token matching hash in any state.
func (r *TokenRepo) FindByHash(ctx context.Context, hash string) (model.RefreshToken, error) {
	return scanToken(r.DB.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM refresh_tokens rt WHERE rt.token_hash=? LIMIT 1", hash))
}

// Rotate revokes the token oldID and inserts next in one transaction.  The
// revoke only applies while the row is still live, so of several callers
// racing on the same token exactly one commits; the rest get ErrNotFound
// and nothing is inserted for them.
func (r *TokenRepo) Rotate(ctx context.Context, oldID uint64, usedAt time.Time, next model.RefreshToken) (uint64, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		"UPDATE refresh_tokens SET is_revoked=1, last_used_at=? WHERE id=? AND is_revoked=0",
		dbTime(usedAt), oldID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n != 1 {
		return 0, ErrNotFound
	}

	id, err := insertToken(ctx, tx, next)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// RevokeByHash revokes the live token matching hash and reports whether a
// row changed.
func (r *TokenRepo) RevokeByHash(ctx context.Context, hash string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET is_revoked=1 WHERE token_hash=? AND is_revoked=0", hash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RevokeAllForUser revokes every token of userID and returns how many were
// still live.
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID uint64) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET is_revoked=1 WHERE user_id=? AND is_revoked=0", userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RevokeForUser revokes token id only if it belongs to userID and is still
// live.  Anything else is ErrNotFound.
func (r *TokenRepo) RevokeForUser(ctx context.Context, id, userID uint64) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET is_revoked=1 WHERE id=? AND user_id=? AND is_revoked=0", id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActive returns the live tokens of userID, most recently used first.
func (r *TokenRepo) ListActive(ctx context.Context, userID uint64, now time.Time) ([]model.RefreshToken, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+tokenColumns+" FROM refresh_tokens rt WHERE rt.user_id=? AND rt.is_revoked=0 AND rt.expires_at > ?"+
			" ORDER BY rt.last_used_at DESC, rt.id DESC", userID, dbTime(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.RefreshToken{}
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PurgeForUser deletes the expired or revoked tokens of userID.
func (r *TokenRepo) PurgeForUser(ctx context.Context, userID uint64, now time.Time) (int64, error) {
	return r.delete(ctx,
		"DELETE FROM refresh_tokens WHERE user_id=? AND (expires_at < ? OR is_revoked=1)", userID, dbTime(now))
}

// PurgeExpired deletes every expired or revoked token.
func (r *TokenRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.delete(ctx,
		"DELETE FROM refresh_tokens WHERE expires_at < ? OR is_revoked=1", dbTime(now))
}

func (r *TokenRepo) delete(ctx context.Context, q string, args ...any) (int64, error) {
	res, err := r.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
