package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/dimonss/AccountingForRepairsBackend/internal/model"
)

const userColumns = "id,username,email,password_hash,full_name,role,is_active,created_at,updated_at,last_login"

// UserRepo is the credential store for staff accounts.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (model.User, error) {
	var (
		u         model.User
		role      string
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.FullName, &role,
		&u.IsActive, &u.CreatedAt, &u.UpdatedAt, &lastLogin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, err
	}
	u.Role = model.Role(role)
	if lastLogin.Valid {
		t := lastLogin.Time.UTC()
		u.LastLogin = &t
	}
	return u, nil
}

// Create inserts u and returns its ID.  Username and email are stored
// trimmed, email in lowercase.  Duplicates yield ErrConflict.
func (r *UserRepo) Create(ctx context.Context, u model.User) (uint64, error) {
	now := dbTime(u.CreatedAt)
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (username,email,password_hash,full_name,role,is_active,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)",
		strings.TrimSpace(u.Username), normEmail(u.Email), u.PasswordHash, strings.TrimSpace(u.FullName),
		string(u.Role), boolInt(u.IsActive), now, now)
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

// GetByID fetches a user by id regardless of its active flag.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
}

// GetByUsername fetches a user by exact username regardless of its active flag.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username=? LIMIT 1", strings.TrimSpace(username)))
}

// GetActiveByLogin fetches an active user whose username or email equals login.
func (r *UserRepo) GetActiveByLogin(ctx context.Context, login string) (model.User, error) {
	login = strings.TrimSpace(login)
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE (username=? OR email=?) AND is_active=1 LIMIT 1",
		login, normEmail(login)))
}

// List returns every user, newest first.
func (r *UserRepo) List(ctx context.Context) ([]model.User, error) {
	rows, err := r.DB.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UpdateLastLogin stamps a successful login.
func (r *UserRepo) UpdateLastLogin(ctx context.Context, id uint64, at time.Time) error {
	return r.exec(ctx, "UPDATE users SET last_login=? WHERE id=?", dbTime(at), id)
}

// UpdatePassword replaces the password hash of a user.
func (r *UserRepo) UpdatePassword(ctx context.Context, id uint64, hash string, at time.Time) error {
	return r.exec(ctx, "UPDATE users SET password_hash=?, updated_at=? WHERE id=?", hash, dbTime(at), id)
}

// Update applies the non-nil fields of p.
func (r *UserRepo) Update(ctx context.Context, id uint64, p model.UserPatch, at time.Time) error {
	sets := []string{"updated_at=?"}
	args := []any{dbTime(at)}
	if p.FullName != nil {
		sets = append(sets, "full_name=?")
		args = append(args, strings.TrimSpace(*p.FullName))
	}
	if p.Role != nil {
		sets = append(sets, "role=?")
		args = append(args, string(*p.Role))
	}
	if p.IsActive != nil {
		sets = append(sets, "is_active=?")
		args = append(args, boolInt(*p.IsActive))
	}
	args = append(args, id)
	return r.exec(ctx, "UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id=?", args...)
}

// SetCredentials overwrites password, role and active flag in one
// statement.  It is used to reset the bootstrap admin.
func (r *UserRepo) SetCredentials(ctx context.Context, id uint64, hash string, role model.Role, active bool, at time.Time) error {
	return r.exec(ctx, "UPDATE users SET password_hash=?, role=?, is_active=?, updated_at=? WHERE id=?",
		hash, string(role), boolInt(active), dbTime(at), id)
}

func (r *UserRepo) exec(ctx context.Context, q string, args ...any) error {
	_, err := r.DB.ExecContext(ctx, q, args...)
	if err != nil && isDuplicate(err) {
		return ErrConflict
	}
	return err
}

func normEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
