package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"chatd/db"
	"chatd/models"
)

var userColumns = []string{
	"id", "username", "password_hash", "salt", "status", "is_admin", "auth_token", "created_at",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u       models.User
		token   sql.NullString
		created string
	)
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Salt, &u.Status, &u.IsAdmin, &token, &created); err != nil {
		return nil, err
	}
	u.AuthToken = token.String
	u.CreatedAt = parseTime(created)
	return &u, nil
}

func (r *repo) getUser(ctx context.Context, where sq.Eq) (*models.User, error) {
	query, args, err := sq.Select(userColumns...).From("users").Where(where).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building user query: %w", err)
	}
	u, err := scanUser(r.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, handleError(err)
	}
	return u, nil
}

func (r *repo) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getUser(ctx, sq.Eq{"username": username})
}

func (r *repo) GetUserByToken(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, db.ErrNotFound
	}
	return r.getUser(ctx, sq.Eq{"auth_token": token})
}

func (r *repo) InsertUser(ctx context.Context, u *models.User) (int64, error) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	res, err := r.q.ExecContext(ctx,
		"INSERT INTO users (username, password_hash, salt, status, is_admin, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		u.Username, u.PasswordHash, u.Salt, u.Status, u.IsAdmin, formatTime(u.CreatedAt),
	)
	if err != nil {
		return 0, handleError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	u.ID = id
	return id, nil
}

func (r *repo) updateUser(ctx context.Context, userID int64, column string, value any) error {
	query, args, err := sq.Update("users").Set(column, value).Where(sq.Eq{"id": userID}).ToSql()
	if err != nil {
		return fmt.Errorf("building user update: %w", err)
	}
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return handleError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *repo) SetUserToken(ctx context.Context, userID int64, token string) error {
	return r.updateUser(ctx, userID, "auth_token", token)
}

func (r *repo) ClearUserToken(ctx context.Context, userID int64) error {
	return r.updateUser(ctx, userID, "auth_token", nil)
}

func (r *repo) SetUserStatus(ctx context.Context, userID int64, status models.UserStatus) error {
	return r.updateUser(ctx, userID, "status", status)
}

func (r *repo) SetUserAdmin(ctx context.Context, userID int64, admin bool) error {
	return r.updateUser(ctx, userID, "is_admin", admin)
}

func (r *repo) InsertLoginAudit(ctx context.Context, userID int64, username, sourceAddr string) error {
	_, err := r.q.ExecContext(ctx,
		"INSERT INTO login_audit (user_id, username, source_addr, login_time) VALUES (?, ?, ?, ?)",
		userID, username, sourceAddr, formatTime(time.Now()),
	)
	return handleError(err)
}
