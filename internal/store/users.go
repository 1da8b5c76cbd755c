package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/beaverqueue/jobrunner/pkg/types"
)

const uniqueViolation = "23505"

// CreateUser inserts a new user with the given username and hashed
// password. New users are non-admin with the default task quota; admin
// status is only ever granted out-of-band (see cmd/jobrunner promote-admin).
func (s *Store) CreateUser(ctx context.Context, username, hashedPassword string) (*types.User, error) {
	const q = `
		INSERT INTO users (username, hashed_password, task_quota, is_admin)
		VALUES ($1, $2, $3, false)
		RETURNING id, username, hashed_password, task_quota, is_admin, created_at`

	row := s.pool.QueryRow(ctx, q, username, hashedPassword, types.DefaultTaskQuota)
	u, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("store: create user: %w", err)
	}
	return u, nil
}

// GetUserByUsername fetches a user by username, returning ErrNotFound if
// no such user exists.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	const q = `
		SELECT id, username, hashed_password, task_quota, is_admin, created_at
		FROM users WHERE username = $1`

	u, err := scanUser(s.pool.QueryRow(ctx, q, username))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get user by username: %w", err)
	}
	return u, nil
}

// GetUserByID fetches a user by primary key.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*types.User, error) {
	const q = `
		SELECT id, username, hashed_password, task_quota, is_admin, created_at
		FROM users WHERE id = $1`

	u, err := scanUser(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get user by id: %w", err)
	}
	return u, nil
}

// UpdateUsername renames a user, returning ErrUsernameTaken if the new
// name collides with an existing account.
func (s *Store) UpdateUsername(ctx context.Context, userID int64, username string) error {
	const q = `UPDATE users SET username = $1 WHERE id = $2`
	_, err := s.pool.Exec(ctx, q, username, userID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrUsernameTaken
		}
		return fmt.Errorf("store: update username: %w", err)
	}
	return nil
}

// UpdatePassword replaces a user's hashed password.
func (s *Store) UpdatePassword(ctx context.Context, userID int64, hashedPassword string) error {
	const q = `UPDATE users SET hashed_password = $1 WHERE id = $2`
	if _, err := s.pool.Exec(ctx, q, hashedPassword, userID); err != nil {
		return fmt.Errorf("store: update password: %w", err)
	}
	return nil
}

// PromoteAdmin grants admin status to the named user.
func (s *Store) PromoteAdmin(ctx context.Context, username string) error {
	const q = `UPDATE users SET is_admin = true WHERE username = $1`
	tag, err := s.pool.Exec(ctx, q, username)
	if err != nil {
		return fmt.Errorf("store: promote admin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UserWithTaskCount pairs a user with the number of tasks it has created,
// used for the admin roster endpoint.
type UserWithTaskCount struct {
	types.User
	TasksDispatched int `json:"tasks_dispatched"`
}

// ListUsers returns every user along with their dispatched-task count.
func (s *Store) ListUsers(ctx context.Context) ([]UserWithTaskCount, error) {
	const q = `
		SELECT u.id, u.username, u.hashed_password, u.task_quota, u.is_admin, u.created_at,
		       COUNT(t.id)
		FROM users u
		LEFT JOIN tasks t ON t.owner_id = u.id
		GROUP BY u.id
		ORDER BY u.id`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: list users: %w", err)
	}
	defer rows.Close()

	var out []UserWithTaskCount
	for rows.Next() {
		var u UserWithTaskCount
		if err := rows.Scan(&u.ID, &u.Username, &u.HashedPassword, &u.TaskQuota, &u.IsAdmin, &u.CreatedAt, &u.TasksDispatched); err != nil {
			return nil, fmt.Errorf("store: scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	if err := row.Scan(&u.ID, &u.Username, &u.HashedPassword, &u.TaskQuota, &u.IsAdmin, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}
