// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres provides a PostgreSQL implementation of the membership stores.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/credentials/internal/membership"
)

// poolIface is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store implements membership.Store and membership.ResetStore using PostgreSQL.
type Store struct {
	pool poolIface
}

// New creates a Store on an existing pool.
func New(pool poolIface) *Store {
	return &Store{pool: pool}
}

// Open connects a pool to dsn and verifies it with a ping.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").
			With("operation", "create pool").
			Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.Code("STORE_CONNECT_FAILED").
			With("operation", "ping").
			Wrap(err)
	}
	return New(pool), nil
}

const userColumns = `id, username, display_name, surname, email,
	password_hash, password_salt, created_at, updated_at`

// FindByUsername retrieves a user by normalized username.
func (s *Store) FindByUsername(ctx context.Context, username string) (*membership.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("username", username).
			Wrap(membership.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").
			With("operation", "get user by username").
			With("username", username).
			Wrap(err)
	}
	return user, nil
}

// FindByID retrieves a user by ID.
func (s *Store) FindByID(ctx context.Context, id ulid.ULID) (*membership.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id.String())

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(membership.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").
			With("operation", "get user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// Insert stores a new user.
func (s *Store) Insert(ctx context.Context, user *membership.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		user.ID.String(),
		user.Username,
		user.DisplayName,
		user.Surname,
		user.Email,
		user.PasswordHash,
		user.PasswordSalt,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return oops.Code("USER_DUPLICATE").
			With("username", user.Username).
			Wrap(membership.ErrDuplicate)
	}
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("username", user.Username).
			Wrap(err)
	}
	return nil
}

// Save overwrites an existing user.
func (s *Store) Save(ctx context.Context, user *membership.User) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE users SET
			username = $2,
			display_name = $3,
			surname = $4,
			email = $5,
			password_hash = $6,
			password_salt = $7,
			updated_at = $8
		WHERE id = $1
	`,
		user.ID.String(),
		user.Username,
		user.DisplayName,
		user.Surname,
		user.Email,
		user.PasswordHash,
		user.PasswordSalt,
		user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return oops.Code("USER_DUPLICATE").
			With("username", user.Username).
			Wrap(membership.ErrDuplicate)
	}
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "update user").
			With("id", user.ID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", user.ID.String()).
			Wrap(membership.ErrNotFound)
	}
	return nil
}

// Remove deletes a user. Remaining associations and resets cascade.
func (s *Store) Remove(ctx context.Context, user *membership.User) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, user.ID.String())
	if err != nil {
		return oops.Code("USER_DELETE_FAILED").
			With("operation", "delete user").
			With("id", user.ID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", user.ID.String()).
			Wrap(membership.ErrNotFound)
	}
	return nil
}

// List returns every user ordered by username.
func (s *Store) List(ctx context.Context) ([]*membership.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, oops.Code("USER_LIST_FAILED").
			With("operation", "list users").
			Wrap(err)
	}
	defer rows.Close()

	var users []*membership.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("USER_LIST_FAILED").
			With("operation", "iterate users").
			Wrap(err)
	}
	return users, nil
}

// Count returns the number of users.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, oops.Code("USER_COUNT_FAILED").
			With("operation", "count users").
			Wrap(err)
	}
	return int(count), nil
}

// RemoveFromRoles drops every role assignment of the user.
func (s *Store) RemoveFromRoles(ctx context.Context, userID ulid.ULID) error {
	return s.clearAssociation(ctx, `DELETE FROM user_roles WHERE user_id = $1`, "remove roles", userID)
}

// RemoveFromTeams drops every team membership of the user.
func (s *Store) RemoveFromTeams(ctx context.Context, userID ulid.ULID) error {
	return s.clearAssociation(ctx, `DELETE FROM user_teams WHERE user_id = $1`, "remove teams", userID)
}

// RemoveFromAdministeredRepositories drops the user from every repository it administers.
func (s *Store) RemoveFromAdministeredRepositories(ctx context.Context, userID ulid.ULID) error {
	return s.clearAssociation(ctx, `DELETE FROM repository_administrators WHERE user_id = $1`,
		"remove administered repositories", userID)
}

// RemoveFromRepositories drops the user from every repository it can access.
func (s *Store) RemoveFromRepositories(ctx context.Context, userID ulid.ULID) error {
	return s.clearAssociation(ctx, `DELETE FROM repository_members WHERE user_id = $1`,
		"remove repositories", userID)
}

func (s *Store) clearAssociation(ctx context.Context, query, operation string, userID ulid.ULID) error {
	if _, err := s.pool.Exec(ctx, query, userID.String()); err != nil {
		return oops.Code("USER_ASSOCIATION_FAILED").
			With("operation", operation).
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return oops.Code("STORE_PING_FAILED").Wrap(err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// scanUser scans a single row into a User.
// Callers are responsible for handling pgx.ErrNoRows.
func scanUser(row pgx.Row) (*membership.User, error) {
	var (
		idStr     string
		user      membership.User
		createdAt time.Time
		updatedAt time.Time
	)
	err := row.Scan(
		&idStr,
		&user.Username,
		&user.DisplayName,
		&user.Surname,
		&user.Email,
		&user.PasswordHash,
		&user.PasswordSalt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("USER_SCAN_FAILED").
			With("operation", "scan user").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").
			With("operation", "parse user id").
			With("id", idStr).
			Wrap(err)
	}
	user.ID = id
	user.CreatedAt = createdAt
	user.UpdatedAt = updatedAt
	return &user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// Compile-time interface checks.
var (
	_ membership.Store      = (*Store)(nil)
	_ membership.ResetStore = (*Store)(nil)
)
