// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/credentials/internal/membership"
)

const userColumns = `id, username, display_name, surname, email,
	password_hash, password_salt, created_at, updated_at`

// FindByUsername retrieves a user by normalized username.
func (s *Store) FindByUsername(ctx context.Context, username string) (*membership.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username)

	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
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
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id.String())

	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		user.ID.String(),
		user.Username,
		user.DisplayName,
		user.Surname,
		user.Email,
		user.PasswordHash,
		user.PasswordSalt,
		user.CreatedAt.UTC(),
		user.UpdatedAt.UTC(),
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
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET
			username = ?,
			display_name = ?,
			surname = ?,
			email = ?,
			password_hash = ?,
			password_salt = ?,
			updated_at = ?
		WHERE id = ?
	`,
		user.Username,
		user.DisplayName,
		user.Surname,
		user.Email,
		user.PasswordHash,
		user.PasswordSalt,
		user.UpdatedAt.UTC(),
		user.ID.String(),
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
	return requireRow(result, user.ID)
}

// Remove deletes a user. Remaining associations and resets cascade.
func (s *Store) Remove(ctx context.Context, user *membership.User) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, user.ID.String())
	if err != nil {
		return oops.Code("USER_DELETE_FAILED").
			With("operation", "delete user").
			With("id", user.ID.String()).
			Wrap(err)
	}
	return requireRow(result, user.ID)
}

// List returns every user ordered by username.
func (s *Store) List(ctx context.Context) ([]*membership.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
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
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, oops.Code("USER_COUNT_FAILED").
			With("operation", "count users").
			Wrap(err)
	}
	return count, nil
}

// RemoveFromRoles drops every role assignment of the user.
func (s *Store) RemoveFromRoles(ctx context.Context, userID ulid.ULID) error {
	return s.clearAssociation(ctx, `DELETE FROM user_roles WHERE user_id = ?`, "remove roles", userID)
}

// RemoveFromTeams drops every team membership of the user.
func (s *Store) RemoveFromTeams(ctx context.Context, userID ulid.ULID) error {
	return s.clearAssociation(ctx, `DELETE FROM user_teams WHERE user_id = ?`, "remove teams", userID)
}

// RemoveFromAdministeredRepositories drops the user from every repository it administers.
func (s *Store) RemoveFromAdministeredRepositories(ctx context.Context, userID ulid.ULID) error {
	return s.clearAssociation(ctx, `DELETE FROM repository_administrators WHERE user_id = ?`,
		"remove administered repositories", userID)
}

// RemoveFromRepositories drops the user from every repository it can access.
func (s *Store) RemoveFromRepositories(ctx context.Context, userID ulid.ULID) error {
	return s.clearAssociation(ctx, `DELETE FROM repository_members WHERE user_id = ?`,
		"remove repositories", userID)
}

func (s *Store) clearAssociation(ctx context.Context, query, operation string, userID ulid.ULID) error {
	if _, err := s.db.ExecContext(ctx, query, userID.String()); err != nil {
		return oops.Code("USER_ASSOCIATION_FAILED").
			With("operation", operation).
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

func requireRow(result sql.Result, id ulid.ULID) error {
	n, err := result.RowsAffected()
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "rows affected").
			Wrap(err)
	}
	if n == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(membership.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanUser scans a single row into a User.
// Callers are responsible for handling sql.ErrNoRows.
func scanUser(row scanner) (*membership.User, error) {
	var (
		idStr string
		user  membership.User
	)
	err := row.Scan(
		&idStr,
		&user.Username,
		&user.DisplayName,
		&user.Surname,
		&user.Email,
		&user.PasswordHash,
		&user.PasswordSalt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
	return &user, nil
}
