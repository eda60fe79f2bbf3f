// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/credentials/internal/auth"
	"github.com/holomush/credentials/internal/membership"
)

// CreateReset stores a new reset grant.
func (s *Store) CreateReset(ctx context.Context, reset *auth.PasswordReset) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO password_resets (id, user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, reset.ID.String(), reset.UserID.String(), reset.TokenHash, reset.ExpiresAt, reset.CreatedAt)
	if isUniqueViolation(err) {
		return oops.Code("RESET_DUPLICATE").
			With("user_id", reset.UserID.String()).
			Wrap(membership.ErrDuplicate)
	}
	if err != nil {
		return oops.Code("RESET_CREATE_FAILED").
			With("operation", "insert password_reset").
			With("user_id", reset.UserID.String()).
			Wrap(err)
	}
	return nil
}

// GetResetByTokenHash retrieves a grant by its token hash.
func (s *Store) GetResetByTokenHash(ctx context.Context, tokenHash string) (*auth.PasswordReset, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, expires_at, created_at
		FROM password_resets
		WHERE token_hash = $1
	`, tokenHash)

	reset, err := scanReset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(membership.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("RESET_GET_FAILED").
			With("operation", "get reset by token hash").
			Wrap(err)
	}
	return reset, nil
}

// ConsumeReset deletes the grant with tokenHash.
func (s *Store) ConsumeReset(ctx context.Context, tokenHash string) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM password_resets WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return oops.Code("RESET_DELETE_FAILED").
			With("operation", "consume reset").
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("RESET_NOT_FOUND").Wrap(membership.ErrNotFound)
	}
	return nil
}

// DeleteResetsByUser removes every grant of the user.
func (s *Store) DeleteResetsByUser(ctx context.Context, userID ulid.ULID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM password_resets WHERE user_id = $1`, userID.String()); err != nil {
		return oops.Code("RESET_DELETE_FAILED").
			With("operation", "delete resets by user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// DeleteExpiredResets removes grants that expired at or before now.
func (s *Store) DeleteExpiredResets(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.pool.Exec(ctx, `DELETE FROM password_resets WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, oops.Code("RESET_DELETE_FAILED").
			With("operation", "delete expired resets").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

func scanReset(row pgx.Row) (*auth.PasswordReset, error) {
	var (
		idStr     string
		userIDStr string
		reset     auth.PasswordReset
	)
	if err := row.Scan(&idStr, &userIDStr, &reset.TokenHash, &reset.ExpiresAt, &reset.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("RESET_SCAN_FAILED").
			With("operation", "scan password_reset").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("RESET_INVALID_ID").With("id", idStr).Wrap(err)
	}
	userID, err := ulid.Parse(userIDStr)
	if err != nil {
		return nil, oops.Code("RESET_INVALID_USER_ID").With("user_id", userIDStr).Wrap(err)
	}
	reset.ID = id
	reset.UserID = userID
	return &reset, nil
}
