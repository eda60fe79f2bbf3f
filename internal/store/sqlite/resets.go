// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/credentials/internal/auth"
	"github.com/holomush/credentials/internal/membership"
)

// CreateReset stores a new reset grant.
func (s *Store) CreateReset(ctx context.Context, reset *auth.PasswordReset) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (id, user_id, token_hash, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		reset.ID.String(),
		reset.UserID.String(),
		reset.TokenHash,
		reset.ExpiresAt.UnixMilli(),
		reset.CreatedAt.UnixMilli(),
	)
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
	var (
		idStr, userIDStr     string
		reset                auth.PasswordReset
		expiresAt, createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, expires_at, created_at
		FROM password_resets
		WHERE token_hash = ?
	`, tokenHash).Scan(&idStr, &userIDStr, &reset.TokenHash, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(membership.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("RESET_GET_FAILED").
			With("operation", "get reset by token hash").
			Wrap(err)
	}

	if reset.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("RESET_INVALID_ID").With("id", idStr).Wrap(err)
	}
	if reset.UserID, err = ulid.Parse(userIDStr); err != nil {
		return nil, oops.Code("RESET_INVALID_USER_ID").With("user_id", userIDStr).Wrap(err)
	}
	reset.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	reset.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &reset, nil
}

// ConsumeReset deletes the grant with tokenHash.
func (s *Store) ConsumeReset(ctx context.Context, tokenHash string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM password_resets WHERE token_hash = ?`, tokenHash)
	if err != nil {
		return oops.Code("RESET_DELETE_FAILED").
			With("operation", "consume reset").
			Wrap(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return oops.Code("RESET_DELETE_FAILED").
			With("operation", "rows affected").
			Wrap(err)
	}
	if n == 0 {
		return oops.Code("RESET_NOT_FOUND").Wrap(membership.ErrNotFound)
	}
	return nil
}

// DeleteResetsByUser removes every grant of the user.
func (s *Store) DeleteResetsByUser(ctx context.Context, userID ulid.ULID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM password_resets WHERE user_id = ?`, userID.String()); err != nil {
		return oops.Code("RESET_DELETE_FAILED").
			With("operation", "delete resets by user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// DeleteExpiredResets removes grants that expired at or before now.
func (s *Store) DeleteExpiredResets(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM password_resets WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, oops.Code("RESET_DELETE_FAILED").
			With("operation", "delete expired resets").
			Wrap(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, oops.Code("RESET_DELETE_FAILED").
			With("operation", "rows affected").
			Wrap(err)
	}
	return n, nil
}
