// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package membership

import (
	"context"
	"errors"

	"github.com/samber/oops"

	"github.com/holomush/credentials/internal/auth"
)

// GenerateResetToken issues a password reset token for username. Every call
// returns a different token. When a ResetStore is configured and the user
// exists, the token's hash is persisted so ResetPassword can consume it.
// Unknown users still receive a token, which will never verify.
func (s *Service) GenerateResetToken(ctx context.Context, username string) (token string, err error) {
	ctx, span := tracer.Start(ctx, "membership.generate_reset_token")
	defer func() { endSpan(span, err) }()

	if username == "" {
		return "", invalidArgument("username")
	}
	username = NormalizeUsername(username)

	token, err = auth.GenerateResetToken(username)
	if err != nil {
		return "", oops.Code("RESET_ISSUE_FAILED").
			With("operation", "generate token").
			Wrap(err)
	}

	if s.resets != nil {
		if err := s.persistReset(ctx, username, token); err != nil {
			return "", err
		}
	}

	s.metrics.resetIssued()
	return token, nil
}

func (s *Service) persistReset(ctx context.Context, username, token string) error {
	user, err := s.store.FindByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return oops.Code("RESET_ISSUE_FAILED").
			With("operation", "find user by username").
			With("username", username).
			Wrap(err)
	}

	now := s.now()
	reset, err := auth.NewPasswordReset(user.ID, auth.HashResetToken(token), now, now.Add(s.resetExpiry))
	if err != nil {
		return oops.Code("RESET_ISSUE_FAILED").
			With("operation", "build reset").
			Wrap(err)
	}
	if err := s.resets.CreateReset(ctx, reset); err != nil {
		return oops.Code("RESET_ISSUE_FAILED").
			With("operation", "create reset").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	return nil
}

// ResetPassword consumes a reset token and sets a new password for its user.
// Every outstanding reset of that user is discarded afterwards.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) (err error) {
	ctx, span := tracer.Start(ctx, "membership.reset_password")
	defer func() { endSpan(span, err) }()

	if token == "" {
		return invalidArgument("token")
	}
	if newPassword == "" {
		return invalidArgument("password")
	}
	if s.resets == nil {
		return oops.Code("RESET_UNAVAILABLE").Errorf("password resets are not configured")
	}

	if _, _, err := auth.DecodeResetToken(token); err != nil {
		s.metrics.reset("invalid")
		return oops.Code("RESET_TOKEN_INVALID").
			With("reason", "malformed").
			Errorf("reset token is invalid")
	}

	tokenHash := auth.HashResetToken(token)
	reset, err := s.resets.GetResetByTokenHash(ctx, tokenHash)
	if errors.Is(err, ErrNotFound) || (err == nil && !auth.VerifyResetToken(token, reset.TokenHash)) {
		s.metrics.reset("invalid")
		return oops.Code("RESET_TOKEN_INVALID").
			With("reason", "unknown").
			Errorf("reset token is invalid")
	}
	if err != nil {
		return oops.Code("RESET_FAILED").
			With("operation", "get reset by token hash").
			Wrap(err)
	}

	if reset.IsExpiredAt(s.now()) {
		s.metrics.reset("expired")
		return oops.Code("RESET_TOKEN_EXPIRED").
			With("expires_at", reset.ExpiresAt).
			Errorf("reset token has expired")
	}

	// Claim the grant before touching the credential; a concurrent redemption
	// of the same token finds nothing to delete.
	err = s.resets.ConsumeReset(ctx, tokenHash)
	if errors.Is(err, ErrNotFound) {
		s.metrics.reset("invalid")
		return oops.Code("RESET_TOKEN_INVALID").
			With("reason", "consumed").
			Errorf("reset token is invalid")
	}
	if err != nil {
		return oops.Code("RESET_FAILED").
			With("operation", "consume reset").
			Wrap(err)
	}

	user, err := s.store.FindByID(ctx, reset.UserID)
	if errors.Is(err, ErrNotFound) {
		s.metrics.reset("invalid")
		return oops.Code("RESET_TOKEN_INVALID").
			With("reason", "user gone").
			Errorf("reset token is invalid")
	}
	if err != nil {
		return oops.Code("RESET_FAILED").
			With("operation", "find user by id").
			With("user_id", reset.UserID.String()).
			Wrap(err)
	}

	salt, hash, err := s.hasher.NewCredential(newPassword)
	if err != nil {
		return oops.Code("RESET_FAILED").
			With("operation", "derive credential").
			Wrap(err)
	}
	user.PasswordSalt = salt
	user.PasswordHash = hash
	user.UpdatedAt = s.now()

	if err := s.store.Save(ctx, user); err != nil {
		return oops.Code("RESET_FAILED").
			With("operation", "save user").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	if err := s.resets.DeleteResetsByUser(ctx, user.ID); err != nil {
		s.logger.WarnContext(ctx, "best-effort reset cleanup failed",
			"operation", "delete_resets",
			"user_id", user.ID.String(),
			"error", err)
	}

	s.metrics.reset("completed")
	return nil
}

// PurgeExpiredResets deletes reset grants that have expired and returns how
// many were removed. Without a ResetStore it does nothing.
func (s *Service) PurgeExpiredResets(ctx context.Context) (purged int64, err error) {
	ctx, span := tracer.Start(ctx, "membership.purge_expired_resets")
	defer func() { endSpan(span, err) }()

	if s.resets == nil {
		return 0, nil
	}

	purged, err = s.resets.DeleteExpiredResets(ctx, s.now())
	if err != nil {
		return 0, oops.Code("RESET_PURGE_FAILED").
			With("operation", "delete expired resets").
			Wrap(err)
	}
	return purged, nil
}
