// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package membership

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/credentials/internal/auth"
)

// Store errors. Implementations wrap them so callers can use errors.Is.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a write would violate a uniqueness constraint.
	ErrDuplicate = errors.New("duplicate")
)

// Store persists user records. Usernames passed to it are already normalized.
type Store interface {
	// FindByUsername retrieves a user by normalized username.
	// Returns ErrNotFound if no user has the username.
	FindByUsername(ctx context.Context, username string) (*User, error)

	// FindByID retrieves a user by ID.
	// Returns ErrNotFound if no user has the ID.
	FindByID(ctx context.Context, id ulid.ULID) (*User, error)

	// Insert stores a new user.
	// Returns ErrDuplicate if the username or ID is taken.
	Insert(ctx context.Context, user *User) error

	// Save overwrites an existing user.
	// Returns ErrDuplicate if the new username is taken, ErrNotFound if the user is gone.
	Save(ctx context.Context, user *User) error

	// Remove deletes a user.
	// Returns ErrNotFound if the user does not exist.
	Remove(ctx context.Context, user *User) error

	// List returns every user ordered by username.
	List(ctx context.Context) ([]*User, error)

	// Count returns the number of users.
	Count(ctx context.Context) (int, error)

	// RemoveFromRoles drops every role assignment of the user.
	RemoveFromRoles(ctx context.Context, userID ulid.ULID) error

	// RemoveFromTeams drops every team membership of the user.
	RemoveFromTeams(ctx context.Context, userID ulid.ULID) error

	// RemoveFromAdministeredRepositories drops the user from every repository it administers.
	RemoveFromAdministeredRepositories(ctx context.Context, userID ulid.ULID) error

	// RemoveFromRepositories drops the user from every repository it can access.
	RemoveFromRepositories(ctx context.Context, userID ulid.ULID) error
}

// ResetStore persists password reset grants.
type ResetStore interface {
	// CreateReset stores a new reset grant.
	CreateReset(ctx context.Context, reset *auth.PasswordReset) error

	// GetResetByTokenHash retrieves a grant by its token hash.
	// Returns ErrNotFound if no grant matches.
	GetResetByTokenHash(ctx context.Context, tokenHash string) (*auth.PasswordReset, error)

	// ConsumeReset deletes the grant with tokenHash. Returns ErrNotFound if no
	// grant matched, so only one caller can consume a grant.
	ConsumeReset(ctx context.Context, tokenHash string) error

	// DeleteResetsByUser removes every grant of the user.
	DeleteResetsByUser(ctx context.Context, userID ulid.ULID) error

	// DeleteExpiredResets removes grants that expired at or before now.
	DeleteExpiredResets(ctx context.Context, now time.Time) (int64, error)
}
