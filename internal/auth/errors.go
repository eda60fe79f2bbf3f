// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import "github.com/samber/oops"

// Input errors returned by Hasher operations.
var (
	// ErrEmptyPassword is returned when hashing or comparing an empty password.
	ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

	// ErrMissingSalt is returned when no salt accompanies a password.
	ErrMissingSalt = oops.Code("AUTH_MISSING_SALT").Errorf("salt cannot be empty")

	// ErrInvalidSalt is returned when a salt is not valid base64.
	ErrInvalidSalt = oops.Code("AUTH_INVALID_SALT").Errorf("salt is not valid base64")
)
