// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth provides the password-security primitives of the credentials core.
//
// # Hashing
//
// A Hasher derives and verifies salted password hashes through a Strategy:
//   - Argon2idStrategy - the current strategy for new credentials
//   - PBKDF2Strategy, SaltedSHA512Strategy, BcryptStrategy - superseded strategies
//     that can still verify stored credentials
//
// Compare calls the Hasher's RehashFunc when a password verifies under a
// superseded strategy (or outdated parameters), so callers can persist a fresh
// salt and hash under the current strategy.
//
// # Reset tokens
//
// GenerateResetToken derives an opaque token from a username with a randomly
// salted PBKDF2. Tokens are never stored in plaintext; HashResetToken produces
// the value persisted alongside a PasswordReset.
package auth
