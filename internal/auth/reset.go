// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"golang.org/x/crypto/pbkdf2"
)

// Reset token layout: [version][salt][subkey].
const (
	ResetTokenVersion    byte = 0x01
	ResetTokenSaltLen         = 16   // 128-bit salt
	ResetTokenKeyLen          = 32   // 256-bit subkey
	ResetTokenIterations      = 1000 // PBKDF2 iterations
	ResetTokenLen             = 1 + ResetTokenSaltLen + ResetTokenKeyLen
	ResetTokenExpiry          = time.Hour
)

// GenerateResetToken derives a reset token from username with a freshly salted
// PBKDF2-HMAC-SHA256. Every call returns a different token.
func GenerateResetToken(username string) (string, error) {
	if username == "" {
		return "", oops.Code("RESET_INVALID_USERNAME").Errorf("username cannot be empty")
	}

	salt := make([]byte, ResetTokenSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("RESET_TOKEN_GENERATE_FAILED").Wrap(err)
	}
	subkey := pbkdf2.Key([]byte(username), salt, ResetTokenIterations, ResetTokenKeyLen, sha256.New)

	buf := make([]byte, 0, ResetTokenLen)
	buf = append(buf, ResetTokenVersion)
	buf = append(buf, salt...)
	buf = append(buf, subkey...)

	return base64.StdEncoding.EncodeToString(buf), nil
}

// DecodeResetToken splits a token into its salt and subkey.
func DecodeResetToken(token string) (salt, subkey []byte, err error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, nil, oops.Code("RESET_TOKEN_MALFORMED").Wrap(err)
	}
	if len(raw) != ResetTokenLen {
		return nil, nil, oops.Code("RESET_TOKEN_MALFORMED").
			With("length", len(raw)).
			Errorf("reset token must decode to %d bytes", ResetTokenLen)
	}
	if raw[0] != ResetTokenVersion {
		return nil, nil, oops.Code("RESET_TOKEN_MALFORMED").
			With("version", raw[0]).
			Errorf("unsupported reset token version")
	}
	return raw[1 : 1+ResetTokenSaltLen], raw[1+ResetTokenSaltLen:], nil
}

// HashResetToken returns the SHA-256 hex digest stored in place of a token.
func HashResetToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifyResetToken checks a plaintext token against a stored hash in constant time.
func VerifyResetToken(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashResetToken(token)), []byte(hash)) == 1
}

// PasswordReset is a persisted, single-use password reset grant.
type PasswordReset struct {
	ID        ulid.ULID
	UserID    ulid.ULID
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewPasswordReset creates a validated PasswordReset.
func NewPasswordReset(userID ulid.ULID, tokenHash string, createdAt, expiresAt time.Time) (*PasswordReset, error) {
	if userID.IsZero() {
		return nil, oops.Code("RESET_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("RESET_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if !expiresAt.After(createdAt) {
		return nil, oops.Code("RESET_INVALID_EXPIRY").Errorf("expiry must be after creation time")
	}
	return &PasswordReset{
		ID:        ulid.Make(),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: createdAt,
	}, nil
}

// IsExpiredAt returns true if the reset would be expired at t.
func (r *PasswordReset) IsExpiredAt(t time.Time) bool {
	return !t.Before(r.ExpiresAt)
}
