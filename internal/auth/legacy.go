// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

// DefaultPBKDF2Iterations is the iteration count used for new PBKDF2 hashes.
const DefaultPBKDF2Iterations = 210_000

const (
	pbkdf2Prefix = "$pbkdf2-sha256$"
	pbkdf2KeyLen = 32
)

// PBKDF2Strategy hashes passwords with PBKDF2-HMAC-SHA256.
// Encoded form: $pbkdf2-sha256$i=<iterations>$<key>
type PBKDF2Strategy struct {
	iterations int
}

// NewPBKDF2Strategy creates a PBKDF2Strategy. Non-positive iterations use DefaultPBKDF2Iterations.
func NewPBKDF2Strategy(iterations int) *PBKDF2Strategy {
	if iterations <= 0 {
		iterations = DefaultPBKDF2Iterations
	}
	return &PBKDF2Strategy{iterations: iterations}
}

// Name returns "pbkdf2".
func (s *PBKDF2Strategy) Name() string {
	return "pbkdf2"
}

// Derive hashes password with salt.
func (s *PBKDF2Strategy) Derive(password string, salt []byte) (string, error) {
	key := pbkdf2.Key([]byte(password), salt, s.iterations, pbkdf2KeyLen, sha256.New)
	return fmt.Sprintf("%si=%d$%s", pbkdf2Prefix, s.iterations, base64.RawStdEncoding.EncodeToString(key)), nil
}

// Identify reports whether encoded is a PBKDF2 hash.
func (s *PBKDF2Strategy) Identify(encoded string) bool {
	return strings.HasPrefix(encoded, pbkdf2Prefix)
}

// Verify recomputes the hash with the iteration count recorded in encoded.
func (s *PBKDF2Strategy) Verify(password string, salt []byte, encoded string) (bool, error) {
	iterations, key, err := parsePBKDF2(encoded)
	if err != nil {
		return false, err
	}
	computed := pbkdf2.Key([]byte(password), salt, iterations, len(key), sha256.New)
	return subtle.ConstantTimeCompare(computed, key) == 1, nil
}

// Outdated reports whether encoded used a different iteration count.
func (s *PBKDF2Strategy) Outdated(encoded string) bool {
	iterations, _, err := parsePBKDF2(encoded)
	return err != nil || iterations != s.iterations
}

func parsePBKDF2(encoded string) (int, []byte, error) {
	// "", "pbkdf2-sha256", "i=N", key
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[1] != "pbkdf2-sha256" {
		return 0, nil, oops.Code("AUTH_INVALID_HASH").Errorf("invalid pbkdf2 hash format")
	}
	var iterations int
	if _, err := fmt.Sscanf(parts[2], "i=%d", &iterations); err != nil {
		return 0, nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if iterations <= 0 {
		return 0, nil, oops.Code("AUTH_INVALID_HASH").Errorf("iterations must be positive, got %d", iterations)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return 0, nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if len(key) == 0 {
		return 0, nil, oops.Code("AUTH_INVALID_HASH").Errorf("empty pbkdf2 key")
	}
	return iterations, key, nil
}

// SaltedSHA512Strategy is the unstretched hex(SHA-512(salt || password)) format
// written by installations that predate key stretching.
type SaltedSHA512Strategy struct{}

// NewSaltedSHA512Strategy creates a SaltedSHA512Strategy.
func NewSaltedSHA512Strategy() *SaltedSHA512Strategy {
	return &SaltedSHA512Strategy{}
}

// Name returns "sha512".
func (s *SaltedSHA512Strategy) Name() string {
	return "sha512"
}

// Derive hashes password with salt.
func (s *SaltedSHA512Strategy) Derive(password string, salt []byte) (string, error) {
	return hex.EncodeToString(s.digest(password, salt)), nil
}

// Identify reports whether encoded is a 128-character hex digest.
func (s *SaltedSHA512Strategy) Identify(encoded string) bool {
	if len(encoded) != hex.EncodedLen(sha512.Size) {
		return false
	}
	_, err := hex.DecodeString(encoded)
	return err == nil
}

// Verify recomputes the digest and compares it in constant time.
func (s *SaltedSHA512Strategy) Verify(password string, salt []byte, encoded string) (bool, error) {
	expected, err := hex.DecodeString(encoded)
	if err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	return subtle.ConstantTimeCompare(s.digest(password, salt), expected) == 1, nil
}

// Outdated always returns false; the format has no parameters.
func (s *SaltedSHA512Strategy) Outdated(string) bool {
	return false
}

func (s *SaltedSHA512Strategy) digest(password string, salt []byte) []byte {
	h := sha512.New()
	h.Write(salt)
	h.Write([]byte(password))
	return h.Sum(nil)
}

// BcryptStrategy verifies bcrypt hashes imported from other systems.
// bcrypt embeds its own salt, so the separately stored salt is ignored.
type BcryptStrategy struct {
	cost int
}

// NewBcryptStrategy creates a BcryptStrategy. Out-of-range costs use bcrypt.DefaultCost.
func NewBcryptStrategy(cost int) *BcryptStrategy {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptStrategy{cost: cost}
}

// Name returns "bcrypt".
func (s *BcryptStrategy) Name() string {
	return "bcrypt"
}

// Derive hashes password with a bcrypt-generated salt.
func (s *BcryptStrategy) Derive(password string, _ []byte) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", oops.Code("AUTH_HASH_FAILED").Wrap(err)
	}
	return string(hash), nil
}

// EmbedsSalt marks bcrypt hashes as carrying their own salt, so records
// imported with an empty salt column still verify.
func (s *BcryptStrategy) EmbedsSalt() {}

// Identify reports whether encoded is a bcrypt hash.
func (s *BcryptStrategy) Identify(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

// Verify compares password against the bcrypt hash.
func (s *BcryptStrategy) Verify(password string, _ []byte, encoded string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
}

// Outdated reports whether encoded used a different cost.
func (s *BcryptStrategy) Outdated(encoded string) bool {
	cost, err := bcrypt.Cost([]byte(encoded))
	return err != nil || cost != s.cost
}
