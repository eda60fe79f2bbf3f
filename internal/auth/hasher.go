// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log/slog"

	"github.com/samber/oops"
)

// SaltBytes is the length of a freshly generated password salt.
const SaltBytes = 16

// Strategy is a password hashing algorithm with fixed parameters.
type Strategy interface {
	// Name identifies the strategy in logs and configuration.
	Name() string

	// Derive hashes password with salt and returns the encoded hash.
	Derive(password string, salt []byte) (string, error)

	// Identify reports whether encoded was produced by this strategy.
	Identify(encoded string) bool

	// Verify recomputes the hash of password and compares it to encoded in constant time.
	// Returns (false, nil) on mismatch and an error only when encoded cannot be parsed.
	Verify(password string, salt []byte, encoded string) (bool, error)

	// Outdated reports whether encoded was produced with parameters other than the
	// strategy's current ones.
	Outdated(encoded string) bool
}

// SaltEmbedder is implemented by strategies whose encoded hash carries its own
// salt. Compare does not require a stored salt for them.
type SaltEmbedder interface {
	EmbedsSalt()
}

// RehashFunc is called after a password verifies against a hash that should be
// replaced. Implementations persist a new salt and hash for username.
type RehashFunc func(ctx context.Context, username, password string) error

// Hasher derives and verifies salted password hashes.
// It never retains plaintext passwords.
type Hasher struct {
	current    Strategy
	legacy     []Strategy
	onVerified RehashFunc
	logger     *slog.Logger
}

// NewHasher creates a Hasher that hashes with current and can still verify
// hashes produced by any of the legacy strategies. onVerified may be nil.
func NewHasher(current Strategy, onVerified RehashFunc, legacy ...Strategy) *Hasher {
	return NewHasherWithLogger(current, onVerified, slog.Default(), legacy...)
}

// NewHasherWithLogger creates a Hasher that reports best-effort failures to logger.
func NewHasherWithLogger(current Strategy, onVerified RehashFunc, logger *slog.Logger, legacy ...Strategy) *Hasher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hasher{
		current:    current,
		legacy:     legacy,
		onVerified: onVerified,
		logger:     logger,
	}
}

// Current returns the strategy used for new hashes.
func (h *Hasher) Current() Strategy {
	return h.current
}

// NewSalt generates a random salt encoded as base64.
func NewSalt() (string, error) {
	salt := make([]byte, SaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}
	return base64.StdEncoding.EncodeToString(salt), nil
}

// NewCredential generates a fresh salt and hashes password with it.
// The salt and hash are always produced together.
func (h *Hasher) NewCredential(password string) (salt, hash string, err error) {
	if password == "" {
		return "", "", ErrEmptyPassword
	}
	salt, err = NewSalt()
	if err != nil {
		return "", "", err
	}
	hash, err = h.Hash(password, salt)
	if err != nil {
		return "", "", err
	}
	return salt, hash, nil
}

// Hash derives the hash of password and salt under the current strategy.
func (h *Hasher) Hash(password, salt string) (string, error) {
	raw, err := checkInput(password, salt)
	if err != nil {
		return "", err
	}
	encoded, err := h.current.Derive(password, raw)
	if err != nil {
		return "", oops.Code("AUTH_HASH_FAILED").
			With("strategy", h.current.Name()).
			Wrap(err)
	}
	return encoded, nil
}

// Compare checks password against storedHash under the current strategy or any
// legacy strategy. A mismatch is (false, nil), as is a stored hash or salt that
// cannot be read. When the password matches a hash that should be replaced, the
// RehashFunc is invoked once; its failure is logged and does not change the result.
func (h *Hasher) Compare(ctx context.Context, password, username, salt, storedHash string) (bool, error) {
	if password == "" {
		return false, ErrEmptyPassword
	}

	strategy := h.identify(storedHash)
	if strategy == nil {
		h.logger.WarnContext(ctx, "stored hash not produced by any known strategy",
			"username", username)
		return false, nil
	}

	var raw []byte
	if _, embedded := strategy.(SaltEmbedder); !embedded {
		decoded, err := decodeSalt(salt)
		if err != nil {
			h.logger.WarnContext(ctx, "stored salt could not be decoded",
				"username", username,
				"strategy", strategy.Name(),
				"error", err)
			return false, nil
		}
		raw = decoded
	}

	ok, err := strategy.Verify(password, raw, storedHash)
	if err != nil {
		h.logger.WarnContext(ctx, "stored hash could not be parsed",
			"username", username,
			"strategy", strategy.Name(),
			"error", err)
		return false, nil
	}
	if !ok {
		return false, nil
	}

	if h.needsRehash(strategy, storedHash) && h.onVerified != nil {
		if err := h.onVerified(ctx, username, password); err != nil {
			h.logger.WarnContext(ctx, "best-effort password rehash failed",
				"operation", "rehash",
				"username", username,
				"strategy", strategy.Name(),
				"error", err)
		}
	}
	return true, nil
}

// NeedsRehash reports whether storedHash should be replaced by a hash under the
// current strategy.
func (h *Hasher) NeedsRehash(storedHash string) bool {
	strategy := h.identify(storedHash)
	if strategy == nil {
		return true
	}
	return h.needsRehash(strategy, storedHash)
}

func (h *Hasher) needsRehash(strategy Strategy, storedHash string) bool {
	return strategy != h.current || h.current.Outdated(storedHash)
}

// identify returns the strategy that produced encoded, preferring the current one.
func (h *Hasher) identify(encoded string) Strategy {
	if encoded == "" {
		return nil
	}
	if h.current.Identify(encoded) {
		return h.current
	}
	for _, s := range h.legacy {
		if s.Identify(encoded) {
			return s
		}
	}
	return nil
}

func checkInput(password, salt string) ([]byte, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	return decodeSalt(salt)
}

func decodeSalt(salt string) ([]byte, error) {
	if salt == "" {
		return nil, ErrMissingSalt
	}
	raw, err := base64.StdEncoding.DecodeString(salt)
	if err != nil || len(raw) == 0 {
		return nil, ErrInvalidSalt
	}
	return raw, nil
}
