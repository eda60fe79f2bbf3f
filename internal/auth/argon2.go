// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

const argon2idPrefix = "$argon2id$"

// Argon2idParams are the cost parameters of an Argon2idStrategy.
type Argon2idParams struct {
	Time    uint32 // iterations
	Memory  uint32 // KiB
	Threads uint8  // parallelism
	KeyLen  uint32 // output length in bytes
}

// DefaultArgon2idParams returns the OWASP-recommended argon2id parameters.
func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:    1,
		Memory:  64 * 1024,
		Threads: 4,
		KeyLen:  32,
	}
}

// Argon2idStrategy hashes passwords with argon2id.
//
// The encoded form carries the parameters but not the salt, which is stored
// separately: $argon2id$v=19$m=65536,t=1,p=4$<key>
type Argon2idStrategy struct {
	params Argon2idParams
}

// NewArgon2idStrategy creates an Argon2idStrategy with the given parameters.
func NewArgon2idStrategy(params Argon2idParams) *Argon2idStrategy {
	return &Argon2idStrategy{params: params}
}

// Name returns "argon2id".
func (s *Argon2idStrategy) Name() string {
	return "argon2id"
}

// Params returns the strategy's parameters.
func (s *Argon2idStrategy) Params() Argon2idParams {
	return s.params
}

// Derive hashes password with salt.
func (s *Argon2idStrategy) Derive(password string, salt []byte) (string, error) {
	if s.params.KeyLen == 0 || s.params.Threads == 0 || s.params.Time == 0 {
		return "", oops.Code("AUTH_INVALID_PARAMS").
			With("params", s.params).
			Errorf("argon2id parameters must be non-zero")
	}
	key := argon2.IDKey([]byte(password), salt, s.params.Time, s.params.Memory, s.params.Threads, s.params.KeyLen)
	return fmt.Sprintf(
		"%sv=%d$m=%d,t=%d,p=%d$%s",
		argon2idPrefix,
		argon2.Version,
		s.params.Memory,
		s.params.Time,
		s.params.Threads,
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Identify reports whether encoded is an argon2id hash.
func (s *Argon2idStrategy) Identify(encoded string) bool {
	return strings.HasPrefix(encoded, argon2idPrefix)
}

// Verify recomputes the hash with the parameters recorded in encoded.
func (s *Argon2idStrategy) Verify(password string, salt []byte, encoded string) (bool, error) {
	parsed, err := parseArgon2id(encoded)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(password), salt, parsed.params.Time, parsed.params.Memory, parsed.params.Threads, parsed.params.KeyLen)
	return subtle.ConstantTimeCompare(computed, parsed.key) == 1, nil
}

// Outdated reports whether encoded used different parameters or an older argon2 version.
func (s *Argon2idStrategy) Outdated(encoded string) bool {
	parsed, err := parseArgon2id(encoded)
	if err != nil {
		return true
	}
	return parsed.version != argon2.Version || parsed.params != s.params
}

type argon2idHash struct {
	version int
	params  Argon2idParams
	key     []byte
}

func parseArgon2id(encoded string) (argon2idHash, error) {
	// "", "argon2id", "v=19", "m=..,t=..,p=..", key
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[1] != "argon2id" {
		return argon2idHash{}, oops.Code("AUTH_INVALID_HASH").Errorf("invalid argon2id hash format")
	}

	var out argon2idHash
	if _, err := fmt.Sscanf(parts[2], "v=%d", &out.version); err != nil {
		return argon2idHash{}, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return argon2idHash{}, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if threads == 0 || threads > 255 {
		return argon2idHash{}, oops.Code("AUTH_INVALID_HASH").Errorf("threads value %d out of range", threads)
	}
	if time == 0 {
		return argon2idHash{}, oops.Code("AUTH_INVALID_HASH").Errorf("time value must be positive")
	}

	key, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return argon2idHash{}, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if len(key) == 0 || len(key) > 1<<10 {
		return argon2idHash{}, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash key length: %d", len(key))
	}

	out.key = key
	out.params = Argon2idParams{
		Time:    time,
		Memory:  memory,
		Threads: uint8(threads),
		KeyLen:  uint32(len(key)),
	}
	return out, nil
}
