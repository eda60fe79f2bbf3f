// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package membership

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// User is a stored identity record.
type User struct {
	ID           ulid.ULID
	Username     string
	DisplayName  string
	Surname      string
	Email        string
	PasswordHash string
	PasswordSalt string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Summary projects the user without password material.
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Surname:     u.Surname,
		Email:       u.Email,
	}
}

// UserSummary is the read-only view of a user returned to callers.
type UserSummary struct {
	ID          ulid.ULID `json:"id" yaml:"id"`
	Username    string    `json:"username" yaml:"username"`
	DisplayName string    `json:"display_name" yaml:"display_name"`
	Surname     string    `json:"surname" yaml:"surname"`
	Email       string    `json:"email" yaml:"email"`
}

// UserUpdate describes a partial update. A nil or empty field leaves the
// stored value unchanged; profile fields cannot be cleared.
type UserUpdate struct {
	Username    *string
	DisplayName *string
	Surname     *string
	Email       *string
	Password    *string
}

// IsEmpty reports whether the update changes nothing.
func (u UserUpdate) IsEmpty() bool {
	return !set(u.Username) && !set(u.DisplayName) && !set(u.Surname) &&
		!set(u.Email) && !set(u.Password)
}

func set(v *string) bool {
	return v != nil && *v != ""
}

// ValidationResult is the outcome of a credential check.
type ValidationResult int

// Validation outcomes.
const (
	Failure ValidationResult = iota
	Success
)

// String returns "success" or "failure".
func (r ValidationResult) String() string {
	if r == Success {
		return "success"
	}
	return "failure"
}

// NormalizeUsername returns the canonical, lowercase form of a username.
// All lookups, comparisons and writes go through it.
func NormalizeUsername(username string) string {
	return strings.ToLower(username)
}
