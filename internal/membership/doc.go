// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package membership validates, creates, updates and deletes user credentials
// against an abstract Store.
//
// Usernames are case-insensitive: every entry point passes them through
// NormalizeUsername before they reach the store or the hasher. Expected
// outcomes are ordinary results rather than errors:
//   - an unknown user and a wrong password both yield Failure
//   - a duplicate username on CreateUser yields false
//   - lookups of absent users yield nil
//
// Only missing required input is reported as ErrInvalidArgument. Store errors
// other than ErrNotFound and ErrDuplicate propagate to the caller.
package membership
