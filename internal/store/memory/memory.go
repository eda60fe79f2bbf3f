// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memory provides an in-memory membership store for tests and local use.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/credentials/internal/auth"
	"github.com/holomush/credentials/internal/membership"
)

// Association names a kind of user relationship cleared on delete.
type Association string

// Association kinds.
const (
	Roles                    Association = "roles"
	Teams                    Association = "teams"
	AdministeredRepositories Association = "administered_repositories"
	Repositories             Association = "repositories"
)

// Store keeps users, their associations and reset grants in maps.
// Records are copied on the way in and out.
type Store struct {
	mu           sync.RWMutex
	users        map[ulid.ULID]*membership.User
	byUsername   map[string]ulid.ULID
	associations map[Association]map[ulid.ULID][]string
	resets       map[ulid.ULID]*auth.PasswordReset
	closed       bool
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		users:        make(map[ulid.ULID]*membership.User),
		byUsername:   make(map[string]ulid.ULID),
		associations: make(map[Association]map[ulid.ULID][]string),
		resets:       make(map[ulid.ULID]*auth.PasswordReset),
	}
}

// FindByUsername retrieves a user by normalized username.
func (s *Store) FindByUsername(_ context.Context, username string) (*membership.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[username]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").
			With("username", username).
			Wrap(membership.ErrNotFound)
	}
	return copyUser(s.users[id]), nil
}

// FindByID retrieves a user by ID.
func (s *Store) FindByID(_ context.Context, id ulid.ULID) (*membership.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(membership.ErrNotFound)
	}
	return copyUser(u), nil
}

// Insert stores a new user.
func (s *Store) Insert(_ context.Context, user *membership.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byUsername[user.Username]; taken {
		return oops.Code("USER_DUPLICATE").
			With("username", user.Username).
			Wrap(membership.ErrDuplicate)
	}
	if _, taken := s.users[user.ID]; taken {
		return oops.Code("USER_DUPLICATE").
			With("id", user.ID.String()).
			Wrap(membership.ErrDuplicate)
	}

	s.users[user.ID] = copyUser(user)
	s.byUsername[user.Username] = user.ID
	return nil
}

// Save overwrites an existing user.
func (s *Store) Save(_ context.Context, user *membership.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[user.ID]
	if !ok {
		return oops.Code("USER_NOT_FOUND").
			With("id", user.ID.String()).
			Wrap(membership.ErrNotFound)
	}
	if owner, taken := s.byUsername[user.Username]; taken && owner != user.ID {
		return oops.Code("USER_DUPLICATE").
			With("username", user.Username).
			Wrap(membership.ErrDuplicate)
	}

	delete(s.byUsername, existing.Username)
	s.users[user.ID] = copyUser(user)
	s.byUsername[user.Username] = user.ID
	return nil
}

// Remove deletes a user along with its remaining associations and resets.
func (s *Store) Remove(_ context.Context, user *membership.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[user.ID]
	if !ok {
		return oops.Code("USER_NOT_FOUND").
			With("id", user.ID.String()).
			Wrap(membership.ErrNotFound)
	}

	delete(s.byUsername, existing.Username)
	delete(s.users, user.ID)
	for _, byUser := range s.associations {
		delete(byUser, user.ID)
	}
	for id, r := range s.resets {
		if r.UserID == user.ID {
			delete(s.resets, id)
		}
	}
	return nil
}

// List returns every user ordered by username.
func (s *Store) List(_ context.Context) ([]*membership.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*membership.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, copyUser(u))
	}
	slices.SortFunc(users, func(a, b *membership.User) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

// Count returns the number of users.
func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

// RemoveFromRoles drops every role assignment of the user.
func (s *Store) RemoveFromRoles(_ context.Context, userID ulid.ULID) error {
	s.clear(Roles, userID)
	return nil
}

// RemoveFromTeams drops every team membership of the user.
func (s *Store) RemoveFromTeams(_ context.Context, userID ulid.ULID) error {
	s.clear(Teams, userID)
	return nil
}

// RemoveFromAdministeredRepositories drops the user from every repository it administers.
func (s *Store) RemoveFromAdministeredRepositories(_ context.Context, userID ulid.ULID) error {
	s.clear(AdministeredRepositories, userID)
	return nil
}

// RemoveFromRepositories drops the user from every repository it can access.
func (s *Store) RemoveFromRepositories(_ context.Context, userID ulid.ULID) error {
	s.clear(Repositories, userID)
	return nil
}

// Associate records that the user belongs to target under kind.
func (s *Store) Associate(kind Association, userID ulid.ULID, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byUser, ok := s.associations[kind]
	if !ok {
		byUser = make(map[ulid.ULID][]string)
		s.associations[kind] = byUser
	}
	if !slices.Contains(byUser[userID], target) {
		byUser[userID] = append(byUser[userID], target)
	}
}

// Associations returns the targets the user belongs to under kind.
func (s *Store) Associations(kind Association, userID ulid.ULID) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.associations[kind][userID])
}

func (s *Store) clear(kind Association, userID ulid.ULID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.associations[kind], userID)
}

// CreateReset stores a new reset grant.
func (s *Store) CreateReset(_ context.Context, reset *auth.PasswordReset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.resets {
		if r.TokenHash == reset.TokenHash {
			return oops.Code("RESET_DUPLICATE").
				With("user_id", reset.UserID.String()).
				Wrap(membership.ErrDuplicate)
		}
	}
	cp := *reset
	s.resets[reset.ID] = &cp
	return nil
}

// GetResetByTokenHash retrieves a grant by its token hash.
func (s *Store) GetResetByTokenHash(_ context.Context, tokenHash string) (*auth.PasswordReset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.resets {
		if r.TokenHash == tokenHash {
			cp := *r
			return &cp, nil
		}
	}
	return nil, oops.Code("RESET_NOT_FOUND").Wrap(membership.ErrNotFound)
}

// ConsumeReset deletes the grant with tokenHash.
func (s *Store) ConsumeReset(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, r := range s.resets {
		if r.TokenHash == tokenHash {
			delete(s.resets, id)
			return nil
		}
	}
	return oops.Code("RESET_NOT_FOUND").Wrap(membership.ErrNotFound)
}

// DeleteResetsByUser removes every grant of the user.
func (s *Store) DeleteResetsByUser(_ context.Context, userID ulid.ULID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, r := range s.resets {
		if r.UserID == userID {
			delete(s.resets, id)
		}
	}
	return nil
}

// DeleteExpiredResets removes grants that expired at or before now.
func (s *Store) DeleteExpiredResets(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for id, r := range s.resets {
		if r.IsExpiredAt(now) {
			delete(s.resets, id)
			purged++
		}
	}
	return purged, nil
}

// Ping fails once the store is closed.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return oops.Code("STORE_CLOSED").Errorf("memory store is closed")
	}
	return nil
}

// Close marks the store closed. Data stays readable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func copyUser(u *membership.User) *membership.User {
	cp := *u
	return &cp
}

// Compile-time interface checks.
var (
	_ membership.Store      = (*Store)(nil)
	_ membership.ResetStore = (*Store)(nil)
)
