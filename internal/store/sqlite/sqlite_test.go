// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/credentials/internal/auth"
	"github.com/holomush/credentials/internal/membership"
	"github.com/holomush/credentials/internal/store"
	"github.com/holomush/credentials/internal/store/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.db")

	m, err := store.NewMigrator(store.DriverSQLite, path)
	require.NoError(t, err)
	require.NoError(t, m.Up())
	require.NoError(t, m.Close())

	s, err := sqlite.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newUser(username string) *membership.User {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &membership.User{
		ID:           ulid.Make(),
		Username:     username,
		DisplayName:  "Ada",
		Surname:      "Lovelace",
		Email:        username + "@example.com",
		PasswordHash: "hash",
		PasswordSalt: "salt",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := sqlite.Open(context.Background(), "sqlite://")
	require.Error(t, err)
}

func TestStore_InsertFindRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	u := newUser("ada")
	require.NoError(t, s.Insert(ctx, u))

	got, err := s.FindByUsername(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, u.Email, got.Email)
	assert.Equal(t, u.PasswordHash, got.PasswordHash)
	assert.Equal(t, u.PasswordSalt, got.PasswordSalt)
	assert.True(t, u.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", u.CreatedAt, got.CreatedAt)

	byID, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada", byID.Username)

	_, err = s.FindByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, membership.ErrNotFound)
	_, err = s.FindByID(ctx, ulid.Make())
	assert.ErrorIs(t, err, membership.ErrNotFound)
}

func TestStore_Duplicates(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	ada := newUser("ada")
	require.NoError(t, s.Insert(ctx, ada))

	err := s.Insert(ctx, newUser("ada"))
	assert.ErrorIs(t, err, membership.ErrDuplicate, "same username")

	sameID := newUser("grace")
	sameID.ID = ada.ID
	err = s.Insert(ctx, sameID)
	assert.ErrorIs(t, err, membership.ErrDuplicate, "same id")

	grace := newUser("grace")
	require.NoError(t, s.Insert(ctx, grace))
	grace.Username = "ada"
	err = s.Save(ctx, grace)
	assert.ErrorIs(t, err, membership.ErrDuplicate, "rename onto a taken username")
}

func TestStore_SaveAndRemove(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	u := newUser("ada")
	require.NoError(t, s.Insert(ctx, u))

	u.Email = "countess@example.com"
	u.UpdatedAt = u.UpdatedAt.Add(time.Minute)
	require.NoError(t, s.Save(ctx, u))

	got, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "countess@example.com", got.Email)

	require.NoError(t, s.Remove(ctx, u))
	assert.ErrorIs(t, s.Remove(ctx, u), membership.ErrNotFound)
	assert.ErrorIs(t, s.Save(ctx, u), membership.ErrNotFound)
}

func TestStore_ListAndCount(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	for _, name := range []string{"mallory", "alice", "bob"} {
		require.NoError(t, s.Insert(ctx, newUser(name)))
	}

	users, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, []string{"alice", "bob", "mallory"},
		[]string{users[0].Username, users[1].Username, users[2].Username})

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestStore_ClearAssociations(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	u := newUser("ada")
	require.NoError(t, s.Insert(ctx, u))

	db := s.DB()
	for _, stmt := range []string{
		`INSERT INTO user_roles (user_id, role) VALUES (?, 'admin')`,
		`INSERT INTO user_teams (user_id, team) VALUES (?, 'core')`,
		`INSERT INTO repository_administrators (user_id, repository) VALUES (?, 'engine')`,
		`INSERT INTO repository_members (user_id, repository) VALUES (?, 'docs')`,
	} {
		_, err := db.ExecContext(ctx, stmt, u.ID.String())
		require.NoError(t, err)
	}

	require.NoError(t, s.RemoveFromRoles(ctx, u.ID))
	require.NoError(t, s.RemoveFromTeams(ctx, u.ID))
	require.NoError(t, s.RemoveFromAdministeredRepositories(ctx, u.ID))
	require.NoError(t, s.RemoveFromRepositories(ctx, u.ID))

	for _, table := range []string{"user_roles", "user_teams", "repository_administrators", "repository_members"} {
		var n int
		require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE user_id = ?`, u.ID.String()).Scan(&n))
		assert.Zero(t, n, table)
	}
}

func TestStore_UsernameMustBeLowercase(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	err := s.Insert(ctx, newUser("Ada"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, membership.ErrDuplicate)
}

func TestStore_Resets(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	u := newUser("ada")
	require.NoError(t, s.Insert(ctx, u))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	live, err := auth.NewPasswordReset(u.ID, "live-hash", now, now.Add(time.Hour))
	require.NoError(t, err)
	stale, err := auth.NewPasswordReset(u.ID, "stale-hash", now.Add(-2*time.Hour), now)
	require.NoError(t, err)
	require.NoError(t, s.CreateReset(ctx, live))
	require.NoError(t, s.CreateReset(ctx, stale))

	assert.ErrorIs(t, s.CreateReset(ctx, live), membership.ErrDuplicate)

	got, err := s.GetResetByTokenHash(ctx, "live-hash")
	require.NoError(t, err)
	assert.Equal(t, live.ID, got.ID)
	assert.Equal(t, u.ID, got.UserID)
	assert.True(t, live.ExpiresAt.Equal(got.ExpiresAt))

	_, err = s.GetResetByTokenHash(ctx, "unknown")
	assert.ErrorIs(t, err, membership.ErrNotFound)

	purged, err := s.DeleteExpiredResets(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged, "expiry at exactly now counts as expired")

	other, err := auth.NewPasswordReset(u.ID, "other-hash", now, now.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, s.CreateReset(ctx, other))
	require.NoError(t, s.ConsumeReset(ctx, "other-hash"))
	assert.ErrorIs(t, s.ConsumeReset(ctx, "other-hash"), membership.ErrNotFound)

	require.NoError(t, s.DeleteResetsByUser(ctx, u.ID))
	_, err = s.GetResetByTokenHash(ctx, "live-hash")
	assert.ErrorIs(t, err, membership.ErrNotFound)
}

func TestStore_RemoveCascadesResets(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	u := newUser("ada")
	require.NoError(t, s.Insert(ctx, u))

	now := time.Now()
	reset, err := auth.NewPasswordReset(u.ID, "hash", now, now.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, s.CreateReset(ctx, reset))

	require.NoError(t, s.Remove(ctx, u))
	_, err = s.GetResetByTokenHash(ctx, "hash")
	assert.ErrorIs(t, err, membership.ErrNotFound)
}

func TestStore_ServesMembershipService(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	svc, err := membership.NewService(s,
		membership.WithStrategy(auth.NewArgon2idStrategy(auth.Argon2idParams{Time: 1, Memory: 64, Threads: 1, KeyLen: 32})),
		membership.WithResetStore(s))
	require.NoError(t, err)

	created, err := svc.CreateUser(ctx, "Bob", "p@ss1", "Bob", "Jones", "bob@x.com", ulid.ULID{})
	require.NoError(t, err)
	require.True(t, created)

	created, err = svc.CreateUser(ctx, "BOB", "other", "Bob", "Jones", "bob@x.com", ulid.ULID{})
	require.NoError(t, err)
	assert.False(t, created)

	result, err := svc.ValidateUser(ctx, "bob", "p@ss1")
	require.NoError(t, err)
	assert.Equal(t, membership.Success, result)

	token, err := svc.GenerateResetToken(ctx, "bob")
	require.NoError(t, err)
	require.NoError(t, svc.ResetPassword(ctx, token, "n3w"))

	result, err = svc.ValidateUser(ctx, "BOB", "n3w")
	require.NoError(t, err)
	assert.Equal(t, membership.Success, result)
}
