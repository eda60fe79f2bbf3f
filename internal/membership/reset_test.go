// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package membership_test

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/credentials/internal/auth"
	"github.com/holomush/credentials/internal/membership"
	"github.com/holomush/credentials/internal/store/memory"
	"github.com/holomush/credentials/pkg/errutil"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func TestService_GenerateResetToken(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, memory.New())

	first, err := svc.GenerateResetToken(ctx, "bob")
	require.NoError(t, err)
	second, err := svc.GenerateResetToken(ctx, "bob")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	for _, token := range []string{first, second} {
		raw, err := base64.StdEncoding.DecodeString(token)
		require.NoError(t, err)
		assert.Len(t, raw, 49)
		assert.Equal(t, byte(0x01), raw[0])
	}

	_, err = svc.GenerateResetToken(ctx, "")
	require.ErrorIs(t, err, membership.ErrInvalidArgument)
}

func TestService_ResetPassword(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	reg := prometheus.NewRegistry()
	metrics := membership.NewMetrics(reg)
	svc := newService(t, store,
		membership.WithResetStore(store),
		membership.WithClock(clock.Now),
		membership.WithMetrics(metrics))
	createUser(t, svc, "bob", "forgotten")

	token, err := svc.GenerateResetToken(ctx, "Bob")
	require.NoError(t, err)

	stored, err := store.GetResetByTokenHash(ctx, auth.HashResetToken(token))
	require.NoError(t, err, "only the token hash is persisted")
	assert.Equal(t, clock.now.Add(auth.ResetTokenExpiry), stored.ExpiresAt)

	require.NoError(t, svc.ResetPassword(ctx, token, "remembered"))

	result, err := svc.ValidateUser(ctx, "bob", "remembered")
	require.NoError(t, err)
	assert.Equal(t, membership.Success, result)
	result, err = svc.ValidateUser(ctx, "bob", "forgotten")
	require.NoError(t, err)
	assert.Equal(t, membership.Failure, result)

	err = svc.ResetPassword(ctx, token, "again")
	errutil.AssertErrorCode(t, err, "RESET_TOKEN_INVALID")

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.ResetTokensIssued), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.ResetsCompleted.WithLabelValues("completed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.ResetsCompleted.WithLabelValues("invalid")), 0)
}

// failingCleanup consumes grants normally but cannot bulk-delete them.
type failingCleanup struct {
	*memory.Store
}

func (failingCleanup) DeleteResetsByUser(context.Context, ulid.ULID) error {
	return errors.New("cleanup down")
}

func TestService_ResetPassword_SingleUseWhenCleanupFails(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newService(t, store, membership.WithResetStore(failingCleanup{store}))
	createUser(t, svc, "bob", "forgotten")

	token, err := svc.GenerateResetToken(ctx, "bob")
	require.NoError(t, err)

	require.NoError(t, svc.ResetPassword(ctx, token, "first"))
	err = svc.ResetPassword(ctx, token, "second")
	errutil.AssertErrorCode(t, err, "RESET_TOKEN_INVALID")

	result, err := svc.ValidateUser(ctx, "bob", "first")
	require.NoError(t, err)
	assert.Equal(t, membership.Success, result)
}

func TestService_ResetPassword_ConcurrentRedemption(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newService(t, store, membership.WithResetStore(store))
	createUser(t, svc, "bob", "forgotten")

	token, err := svc.GenerateResetToken(ctx, "bob")
	require.NoError(t, err)

	const callers = 8
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if svc.ResetPassword(ctx, token, fmt.Sprintf("pw-%d", i)) == nil {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
}

func TestService_ResetPassword_Expired(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := newService(t, store,
		membership.WithResetStore(store),
		membership.WithResetExpiry(10*time.Minute),
		membership.WithClock(clock.Now))
	createUser(t, svc, "bob", "pw")

	token, err := svc.GenerateResetToken(ctx, "bob")
	require.NoError(t, err)

	clock.now = clock.now.Add(10 * time.Minute)
	err = svc.ResetPassword(ctx, token, "new")
	errutil.AssertErrorCode(t, err, "RESET_TOKEN_EXPIRED")

	purged, err := svc.PurgeExpiredResets(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestService_ResetPassword_UnknownUserTokenNeverVerifies(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newService(t, store, membership.WithResetStore(store))

	token, err := svc.GenerateResetToken(ctx, "ghost")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	err = svc.ResetPassword(ctx, token, "new")
	errutil.AssertErrorCode(t, err, "RESET_TOKEN_INVALID")
}

func TestService_ResetPassword_Rejects(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newService(t, store, membership.WithResetStore(store))

	tests := []struct {
		name     string
		token    string
		password string
		code     string
	}{
		{"empty token", "", "pw", "MEMBERSHIP_INVALID_ARGUMENT"},
		{"empty password", "dG9rZW4=", "", "MEMBERSHIP_INVALID_ARGUMENT"},
		{"not base64", "***", "pw", "RESET_TOKEN_INVALID"},
		{"wrong length", "dG9rZW4=", "pw", "RESET_TOKEN_INVALID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.ResetPassword(ctx, tt.token, tt.password)
			errutil.AssertErrorCode(t, err, tt.code)
		})
	}
}

func TestService_ResetPassword_WithoutResetStore(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, memory.New())

	token, err := svc.GenerateResetToken(ctx, "bob")
	require.NoError(t, err)

	err = svc.ResetPassword(ctx, token, "new")
	errutil.AssertErrorCode(t, err, "RESET_UNAVAILABLE")

	purged, err := svc.PurgeExpiredResets(ctx)
	require.NoError(t, err)
	assert.Zero(t, purged)
}

func TestService_DeleteUserDropsResets(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newService(t, store, membership.WithResetStore(store))
	createUser(t, svc, "bob", "pw")

	token, err := svc.GenerateResetToken(ctx, "bob")
	require.NoError(t, err)
	user, err := svc.GetUserByUsername(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, user)

	require.NoError(t, svc.DeleteUser(ctx, user.ID))

	_, err = store.GetResetByTokenHash(ctx, auth.HashResetToken(token))
	assert.ErrorIs(t, err, membership.ErrNotFound)
}
