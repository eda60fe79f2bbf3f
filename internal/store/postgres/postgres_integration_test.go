// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/credentials/internal/auth"
	"github.com/holomush/credentials/internal/membership"
	"github.com/holomush/credentials/internal/store"
	"github.com/holomush/credentials/internal/store/postgres"
)

func TestPostgresStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Postgres Store Suite")
}

var (
	container *tcpostgres.PostgresContainer
	connStr   string
)

var _ = BeforeSuite(func() {
	ctx := context.Background()

	var err error
	container, err = tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("credentials_test"),
		tcpostgres.WithUsername("credentials"),
		tcpostgres.WithPassword("credentials"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	Expect(err).NotTo(HaveOccurred())

	connStr, err = container.ConnectionString(ctx, "sslmode=disable")
	Expect(err).NotTo(HaveOccurred())
})

var _ = AfterSuite(func() {
	if container != nil {
		Expect(container.Terminate(context.Background())).To(Succeed())
	}
})

func newUser(username string) *membership.User {
	now := time.Now().UTC().Truncate(time.Microsecond)
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

var _ = Describe("Migrator", func() {
	It("runs the full up and down cycle", func() {
		m, err := store.NewMigrator(store.DriverPostgres, connStr)
		Expect(err).NotTo(HaveOccurred())
		defer m.Close()

		Expect(m.Up()).To(Succeed())
		version, dirty, err := m.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(2)))
		Expect(dirty).To(BeFalse())

		Expect(m.Steps(-1)).To(Succeed())
		version, _, err = m.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(1)))

		Expect(m.Down()).To(Succeed())
		version, _, err = m.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())
	})
})

var _ = Describe("Store", func() {
	var (
		ctx context.Context
		s   *postgres.Store
	)

	BeforeEach(func() {
		ctx = context.Background()

		m, err := store.NewMigrator(store.DriverPostgres, connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Down()).To(Succeed())
		Expect(m.Up()).To(Succeed())
		Expect(m.Close()).To(Succeed())

		s, err = postgres.Open(ctx, connStr)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(s.Close()).To(Succeed())
	})

	Describe("Insert", func() {
		It("round-trips a user", func() {
			u := newUser("ada")
			Expect(s.Insert(ctx, u)).To(Succeed())

			got, err := s.FindByUsername(ctx, "ada")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(u.ID))
			Expect(got.CreatedAt.Equal(u.CreatedAt)).To(BeTrue())
		})

		It("reports a taken username as ErrDuplicate", func() {
			Expect(s.Insert(ctx, newUser("ada"))).To(Succeed())
			Expect(s.Insert(ctx, newUser("ada"))).To(MatchError(membership.ErrDuplicate))
		})

		It("rejects usernames that are not lowercase", func() {
			err := s.Insert(ctx, newUser("Ada"))
			Expect(err).To(HaveOccurred())
			Expect(err).NotTo(MatchError(membership.ErrDuplicate))
		})
	})

	Describe("Save", func() {
		It("reports a rename onto a taken username as ErrDuplicate", func() {
			Expect(s.Insert(ctx, newUser("ada"))).To(Succeed())
			grace := newUser("grace")
			Expect(s.Insert(ctx, grace)).To(Succeed())

			grace.Username = "ada"
			Expect(s.Save(ctx, grace)).To(MatchError(membership.ErrDuplicate))
		})

		It("reports a missing user as ErrNotFound", func() {
			Expect(s.Save(ctx, newUser("ghost"))).To(MatchError(membership.ErrNotFound))
		})
	})

	Describe("Remove", func() {
		It("cascades associations and resets", func() {
			u := newUser("ada")
			Expect(s.Insert(ctx, u)).To(Succeed())
			now := time.Now()
			reset, err := auth.NewPasswordReset(u.ID, "hash", now, now.Add(time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(s.CreateReset(ctx, reset)).To(Succeed())

			Expect(s.RemoveFromRoles(ctx, u.ID)).To(Succeed())
			Expect(s.RemoveFromTeams(ctx, u.ID)).To(Succeed())
			Expect(s.RemoveFromAdministeredRepositories(ctx, u.ID)).To(Succeed())
			Expect(s.RemoveFromRepositories(ctx, u.ID)).To(Succeed())
			Expect(s.Remove(ctx, u)).To(Succeed())

			_, err = s.GetResetByTokenHash(ctx, "hash")
			Expect(err).To(MatchError(membership.ErrNotFound))
			Expect(s.Remove(ctx, u)).To(MatchError(membership.ErrNotFound))
		})
	})

	Describe("List", func() {
		It("orders users by username", func() {
			for _, name := range []string{"mallory", "alice", "bob"} {
				Expect(s.Insert(ctx, newUser(name))).To(Succeed())
			}
			users, err := s.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(users).To(HaveLen(3))
			Expect(users[0].Username).To(Equal("alice"))
			Expect(users[2].Username).To(Equal("mallory"))

			count, err := s.Count(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(3))
		})
	})

	Describe("DeleteExpiredResets", func() {
		It("purges only expired grants", func() {
			u := newUser("ada")
			Expect(s.Insert(ctx, u)).To(Succeed())
			now := time.Now().UTC()
			live, err := auth.NewPasswordReset(u.ID, "live", now, now.Add(time.Hour))
			Expect(err).NotTo(HaveOccurred())
			stale, err := auth.NewPasswordReset(u.ID, "stale", now.Add(-2*time.Hour), now.Add(-time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(s.CreateReset(ctx, live)).To(Succeed())
			Expect(s.CreateReset(ctx, stale)).To(Succeed())

			purged, err := s.DeleteExpiredResets(ctx, now)
			Expect(err).NotTo(HaveOccurred())
			Expect(purged).To(Equal(int64(1)))

			_, err = s.GetResetByTokenHash(ctx, "live")
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
