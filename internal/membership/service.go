// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package membership

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/credentials/internal/auth"
)

var tracer = otel.Tracer("credentials/membership")

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for best-effort failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithStrategy sets the hashing strategy for new credentials and the
// superseded strategies that may still verify stored ones.
func WithStrategy(current auth.Strategy, legacy ...auth.Strategy) Option {
	return func(s *Service) {
		s.current = current
		s.legacy = legacy
	}
}

// WithMetrics records outcomes to m.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithResetStore persists issued reset tokens so ResetPassword can consume them.
func WithResetStore(resets ResetStore) Option {
	return func(s *Service) { s.resets = resets }
}

// WithResetExpiry sets how long an issued reset token stays valid.
func WithResetExpiry(d time.Duration) Option {
	return func(s *Service) { s.resetExpiry = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service orchestrates credential operations against a Store.
type Service struct {
	store       Store
	resets      ResetStore
	hasher      *auth.Hasher
	current     auth.Strategy
	legacy      []auth.Strategy
	logger      *slog.Logger
	metrics     *Metrics
	validate    *validator.Validate
	resetExpiry time.Duration
	now         func() time.Time

	dummyOnce sync.Once
	dummySalt string
	dummyHash string
}

// NewService creates a Service backed by store.
// Without WithStrategy it hashes with argon2id at the default parameters.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, oops.Code("MEMBERSHIP_INVALID_CONFIG").Errorf("store is required")
	}

	s := &Service{
		store:       store,
		current:     auth.NewArgon2idStrategy(auth.DefaultArgon2idParams()),
		logger:      slog.Default(),
		resetExpiry: auth.ResetTokenExpiry,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		return nil, oops.Code("MEMBERSHIP_INVALID_CONFIG").Errorf("logger is required")
	}
	if s.current == nil {
		return nil, oops.Code("MEMBERSHIP_INVALID_CONFIG").Errorf("hashing strategy is required")
	}
	if s.resetExpiry <= 0 {
		return nil, oops.Code("MEMBERSHIP_INVALID_CONFIG").
			With("reset_expiry", s.resetExpiry).
			Errorf("reset expiry must be positive")
	}
	if s.now == nil {
		return nil, oops.Code("MEMBERSHIP_INVALID_CONFIG").Errorf("clock is required")
	}

	s.validate = newValidator()
	s.hasher = auth.NewHasherWithLogger(s.current, s.upgradePassword, s.logger, s.legacy...)
	return s, nil
}

// ValidateUser checks a username and password. An unknown user and a wrong
// password both yield Failure.
func (s *Service) ValidateUser(ctx context.Context, username, password string) (result ValidationResult, err error) {
	ctx, span := tracer.Start(ctx, "membership.validate_user")
	defer func() { endSpan(span, err) }()

	if username == "" {
		return Failure, invalidArgument("username")
	}
	if password == "" {
		return Failure, invalidArgument("password")
	}
	username = NormalizeUsername(username)

	user, err := s.store.FindByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		// Spend the same hashing work as a real comparison.
		s.compareDummy(ctx, password)
		s.metrics.validation(Failure)
		return Failure, nil
	}
	if err != nil {
		return Failure, oops.Code("MEMBERSHIP_VALIDATE_FAILED").
			With("operation", "find user by username").
			With("username", username).
			Wrap(err)
	}

	ok, err := s.hasher.Compare(ctx, password, user.Username, user.PasswordSalt, user.PasswordHash)
	if err != nil {
		return Failure, oops.Code("MEMBERSHIP_VALIDATE_FAILED").
			With("operation", "compare password").
			With("username", username).
			Wrap(err)
	}

	result = Failure
	if ok {
		result = Success
	}
	s.metrics.validation(result)
	span.SetAttributes(attribute.String("membership.result", result.String()))
	return result, nil
}

// newUserInput carries CreateUser arguments through validation.
type newUserInput struct {
	Username    string `json:"username" validate:"required"`
	Password    string `json:"password" validate:"required"`
	DisplayName string `json:"name" validate:"required"`
	Surname     string `json:"surname" validate:"required"`
	Email       string `json:"email" validate:"required"`
}

// CreateUser stores a new user with a fresh salt and hash. A zero id is
// replaced by a new ULID. Returns false when the username is already taken.
func (s *Service) CreateUser(ctx context.Context, username, password, name, surname, email string, id ulid.ULID) (created bool, err error) {
	ctx, span := tracer.Start(ctx, "membership.create_user")
	defer func() { endSpan(span, err) }()

	if err := s.checkRequired(newUserInput{
		Username:    username,
		Password:    password,
		DisplayName: name,
		Surname:     surname,
		Email:       email,
	}); err != nil {
		return false, err
	}

	if id.IsZero() {
		id = ulid.Make()
	}

	salt, hash, err := s.hasher.NewCredential(password)
	if err != nil {
		return false, oops.Code("MEMBERSHIP_CREATE_FAILED").
			With("operation", "derive credential").
			Wrap(err)
	}

	now := s.now()
	user := &User{
		ID:           id,
		Username:     NormalizeUsername(username),
		DisplayName:  name,
		Surname:      surname,
		Email:        email,
		PasswordHash: hash,
		PasswordSalt: salt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.Insert(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicate) {
			s.metrics.userCreated("duplicate")
			s.logger.InfoContext(ctx, "user not created, username or id taken",
				"username", user.Username,
				"user_id", user.ID.String())
			return false, nil
		}
		return false, oops.Code("MEMBERSHIP_CREATE_FAILED").
			With("operation", "insert user").
			With("username", user.Username).
			Wrap(err)
	}

	s.metrics.userCreated("created")
	span.SetAttributes(attribute.String("membership.user_id", user.ID.String()))
	return true, nil
}

// GetAllUsers returns every user ordered by username.
func (s *Service) GetAllUsers(ctx context.Context) (summaries []UserSummary, err error) {
	ctx, span := tracer.Start(ctx, "membership.get_all_users")
	defer func() { endSpan(span, err) }()

	users, err := s.store.List(ctx)
	if err != nil {
		return nil, oops.Code("MEMBERSHIP_LIST_FAILED").
			With("operation", "list users").
			Wrap(err)
	}

	summaries = make([]UserSummary, 0, len(users))
	for _, u := range users {
		summaries = append(summaries, u.Summary())
	}
	return summaries, nil
}

// UserCount returns the number of users.
func (s *Service) UserCount(ctx context.Context) (count int, err error) {
	ctx, span := tracer.Start(ctx, "membership.user_count")
	defer func() { endSpan(span, err) }()

	count, err = s.store.Count(ctx)
	if err != nil {
		return 0, oops.Code("MEMBERSHIP_COUNT_FAILED").
			With("operation", "count users").
			Wrap(err)
	}
	return count, nil
}

// GetUserByID returns the user with id, or nil if there is none.
func (s *Service) GetUserByID(ctx context.Context, id ulid.ULID) (summary *UserSummary, err error) {
	ctx, span := tracer.Start(ctx, "membership.get_user_by_id",
		trace.WithAttributes(attribute.String("membership.user_id", id.String())))
	defer func() { endSpan(span, err) }()

	user, err := s.store.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.Code("MEMBERSHIP_GET_FAILED").
			With("operation", "find user by id").
			With("id", id.String()).
			Wrap(err)
	}
	out := user.Summary()
	return &out, nil
}

// GetUserByUsername returns the user with username (case-insensitive), or nil if there is none.
func (s *Service) GetUserByUsername(ctx context.Context, username string) (summary *UserSummary, err error) {
	ctx, span := tracer.Start(ctx, "membership.get_user_by_username")
	defer func() { endSpan(span, err) }()

	if username == "" {
		return nil, nil
	}
	username = NormalizeUsername(username)

	user, err := s.store.FindByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.Code("MEMBERSHIP_GET_FAILED").
			With("operation", "find user by username").
			With("username", username).
			Wrap(err)
	}
	out := user.Summary()
	return &out, nil
}

// UpdateUser applies a partial update to the user with id. Nil and empty
// fields are left unchanged. It is a no-op if the user does not exist or the
// update changes nothing. A new password replaces both salt and hash.
func (s *Service) UpdateUser(ctx context.Context, id ulid.ULID, update UserUpdate) (err error) {
	ctx, span := tracer.Start(ctx, "membership.update_user",
		trace.WithAttributes(attribute.String("membership.user_id", id.String())))
	defer func() { endSpan(span, err) }()

	if update.IsEmpty() {
		return nil
	}

	user, err := s.store.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return oops.Code("MEMBERSHIP_UPDATE_FAILED").
			With("operation", "find user by id").
			With("id", id.String()).
			Wrap(err)
	}

	if set(update.Username) {
		user.Username = NormalizeUsername(*update.Username)
	}
	if set(update.DisplayName) {
		user.DisplayName = *update.DisplayName
	}
	if set(update.Surname) {
		user.Surname = *update.Surname
	}
	if set(update.Email) {
		user.Email = *update.Email
	}
	if set(update.Password) {
		salt, hash, err := s.hasher.NewCredential(*update.Password)
		if err != nil {
			return oops.Code("MEMBERSHIP_UPDATE_FAILED").
				With("operation", "derive credential").
				With("id", id.String()).
				Wrap(err)
		}
		user.PasswordSalt = salt
		user.PasswordHash = hash
	}
	user.UpdatedAt = s.now()

	if err := s.store.Save(ctx, user); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return nil
		case errors.Is(err, ErrDuplicate):
			return oops.Code("MEMBERSHIP_DUPLICATE_USERNAME").
				With("username", user.Username).
				Wrapf(ErrDuplicate, "username is taken")
		default:
			return oops.Code("MEMBERSHIP_UPDATE_FAILED").
				With("operation", "save user").
				With("id", id.String()).
				Wrap(err)
		}
	}
	return nil
}

// DeleteUser severs the user's role, team and repository associations and
// then removes the record. It is a no-op if the user does not exist.
func (s *Service) DeleteUser(ctx context.Context, id ulid.ULID) (err error) {
	ctx, span := tracer.Start(ctx, "membership.delete_user",
		trace.WithAttributes(attribute.String("membership.user_id", id.String())))
	defer func() { endSpan(span, err) }()

	user, err := s.store.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return oops.Code("MEMBERSHIP_DELETE_FAILED").
			With("operation", "find user by id").
			With("id", id.String()).
			Wrap(err)
	}

	steps := []struct {
		operation string
		run       func(context.Context, ulid.ULID) error
	}{
		{"remove administered repositories", s.store.RemoveFromAdministeredRepositories},
		{"remove roles", s.store.RemoveFromRoles},
		{"remove repositories", s.store.RemoveFromRepositories},
		{"remove teams", s.store.RemoveFromTeams},
	}
	for _, step := range steps {
		if err := step.run(ctx, user.ID); err != nil {
			return oops.Code("MEMBERSHIP_DELETE_FAILED").
				With("operation", step.operation).
				With("id", id.String()).
				Wrap(err)
		}
	}

	if err := s.store.Remove(ctx, user); err != nil && !errors.Is(err, ErrNotFound) {
		return oops.Code("MEMBERSHIP_DELETE_FAILED").
			With("operation", "remove user").
			With("id", id.String()).
			Wrap(err)
	}

	if s.resets != nil {
		if err := s.resets.DeleteResetsByUser(ctx, user.ID); err != nil {
			s.logger.WarnContext(ctx, "best-effort reset cleanup failed",
				"operation", "delete_resets",
				"user_id", user.ID.String(),
				"error", err)
		}
	}
	return nil
}

// upgradePassword is the Hasher's RehashFunc. It stores a fresh salt and hash
// under the current strategy using its own store calls.
func (s *Service) upgradePassword(ctx context.Context, username, password string) (err error) {
	ctx, span := tracer.Start(ctx, "membership.upgrade_password")
	defer func() {
		if err != nil {
			s.metrics.rehash("failed")
		}
		endSpan(span, err)
	}()

	user, err := s.store.FindByUsername(ctx, NormalizeUsername(username))
	if err != nil {
		return oops.Code("MEMBERSHIP_REHASH_FAILED").
			With("operation", "find user by username").
			With("username", username).
			Wrap(err)
	}
	// Another writer already replaced the hash.
	if !s.hasher.NeedsRehash(user.PasswordHash) {
		return nil
	}

	salt, hash, err := s.hasher.NewCredential(password)
	if err != nil {
		return oops.Code("MEMBERSHIP_REHASH_FAILED").
			With("operation", "derive credential").
			Wrap(err)
	}
	user.PasswordSalt = salt
	user.PasswordHash = hash
	user.UpdatedAt = s.now()

	if err := s.store.Save(ctx, user); err != nil {
		return oops.Code("MEMBERSHIP_REHASH_FAILED").
			With("operation", "save user").
			With("username", user.Username).
			Wrap(err)
	}

	s.metrics.rehash("upgraded")
	s.logger.InfoContext(ctx, "password rehashed",
		"username", user.Username,
		"strategy", s.current.Name())
	return nil
}

func (s *Service) compareDummy(ctx context.Context, password string) {
	s.dummyOnce.Do(func() {
		secret, err := auth.NewSalt()
		if err != nil {
			return
		}
		salt, hash, err := s.hasher.NewCredential(secret)
		if err != nil {
			s.logger.WarnContext(ctx, "dummy credential unavailable", "error", err)
			return
		}
		s.dummySalt, s.dummyHash = salt, hash
	})
	if s.dummyHash == "" {
		return
	}
	//nolint:errcheck // Result is discarded; only the work matters.
	s.hasher.Compare(ctx, password, "", s.dummySalt, s.dummyHash)
}

func (s *Service) checkRequired(input any) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return invalidArgument(fieldErrs[0].Field())
	}
	return oops.Code("MEMBERSHIP_INVALID_ARGUMENT").Wrap(errors.Join(ErrInvalidArgument, err))
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
