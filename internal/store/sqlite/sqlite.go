// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package sqlite provides a SQLite implementation of the membership stores.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/samber/oops"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/holomush/credentials/internal/membership"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// Store implements membership.Store and membership.ResetStore using SQLite.
type Store struct {
	db *sql.DB
}

// Open opens the database at path with WAL journaling and foreign keys enabled.
// A "sqlite://" prefix on path is accepted and stripped.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimPrefix(path, "sqlite://")
	if path == "" {
		return nil, oops.Code("STORE_CONNECT_FAILED").Errorf("sqlite path cannot be empty")
	}

	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").
			With("operation", "open database").
			With("path", path).
			Wrap(err)
	}

	// A single connection keeps the pragmas below in effect for every statement.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close() //nolint:errcheck // pragma error takes precedence
			return nil, oops.Code("STORE_CONNECT_FAILED").
				With("operation", "configure database").
				With("pragma", pragma).
				Wrap(err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close() //nolint:errcheck // ping error takes precedence
		return nil, oops.Code("STORE_CONNECT_FAILED").
			With("operation", "ping").
			With("path", path).
			Wrap(err)
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying handle for tooling and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return oops.Code("STORE_PING_FAILED").Wrap(err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return oops.Code("STORE_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	default:
		return false
	}
}

// Compile-time interface checks.
var (
	_ membership.Store      = (*Store)(nil)
	_ membership.ResetStore = (*Store)(nil)
)
