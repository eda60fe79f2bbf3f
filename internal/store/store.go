// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store selects and opens membership storage backends and manages
// their schema migrations.
package store

import (
	"context"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/credentials/internal/membership"
	"github.com/holomush/credentials/internal/store/memory"
	"github.com/holomush/credentials/internal/store/postgres"
	"github.com/holomush/credentials/internal/store/sqlite"
)

// Driver names a storage backend.
type Driver string

// Supported drivers.
const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
	DriverMemory   Driver = "memory"
)

// Drivers lists every supported driver.
var Drivers = []Driver{DriverPostgres, DriverSQLite, DriverMemory}

// ParseDriver validates a driver name, case-insensitively.
func ParseDriver(name string) (Driver, error) {
	d := Driver(strings.ToLower(strings.TrimSpace(name)))
	switch d {
	case DriverPostgres, DriverSQLite, DriverMemory:
		return d, nil
	default:
		return "", oops.Code("STORE_UNKNOWN_DRIVER").
			With("driver", name).
			Errorf("unknown store driver %q", name)
	}
}

func (d Driver) migratable() bool {
	return d == DriverPostgres || d == DriverSQLite
}

func (d Driver) migrationsDir() string {
	return "migrations/" + string(d)
}

// Backend is an open store serving users and password resets.
type Backend interface {
	membership.Store
	membership.ResetStore
	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the backend named by driver. dsn is a PostgreSQL URL for
// postgres, a file path for sqlite and ignored for memory.
func Open(ctx context.Context, driver Driver, dsn string) (Backend, error) {
	switch driver {
	case DriverPostgres:
		if dsn == "" {
			return nil, oops.Code("STORE_CONNECT_FAILED").Errorf("database URL is required for postgres")
		}
		s, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverSQLite:
		s, err := sqlite.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, oops.Code("STORE_UNKNOWN_DRIVER").
			With("driver", string(driver)).
			Errorf("unknown store driver %q", driver)
	}
}
