// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/credentials/internal/observability"
	"github.com/holomush/credentials/internal/store"
)

// Deps contains injectable dependencies for credctl commands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// StoreOpener opens the configured backend.
	// Default: store.Open
	StoreOpener func(ctx context.Context, driver store.Driver, dsn string) (store.Backend, error)

	// MigratorFactory creates a schema migrator.
	// Default: store.NewMigrator
	MigratorFactory func(driver store.Driver, dsn string) (Migrator, error)

	// ObservabilityServerFactory creates the metrics and health server used by sweep.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// LogWriter receives log output.
	// Default: os.Stderr
	LogWriter io.Writer

	// Now returns the current time.
	// Default: time.Now
	Now func() time.Time
}

// Migrator wraps the methods of store.Migrator used by the migrate command.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	PendingMigrations() ([]uint, error)
	Close() error
}

// ObservabilityServer wraps the methods of observability.Server used by sweep.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Registry() *prometheus.Registry
	Metrics() *observability.Metrics
}

func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.StoreOpener == nil {
		out.StoreOpener = store.Open
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(driver store.Driver, dsn string) (Migrator, error) {
			return store.NewMigrator(driver, dsn)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, ready)
		}
	}
	if out.LogWriter == nil {
		out.LogWriter = os.Stderr
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return &out
}
