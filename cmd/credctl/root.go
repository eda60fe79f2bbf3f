// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"

	"github.com/holomush/credentials/internal/config"
	"github.com/holomush/credentials/internal/logging"
	"github.com/holomush/credentials/internal/membership"
	"github.com/holomush/credentials/internal/store"
	"github.com/holomush/credentials/internal/xdg"
)

// Connect retry bounds. The overall budget is store.connect_timeout.
const (
	connectRetryBase = 250 * time.Millisecond
	connectRetryCap  = 5 * time.Second
)

// app carries state shared by every subcommand once the root pre-run has
// loaded configuration.
type app struct {
	deps    *Deps
	cfgPath string
	cfg     *config.Config
	logger  *slog.Logger
}

// NewRootCmd creates the root command for credctl. deps may be nil.
func NewRootCmd(deps *Deps) *cobra.Command {
	a := &app{deps: deps.withDefaults()}

	cmd := &cobra.Command{
		Use:   "credctl",
		Short: "Manage user credentials",
		Long: `credctl administers the credential store: schema migrations,
user accounts, password resets and the expired-reset sweeper.

Configuration is read from defaults, the YAML config file, CREDCTL_*
environment variables and flags, each overriding the previous.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.init,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "config file path (default: XDG_CONFIG_HOME/credctl/config.yaml)")
	pf.String("driver", "", "store driver (postgres, sqlite or memory)")
	pf.String("dsn", "", "PostgreSQL URL or SQLite file path")
	pf.String("log-level", "", "log level (debug, info, warn or error)")
	pf.String("log-format", "", "log format (json or text)")

	cmd.AddCommand(newMigrateCmd(a))
	cmd.AddCommand(newUserCmd(a))
	cmd.AddCommand(newResetCmd(a))
	cmd.AddCommand(newSweepCmd(a))

	return cmd
}

func (a *app) init(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.cfgPath, cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := logging.Setup("credctl", version, cfg.Log.Format, cfg.Log.Level, a.deps.LogWriter)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	slog.SetDefault(logger)
	return nil
}

func (a *app) driver() (store.Driver, error) {
	driver, err := store.ParseDriver(a.cfg.Store.Driver)
	if err != nil {
		return "", err
	}
	if driver == store.DriverSQLite {
		if err := xdg.EnsureDir(filepath.Dir(a.cfg.Store.DSN)); err != nil {
			return "", err
		}
	}
	return driver, nil
}

// openBackend opens the configured store. PostgreSQL connections are retried
// with capped exponential backoff until store.connect_timeout elapses.
func (a *app) openBackend(ctx context.Context) (store.Backend, error) {
	driver, err := a.driver()
	if err != nil {
		return nil, err
	}
	if driver != store.DriverPostgres {
		return a.deps.StoreOpener(ctx, driver, a.cfg.Store.DSN)
	}

	backoff := retry.NewExponential(connectRetryBase)
	backoff = retry.WithCappedDuration(connectRetryCap, backoff)
	backoff = retry.WithMaxDuration(a.cfg.Store.ConnectTimeout, backoff)

	var backend store.Backend
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		b, openErr := a.deps.StoreOpener(ctx, driver, a.cfg.Store.DSN)
		if openErr != nil {
			a.logger.WarnContext(ctx, "store not reachable",
				"driver", string(driver),
				"attempt", attempt,
				"error", openErr)
			return retry.RetryableError(openErr)
		}
		backend = b
		return nil
	})
	if err != nil {
		return nil, oops.With("driver", string(driver)).With("attempts", attempt).Wrap(err)
	}
	return backend, nil
}

// newService opens the store and builds a membership service over it.
// The caller closes the returned backend.
func (a *app) newService(ctx context.Context) (*membership.Service, store.Backend, error) {
	backend, err := a.openBackend(ctx)
	if err != nil {
		return nil, nil, err
	}
	svc, err := a.serviceFor(backend)
	if err != nil {
		a.closeBackend(backend)
		return nil, nil, err
	}
	return svc, backend, nil
}

// serviceFor builds a membership service over an open backend using the
// configured strategies and reset expiry.
func (a *app) serviceFor(backend store.Backend, opts ...membership.Option) (*membership.Service, error) {
	current, legacy, err := a.cfg.Hashing.Strategies()
	if err != nil {
		return nil, err
	}
	base := []membership.Option{
		membership.WithLogger(a.logger),
		membership.WithStrategy(current, legacy...),
		membership.WithResetStore(backend),
		membership.WithResetExpiry(a.cfg.Reset.Expiry),
		membership.WithClock(a.deps.Now),
	}
	return membership.NewService(backend, append(base, opts...)...)
}

// closeBackend closes b, logging instead of failing the command.
func (a *app) closeBackend(b store.Backend) {
	if err := b.Close(); err != nil {
		a.logger.Warn("close store failed", "operation", "close_store", "error", err)
	}
}
