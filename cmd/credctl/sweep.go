// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/holomush/credentials/internal/membership"
	"github.com/holomush/credentials/internal/observability"
)

const (
	readinessTimeout = 2 * time.Second
	shutdownTimeout  = 5 * time.Second
)

func newSweepCmd(a *app) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired password reset grants",
		Long: `Delete expired password reset grants every --sweep-interval until
interrupted. With --metrics-addr set, Prometheus metrics and health probes
are served while sweeping.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runSweep(cmd, once)
		},
	}
	cmd.Flags().Duration("sweep-interval", 0, "time between sweeps (default 5m)")
	cmd.Flags().String("metrics-addr", "", "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().BoolVar(&once, "once", false, "sweep once and exit")
	return cmd
}

func (a *app) runSweep(cmd *cobra.Command, once bool) error {
	ctx := cmd.Context()

	backend, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer a.closeBackend(backend)

	var (
		metrics *observability.Metrics
		opts    []membership.Option
		serveCh <-chan error
	)
	if addr := a.cfg.Metrics.Addr; addr != "" && !once {
		server := a.deps.ObservabilityServerFactory(addr, func() bool {
			pingCtx, cancel := context.WithTimeout(context.Background(), readinessTimeout)
			defer cancel()
			return backend.Ping(pingCtx) == nil
		})
		opts = append(opts, membership.WithMetrics(membership.NewMetrics(server.Registry())))
		metrics = server.Metrics()

		serveCh, err = server.Start()
		if err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if stopErr := server.Stop(stopCtx); stopErr != nil {
				a.logger.Warn("stop observability server failed", "operation", "stop_observability", "error", stopErr)
			}
		}()
	}

	svc, err := a.serviceFor(backend, opts...)
	if err != nil {
		return err
	}

	sweep := func() error {
		purged, err := svc.PurgeExpiredResets(ctx)
		metrics.RecordSweep(purged, err, a.deps.Now())
		if err != nil {
			return err
		}
		a.logger.InfoContext(ctx, "swept expired resets", "purged", purged)
		if once {
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d\n", purged)
		}
		return nil
	}

	if once {
		return sweep()
	}
	if err := sweep(); err != nil {
		a.logger.WarnContext(ctx, "sweep failed", "operation", "purge_expired_resets", "error", err)
	}

	a.logger.InfoContext(ctx, "sweeper running", "interval", a.cfg.Sweep.Interval.String())
	ticker := time.NewTicker(a.cfg.Sweep.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("sweeper stopped")
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case serveErr, ok := <-serveCh:
			if ok && serveErr != nil {
				return serveErr
			}
			serveCh = nil
		case <-ticker.C:
			if err := sweep(); err != nil {
				a.logger.WarnContext(ctx, "sweep failed", "operation", "purge_expired_resets", "error", err)
			}
		}
	}
}
