package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gitlab.com/tinyland/lab/csp-billing-adapter/backend"
	"gitlab.com/tinyland/lab/csp-billing-adapter/billing"
	"gitlab.com/tinyland/lab/csp-billing-adapter/config"
	"gitlab.com/tinyland/lab/csp-billing-adapter/metering"
)

// daemon drives the metering event loop: one pipeline tick per query
// interval, strictly sequential, until the context is cancelled.
type daemon struct {
	config   *config.Config
	logger   *slog.Logger
	backends *backend.Backends
	pipeline *metering.Pipeline
}

// newDaemon binds the configured backends and builds the pipeline.
func newDaemon(cfg *config.Config, backends *backend.Backends, logger *slog.Logger, dryRun bool) *daemon {
	return &daemon{
		config:   cfg,
		logger:   logger,
		backends: backends,
		pipeline: metering.New(cfg, backends, logger, dryRun),
	}
}

// setup performs the one-time initialisation before the loop starts:
// storage setup, then creation of the two persisted documents if this is
// the adapter's first run.
func (d *daemon) setup(ctx context.Context) error {
	if err := d.backends.Storage.SetupAdapter(ctx, d.config); err != nil {
		return fmt.Errorf("storage setup failed: %w", err)
	}

	status, err := d.backends.Storage.GetCSPConfig(ctx)
	if err != nil {
		return fmt.Errorf("read csp_config: %w", err)
	}
	if status == nil {
		if _, err := billing.CreateCSPStatus(ctx, d.backends.Storage, d.config.ReportingPeriod()); err != nil {
			return err
		}
		d.logger.Info("created csp_config document")
	}

	cache, err := d.backends.Storage.GetCache(ctx)
	if err != nil {
		return fmt.Errorf("read cache: %w", err)
	}
	if cache == nil {
		cache, err = billing.CreateCache(ctx, d.backends.Storage, d.config.BillingPeriod(), d.config.ReportingPeriod())
		if err != nil {
			return err
		}
		d.logger.Info("created cache document",
			"adapter_start_time", cache.AdapterStartTime,
			"next_bill_time", cache.NextBillTime,
		)
	}

	return nil
}

// run starts the event loop. It ticks immediately on start, then every
// query interval until the context is cancelled. Tick errors are
// recoverable: they are logged and the next tick retries from persisted
// state.
func (d *daemon) run(ctx context.Context) error {
	if err := d.setup(ctx); err != nil {
		return err
	}

	d.logger.Info("starting event loop",
		"query_interval", d.config.QueryPeriod(),
		"reporting_interval", d.config.ReportingPeriod(),
		"billing_interval", d.config.BillingPeriod(),
		"sampler", d.backends.Sampler.Name(),
		"storage", d.backends.Storage.Name(),
		"meterer", d.backends.Meterer.Name(),
	)

	ticker := time.NewTicker(d.config.QueryPeriod())
	defer ticker.Stop()

	// Run immediately on start.
	d.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("shutting down gracefully")
			return nil
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

// tick runs one pipeline iteration and refreshes the health snapshot.
func (d *daemon) tick(ctx context.Context) {
	start := time.Now()

	now, err := d.pipeline.Tick(ctx)
	if err != nil {
		d.logger.Error("tick failed", "error", err)
	}

	d.writeHealth(ctx)

	d.logger.Info("tick complete",
		"now", now,
		"duration", fmt.Sprintf("%dms", time.Since(start).Milliseconds()),
	)
}

// writeHealth snapshots the document deadlines next to the persisted
// state. Health is best-effort observability: failures are logged, never
// raised.
func (d *daemon) writeHealth(ctx context.Context) {
	health := HealthStatus{
		Status:   "ok",
		LastTick: time.Now(),
	}

	if cache, err := d.backends.Storage.GetCache(ctx); err == nil && cache != nil {
		health.NextBillTime = cache.NextBillTime
		health.NextReportingTime = cache.NextReportingTime
	}
	if status, err := d.backends.Storage.GetCSPConfig(ctx); err == nil && status != nil {
		health.BillingOK = status.BillingAPIAccessOK
	}

	if err := writeHealthFile(d.config.Storage.Directory, health); err != nil {
		d.logger.Warn("health snapshot failed", "error", err)
	}
}
