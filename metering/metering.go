// Package metering implements the per-tick pipeline: sample usage,
// persist it, decide whether a bill or a heartbeat is due, submit, and
// commit the outcome to the persisted documents.
package metering

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"gitlab.com/tinyland/lab/csp-billing-adapter/backend"
	"gitlab.com/tinyland/lab/csp-billing-adapter/billing"
	"gitlab.com/tinyland/lab/csp-billing-adapter/config"
	"gitlab.com/tinyland/lab/csp-billing-adapter/internal/timeutil"
)

// billNamespace scopes the deterministic bill record ids. One bill
// period of one adapter instance always produces the same id, so a
// deduplicating backend treats a replay after a lost cache write as the
// same submission.
var billNamespace = uuid.MustParse("5b8f6cde-3a41-4c05-9f86-2f1d7a4be901")

// Pipeline runs one adapter tick end to end against the bound backends.
// It is not safe for concurrent use; the event loop runs ticks strictly
// one at a time.
type Pipeline struct {
	cfg      *config.Config
	backends *backend.Backends
	logger   *slog.Logger
	dryRun   bool

	// now is swappable in tests to pin tick times.
	now func() timeutil.Time
}

// New creates a pipeline. If logger is nil, a discard logger is used.
func New(cfg *config.Config, backends *backend.Backends, logger *slog.Logger, dryRun bool) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		cfg:      cfg,
		backends: backends,
		logger:   logger,
		dryRun:   dryRun,
		now:      timeutil.Now,
	}
}

// Tick runs one iteration: take a sample, append it to the cache, and
// meter if a deadline has passed. It returns the tick time. A returned
// error means the tick did no metering work; it is recoverable and the
// next tick retries from persisted state.
func (p *Pipeline) Tick(ctx context.Context) (timeutil.Time, error) {
	record, err := p.backends.Sampler.GetUsageData(ctx, p.cfg)
	if err != nil {
		return p.now(), fmt.Errorf("usage sampling failed: %w", err)
	}

	if err := billing.AddUsageRecord(ctx, p.backends.Storage, record); err != nil {
		return p.now(), err
	}

	cache, err := p.backends.Storage.GetCache(ctx)
	if err != nil {
		return p.now(), &billing.CacheUpdateError{Err: err}
	}
	if cache == nil {
		return p.now(), &billing.CacheUpdateError{Err: errors.New("cache document does not exist")}
	}

	now := p.now()
	switch {
	case !now.Before(cache.NextBillTime):
		return now, p.processMetering(ctx, cache, now, false)
	case !now.Before(cache.NextReportingTime):
		return now, p.processMetering(ctx, cache, now, true)
	default:
		p.logger.Debug("no metering due",
			"now", now,
			"next_bill_time", cache.NextBillTime,
			"next_reporting_time", cache.NextReportingTime,
		)
		return now, nil
	}
}

// processMetering submits one bill or heartbeat and commits the outcome.
// The submission is the only external commit point: on failure the cache
// keeps its records and deadlines so the next tick replays the exact
// same period, and only the status document records the failure.
func (p *Pipeline) processMetering(ctx context.Context, cache *billing.Cache, now timeutil.Time, heartbeat bool) error {
	inScope, remainder := cache.SplitRecords()

	usage := billing.BillableUsage(inScope, p.cfg.UsageMetrics, heartbeat)

	var dimensions map[string]int64
	recordID := uuid.NewString()
	if heartbeat {
		// Zeros bypass the tier ranges: the heartbeat must go out even
		// when a metric's first tier starts above zero.
		dimensions = billing.HeartbeatDimensions(p.cfg.UsageMetrics)
	} else {
		var err error
		dimensions, err = billing.BillingDimensions(p.cfg.UsageMetrics, usage)
		if err != nil {
			p.logger.Warn("dimension mapping failed, submission skipped", "error", err)
			return p.recordFailure(ctx, err)
		}
		recordID = billRecordID(cache.AdapterStartTime, cache.NextBillTime)
	}

	submittedID, err := p.backends.Meterer.MeterBilling(ctx, p.cfg, backend.MeteringRequest{
		RecordID:   recordID,
		Dimensions: dimensions,
		Timestamp:  now,
		DryRun:     p.dryRun,
	})
	if err != nil {
		p.logger.Warn("metering submission failed",
			"heartbeat", heartbeat,
			"error", err,
		)
		return p.recordFailure(ctx, &billing.SubmissionError{Err: err})
	}

	update := billing.StatusUpdate{OK: true, Now: now}
	if !heartbeat {
		update.Usage = usage
		update.LastBilled = now
	}
	if err := billing.UpdateCSPStatus(ctx, p.backends.Storage, p.cfg.ReportingPeriod(), update); err != nil {
		// The bill was accepted; keep going so the deadlines advance.
		p.logger.Error("status update failed after accepted submission", "error", err)
	}

	if heartbeat {
		cache.NextReportingTime = now.Add(p.cfg.ReportingPeriod())
	} else {
		if remainder == nil {
			remainder = []billing.UsageRecord{}
		}
		cache.UsageRecords = remainder
		cache.LastBill = &billing.LastBill{
			Dimensions:   dimensions,
			MeteringTime: now,
			RecordID:     submittedID,
		}
		// One aggregated bill can close several missed periods, so the
		// deadline advances whole periods until it leads now again.
		for !cache.NextBillTime.After(now) {
			cache.NextBillTime = timeutil.NextBillTime(cache.NextBillTime, p.cfg.BillingPeriod())
		}
		cache.NextReportingTime = now.Add(p.cfg.ReportingPeriod())
	}

	if err := p.backends.Storage.SaveCache(ctx, cache); err != nil {
		// Deliberately not raised: the submission is committed and the
		// deterministic record id makes the replay next tick safe.
		p.logger.Error("cache update failed after accepted submission",
			"record_id", submittedID,
			"error", err,
		)
		return nil
	}

	p.logger.Info("metering committed",
		"heartbeat", heartbeat,
		"record_id", submittedID,
		"dimensions", dimensions,
		"next_bill_time", cache.NextBillTime,
		"next_reporting_time", cache.NextReportingTime,
	)
	return nil
}

// recordFailure flags the status document with one failed metering
// attempt. The failure itself is absorbed; only a status write error
// propagates.
func (p *Pipeline) recordFailure(ctx context.Context, cause error) error {
	return billing.UpdateCSPStatus(ctx, p.backends.Storage, p.cfg.ReportingPeriod(), billing.StatusUpdate{
		OK:    false,
		Error: cause.Error(),
	})
}

// billRecordID derives the idempotency token for a real bill from the
// adapter start and the closing period end. Both are immutable for the
// period, so replaying an interrupted commit resubmits under the same id.
func billRecordID(adapterStart, periodEnd timeutil.Time) string {
	return uuid.NewSHA1(billNamespace, []byte(adapterStart.String()+"/"+periodEnd.String())).String()
}
