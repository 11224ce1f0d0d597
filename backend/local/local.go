// Package local provides the local backend pair used for development and
// soak testing: a sampler that reports static per-metric values from the
// configuration, and a meterer that archives submissions to a JSONL file
// instead of charging a marketplace.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"gitlab.com/tinyland/lab/csp-billing-adapter/backend"
	"gitlab.com/tinyland/lab/csp-billing-adapter/billing"
	"gitlab.com/tinyland/lab/csp-billing-adapter/config"
	"gitlab.com/tinyland/lab/csp-billing-adapter/internal/timeutil"
)

// Sampler reports the static metric values declared under sampler.metrics
// in the configuration. Declared usage metrics absent from that map
// sample as zero.
type Sampler struct{}

// NewSampler creates the local sampler.
func NewSampler() *Sampler { return &Sampler{} }

// Name returns the registry identifier of this backend.
func (s *Sampler) Name() string { return "local" }

// Description returns a human-readable description of this backend.
func (s *Sampler) Description() string { return "static metric values from configuration" }

// GetUsageData produces one record timestamped now with a value for every
// declared metric.
func (s *Sampler) GetUsageData(ctx context.Context, cfg *config.Config) (billing.UsageRecord, error) {
	if err := ctx.Err(); err != nil {
		return billing.UsageRecord{}, err
	}

	metrics := make(map[string]int64, len(cfg.UsageMetrics))
	for name := range cfg.UsageMetrics {
		metrics[name] = cfg.Sampler.Metrics[name]
	}

	return billing.UsageRecord{
		ReportingTime: timeutil.Now(),
		Metrics:       metrics,
	}, nil
}

// Meterer archives metering submissions to an append-only JSONL file and
// deduplicates on the caller-assigned record id, mirroring the contract a
// marketplace metering API offers.
type Meterer struct {
	logger *slog.Logger

	mu   sync.Mutex
	seen map[string]bool
}

// NewMeterer creates the local meterer. If logger is nil, a discard
// logger is used.
func NewMeterer(logger *slog.Logger) *Meterer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Meterer{logger: logger, seen: make(map[string]bool)}
}

// Name returns the registry identifier of this backend.
func (m *Meterer) Name() string { return "local" }

// Description returns a human-readable description of this backend.
func (m *Meterer) Description() string { return "append-only JSONL submission archive" }

// archiveEntry is one archived submission line.
type archiveEntry struct {
	RecordID   string           `json:"record_id"`
	Dimensions map[string]int64 `json:"dimensions"`
	Timestamp  timeutil.Time    `json:"timestamp"`
	MeteredAt  timeutil.Time    `json:"metered_at"`
	DryRun     bool             `json:"dry_run,omitempty"`
}

// MeterBilling archives one submission and returns its record id. A
// request without a record id is assigned a random one. A record id
// already accepted in this process is acknowledged again without being
// re-archived.
func (m *Meterer) MeterBilling(ctx context.Context, cfg *config.Config, req backend.MeteringRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	recordID := req.RecordID
	if recordID == "" {
		recordID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.seen[recordID] {
		m.logger.Info("duplicate submission acknowledged", "record_id", recordID)
		return recordID, nil
	}

	entry := archiveEntry{
		RecordID:   recordID,
		Dimensions: req.Dimensions,
		Timestamp:  req.Timestamp,
		MeteredAt:  timeutil.Now(),
		DryRun:     req.DryRun,
	}
	if err := appendLine(cfg.ArchivePath(), entry); err != nil {
		return "", err
	}

	m.seen[recordID] = true
	m.logger.Info("submission archived",
		"record_id", recordID,
		"dimensions", req.Dimensions,
		"dry_run", req.DryRun,
	)
	return recordID, nil
}

// appendLine appends one JSON object line to the archive file, creating
// parent directories as needed.
func appendLine(path string, entry archiveEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("local: create archive directory: %w", err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("local: marshal archive entry: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("local: open archive: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("local: append archive entry: %w", err)
	}
	return nil
}
