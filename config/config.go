// Package config provides configuration parsing for the CSP billing adapter.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported usage_aggregate values.
const (
	// AggregateAverage reduces a bill period to the integer mean of the
	// sampled values, truncated toward zero.
	AggregateAverage = "average"
	// AggregateMaximum reduces a bill period to the largest sampled value.
	AggregateMaximum = "maximum"
)

// ConsumptionVolume is the only supported consumption_reporting model:
// the billable quantity resolves to a single volume tier dimension.
const ConsumptionVolume = "volume"

// Config represents the adapter configuration. It is immutable for the
// lifetime of a run.
type Config struct {
	// QueryInterval is the number of seconds between event loop ticks.
	QueryInterval int `yaml:"query_interval"`

	// ReportingInterval is the number of seconds between liveness
	// heartbeats when no bill is due.
	ReportingInterval int `yaml:"reporting_interval"`

	// BillingInterval is the length of a bill period in seconds.
	BillingInterval int `yaml:"billing_interval"`

	// UsageMetrics maps each metric name to its aggregation and tier setup.
	UsageMetrics map[string]MetricConfig `yaml:"usage_metrics"`

	// Backends names the provider bound for each capability at startup.
	Backends BackendsConfig `yaml:"backends"`

	// Storage holds settings for the storage backend.
	Storage StorageConfig `yaml:"storage"`

	// Sampler holds settings for the sampling backend.
	Sampler SamplerConfig `yaml:"sampler"`

	// CSP holds settings for the metering backend.
	CSP CSPConfig `yaml:"csp"`
}

// MetricConfig describes how one usage metric is billed.
type MetricConfig struct {
	// UsageAggregate selects the period reduction: "average" or "maximum".
	UsageAggregate string `yaml:"usage_aggregate"`

	// ConsumptionReporting is the reporting model; only "volume" is supported.
	ConsumptionReporting string `yaml:"consumption_reporting"`

	// Dimensions is the ordered sequence of volume tiers for this metric.
	Dimensions []Tier `yaml:"dimensions"`
}

// Tier is one price bucket of a metric. A billable quantity resolves to
// the first declared tier whose [Minimum, Maximum] range contains it.
type Tier struct {
	// Dimension is the CSP dimension identifier billed for this tier.
	Dimension string `yaml:"dimension"`

	// Minimum is the inclusive lower bound of the tier.
	Minimum int64 `yaml:"minimum"`

	// Maximum is the inclusive upper bound. Nil means unbounded above.
	Maximum *int64 `yaml:"maximum"`
}

// Contains reports whether quantity falls inside the tier's range.
func (t Tier) Contains(quantity int64) bool {
	if quantity < t.Minimum {
		return false
	}
	return t.Maximum == nil || quantity <= *t.Maximum
}

// BackendsConfig names the provider implementation bound for each
// capability. Unknown names are a fatal startup error.
type BackendsConfig struct {
	// Sampler is the usage sampling backend name (e.g. "local").
	Sampler string `yaml:"sampler"`
	// Storage is the document storage backend name ("file" or "memory").
	Storage string `yaml:"storage"`
	// CSP is the metering submission backend name (e.g. "local").
	CSP string `yaml:"csp"`
}

// StorageConfig holds settings for the storage backend.
type StorageConfig struct {
	// Directory is where the file storage backend keeps its documents.
	Directory string `yaml:"directory"`
}

// SamplerConfig holds settings for the sampling backend.
type SamplerConfig struct {
	// Metrics gives the static per-metric values reported by the local
	// sampler. Metrics declared in usage_metrics but absent here default
	// to zero.
	Metrics map[string]int64 `yaml:"metrics"`
}

// CSPConfig holds settings for the metering backend.
type CSPConfig struct {
	// ArchiveFile is where the local meterer appends submissions, one
	// JSON object per line. Empty selects a file inside storage.directory.
	ArchiveFile string `yaml:"archive_file"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		QueryInterval:     60,
		ReportingInterval: 300,
		BillingInterval:   3600,
		UsageMetrics:      map[string]MetricConfig{},
		Backends: BackendsConfig{
			Sampler: "local",
			Storage: "file",
			CSP:     "local",
		},
		Storage: StorageConfig{
			Directory: "/var/lib/csp-billing-adapter",
		},
	}
}

// LoadConfig loads configuration from a YAML file, merging with defaults.
// A missing file is an error: the adapter must not silently bill with
// default metric definitions.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return config, nil
}

// QueryPeriod returns the tick interval as a duration.
func (c *Config) QueryPeriod() time.Duration {
	return time.Duration(c.QueryInterval) * time.Second
}

// ReportingPeriod returns the heartbeat interval as a duration.
func (c *Config) ReportingPeriod() time.Duration {
	return time.Duration(c.ReportingInterval) * time.Second
}

// BillingPeriod returns the bill period length as a duration.
func (c *Config) BillingPeriod() time.Duration {
	return time.Duration(c.BillingInterval) * time.Second
}

// Validate checks the configuration for required fields and logical
// consistency. Violations here are fatal at startup.
func (c *Config) Validate() error {
	if c.QueryInterval <= 0 {
		return fmt.Errorf("query_interval must be positive, got %d", c.QueryInterval)
	}
	if c.ReportingInterval <= 0 {
		return fmt.Errorf("reporting_interval must be positive, got %d", c.ReportingInterval)
	}
	if c.BillingInterval <= 0 {
		return fmt.Errorf("billing_interval must be positive, got %d", c.BillingInterval)
	}
	if c.BillingInterval < c.ReportingInterval {
		return fmt.Errorf("billing_interval (%d) must not be shorter than reporting_interval (%d)",
			c.BillingInterval, c.ReportingInterval)
	}

	if len(c.UsageMetrics) == 0 {
		return fmt.Errorf("usage_metrics must declare at least one metric")
	}

	for name, metric := range c.UsageMetrics {
		if metric.UsageAggregate != AggregateAverage && metric.UsageAggregate != AggregateMaximum {
			return fmt.Errorf("usage_metrics.%s.usage_aggregate must be %q or %q, got %q",
				name, AggregateAverage, AggregateMaximum, metric.UsageAggregate)
		}
		if metric.ConsumptionReporting != ConsumptionVolume {
			return fmt.Errorf("usage_metrics.%s.consumption_reporting must be %q, got %q",
				name, ConsumptionVolume, metric.ConsumptionReporting)
		}
		if len(metric.Dimensions) == 0 {
			return fmt.Errorf("usage_metrics.%s.dimensions must declare at least one tier", name)
		}

		for i, tier := range metric.Dimensions {
			if tier.Dimension == "" {
				return fmt.Errorf("usage_metrics.%s.dimensions[%d].dimension is required", name, i)
			}
			if tier.Minimum < 0 {
				return fmt.Errorf("usage_metrics.%s.dimensions[%d].minimum must be non-negative, got %d",
					name, i, tier.Minimum)
			}
			if tier.Maximum != nil && *tier.Maximum < tier.Minimum {
				return fmt.Errorf("usage_metrics.%s.dimensions[%d]: maximum %d below minimum %d",
					name, i, *tier.Maximum, tier.Minimum)
			}
			if i > 0 {
				prev := metric.Dimensions[i-1]
				if prev.Maximum == nil {
					return fmt.Errorf("usage_metrics.%s.dimensions[%d]: tier %q is unreachable after unbounded tier %q",
						name, i, tier.Dimension, prev.Dimension)
				}
				if tier.Minimum <= *prev.Maximum {
					return fmt.Errorf("usage_metrics.%s.dimensions[%d]: tier %q overlaps tier %q",
						name, i, tier.Dimension, prev.Dimension)
				}
			}
		}
	}

	if c.Backends.Sampler == "" || c.Backends.Storage == "" || c.Backends.CSP == "" {
		return fmt.Errorf("backends.sampler, backends.storage and backends.csp are all required")
	}

	if c.Backends.Storage == "file" && c.Storage.Directory == "" {
		return fmt.Errorf("storage.directory is required for the file storage backend")
	}

	return nil
}

// Warnings reports configuration oddities that are legal but likely
// mistakes: tier ranges that do not cover [0, inf) and a billing interval
// that is not a whole multiple of the reporting interval.
func (c *Config) Warnings() []string {
	var warnings []string

	for name, metric := range c.UsageMetrics {
		tiers := metric.Dimensions
		if len(tiers) == 0 {
			continue
		}
		if tiers[0].Minimum > 0 {
			warnings = append(warnings, fmt.Sprintf(
				"usage_metrics.%s: first tier starts at %d; quantities below it (including heartbeat zeros) cannot be billed",
				name, tiers[0].Minimum))
		}
		for i := 1; i < len(tiers); i++ {
			prev := tiers[i-1]
			if prev.Maximum != nil && tiers[i].Minimum > *prev.Maximum+1 {
				warnings = append(warnings, fmt.Sprintf(
					"usage_metrics.%s: gap between tiers %q and %q (%d..%d uncovered)",
					name, prev.Dimension, tiers[i].Dimension, *prev.Maximum+1, tiers[i].Minimum-1))
			}
		}
		if last := tiers[len(tiers)-1]; last.Maximum != nil {
			warnings = append(warnings, fmt.Sprintf(
				"usage_metrics.%s: last tier %q is bounded at %d; larger quantities cannot be billed",
				name, last.Dimension, *last.Maximum))
		}
	}

	if c.ReportingInterval > 0 && c.BillingInterval%c.ReportingInterval != 0 {
		warnings = append(warnings, fmt.Sprintf(
			"billing_interval (%d) is not a whole multiple of reporting_interval (%d)",
			c.BillingInterval, c.ReportingInterval))
	}

	return warnings
}

// ArchivePath returns the local meterer archive file, defaulting to a
// file inside the storage directory.
func (c *Config) ArchivePath() string {
	if c.CSP.ArchiveFile != "" {
		return c.CSP.ArchiveFile
	}
	return filepath.Join(c.Storage.Directory, "metering_archive.jsonl")
}
