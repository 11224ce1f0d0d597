// Package backend defines the capability set the adapter core consumes
// from its pluggable collaborators, and the registry that binds named
// provider implementations at startup. Three capabilities exist: usage
// sampling, document storage, and metering submission.
package backend

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gitlab.com/tinyland/lab/csp-billing-adapter/billing"
	"gitlab.com/tinyland/lab/csp-billing-adapter/config"
	"gitlab.com/tinyland/lab/csp-billing-adapter/internal/timeutil"
)

// Sampler produces usage samples from the product being billed.
type Sampler interface {
	// Name returns the sampler's unique registry identifier.
	Name() string

	// Description returns a human-readable description of the sampler.
	Description() string

	// GetUsageData takes one sample: a record timestamped now with one
	// integer value per declared metric. Errors abort the current tick.
	GetUsageData(ctx context.Context, cfg *config.Config) (billing.UsageRecord, error)
}

// Storage persists the adapter's two documents durably across restarts.
// Get methods return a nil document, without error, when the document
// does not exist yet. The adapter is the only writer.
type Storage interface {
	// Name returns the storage backend's unique registry identifier.
	Name() string

	// Description returns a human-readable description of the backend.
	Description() string

	// SetupAdapter performs one-time initialisation (directories,
	// connections) before the event loop starts.
	SetupAdapter(ctx context.Context, cfg *config.Config) error

	GetCache(ctx context.Context) (*billing.Cache, error)
	SaveCache(ctx context.Context, cache *billing.Cache) error

	GetCSPConfig(ctx context.Context) (*billing.CSPStatus, error)
	SaveCSPConfig(ctx context.Context, status *billing.CSPStatus) error
}

// MeteringRequest is one submission to the CSP metering API.
type MeteringRequest struct {
	// RecordID is the caller-assigned idempotency token. Backends that
	// deduplicate do so on this id, which makes replaying a bill period
	// after a partial failure safe.
	RecordID string

	// Dimensions maps CSP dimension identifiers to quantities. A
	// heartbeat submits all zeros.
	Dimensions map[string]int64

	// Timestamp is the metering time reported to the CSP.
	Timestamp timeutil.Time

	// DryRun asks the backend to validate without charging.
	DryRun bool
}

// Meterer submits charges to a CSP marketplace metering API.
type Meterer interface {
	// Name returns the meterer's unique registry identifier.
	Name() string

	// Description returns a human-readable description of the meterer.
	Description() string

	// MeterBilling submits one metering request and returns the record
	// id identifying the accepted submission.
	MeterBilling(ctx context.Context, cfg *config.Config, req MeteringRequest) (string, error)
}

// Backends is the bound provider set the event loop runs against.
type Backends struct {
	Sampler Sampler
	Storage Storage
	Meterer Meterer
}

// Registry holds the known provider implementations by capability and
// name. Registering a name twice replaces the earlier provider.
type Registry struct {
	samplers map[string]Sampler
	storages map[string]Storage
	meterers map[string]Meterer
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		samplers: make(map[string]Sampler),
		storages: make(map[string]Storage),
		meterers: make(map[string]Meterer),
	}
}

// RegisterSampler adds a sampling backend to the registry.
func (r *Registry) RegisterSampler(s Sampler) {
	r.samplers[s.Name()] = s
}

// RegisterStorage adds a storage backend to the registry.
func (r *Registry) RegisterStorage(s Storage) {
	r.storages[s.Name()] = s
}

// RegisterMeterer adds a metering backend to the registry.
func (r *Registry) RegisterMeterer(m Meterer) {
	r.meterers[m.Name()] = m
}

// Bind resolves the provider names from the configuration into a
// Backends set. A missing provider is a fatal startup error.
func (r *Registry) Bind(cfg *config.Config) (*Backends, error) {
	sampler, ok := r.samplers[cfg.Backends.Sampler]
	if !ok {
		return nil, fmt.Errorf("backend: no sampler registered as %q (known: %s)",
			cfg.Backends.Sampler, knownNames(r.samplers))
	}

	storage, ok := r.storages[cfg.Backends.Storage]
	if !ok {
		return nil, fmt.Errorf("backend: no storage registered as %q (known: %s)",
			cfg.Backends.Storage, knownNames(r.storages))
	}

	meterer, ok := r.meterers[cfg.Backends.CSP]
	if !ok {
		return nil, fmt.Errorf("backend: no meterer registered as %q (known: %s)",
			cfg.Backends.CSP, knownNames(r.meterers))
	}

	return &Backends{Sampler: sampler, Storage: storage, Meterer: meterer}, nil
}

// knownNames renders a sorted, comma-separated list of registered names
// for error messages.
func knownNames[T any](providers map[string]T) string {
	if len(providers) == 0 {
		return "none"
	}
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
