// Package retry provides a circuit breaker that wraps a metering backend.
// When submissions fail repeatedly, the breaker "opens" and fails fast
// for increasing intervals, so a down CSP endpoint is not hammered on
// every tick. An open breaker surfaces through the normal
// submission-failure path and the pipeline retries once it half-opens.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"gitlab.com/tinyland/lab/csp-billing-adapter/backend"
	"gitlab.com/tinyland/lab/csp-billing-adapter/config"
)

// Compile-time check: Breaker satisfies the Meterer interface.
var _ backend.Meterer = (*Breaker)(nil)

// ErrCircuitOpen is returned when the breaker rejects a submission
// without contacting the backend.
var ErrCircuitOpen = errors.New("metering circuit open")

// State represents the circuit breaker state.
type State int

const (
	// StateClosed is normal operation; submissions pass through.
	StateClosed State = iota
	// StateOpen means failures exceeded the threshold; submissions fail fast.
	StateOpen
	// StateHalfOpen is a probe state testing whether the backend has recovered.
	StateHalfOpen
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Config configures the circuit breaker behavior.
type Config struct {
	// MaxFailures is the number of consecutive failures before opening the circuit.
	MaxFailures int
	// ResetTimeout is the initial wait before transitioning from Open to HalfOpen.
	ResetTimeout time.Duration
	// MaxResetTimeout caps the exponential backoff.
	MaxResetTimeout time.Duration
	// BackoffMultiplier is the factor by which ResetTimeout grows on each re-open.
	BackoffMultiplier float64
	// Logger for breaker events. Nil is safe (a discard logger is used).
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		MaxFailures:       3,
		ResetTimeout:      1 * time.Minute,
		MaxResetTimeout:   30 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// Breaker wraps a backend.Meterer with failure tracking and automatic
// circuit opening/closing.
type Breaker struct {
	meterer backend.Meterer
	config  Config
	logger  *slog.Logger

	mu             sync.Mutex
	state          State
	failures       int
	lastFailure    time.Time
	currentTimeout time.Duration
}

// NewBreaker wraps a meterer with circuit breaker logic. If cfg.Logger
// is nil, a discard logger is used.
func NewBreaker(m backend.Meterer, cfg Config) *Breaker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Breaker{
		meterer:        m,
		config:         cfg,
		logger:         logger,
		state:          StateClosed,
		currentTimeout: cfg.ResetTimeout,
	}
}

// Name delegates to the wrapped meterer.
func (b *Breaker) Name() string {
	return b.meterer.Name()
}

// Description delegates to the wrapped meterer, appending the circuit state.
func (b *Breaker) Description() string {
	b.mu.Lock()
	state := b.state
	b.mu.Unlock()
	return fmt.Sprintf("%s [circuit: %s]", b.meterer.Description(), state)
}

// MeterBilling checks the circuit state and either submits through the
// wrapped meterer or fails fast with ErrCircuitOpen.
func (b *Breaker) MeterBilling(ctx context.Context, cfg *config.Config, req backend.MeteringRequest) (string, error) {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return b.submit(ctx, cfg, req, false)

	case StateOpen:
		elapsed := time.Since(b.lastFailure)
		if elapsed < b.currentTimeout {
			remaining := b.currentTimeout - elapsed
			failures := b.failures
			b.mu.Unlock()

			b.logger.Info("circuit open, rejecting submission",
				"backend", b.meterer.Name(),
				"failures", failures,
				"retry_in", remaining.Truncate(time.Second),
			)
			return "", fmt.Errorf("%w: retry in %s", ErrCircuitOpen, remaining.Truncate(time.Second))
		}

		// Timeout elapsed, probe the backend.
		b.state = StateHalfOpen
		b.logger.Info("circuit transitioning to half-open", "backend", b.meterer.Name())
		b.mu.Unlock()
		return b.submit(ctx, cfg, req, true)

	case StateHalfOpen:
		b.mu.Unlock()
		return b.submit(ctx, cfg, req, true)

	default:
		b.mu.Unlock()
		return "", fmt.Errorf("circuit in unknown state: %d", b.state)
	}
}

// submit runs the wrapped meterer and records the outcome. In probe mode
// a failure re-opens the circuit with backoff instead of counting toward
// the threshold.
func (b *Breaker) submit(ctx context.Context, cfg *config.Config, req backend.MeteringRequest, probe bool) (string, error) {
	recordID, err := b.meterer.MeterBilling(ctx, cfg, req)
	if err != nil {
		if probe {
			b.reopen()
		} else {
			b.recordFailure()
		}
		return recordID, err
	}

	b.recordSuccess(probe)
	return recordID, nil
}

// reopen re-opens the circuit after a failed half-open probe, growing
// the timeout with backoff up to the cap.
func (b *Breaker) reopen() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	b.currentTimeout = time.Duration(float64(b.currentTimeout) * b.config.BackoffMultiplier)
	if b.currentTimeout > b.config.MaxResetTimeout {
		b.currentTimeout = b.config.MaxResetTimeout
	}

	b.state = StateOpen
	b.logger.Warn("circuit re-opened after failed probe",
		"backend", b.meterer.Name(),
		"failures", b.failures,
		"next_timeout", b.currentTimeout,
	)
}

// recordFailure counts a closed-state failure and opens the circuit at
// the threshold.
func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	if b.failures >= b.config.MaxFailures {
		b.state = StateOpen
		b.currentTimeout = b.config.ResetTimeout
		b.logger.Warn("circuit opened",
			"backend", b.meterer.Name(),
			"failures", b.failures,
			"timeout", b.currentTimeout,
		)
	}
}

// recordSuccess closes the circuit and clears the failure count.
func (b *Breaker) recordSuccess(probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.logger.Info("circuit closed after successful probe", "backend", b.meterer.Name())
	}
	b.state = StateClosed
	b.failures = 0
	b.currentTimeout = b.config.ResetTimeout
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
