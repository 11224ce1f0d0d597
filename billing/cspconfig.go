package billing

import (
	"context"
	"fmt"
	"time"

	"gitlab.com/tinyland/lab/csp-billing-adapter/internal/timeutil"
)

// maxStatusErrors bounds the errors list of the status document; only
// the most recent entries since the last success are retained.
const maxStatusErrors = 16

// StatusStore is the slice of the storage backend the CSP status
// document needs. A nil document from GetCSPConfig means the document
// does not exist yet.
type StatusStore interface {
	GetCSPConfig(ctx context.Context) (*CSPStatus, error)
	SaveCSPConfig(ctx context.Context, status *CSPStatus) error
}

// CSPStatus is the persisted status document a downstream consumer reads
// to judge billing health. Expire past now means the adapter stalled.
type CSPStatus struct {
	// BillingAPIAccessOK reflects the outcome of the most recent
	// metering attempt.
	BillingAPIAccessOK bool `json:"billing_api_access_ok"`

	// Timestamp is the time of the last successful metering attempt.
	Timestamp timeutil.Time `json:"timestamp"`

	// Expire is Timestamp plus the reporting interval.
	Expire timeutil.Time `json:"expire"`

	// Errors accumulates human-readable failures since the last
	// success, oldest first, bounded to maxStatusErrors entries.
	Errors []string `json:"errors"`

	// Usage is the billable-usage map of the most recent real bill.
	Usage map[string]int64 `json:"usage,omitempty"`

	// LastBilled is when that bill was submitted.
	LastBilled timeutil.Time `json:"last_billed,omitzero"`
}

// NewCSPStatus builds the initial status document: healthy, no errors,
// expiring one reporting interval from now.
func NewCSPStatus(now timeutil.Time, reportingInterval time.Duration) *CSPStatus {
	return &CSPStatus{
		BillingAPIAccessOK: true,
		Timestamp:          now,
		Expire:             now.Add(reportingInterval),
		Errors:             []string{},
	}
}

// CreateCSPStatus persists a fresh status document and returns it. Call
// it once, when no status document exists yet.
func CreateCSPStatus(ctx context.Context, store StatusStore, reportingInterval time.Duration) (*CSPStatus, error) {
	status := NewCSPStatus(timeutil.Now(), reportingInterval)
	if err := store.SaveCSPConfig(ctx, status); err != nil {
		return nil, &CSPConfigUpdateError{Err: err}
	}
	return status, nil
}

// StatusUpdate describes the outcome of one metering attempt.
type StatusUpdate struct {
	// OK indicates the attempt succeeded.
	OK bool

	// Now is the tick time of the attempt. A successful update stamps
	// the document with it so timestamp and expiry line up with the
	// cache deadlines regardless of submission latency. Zero falls back
	// to the wall clock.
	Now timeutil.Time

	// Error is appended to the document's error list when OK is false.
	Error string

	// Usage, when non-nil on a successful update, replaces the
	// document's billable-usage map.
	Usage map[string]int64

	// LastBilled, when set on a successful update, replaces the
	// document's last bill time.
	LastBilled timeutil.Time
}

// UpdateCSPStatus applies one metering outcome to the persisted status
// document. Success refreshes timestamp and expiry and clears the error
// list; failure appends the error and deliberately leaves timestamp and
// expiry alone so the document ages toward its expiry.
func UpdateCSPStatus(ctx context.Context, store StatusStore, reportingInterval time.Duration, update StatusUpdate) error {
	status, err := store.GetCSPConfig(ctx)
	if err != nil {
		return &CSPConfigUpdateError{Err: err}
	}
	if status == nil {
		return &CSPConfigUpdateError{Err: fmt.Errorf("csp config document does not exist")}
	}

	if update.OK {
		now := update.Now
		if now.IsZero() {
			now = timeutil.Now()
		}
		status.BillingAPIAccessOK = true
		status.Timestamp = now
		status.Expire = now.Add(reportingInterval)
		status.Errors = []string{}
		if update.Usage != nil {
			status.Usage = update.Usage
		}
		if !update.LastBilled.IsZero() {
			status.LastBilled = update.LastBilled
		}
	} else {
		status.BillingAPIAccessOK = false
		status.Errors = append(status.Errors, update.Error)
		if len(status.Errors) > maxStatusErrors {
			status.Errors = status.Errors[len(status.Errors)-maxStatusErrors:]
		}
	}

	if err := store.SaveCSPConfig(ctx, status); err != nil {
		return &CSPConfigUpdateError{Err: err}
	}
	return nil
}
