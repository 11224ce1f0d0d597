package billing

import (
	"errors"
	"fmt"
)

// AdapterError is implemented by every error belonging to the adapter's
// billing domain. The process maps escaped adapter errors to exit code 2,
// anything else to exit code 1.
type AdapterError interface {
	error
	adapterError()
}

// IsAdapterError reports whether any error in err's chain is a billing
// domain error.
func IsAdapterError(err error) bool {
	var ae AdapterError
	return errors.As(err, &ae)
}

// CacheUpdateError reports a failure to persist the usage-record cache.
// A sample covered by this error is not committed and must not be
// treated as recorded.
type CacheUpdateError struct {
	Err error
}

func (e *CacheUpdateError) Error() string {
	return fmt.Sprintf("usage cache update failed: %v", e.Err)
}

func (e *CacheUpdateError) Unwrap() error { return e.Err }

func (e *CacheUpdateError) adapterError() {}

// CSPConfigUpdateError reports a failure to persist the CSP status
// document.
type CSPConfigUpdateError struct {
	Err error
}

func (e *CSPConfigUpdateError) Error() string {
	return fmt.Sprintf("csp config update failed: %v", e.Err)
}

func (e *CSPConfigUpdateError) Unwrap() error { return e.Err }

func (e *CSPConfigUpdateError) adapterError() {}

// SubmissionError reports a metering backend failure. The pipeline
// records it in the CSP status document and retries on the next tick;
// it never escapes the event loop.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("metering submission failed: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

func (e *SubmissionError) adapterError() {}

// NoMatchingDimensionError reports a billable quantity that no declared
// volume tier of its metric contains. It indicates a tier gap in the
// configuration and is surfaced as a submission failure without
// contacting the metering backend.
type NoMatchingDimensionError struct {
	Metric string
	Value  int64
}

func (e *NoMatchingDimensionError) Error() string {
	return fmt.Sprintf("no matching volume dimension for metric %q with value %d", e.Metric, e.Value)
}

func (e *NoMatchingDimensionError) adapterError() {}
