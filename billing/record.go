// Package billing holds the adapter's persisted documents and the pure
// billing computations: the usage-record cache, the CSP status document,
// the billable-usage reduction and the volume-tier dimension mapping.
// Everything here is storage-agnostic; persistence happens through the
// narrow store interfaces each document declares.
package billing

import (
	"encoding/json"
	"fmt"

	"gitlab.com/tinyland/lab/csp-billing-adapter/internal/timeutil"
)

// reportingTimeKey is the one reserved key of a usage record's wire form;
// every other key is a metric value.
const reportingTimeKey = "reporting_time"

// UsageRecord is one sample from the sampling backend: the instant it was
// taken and an integer value per metric. Its wire form is flat, with the
// metric names as sibling keys of reporting_time:
//
//	{"reporting_time": "2024-01-02T03:04:05Z", "managed_node_count": 7}
type UsageRecord struct {
	ReportingTime timeutil.Time
	Metrics       map[string]int64
}

// Value returns the record's value for a metric, and whether the record
// carries that metric at all.
func (r UsageRecord) Value(metric string) (int64, bool) {
	v, ok := r.Metrics[metric]
	return v, ok
}

// MarshalJSON flattens the record into a single JSON object.
func (r UsageRecord) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(r.Metrics)+1)
	flat[reportingTimeKey] = r.ReportingTime
	for metric, value := range r.Metrics {
		if metric == reportingTimeKey {
			return nil, fmt.Errorf("billing: metric name %q is reserved", reportingTimeKey)
		}
		flat[metric] = value
	}
	return json.Marshal(flat)
}

// UnmarshalJSON reads the flat wire form back into the record.
func (r *UsageRecord) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return fmt.Errorf("billing: usage record: %w", err)
	}

	raw, ok := flat[reportingTimeKey]
	if !ok {
		return fmt.Errorf("billing: usage record missing %s", reportingTimeKey)
	}
	if err := json.Unmarshal(raw, &r.ReportingTime); err != nil {
		return err
	}

	r.Metrics = make(map[string]int64, len(flat)-1)
	for key, value := range flat {
		if key == reportingTimeKey {
			continue
		}
		var quantity int64
		if err := json.Unmarshal(value, &quantity); err != nil {
			return fmt.Errorf("billing: usage record metric %q: %w", key, err)
		}
		r.Metrics[key] = quantity
	}
	return nil
}
