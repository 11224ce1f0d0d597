// Package timeutil provides the shared timestamp representation and the
// bill-period arithmetic used across the adapter. All timestamps are UTC
// instants at second precision with a fixed ISO-8601 textual form, so the
// persisted documents compare and round-trip bytewise.
package timeutil

import (
	"fmt"
	"time"
)

// Layout is the wire format for every persisted timestamp.
const Layout = "2006-01-02T15:04:05Z"

// Time is a UTC timestamp truncated to whole seconds. The zero value
// marshals to null and reports IsZero.
type Time struct {
	time.Time
}

// From converts a stdlib time.Time into the adapter representation,
// normalising to UTC and dropping sub-second precision.
func From(t time.Time) Time {
	return Time{t.UTC().Truncate(time.Second)}
}

// Now returns the current instant in the adapter representation.
func Now() Time {
	return From(time.Now())
}

// Parse reads a timestamp in the fixed wire format.
func Parse(s string) (Time, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return Time{}, fmt.Errorf("timeutil: parse %q: %w", s, err)
	}
	return From(t), nil
}

// String renders the timestamp in the fixed wire format.
func (t Time) String() string {
	return t.UTC().Format(Layout)
}

// Add returns the timestamp shifted by d.
func (t Time) Add(d time.Duration) Time {
	return From(t.Time.Add(d))
}

// Before reports whether t is strictly earlier than u.
func (t Time) Before(u Time) bool {
	return t.Time.Before(u.Time)
}

// After reports whether t is strictly later than u.
func (t Time) After(u Time) bool {
	return t.Time.After(u.Time)
}

// Equal reports whether t and u denote the same instant.
func (t Time) Equal(u Time) bool {
	return t.Time.Equal(u.Time)
}

// MarshalJSON encodes the timestamp as a JSON string in the wire format.
// The zero value encodes as null so optional fields stay absent-looking.
func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON decodes a JSON string in the wire format, or null into the
// zero value.
func (t *Time) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		*t = Time{}
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("timeutil: timestamp is not a JSON string: %s", s)
	}
	parsed, err := Parse(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// NextBillTime returns the end of the bill period starting at t.
func NextBillTime(t Time, billingInterval time.Duration) Time {
	return t.Add(billingInterval)
}

// PrevBillTime returns the start of the bill period ending at t.
func PrevBillTime(t Time, billingInterval time.Duration) Time {
	return t.Add(-billingInterval)
}
