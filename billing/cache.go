package billing

import (
	"context"
	"fmt"
	"time"

	"gitlab.com/tinyland/lab/csp-billing-adapter/internal/timeutil"
)

// CacheStore is the slice of the storage backend the cache document
// needs. A nil document from GetCache means the document does not exist
// yet.
type CacheStore interface {
	GetCache(ctx context.Context) (*Cache, error)
	SaveCache(ctx context.Context, cache *Cache) error
}

// Cache is the persisted usage-record cache. It accumulates unbilled
// samples and carries the deadlines the metering pipeline steers by.
type Cache struct {
	// AdapterStartTime is set once when the document is first created
	// and never mutated afterwards.
	AdapterStartTime timeutil.Time `json:"adapter_start_time"`

	// NextBillTime is the end of the current bill period. It only moves
	// forward, and only as a side effect of a successful real bill.
	NextBillTime timeutil.Time `json:"next_bill_time"`

	// NextReportingTime is the next heartbeat deadline. It advances on
	// every successful metering operation, real or heartbeat.
	NextReportingTime timeutil.Time `json:"next_reporting_time"`

	// UsageRecords holds the unbilled samples in insertion order.
	UsageRecords []UsageRecord `json:"usage_records"`

	// LastBill summarises the most recent successful real bill. Nil
	// until the first bill; never cleared afterwards.
	LastBill *LastBill `json:"last_bill,omitempty"`
}

// LastBill records what the most recent real bill submitted.
type LastBill struct {
	Dimensions   map[string]int64 `json:"dimensions"`
	MeteringTime timeutil.Time    `json:"metering_time"`
	RecordID     string           `json:"record_id"`
}

// NewCache builds the initial cache document for an adapter starting at
// now.
func NewCache(now timeutil.Time, billingInterval, reportingInterval time.Duration) *Cache {
	return &Cache{
		AdapterStartTime:  now,
		NextBillTime:      timeutil.NextBillTime(now, billingInterval),
		NextReportingTime: now.Add(reportingInterval),
		UsageRecords:      []UsageRecord{},
	}
}

// CreateCache persists a fresh cache document and returns it. Call it
// once, when no cache exists yet.
func CreateCache(ctx context.Context, store CacheStore, billingInterval, reportingInterval time.Duration) (*Cache, error) {
	cache := NewCache(timeutil.Now(), billingInterval, reportingInterval)
	if err := store.SaveCache(ctx, cache); err != nil {
		return nil, &CacheUpdateError{Err: err}
	}
	return cache, nil
}

// AddUsageRecord appends one sample to the persisted cache, preserving
// insertion order. The append is atomic at document granularity: on
// error the sample is not committed and the caller must not treat it as
// recorded.
func AddUsageRecord(ctx context.Context, store CacheStore, record UsageRecord) error {
	cache, err := store.GetCache(ctx)
	if err != nil {
		return &CacheUpdateError{Err: err}
	}
	if cache == nil {
		return &CacheUpdateError{Err: fmt.Errorf("cache document does not exist")}
	}

	cache.UsageRecords = append(cache.UsageRecords, record)
	if err := store.SaveCache(ctx, cache); err != nil {
		return &CacheUpdateError{Err: err}
	}
	return nil
}

// SplitRecords partitions the cached records around the closing bill
// period. In-scope records fall before end and not before start; the
// remainder holds records at or past end, which belong to the next
// period and survive a bill. Records older than start (possible only
// through a restored foreign cache) land in neither set.
func (c *Cache) SplitRecords() (inScope, remainder []UsageRecord) {
	for _, record := range c.UsageRecords {
		switch {
		case !record.ReportingTime.Before(c.NextBillTime):
			remainder = append(remainder, record)
		case !record.ReportingTime.Before(c.AdapterStartTime):
			inScope = append(inScope, record)
		}
	}
	return inScope, remainder
}
