package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/tinyland/lab/csp-billing-adapter/internal/timeutil"
)

// fakeStore is an in-memory CacheStore/StatusStore with injectable
// failures.
type fakeStore struct {
	cache  *Cache
	status *CSPStatus

	failGetCache  error
	failSaveCache error
	failGetStatus error
	failSaveStat  error
}

func (f *fakeStore) GetCache(ctx context.Context) (*Cache, error) {
	if f.failGetCache != nil {
		return nil, f.failGetCache
	}
	return f.cache, nil
}

func (f *fakeStore) SaveCache(ctx context.Context, cache *Cache) error {
	if f.failSaveCache != nil {
		return f.failSaveCache
	}
	f.cache = cache
	return nil
}

func (f *fakeStore) GetCSPConfig(ctx context.Context) (*CSPStatus, error) {
	if f.failGetStatus != nil {
		return nil, f.failGetStatus
	}
	return f.status, nil
}

func (f *fakeStore) SaveCSPConfig(ctx context.Context, status *CSPStatus) error {
	if f.failSaveStat != nil {
		return f.failSaveStat
	}
	f.status = status
	return nil
}

func record(at timeutil.Time, metrics map[string]int64) UsageRecord {
	return UsageRecord{ReportingTime: at, Metrics: metrics}
}

func TestNewCache(t *testing.T) {
	now := ts(t, "2024-01-01T00:00:00Z")
	cache := NewCache(now, time.Hour, 5*time.Minute)

	assert.True(t, cache.AdapterStartTime.Equal(now))
	assert.Equal(t, "2024-01-01T01:00:00Z", cache.NextBillTime.String())
	assert.Equal(t, "2024-01-01T00:05:00Z", cache.NextReportingTime.String())
	assert.Empty(t, cache.UsageRecords)
	assert.Nil(t, cache.LastBill)
}

func TestCreateCachePersists(t *testing.T) {
	store := &fakeStore{}

	cache, err := CreateCache(context.Background(), store, time.Hour, 5*time.Minute)
	require.NoError(t, err)
	assert.Same(t, cache, store.cache)
}

func TestAddUsageRecord(t *testing.T) {
	ctx := context.Background()

	t.Run("appends in order", func(t *testing.T) {
		store := &fakeStore{cache: NewCache(timeutil.Now(), time.Hour, 5*time.Minute)}

		first := record(timeutil.Now(), map[string]int64{"nodes": 1})
		second := record(timeutil.Now(), map[string]int64{"nodes": 2})

		require.NoError(t, AddUsageRecord(ctx, store, first))
		require.NoError(t, AddUsageRecord(ctx, store, second))

		require.Len(t, store.cache.UsageRecords, 2)
		assert.EqualValues(t, 1, store.cache.UsageRecords[0].Metrics["nodes"])
		assert.EqualValues(t, 2, store.cache.UsageRecords[1].Metrics["nodes"])
	})

	t.Run("missing cache document", func(t *testing.T) {
		store := &fakeStore{}
		err := AddUsageRecord(ctx, store, record(timeutil.Now(), nil))

		var cue *CacheUpdateError
		require.ErrorAs(t, err, &cue)
		assert.True(t, IsAdapterError(err))
	})

	t.Run("save failure is not committed", func(t *testing.T) {
		store := &fakeStore{
			cache:         NewCache(timeutil.Now(), time.Hour, 5*time.Minute),
			failSaveCache: errors.New("disk full"),
		}

		err := AddUsageRecord(ctx, store, record(timeutil.Now(), map[string]int64{"nodes": 1}))

		var cue *CacheUpdateError
		require.ErrorAs(t, err, &cue)
		assert.ErrorContains(t, err, "disk full")
	})
}

func TestSplitRecords(t *testing.T) {
	start := ts(t, "2024-01-01T00:00:00Z")
	cache := NewCache(start, time.Hour, 5*time.Minute)

	before := record(start.Add(-time.Minute), map[string]int64{"nodes": 9})
	inA := record(start.Add(10*time.Minute), map[string]int64{"nodes": 4})
	inB := record(start.Add(50*time.Minute), map[string]int64{"nodes": 6})
	atBoundary := record(cache.NextBillTime, map[string]int64{"nodes": 15})
	after := record(cache.NextBillTime.Add(time.Minute), map[string]int64{"nodes": 16})

	cache.UsageRecords = []UsageRecord{before, inA, inB, atBoundary, after}

	inScope, remainder := cache.SplitRecords()

	// Pre-start records belong to neither set; boundary records belong
	// to the next period.
	require.Len(t, inScope, 2)
	assert.EqualValues(t, 4, inScope[0].Metrics["nodes"])
	assert.EqualValues(t, 6, inScope[1].Metrics["nodes"])

	require.Len(t, remainder, 2)
	assert.EqualValues(t, 15, remainder[0].Metrics["nodes"])
	assert.EqualValues(t, 16, remainder[1].Metrics["nodes"])
}
