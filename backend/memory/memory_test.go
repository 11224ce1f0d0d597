package memory

import (
	"context"
	"testing"
	"time"

	"gitlab.com/tinyland/lab/csp-billing-adapter/billing"
	"gitlab.com/tinyland/lab/csp-billing-adapter/internal/timeutil"
)

func TestEmptyStoreReturnsNil(t *testing.T) {
	s := New()
	ctx := context.Background()

	cache, err := s.GetCache(ctx)
	if err != nil || cache != nil {
		t.Errorf("GetCache = %v, %v; want nil, nil", cache, err)
	}

	status, err := s.GetCSPConfig(ctx)
	if err != nil || status != nil {
		t.Errorf("GetCSPConfig = %v, %v; want nil, nil", status, err)
	}
}

func TestRoundTripIsolation(t *testing.T) {
	s := New()
	ctx := context.Background()

	original := billing.NewCache(timeutil.Now(), time.Hour, time.Minute)
	original.UsageRecords = append(original.UsageRecords, billing.UsageRecord{
		ReportingTime: timeutil.Now(),
		Metrics:       map[string]int64{"nodes": 1},
	})

	if err := s.SaveCache(ctx, original); err != nil {
		t.Fatalf("SaveCache: %v", err)
	}

	// Mutating the caller's document after save must not leak in.
	original.UsageRecords[0].Metrics["nodes"] = 99

	got, err := s.GetCache(ctx)
	if err != nil {
		t.Fatalf("GetCache: %v", err)
	}
	if got.UsageRecords[0].Metrics["nodes"] != 1 {
		t.Error("stored document aliased the caller's document")
	}

	// Mutating a returned document must not leak back either.
	got.UsageRecords[0].Metrics["nodes"] = 42
	again, err := s.GetCache(ctx)
	if err != nil {
		t.Fatalf("GetCache: %v", err)
	}
	if again.UsageRecords[0].Metrics["nodes"] != 1 {
		t.Error("returned document aliased the stored document")
	}
}

func TestStatusRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	status := billing.NewCSPStatus(timeutil.Now(), time.Minute)
	status.Errors = []string{"first"}

	if err := s.SaveCSPConfig(ctx, status); err != nil {
		t.Fatalf("SaveCSPConfig: %v", err)
	}

	got, err := s.GetCSPConfig(ctx)
	if err != nil {
		t.Fatalf("GetCSPConfig: %v", err)
	}
	if len(got.Errors) != 1 || got.Errors[0] != "first" {
		t.Errorf("errors did not round-trip: %v", got.Errors)
	}
}
