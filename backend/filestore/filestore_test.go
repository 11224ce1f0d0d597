package filestore

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gitlab.com/tinyland/lab/csp-billing-adapter/billing"
	"gitlab.com/tinyland/lab/csp-billing-adapter/config"
	"gitlab.com/tinyland/lab/csp-billing-adapter/internal/timeutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "state")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s := New(dir, logger)
	if err := s.SetupAdapter(context.Background(), config.DefaultConfig()); err != nil {
		t.Fatalf("SetupAdapter: %v", err)
	}
	return s
}

func TestMissingDocumentsReturnNil(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cache, err := s.GetCache(ctx)
	if err != nil {
		t.Fatalf("GetCache: %v", err)
	}
	if cache != nil {
		t.Error("expected nil cache before first save")
	}

	status, err := s.GetCSPConfig(ctx)
	if err != nil {
		t.Fatalf("GetCSPConfig: %v", err)
	}
	if status != nil {
		t.Error("expected nil status before first save")
	}
}

func TestCacheRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := timeutil.Now()
	original := billing.NewCache(now, time.Hour, 5*time.Minute)
	original.UsageRecords = append(original.UsageRecords, billing.UsageRecord{
		ReportingTime: now,
		Metrics:       map[string]int64{"managed_node_count": 3},
	})
	original.LastBill = &billing.LastBill{
		Dimensions:   map[string]int64{"base": 3},
		MeteringTime: now,
		RecordID:     "rid-1",
	}

	if err := s.SaveCache(ctx, original); err != nil {
		t.Fatalf("SaveCache: %v", err)
	}

	got, err := s.GetCache(ctx)
	if err != nil {
		t.Fatalf("GetCache: %v", err)
	}
	if got == nil {
		t.Fatal("expected cache document")
	}
	if !got.AdapterStartTime.Equal(original.AdapterStartTime) {
		t.Errorf("AdapterStartTime mismatch: %s vs %s", got.AdapterStartTime, original.AdapterStartTime)
	}
	if !got.NextBillTime.Equal(original.NextBillTime) {
		t.Errorf("NextBillTime mismatch")
	}
	if len(got.UsageRecords) != 1 || got.UsageRecords[0].Metrics["managed_node_count"] != 3 {
		t.Errorf("usage records did not round-trip: %+v", got.UsageRecords)
	}
	if got.LastBill == nil || got.LastBill.RecordID != "rid-1" {
		t.Errorf("last bill did not round-trip: %+v", got.LastBill)
	}
}

func TestCSPConfigRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	original := billing.NewCSPStatus(timeutil.Now(), 5*time.Minute)
	original.Usage = map[string]int64{"managed_node_count": 2}
	original.Errors = []string{"transient failure"}

	if err := s.SaveCSPConfig(ctx, original); err != nil {
		t.Fatalf("SaveCSPConfig: %v", err)
	}

	got, err := s.GetCSPConfig(ctx)
	if err != nil {
		t.Fatalf("GetCSPConfig: %v", err)
	}
	if got == nil {
		t.Fatal("expected status document")
	}
	if !got.BillingAPIAccessOK {
		t.Error("BillingAPIAccessOK did not round-trip")
	}
	if !got.Expire.Equal(got.Timestamp.Add(5 * time.Minute)) {
		t.Error("expire did not round-trip relative to timestamp")
	}
	if len(got.Errors) != 1 || got.Errors[0] != "transient failure" {
		t.Errorf("errors did not round-trip: %v", got.Errors)
	}
}

func TestCorruptDocumentIsAnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	path := filepath.Join(s.dir, cacheFile)
	if err := os.WriteFile(path, []byte("{truncated"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := s.GetCache(ctx)
	if err == nil {
		t.Fatal("expected error for corrupt cache document")
	}
	if !strings.Contains(err.Error(), "corrupt") {
		t.Errorf("error should flag corruption: %v", err)
	}

	// The corrupt file must still be there for operator inspection.
	if _, statErr := os.Stat(path); statErr != nil {
		t.Errorf("corrupt document should not be removed: %v", statErr)
	}
}

func TestWriteIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveCache(ctx, billing.NewCache(timeutil.Now(), time.Hour, time.Minute)); err != nil {
		t.Fatalf("SaveCache: %v", err)
	}

	// No temp files may survive a completed write.
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("leftover temp file: %s", e.Name())
		}
	}
}

func TestFilePermissions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveCSPConfig(ctx, billing.NewCSPStatus(timeutil.Now(), time.Minute)); err != nil {
		t.Fatalf("SaveCSPConfig: %v", err)
	}

	info, err := os.Stat(filepath.Join(s.dir, cspConfigFile))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected file permissions 0600, got %04o", perm)
	}

	dirInfo, err := os.Stat(s.dir)
	if err != nil {
		t.Fatalf("Stat dir: %v", err)
	}
	if perm := dirInfo.Mode().Perm(); perm != 0700 {
		t.Errorf("expected directory permissions 0700, got %04o", perm)
	}
}
