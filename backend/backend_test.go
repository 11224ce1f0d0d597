package backend

import (
	"context"
	"strings"
	"testing"

	"gitlab.com/tinyland/lab/csp-billing-adapter/billing"
	"gitlab.com/tinyland/lab/csp-billing-adapter/config"
)

type stubSampler struct{ name string }

func (s stubSampler) Name() string        { return s.name }
func (s stubSampler) Description() string { return "stub sampler" }
func (s stubSampler) GetUsageData(ctx context.Context, cfg *config.Config) (billing.UsageRecord, error) {
	return billing.UsageRecord{}, nil
}

type stubStorage struct{ name string }

func (s stubStorage) Name() string        { return s.name }
func (s stubStorage) Description() string { return "stub storage" }
func (s stubStorage) SetupAdapter(ctx context.Context, cfg *config.Config) error { return nil }
func (s stubStorage) GetCache(ctx context.Context) (*billing.Cache, error)       { return nil, nil }
func (s stubStorage) SaveCache(ctx context.Context, cache *billing.Cache) error  { return nil }
func (s stubStorage) GetCSPConfig(ctx context.Context) (*billing.CSPStatus, error) {
	return nil, nil
}
func (s stubStorage) SaveCSPConfig(ctx context.Context, status *billing.CSPStatus) error {
	return nil
}

type stubMeterer struct{ name string }

func (m stubMeterer) Name() string        { return m.name }
func (m stubMeterer) Description() string { return "stub meterer" }
func (m stubMeterer) MeterBilling(ctx context.Context, cfg *config.Config, req MeteringRequest) (string, error) {
	return req.RecordID, nil
}

func boundConfig(sampler, storage, csp string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Backends = config.BackendsConfig{Sampler: sampler, Storage: storage, CSP: csp}
	return cfg
}

func TestBindResolvesNames(t *testing.T) {
	r := NewRegistry()
	r.RegisterSampler(stubSampler{name: "local"})
	r.RegisterStorage(stubStorage{name: "file"})
	r.RegisterMeterer(stubMeterer{name: "aws"})
	r.RegisterMeterer(stubMeterer{name: "local"})

	backends, err := r.Bind(boundConfig("local", "file", "aws"))
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if backends.Sampler.Name() != "local" {
		t.Errorf("sampler = %q", backends.Sampler.Name())
	}
	if backends.Storage.Name() != "file" {
		t.Errorf("storage = %q", backends.Storage.Name())
	}
	if backends.Meterer.Name() != "aws" {
		t.Errorf("meterer = %q", backends.Meterer.Name())
	}
}

func TestBindMissingProvider(t *testing.T) {
	r := NewRegistry()
	r.RegisterSampler(stubSampler{name: "local"})
	r.RegisterStorage(stubStorage{name: "file"})
	r.RegisterMeterer(stubMeterer{name: "local"})

	_, err := r.Bind(boundConfig("local", "file", "azure"))
	if err == nil {
		t.Fatal("expected error for unknown meterer")
	}
	if !strings.Contains(err.Error(), `"azure"`) {
		t.Errorf("error should name the missing provider: %v", err)
	}
	if !strings.Contains(err.Error(), "local") {
		t.Errorf("error should list known providers: %v", err)
	}
}

func TestRegisterReplacesSameName(t *testing.T) {
	r := NewRegistry()
	first := stubMeterer{name: "local"}
	second := stubMeterer{name: "local"}
	r.RegisterMeterer(first)
	r.RegisterMeterer(second)

	backends, err := r.Bind(boundConfig("s", "st", "local"))
	if err == nil {
		t.Fatal("expected error, sampler and storage unregistered")
	}

	r.RegisterSampler(stubSampler{name: "s"})
	r.RegisterStorage(stubStorage{name: "st"})
	backends, err = r.Bind(boundConfig("s", "st", "local"))
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if backends.Meterer != Meterer(second) {
		t.Error("expected later registration to replace earlier one")
	}
}
