package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDeriveLimits(t *testing.T) {
	c := Config{
		Storage:  Storage{Size: 20000},
		Eviction: Eviction{SoftLimit: 0.5, HardLimit: 0.9},
	}
	d := c.DeriveLimits()
	if d.SoftMemoryLimit != 10000 {
		t.Fatalf("want soft=10000, got %d", d.SoftMemoryLimit)
	}
	if d.HardMemoryLimit != 18000 {
		t.Fatalf("want hard=18000, got %d", d.HardMemoryLimit)
	}
	if d.AdmissionMemoryLimit != 10000-admissionMargin {
		t.Fatalf("want admission=soft-100MiB, got %d", d.AdmissionMemoryLimit)
	}
}

func TestValidate_RejectsBadLimits(t *testing.T) {
	c := Default()
	c.Eviction.HardLimit = c.Eviction.SoftLimit
	if err := c.Validate(); err == nil {
		t.Fatalf("expected hard_limit <= soft_limit to fail validation")
	}
}

func TestValidate_RejectsBadMode(t *testing.T) {
	c := Default()
	c.Storage.Mode = "bogus"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected an unknown storage mode to fail validation")
	}
}

func TestLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.yaml")
	yamlDoc := `
storage:
  mode: listing
  size: 1073741824
eviction:
  enabled: true
  soft_limit: 0.8
  hard_limit: 0.95
  replicas: 2
  check_interval: 100ms
admission:
  enabled: true
  shards: 16
  min_table_len_per_shard: 4096
  sample_multiplier: 10
  door_bits_per_counter: 8
lifetime:
  enabled: true
  on_ttl: refresh
  ttl: 5m
  replicas: 2
  rate: 50
  beta: 8
  coefficient: 0.5
rules:
  - path: /api/v1/user
    cache_key:
      query: ["user[id]", "domain", "language"]
      headers: ["Accept-Encoding"]
    cache_value:
      headers: ["Content-Type"]
    refresh:
      enabled: true
      ttl: 30s
      beta: 4
      coefficient: 0.25
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Mode != ModeListing {
		t.Fatalf("unexpected mode %q", cfg.Storage.Mode)
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0].Path != "/api/v1/user" {
		t.Fatalf("unexpected rules %+v", cfg.Rules)
	}
	if cfg.Lifetime.TTL != 5*time.Minute {
		t.Fatalf("unexpected ttl %v", cfg.Lifetime.TTL)
	}

	rules := cfg.ModelRules()
	if len(rules) != 1 || len(rules[0].QueryWhitelist) != 3 {
		t.Fatalf("unexpected converted rules %+v", rules)
	}
	if rules[0].Refresh == nil || rules[0].Refresh.Beta != 4 {
		t.Fatalf("unexpected refresh override %+v", rules[0].Refresh)
	}

	ec := cfg.EngineConfig()
	if ec.HardMemoryLimit <= ec.SoftMemoryLimit {
		t.Fatalf("engine config hard limit should exceed soft limit")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/cache.yaml"); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}
