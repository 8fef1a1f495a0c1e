package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load with missing file failed: %v", err)
	}

	if cfg.Server.APIPort != 8880 {
		t.Errorf("default API port = %d, want 8880", cfg.Server.APIPort)
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("default storage type = %s, want memory", cfg.Storage.Type)
	}
	if cfg.TickInterval() != 100*time.Millisecond {
		t.Errorf("default tick interval = %s, want 100ms", cfg.TickInterval())
	}
	if !cfg.Metering.AutoStop {
		t.Error("auto_stop should default to true")
	}
	if cfg.Metering.DefaultCurrency != "USD" {
		t.Errorf("default currency = %s, want USD", cfg.Metering.DefaultCurrency)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  api_port: 9000
metering:
  tick_interval: 250ms
  auto_stop: false
rates:
  refresh_interval: 1m
  fiat:
    USD: 1.0
    EUR: 0.95
  units:
    ETH: 3000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.APIPort != 9000 {
		t.Errorf("api_port = %d, want 9000", cfg.Server.APIPort)
	}
	if cfg.TickInterval() != 250*time.Millisecond {
		t.Errorf("tick interval = %s, want 250ms", cfg.TickInterval())
	}
	if cfg.Metering.AutoStop {
		t.Error("auto_stop should be false")
	}
	if cfg.RatesRefreshInterval() != time.Minute {
		t.Errorf("refresh interval = %s, want 1m", cfg.RatesRefreshInterval())
	}
	if cfg.Rates.Fiat["EUR"] != 0.95 {
		t.Errorf("EUR rate = %v, want 0.95", cfg.Rates.Fiat["EUR"])
	}
}

func TestRateKeysNormalizedToUpperCase(t *testing.T) {
	// File keys pass through viper lowercased; the loaded maps must still
	// carry the canonical upper-case currency and unit codes.
	path := writeConfig(t, `
rates:
  fiat:
    usd: 1.0
    eur: 0.9
  units:
    eth: 2500
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, ok := cfg.Rates.Fiat["USD"]; !ok {
		t.Errorf("fiat keys = %v, want USD present", cfg.Rates.Fiat)
	}
	if _, ok := cfg.Rates.Fiat["EUR"]; !ok {
		t.Errorf("fiat keys = %v, want EUR present", cfg.Rates.Fiat)
	}
	if _, ok := cfg.Rates.Units["ETH"]; !ok {
		t.Errorf("unit keys = %v, want ETH present", cfg.Rates.Units)
	}
	if _, ok := cfg.Rates.Fiat["usd"]; ok {
		t.Error("lowercase fiat key survived normalization")
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad api port", "server:\n  api_port: -1\n"},
		{"bad storage type", "storage:\n  type: etcd\n"},
		{"bad tick interval", "metering:\n  tick_interval: soon\n"},
		{"bad refresh interval", "rates:\n  refresh_interval: often\n"},
		{"default currency missing from fiat", "metering:\n  default_currency: GBP\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestBoltStorageCreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "storage:\n  type: bolt\n  path: "+filepath.Join(dir, "nested", "ledger.bolt")+"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.Type != "bolt" {
		t.Errorf("storage type = %s, want bolt", cfg.Storage.Type)
	}
	if _, err := os.Stat(filepath.Join(dir, "nested")); err != nil {
		t.Errorf("storage directory not created: %v", err)
	}
}
