package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mxgate.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
api_token = "secret"
encryption_key = "`+testKeyHex+`"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("default addr: %s", cfg.Addr)
	}
	if cfg.RetryBudget != 10 {
		t.Fatalf("default retry budget: %d", cfg.RetryBudget)
	}
	if cfg.QRExpiry.Std() != 3*time.Minute {
		t.Fatalf("default qr expiry: %v", cfg.QRExpiry.Std())
	}
	if cfg.CacheCapacity != 500 || cfg.BackupKeep != 5 {
		t.Fatalf("default bounds: %d %d", cfg.CacheCapacity, cfg.BackupKeep)
	}
	key, err := cfg.Key()
	if err != nil || len(key) != 32 {
		t.Fatalf("key: %v len=%d", err, len(key))
	}
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
api_token = "secret"
encryption_key = "`+testKeyHex+`"
reconnect_backoff = "2s"
qr_expiry = "90s"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ReconnectBackoff.Std() != 2*time.Second {
		t.Fatalf("reconnect backoff: %v", cfg.ReconnectBackoff.Std())
	}
	if cfg.QRExpiry.Std() != 90*time.Second {
		t.Fatalf("qr expiry: %v", cfg.QRExpiry.Std())
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
addr = ":9999"
api_token = "from-file"
encryption_key = "`+testKeyHex+`"
`)
	t.Setenv("MXGATE_ADDR", ":7070")
	t.Setenv("MXGATE_API_TOKEN", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" {
		t.Fatalf("env addr override: %s", cfg.Addr)
	}
	if cfg.APIToken != "from-env" {
		t.Fatalf("env token override: %s", cfg.APIToken)
	}
}

func TestValidateRejectsBadKey(t *testing.T) {
	path := writeConfig(t, `
api_token = "secret"
encryption_key = "abcd"
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "32 bytes") {
		t.Fatalf("expected short-key error, got %v", err)
	}

	path = writeConfig(t, `
api_token = "secret"
encryption_key = "not hex at all"
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "hex") {
		t.Fatalf("expected hex error, got %v", err)
	}
}

func TestValidateRequiresToken(t *testing.T) {
	path := writeConfig(t, `
encryption_key = "`+testKeyHex+`"
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "api_token") {
		t.Fatalf("expected missing token error, got %v", err)
	}
}
