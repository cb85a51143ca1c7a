// Package config loads the gateway's TOML configuration with defaults and
// MXGATE_* environment overrides.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration parses TOML strings like "15s" or "3m".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Addr          string `toml:"addr"`
	APIToken      string `toml:"api_token"`
	AdminToken    string `toml:"admin_token"`
	EngineAdapter string `toml:"engine_adapter"`

	CredentialRoot string `toml:"credential_root"`
	BackupDir      string `toml:"backup_dir"`
	// EncryptionKey is 64 hex characters decoding to the 32-byte AES key.
	EncryptionKey string `toml:"encryption_key"`

	RetryBudget      int      `toml:"retry_budget"`
	CreateWait       Duration `toml:"create_wait"`
	QRExpiry         Duration `toml:"qr_expiry"`
	ReconnectBackoff Duration `toml:"reconnect_backoff"`
	BackupDelay      Duration `toml:"backup_delay"`
	ScanInterval     Duration `toml:"scan_interval"`

	CacheCapacity  int `toml:"cache_capacity"`
	BackupKeep     int `toml:"backup_keep"`
	WorkerPoolSize int `toml:"worker_pool_size"`

	// WebhookURL, when set, forwards inbound message and poll-vote events
	// to the endpoint; WebhookToken is sent as a bearer token.
	WebhookURL   string `toml:"webhook_url"`
	WebhookToken string `toml:"webhook_token"`
}

// Load reads the TOML file at path (skipped when path is empty), applies
// defaults and environment overrides, and validates the result.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setStr := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setStr(&c.Addr, "MXGATE_ADDR")
	setStr(&c.APIToken, "MXGATE_API_TOKEN")
	setStr(&c.AdminToken, "MXGATE_ADMIN_TOKEN")
	setStr(&c.EngineAdapter, "MXGATE_ENGINE_ADAPTER")
	setStr(&c.CredentialRoot, "MXGATE_CREDENTIAL_ROOT")
	setStr(&c.BackupDir, "MXGATE_BACKUP_DIR")
	setStr(&c.EncryptionKey, "MXGATE_ENCRYPTION_KEY")
	setStr(&c.WebhookURL, "MXGATE_WEBHOOK_URL")
	setStr(&c.WebhookToken, "MXGATE_WEBHOOK_TOKEN")
	if v, ok := os.LookupEnv("MXGATE_RETRY_BUDGET"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.RetryBudget = n
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.EngineAdapter == "" {
		c.EngineAdapter = "mem"
	}
	if c.CredentialRoot == "" {
		c.CredentialRoot = "auth_info"
	}
	if c.BackupDir == "" {
		c.BackupDir = "backups"
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = 10
	}
	if c.CreateWait <= 0 {
		c.CreateWait = Duration(60 * time.Second)
	}
	if c.QRExpiry <= 0 {
		c.QRExpiry = Duration(3 * time.Minute)
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = Duration(15 * time.Second)
	}
	if c.BackupDelay <= 0 {
		c.BackupDelay = Duration(30 * time.Second)
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = Duration(10 * time.Minute)
	}
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = 500
	}
	if c.BackupKeep <= 0 {
		c.BackupKeep = 5
	}
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = 64
	}
}

// Key decodes the configured hex encryption key.
func (c Config) Key() ([]byte, error) {
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("config encryption_key is not hex: %w", err)
	}
	return key, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("config missing addr")
	}
	if strings.TrimSpace(cfg.APIToken) == "" {
		return fmt.Errorf("config missing api_token")
	}
	if strings.TrimSpace(cfg.EncryptionKey) == "" {
		return fmt.Errorf("config missing encryption_key")
	}
	key, err := cfg.Key()
	if err != nil {
		return err
	}
	if len(key) != 32 {
		return fmt.Errorf("config encryption_key must decode to 32 bytes, got %d", len(key))
	}
	return nil
}
