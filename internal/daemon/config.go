// Package daemon holds the long-running process configuration: where the
// ledger lives, which spreadsheet mirrors it, and how the sync engine and
// API behave. Config is TOML; every value has a working default so a bare
// `scorebridge serve` comes up against a local file and an in-memory mirror.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full daemon configuration.
type Config struct {
	Ledger   LedgerConfig   `toml:"ledger"`
	Mirror   MirrorConfig   `toml:"mirror"`
	Sync     SyncConfig     `toml:"sync"`
	Transfer TransferConfig `toml:"transfer"`
	API      APIConfig      `toml:"api"`
	Notify   NotifyConfig   `toml:"notify"`
}

// LedgerConfig locates the transactional store.
type LedgerConfig struct {
	Path string `toml:"path"` // SQLite file; created if missing
}

// MirrorConfig connects the spreadsheet mirror.
type MirrorConfig struct {
	// Enabled switches between the real Google Sheets mirror and an
	// in-memory one (local development and tests).
	Enabled         bool   `toml:"enabled"`
	SpreadsheetID   string `toml:"spreadsheet_id"`
	CredentialsFile string `toml:"credentials_file"`
}

// SyncConfig tunes the scheduler and the task queue.
type SyncConfig struct {
	Interval    string `toml:"interval"`     // pass cadence, e.g. "10s"
	Discover    bool   `toml:"discover"`     // register mirror tabs as groups
	MaxAttempts int    `toml:"max_attempts"` // task retries before parking
	BaseBackoff string `toml:"base_backoff"` // first retry delay, e.g. "5s"
	MaxBackoff  string `toml:"max_backoff"`  // backoff ceiling, e.g. "10m"
}

// TransferConfig tunes the transfer engine.
type TransferConfig struct {
	CommissionRate float64 `toml:"commission_rate"` // fraction, 0.10 = 10%
	MaxRetries     int     `toml:"max_retries"`     // attempts under store contention
}

// APIConfig configures the HTTP control surface.
type APIConfig struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Metrics bool   `toml:"metrics"`
}

// NotifyConfig configures operator notifications.
type NotifyConfig struct {
	WebhookURL string `toml:"webhook_url"`
	Verbose    bool   `toml:"verbose"` // also report passes that found nothing
}

// DefaultConfig returns working defaults for a local deployment.
func DefaultConfig() Config {
	return Config{
		Ledger: LedgerConfig{
			Path: filepath.Join(defaultHome(), "ledger.db"),
		},
		Mirror: MirrorConfig{
			Enabled: false,
		},
		Sync: SyncConfig{
			Interval:    "10s",
			Discover:    true,
			MaxAttempts: 5,
			BaseBackoff: "5s",
			MaxBackoff:  "10m",
		},
		Transfer: TransferConfig{
			CommissionRate: 0.10,
			MaxRetries:     3,
		},
		API: APIConfig{
			Host:    "127.0.0.1",
			Port:    8750,
			Metrics: true,
		},
		Notify: NotifyConfig{},
	}
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	return filepath.Join(defaultHome(), "config.toml")
}

func defaultHome() string {
	if home := os.Getenv("SCOREBRIDGE_HOME"); home != "" {
		return home
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return ".scorebridge"
	}
	return filepath.Join(dir, ".scorebridge")
}

// Load reads a config file over the defaults. A missing file is not an
// error: defaults are a complete configuration.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks for values that cannot work.
func (c Config) Validate() error {
	if c.Ledger.Path == "" {
		return fmt.Errorf("ledger.path is required")
	}
	if c.Mirror.Enabled {
		if c.Mirror.SpreadsheetID == "" {
			return fmt.Errorf("mirror.spreadsheet_id is required when the mirror is enabled")
		}
		if c.Mirror.CredentialsFile == "" {
			return fmt.Errorf("mirror.credentials_file is required when the mirror is enabled")
		}
	}
	if _, err := time.ParseDuration(c.Sync.Interval); err != nil {
		return fmt.Errorf("sync.interval: %w", err)
	}
	if _, err := time.ParseDuration(c.Sync.BaseBackoff); err != nil {
		return fmt.Errorf("sync.base_backoff: %w", err)
	}
	if _, err := time.ParseDuration(c.Sync.MaxBackoff); err != nil {
		return fmt.Errorf("sync.max_backoff: %w", err)
	}
	if c.Transfer.CommissionRate < 0 || c.Transfer.CommissionRate > 0.5 {
		return fmt.Errorf("transfer.commission_rate must be in [0, 0.5]")
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port out of range")
	}
	return nil
}

// SyncInterval returns the parsed pass cadence.
func (c Config) SyncInterval() time.Duration { return mustDuration(c.Sync.Interval, 10*time.Second) }

// SyncBaseBackoff returns the parsed first retry delay.
func (c Config) SyncBaseBackoff() time.Duration { return mustDuration(c.Sync.BaseBackoff, 5*time.Second) }

// SyncMaxBackoff returns the parsed backoff ceiling.
func (c Config) SyncMaxBackoff() time.Duration { return mustDuration(c.Sync.MaxBackoff, 10*time.Minute) }

// ListenAddr is the host:port the API binds.
func (c Config) ListenAddr() string { return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port) }

func mustDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
