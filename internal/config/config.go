package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ICSConfig describes a single external ICS subscription imported into the
// event store as public events.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// OwnerID is the platform user the imported events are attributed to.
	OwnerID string `yaml:"owner_id" json:"owner_id"`
	// Name is a human-friendly label for logs.
	Name string `yaml:"name" json:"name"`
}

// Config is the top-level application configuration.
type Config struct {
	// Timezone is the IANA timezone used as the canonical civil-date zone
	// for all-day occurrences and moon overlay dates (e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" json:"timezone"`

	// DBPath is the sqlite database file for events, sessions and RSVPs.
	DBPath string `yaml:"db_path" json:"db_path"`

	// SweepCron schedules the stale-session sweep and ICS import
	// (6-field cron spec with seconds, e.g. "0 */5 * * * *").
	SweepCron string `yaml:"sweep_cron" json:"sweep_cron"`

	// PulseCron schedules pulse snapshot recomputation. Sub-bucket
	// freshness has no value, so tens of seconds is plenty.
	PulseCron string `yaml:"pulse_cron" json:"pulse_cron"`

	// SessionGraceMinutes is how long an interval may stay open without a
	// close signal before the sweep force-closes it.
	SessionGraceMinutes int `yaml:"session_grace_minutes" json:"session_grace_minutes"`

	// HorizonDays is the default query window length when the caller does
	// not supply one.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// MoonOverlay toggles merging the synthetic moon-phase events into
	// query results.
	MoonOverlay bool `yaml:"moon_overlay" json:"moon_overlay"`

	// LogLevel is one of "debug", "info", "error".
	LogLevel string `yaml:"log_level" json:"log_level"`

	// ICS is the list of subscribed external calendar sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Timezone:            "UTC",
		DBPath:              "./var/tribecal.db",
		SweepCron:           "0 */5 * * * *",
		PulseCron:           "*/30 * * * * *",
		SessionGraceMinutes: 120,
		HorizonDays:         31,
		MoonOverlay:         true,
		LogLevel:            "info",
		ICS:                 []ICSConfig{},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.DBPath == "" {
		c.DBPath = "./var/tribecal.db"
	}
	if c.SweepCron == "" {
		c.SweepCron = "0 */5 * * * *"
	}
	if c.PulseCron == "" {
		c.PulseCron = "*/30 * * * * *"
	}
	if c.SessionGraceMinutes <= 0 {
		c.SessionGraceMinutes = 120
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 31
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
}

// Location resolves the configured timezone, falling back to UTC if the
// IANA name is unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SessionGrace returns the grace period as a duration.
func (c *Config) SessionGrace() time.Duration {
	return time.Duration(c.SessionGraceMinutes) * time.Minute
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".tribecal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
