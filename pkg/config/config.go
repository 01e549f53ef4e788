package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/pario-ai/toktrack/pkg/models"
)

// ErrInvalid marks a configuration that must stop the program before any work starts.
var ErrInvalid = errors.New("invalid config")

// Config holds all toktrack configuration.
type Config struct {
	StateDir string         `yaml:"state_dir"`
	Timezone string         `yaml:"timezone"`
	Workers  int            `yaml:"workers"`
	Deadline time.Duration  `yaml:"deadline"`
	Sources  []SourceConfig `yaml:"sources"`
	Cache    CacheConfig    `yaml:"cache"`
	Backup   BackupConfig   `yaml:"backup"`
	Pricing  PricingConfig  `yaml:"pricing"`
}

// SourceConfig registers one log source. Kind selects the record decoder
// and defaults to ID; empty Root, Pattern and Format take the kind's defaults.
type SourceConfig struct {
	ID       string            `yaml:"id"`
	Kind     string            `yaml:"kind"`
	Root     string            `yaml:"root"`
	Pattern  string            `yaml:"pattern"`
	Format   models.FormatKind `yaml:"format"`
	Disabled bool              `yaml:"disabled"`
}

// CacheConfig controls the daily summary cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
}

// BackupConfig controls raw log backups.
type BackupConfig struct {
	Enabled  bool   `yaml:"enabled"`
	OnStart  bool   `yaml:"on_start"`
	Compress bool   `yaml:"compress"`
	Dir      string `yaml:"dir"`
}

// PricingConfig controls the model price table.
type PricingConfig struct {
	URL     string        `yaml:"url"`
	TTL     time.Duration `yaml:"ttl"`
	Timeout time.Duration `yaml:"timeout"`
	Offline bool          `yaml:"offline"`
}

// DefaultPricingURL is the LiteLLM model price table.
const DefaultPricingURL = "https://raw.githubusercontent.com/BerriAI/litellm/main/model_prices_and_context_window.json"

// Default returns a Config with sensible defaults. Sources is left empty,
// which selects every built-in source.
func Default() *Config {
	cfg := &Config{
		StateDir: "~/.toktrack",
		Timezone: "Local",
		Cache: CacheConfig{
			Enabled: true,
		},
		Backup: BackupConfig{
			Enabled: true,
			OnStart: true,
		},
		Pricing: PricingConfig{
			URL:     DefaultPricingURL,
			TTL:     time.Hour,
			Timeout: 10 * time.Second,
		},
	}
	applyEnv(cfg)
	return cfg
}

// DefaultPath returns ~/.toktrack/config.yaml.
func DefaultPath() string {
	return filepath.Join(ExpandHome("~/.toktrack"), "config.yaml")
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(cfg)

	return cfg, nil
}

// Resolve loads path, or the default path when path is empty. A missing
// file at the default path yields Default(). The result is validated.
func Resolve(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat(DefaultPath()); err == nil {
			path = DefaultPath()
		}
	}
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TOKTRACK_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.StateDir) == "" {
		return fmt.Errorf("%w: state_dir is empty", ErrInvalid)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0, got %d", ErrInvalid, c.Workers)
	}
	if c.Deadline < 0 {
		return fmt.Errorf("%w: deadline must be >= 0, got %s", ErrInvalid, c.Deadline)
	}
	if c.Pricing.TTL < 0 {
		return fmt.Errorf("%w: pricing.ttl must be >= 0, got %s", ErrInvalid, c.Pricing.TTL)
	}
	if c.Pricing.Timeout < 0 {
		return fmt.Errorf("%w: pricing.timeout must be >= 0, got %s", ErrInvalid, c.Pricing.Timeout)
	}

	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.ID == "" {
			return fmt.Errorf("%w: sources[%d]: id is empty", ErrInvalid, i)
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: sources[%d]: duplicate id %q", ErrInvalid, i, s.ID)
		}
		seen[s.ID] = true
		if s.Format != "" && !s.Format.Valid() {
			return fmt.Errorf("%w: source %q: unknown format %q", ErrInvalid, s.ID, s.Format)
		}
		if s.Pattern != "" && !doublestar.ValidatePattern(s.Pattern) {
			return fmt.Errorf("%w: source %q: bad pattern %q", ErrInvalid, s.ID, s.Pattern)
		}
	}
	return nil
}

// Location returns the time zone that decides which date is "today".
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalid, c.Timezone, err)
	}
	return loc, nil
}

// StatePath joins name onto the expanded state directory.
func (c *Config) StatePath(name string) string {
	return filepath.Join(ExpandHome(c.StateDir), name)
}

// DBPath is the SQLite file holding summaries and the backup ledger.
func (c *Config) DBPath() string { return c.StatePath("toktrack.db") }

// PricingPath is the persisted pricing snapshot.
func (c *Config) PricingPath() string { return c.StatePath("pricing.json") }

// LockPath guards writes to the state directory.
func (c *Config) LockPath() string { return c.StatePath("toktrack.lock") }

// BackupDir is where raw file copies land.
func (c *Config) BackupDir() string {
	if c.Backup.Dir != "" {
		return ExpandHome(c.Backup.Dir)
	}
	return c.StatePath("backups")
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
