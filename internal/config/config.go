// Package config loads the inliner's process configuration from a YAML file
// with environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pasteinliner/resolve"
)

// Environment overrides.
const (
	EnvService   = "INLINER_SERVICE"
	EnvTimeoutMS = "INLINER_TIMEOUT_MS"
	EnvCosmetic  = "INLINER_COSMETIC"
	EnvHostRules = "INLINER_HOST_RULES"
)

// Config is the top-level configuration.
type Config struct {
	// Service is the side-channel base URL. Empty resolves in process.
	Service    string `yaml:"service"`
	Origin     string `yaml:"origin,omitempty"`
	TimeoutMS  int    `yaml:"timeout_ms"`
	SettleMS   int    `yaml:"settle_ms"`
	DebounceMS int    `yaml:"debounce_ms"`
	// Cosmetic is the cosmetic configuration file.
	Cosmetic   string `yaml:"cosmetic"`
	PlainText  string `yaml:"plain_text"` // text | markdown
	Sanitize   bool   `yaml:"sanitize"`
	NoBackstop bool   `yaml:"no_backstop"`

	Fetch   FetchConfig   `yaml:"fetch"`
	Sidecar SidecarConfig `yaml:"sidecar"`
	Browser BrowserConfig `yaml:"browser"`
}

// FetchConfig tunes the in-process fetcher.
type FetchConfig struct {
	HostRules   string   `yaml:"host_rules"`
	UserAgent   string   `yaml:"user_agent,omitempty"`
	MaxBytes    int64    `yaml:"max_bytes"`
	MaxWidth    int      `yaml:"max_width"`
	JPEGQuality int      `yaml:"jpeg_quality"`
	Parallel    int      `yaml:"parallel"`
	Transcode   []string `yaml:"transcode,omitempty"`
	// CacheDir enables the side-channel's image cache. Off when empty.
	CacheDir string `yaml:"cache_dir,omitempty"`
	CacheMB  int    `yaml:"cache_mb"`
}

// SidecarConfig controls `inliner serve`.
type SidecarConfig struct {
	Addr      string `yaml:"addr"`
	Exclusive bool   `yaml:"exclusive"`
}

// BrowserConfig controls live page loading.
type BrowserConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	WaitAfterLoad time.Duration `yaml:"wait_after_load"`
	WaitSelector  string        `yaml:"wait_selector,omitempty"`
	NetworkIdle   bool          `yaml:"network_idle"`
}

// DefaultPath is ~/.config/pasteinliner/config.yaml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "pasteinliner.yaml"
	}
	return filepath.Join(dir, "pasteinliner", "config.yaml")
}

// Default returns the built-in configuration.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads path, applies defaults and then environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvService); ok {
		c.Service = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvTimeoutMS); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 0 {
			return fmt.Errorf("config: %s=%q is not a duration in milliseconds", EnvTimeoutMS, v)
		}
		c.TimeoutMS = n
	}
	if v, ok := lookup(EnvCosmetic); ok {
		c.Cosmetic = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvHostRules); ok {
		c.Fetch.HostRules = strings.TrimSpace(v)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.TimeoutMS <= 0 {
		c.TimeoutMS = 5000
	}
	if c.SettleMS <= 0 {
		c.SettleMS = 300
	}
	if c.DebounceMS <= 0 {
		c.DebounceMS = 200
	}
	c.PlainText = strings.ToLower(strings.TrimSpace(c.PlainText))
	if c.PlainText != "markdown" {
		c.PlainText = "text"
	}
	if c.Cosmetic == "" {
		c.Cosmetic = filepath.Join(filepath.Dir(DefaultPath()), "cosmetic.yaml")
	}
	if c.Fetch.MaxBytes <= 0 {
		c.Fetch.MaxBytes = resolve.DefaultMaxBytes
	}
	if c.Fetch.Parallel <= 0 {
		c.Fetch.Parallel = resolve.DefaultParallel
	}
	if c.Fetch.JPEGQuality <= 0 || c.Fetch.JPEGQuality > 100 {
		c.Fetch.JPEGQuality = resolve.DefaultJPEGQuality
	}
	if c.Fetch.CacheMB <= 0 {
		c.Fetch.CacheMB = 100
	}
	if c.Sidecar.Addr == "" {
		c.Sidecar.Addr = "127.0.0.1:8765"
	}
	if c.Browser.Timeout <= 0 {
		c.Browser.Timeout = 30 * time.Second
	}
	c.Service = strings.TrimRight(c.Service, "/")
}

// Timeout is the resolution race budget.
func (c *Config) Timeout() time.Duration { return time.Duration(c.TimeoutMS) * time.Millisecond }

// SettleDelay is the backstop's wait before reading the clipboard.
func (c *Config) SettleDelay() time.Duration { return time.Duration(c.SettleMS) * time.Millisecond }

// Debounce is the backstop's keydown debounce.
func (c *Config) Debounce() time.Duration { return time.Duration(c.DebounceMS) * time.Millisecond }

// Fetcher builds the fetcher the side-channel serves. The disk cache is only
// set up when Fetch.CacheDir is configured.
func (c *Config) Fetcher(logger *log.Logger) *resolve.Fetcher {
	f := resolve.NewFetcher()
	f.UserAgent = c.Fetch.UserAgent
	f.MaxBytes = c.Fetch.MaxBytes
	f.MaxWidth = c.Fetch.MaxWidth
	f.JPEGQuality = c.Fetch.JPEGQuality
	f.Parallel = c.Fetch.Parallel
	f.Transcode = append([]string(nil), c.Fetch.Transcode...)
	f.Origin = c.Origin
	f.Logger = logger
	if c.Fetch.HostRules != "" {
		f.Rules = resolve.NewHostRules(c.Fetch.HostRules)
	}
	if c.Fetch.CacheDir != "" {
		f.Cache = resolve.NewDiskCache(c.Fetch.CacheDir, c.Fetch.CacheMB)
	}
	return f
}

// ResolveService returns the side-channel client when Service is set, the
// in-process fetcher otherwise. origin resolves relative URLs.
func (c *Config) ResolveService(origin string, logger *log.Logger) resolve.Service {
	if origin == "" {
		origin = c.Origin
	}
	if c.Service != "" {
		return resolve.NewClient(c.Service, origin)
	}
	f := c.Fetcher(logger)
	f.Origin = origin
	// Each in-process operation resolves its batch afresh.
	f.Cache = nil
	return f
}

// Save writes c to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return nil
}
