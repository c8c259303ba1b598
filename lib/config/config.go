// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/chatsync/lib/ref"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the top-level chatsync configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Homeserver HomeserverConfig `yaml:"homeserver"`
	Timeline   TimelineConfig   `yaml:"timeline"`
	Sync       SyncConfig       `yaml:"sync"`
	Logging    LoggingConfig    `yaml:"logging"`

	// Per-environment overrides, applied after the base config.
	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides contains the sections that can be overridden per
// environment. Zero-valued fields leave the base value untouched.
type Overrides struct {
	Homeserver *HomeserverConfig `yaml:"homeserver,omitempty"`
	Timeline   *TimelineConfig   `yaml:"timeline,omitempty"`
	Sync       *SyncConfig       `yaml:"sync,omitempty"`
	Logging    *LoggingConfig    `yaml:"logging,omitempty"`
}

// HomeserverConfig identifies the account the engine runs as.
type HomeserverConfig struct {
	// URL is the client-server API base URL (e.g., "https://matrix.example.org").
	URL string `yaml:"url"`

	// UserID is the full Matrix user ID of the session owner.
	UserID string `yaml:"user_id"`

	// TokenFile holds the access token. "-" reads it from stdin.
	TokenFile string `yaml:"token_file"`
}

// TimelineConfig sizes history requests.
type TimelineConfig struct {
	// BatchSize is the initial window requested by LoadMessages.
	BatchSize int `yaml:"batch_size"`

	// PageSize is the page requested by each LoadMore.
	PageSize int `yaml:"page_size"`
}

// SyncConfig tunes the /sync long-poll loop.
type SyncConfig struct {
	// Timeout is the server-side long-poll timeout (Go duration string).
	Timeout string `yaml:"timeout"`

	// MaxBackoff caps the retry delay after a failed /sync.
	MaxBackoff string `yaml:"max_backoff"`

	// TimelineLimit is the per-room timeline limit in the sync filter.
	TimelineLimit int `yaml:"timeline_limit"`
}

// LoggingConfig selects the slog level and handler.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is auto (text on a terminal, JSON otherwise), text, or json.
	Format string `yaml:"format"`
}

// Default returns the base configuration that a loaded file is merged
// over. The homeserver section has no defaults: the file must name one.
func Default() *Config {
	return &Config{
		Environment: Development,
		Timeline: TimelineConfig{
			BatchSize: 30,
			PageSize:  30,
		},
		Sync: SyncConfig{
			Timeout:       "30s",
			MaxBackoff:    "30s",
			TimelineLimit: 50,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads configuration from the file named by CHATSYNC_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv("CHATSYNC_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("CHATSYNC_CONFIG environment variable not set; " +
			"set it to the path of your chatsync.yaml, or use --config")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path, applies the matching
// environment overrides, and expands variables. It does not validate;
// call Validate before use.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML configuration bytes over Default.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyEnvironmentOverrides()
	cfg.Homeserver.TokenFile = expandVars(cfg.Homeserver.TokenFile)
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if o := overrides.Homeserver; o != nil {
		setString(&c.Homeserver.URL, o.URL)
		setString(&c.Homeserver.UserID, o.UserID)
		setString(&c.Homeserver.TokenFile, o.TokenFile)
	}
	if o := overrides.Timeline; o != nil {
		setInt(&c.Timeline.BatchSize, o.BatchSize)
		setInt(&c.Timeline.PageSize, o.PageSize)
	}
	if o := overrides.Sync; o != nil {
		setString(&c.Sync.Timeout, o.Timeout)
		setString(&c.Sync.MaxBackoff, o.MaxBackoff)
		setInt(&c.Sync.TimelineLimit, o.TimelineLimit)
	}
	if o := overrides.Logging; o != nil {
		setString(&c.Logging.Level, o.Level)
		setString(&c.Logging.Format, o.Format)
	}
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func setInt(target *int, value int) {
	if value != 0 {
		*target = value
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} from the process
// environment.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// UserID returns the parsed session owner.
func (c *Config) UserID() (ref.UserID, error) {
	return ref.ParseUserID(c.Homeserver.UserID)
}

// SyncTimeout returns the parsed long-poll timeout.
func (c *Config) SyncTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Sync.Timeout)
}

// SyncMaxBackoff returns the parsed backoff cap.
func (c *Config) SyncMaxBackoff() (time.Duration, error) {
	return time.ParseDuration(c.Sync.MaxBackoff)
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"auto", "text", "json"}
)

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Homeserver.URL == "" {
		errs = append(errs, fmt.Errorf("homeserver.url is required"))
	} else if parsed, err := url.Parse(c.Homeserver.URL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		errs = append(errs, fmt.Errorf("homeserver.url %q is not an absolute URL", c.Homeserver.URL))
	}
	if _, err := c.UserID(); err != nil {
		errs = append(errs, fmt.Errorf("homeserver.user_id: %w", err))
	}
	if c.Homeserver.TokenFile == "" {
		errs = append(errs, fmt.Errorf("homeserver.token_file is required"))
	}

	if c.Timeline.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("timeline.batch_size must be positive, got %d", c.Timeline.BatchSize))
	}
	if c.Timeline.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("timeline.page_size must be positive, got %d", c.Timeline.PageSize))
	}

	if duration, err := c.SyncTimeout(); err != nil || duration < 0 {
		errs = append(errs, fmt.Errorf("sync.timeout %q is not a non-negative duration", c.Sync.Timeout))
	}
	if duration, err := c.SyncMaxBackoff(); err != nil || duration <= 0 {
		errs = append(errs, fmt.Errorf("sync.max_backoff %q is not a positive duration", c.Sync.MaxBackoff))
	}
	if c.Sync.TimelineLimit <= 0 {
		errs = append(errs, fmt.Errorf("sync.timeline_limit must be positive, got %d", c.Sync.TimelineLimit))
	}

	if !contains(logLevels, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level must be one of: %v", logLevels))
	}
	if !contains(logFormats, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format must be one of: %v", logFormats))
	}

	return errors.Join(errs...)
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
