// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validConfig = `
environment: development
homeserver:
  url: https://matrix.example.org
  user_id: "@alice:example.org"
  token_file: /run/secrets/token
`

func TestDefaults(t *testing.T) {
	cfg, err := Parse([]byte(validConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Timeline.BatchSize != 30 || cfg.Timeline.PageSize != 30 {
		t.Errorf("timeline = %+v, want batch/page 30", cfg.Timeline)
	}
	timeout, err := cfg.SyncTimeout()
	if err != nil || timeout != 30*time.Second {
		t.Errorf("SyncTimeout = %v, %v", timeout, err)
	}
	userID, err := cfg.UserID()
	if err != nil || userID.String() != "@alice:example.org" {
		t.Errorf("UserID = %v, %v", userID, err)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	input := validConfig + `
timeline:
  batch_size: 20
logging:
  level: debug
production:
  homeserver:
    url: https://prod.example.org
  timeline:
    batch_size: 50
  logging:
    format: json
`
	cfg, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Timeline.BatchSize != 20 {
		t.Errorf("development ignores production block: batch_size = %d, want 20", cfg.Timeline.BatchSize)
	}

	cfg, err = Parse([]byte(strings.Replace(input, "environment: development", "environment: production", 1)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Homeserver.URL != "https://prod.example.org" {
		t.Errorf("url = %q", cfg.Homeserver.URL)
	}
	if cfg.Timeline.BatchSize != 50 {
		t.Errorf("batch_size = %d, want 50", cfg.Timeline.BatchSize)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Errorf("logging = %+v, want json/debug", cfg.Logging)
	}
	if cfg.Homeserver.UserID != "@alice:example.org" {
		t.Errorf("unset override changed user_id to %q", cfg.Homeserver.UserID)
	}
}

func TestTokenFileExpansion(t *testing.T) {
	t.Setenv("CHATSYNC_TEST_DIR", "/srv/chat")
	input := strings.Replace(validConfig, "/run/secrets/token", "${CHATSYNC_TEST_DIR}/token", 1)
	cfg, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Homeserver.TokenFile != "/srv/chat/token" {
		t.Errorf("token_file = %q", cfg.Homeserver.TokenFile)
	}

	input = strings.Replace(validConfig, "/run/secrets/token", "${CHATSYNC_UNSET_VAR:-/fallback}/token", 1)
	cfg, err = Parse([]byte(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Homeserver.TokenFile != "/fallback/token" {
		t.Errorf("token_file = %q", cfg.Homeserver.TokenFile)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "bad environment", mutate: func(c *Config) { c.Environment = "qa" }, wantErr: "invalid environment"},
		{name: "missing url", mutate: func(c *Config) { c.Homeserver.URL = "" }, wantErr: "homeserver.url is required"},
		{name: "relative url", mutate: func(c *Config) { c.Homeserver.URL = "matrix" }, wantErr: "not an absolute URL"},
		{name: "bad user", mutate: func(c *Config) { c.Homeserver.UserID = "alice" }, wantErr: "homeserver.user_id"},
		{name: "missing token", mutate: func(c *Config) { c.Homeserver.TokenFile = "" }, wantErr: "token_file is required"},
		{name: "zero batch", mutate: func(c *Config) { c.Timeline.BatchSize = 0 }, wantErr: "batch_size must be positive"},
		{name: "negative page", mutate: func(c *Config) { c.Timeline.PageSize = -1 }, wantErr: "page_size must be positive"},
		{name: "bad timeout", mutate: func(c *Config) { c.Sync.Timeout = "soon" }, wantErr: "sync.timeout"},
		{name: "zero backoff", mutate: func(c *Config) { c.Sync.MaxBackoff = "0s" }, wantErr: "sync.max_backoff"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "trace" }, wantErr: "logging.level"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "logging.format"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg, err := Parse([]byte(validConfig))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			test.mutate(cfg)
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), test.wantErr) {
				t.Fatalf("Validate error = %v, want containing %q", err, test.wantErr)
			}
		})
	}
}

func TestLoadRequiresEnvironmentVariable(t *testing.T) {
	t.Setenv("CHATSYNC_CONFIG", "")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "CHATSYNC_CONFIG") {
		t.Fatalf("Load error = %v, want mention of CHATSYNC_CONFIG", err)
	}

	path := filepath.Join(t.TempDir(), "chatsync.yaml")
	if err := os.WriteFile(path, []byte(validConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHATSYNC_CONFIG", path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Homeserver.URL != "https://matrix.example.org" {
		t.Errorf("url = %q", cfg.Homeserver.URL)
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("homeserver: [")); err == nil {
		t.Fatal("expected parse error")
	}
}
