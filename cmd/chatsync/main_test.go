// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/chatsync/lib/config"
	"github.com/bureau-foundation/chatsync/lib/ref"
	"github.com/bureau-foundation/chatsync/lib/timeline"
)

func TestNewLogger(t *testing.T) {
	destination, err := os.Create(filepath.Join(t.TempDir(), "log"))
	if err != nil {
		t.Fatal(err)
	}
	defer destination.Close()

	tests := []struct {
		name    string
		logging config.LoggingConfig
		wantErr string
	}{
		{name: "auto on a file", logging: config.LoggingConfig{Level: "info", Format: "auto"}},
		{name: "text", logging: config.LoggingConfig{Level: "debug", Format: "text"}},
		{name: "json", logging: config.LoggingConfig{Level: "warn", Format: "json"}},
		{name: "bad level", logging: config.LoggingConfig{Level: "loud", Format: "json"}, wantErr: "logging.level"},
		{name: "bad format", logging: config.LoggingConfig{Level: "info", Format: "xml"}, wantErr: "logging.format"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			logger, err := newLogger(test.logging, destination)
			if test.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), test.wantErr) {
					t.Fatalf("newLogger error = %v, want containing %q", err, test.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("newLogger: %v", err)
			}
			if logger == nil {
				t.Fatal("nil logger")
			}
		})
	}

	// A file is not a terminal, so auto selects JSON.
	logger, _ := newLogger(config.LoggingConfig{Level: "info", Format: "auto"}, destination)
	logger.Info("ready", "key", "value")
	content, err := os.ReadFile(destination.Name())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), `"msg":"ready"`) {
		t.Errorf("auto format on a file wrote %q, want JSON", content)
	}
}

func TestPrintMessage(t *testing.T) {
	sender := ref.MustParseUserID("@bob:local")
	eventID := ref.MustParseEventID("$e")
	stamp := time.Date(2026, 2, 3, 4, 5, 6, 0, time.Local)

	tests := []struct {
		name     string
		delivery timeline.Delivery
		want     string
	}{
		{name: "sent", delivery: timeline.Sent(eventID), want: "2026-02-03 04:05:06 <@bob:local> hello\n"},
		{name: "sending", delivery: timeline.Sending(), want: "2026-02-03 04:05:06 <@bob:local> hello [sending]\n"},
		{name: "failed", delivery: timeline.Failed("offline"), want: "2026-02-03 04:05:06 <@bob:local> hello [failed(offline)]\n"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var buffer bytes.Buffer
			printMessage(&buffer, timeline.Message{ID: "$e", Sender: sender, Body: "hello", Timestamp: stamp, Delivery: test.delivery})
			if buffer.String() != test.want {
				t.Errorf("printMessage = %q, want %q", buffer.String(), test.want)
			}
		})
	}
}

func TestLiveOutput(t *testing.T) {
	sender := ref.MustParseUserID("@bob:local")
	stamp := time.Date(2026, 2, 3, 4, 5, 6, 0, time.Local)
	message := func(id string) timeline.Message {
		eventID := ref.MustParseEventID(id)
		return timeline.Message{
			ID: timeline.IDFromEvent(eventID), Sender: sender, Body: id,
			Timestamp: stamp, Delivery: timeline.Sent(eventID),
		}
	}

	var buffer bytes.Buffer
	output := newLiveOutput(&buffer)
	// Arrives while the timeline is still loading; it is printed as
	// part of the timeline instead.
	output.message(message("$early"))
	output.printTimeline([]timeline.Message{message("$a"), message("$early")})
	output.message(message("$early"))
	output.message(message("$live"))
	output.message(message("$live"))

	want := "2026-02-03 04:05:06 <@bob:local> $a\n" +
		"2026-02-03 04:05:06 <@bob:local> $early\n" +
		"2026-02-03 04:05:06 <@bob:local> $live\n"
	if buffer.String() != want {
		t.Errorf("output = %q, want %q", buffer.String(), want)
	}
}

func TestReportSend(t *testing.T) {
	roomID := ref.MustParseRoomID("!room:local")
	sender := ref.MustParseUserID("@alice:local")
	store := timeline.NewStore()

	pending := store.AddPending(roomID, sender, "one", time.Now())
	store.Confirm(roomID, pending.ID, ref.MustParseEventID("$confirmed"))
	var buffer bytes.Buffer
	if err := reportSend(&buffer, store, roomID, pending.ID); err != nil || buffer.String() != "sent\n" {
		t.Errorf("confirmed send: %q, %v", buffer.String(), err)
	}

	failed := store.AddPending(roomID, sender, "two", time.Now())
	store.Fail(roomID, failed.ID, "rejected")
	err := reportSend(&buffer, store, roomID, failed.ID)
	if err == nil || !strings.Contains(err.Error(), "rejected") {
		t.Errorf("failed send error = %v", err)
	}
}

func TestLoadConfigRequiresSource(t *testing.T) {
	t.Setenv("CHATSYNC_CONFIG", "")
	if _, err := loadConfig(""); err == nil {
		t.Fatal("loadConfig succeeded with no path and no environment variable")
	}

	path := filepath.Join(t.TempDir(), "chatsync.yaml")
	data := "homeserver:\n  url: http://localhost:6167\n  user_id: \"@alice:local\"\n  token_file: /dev/null\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Homeserver.URL != "http://localhost:6167" {
		t.Errorf("url = %q", cfg.Homeserver.URL)
	}
}

func TestLoadConfigValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatsync.yaml")
	if err := os.WriteFile(path, []byte("timeline:\n  batch_size: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := loadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "homeserver.url is required") {
		t.Fatalf("loadConfig error = %v", err)
	}
}
