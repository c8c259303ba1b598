// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/bureau-foundation/chatsync/lib/config"
	"github.com/bureau-foundation/chatsync/lib/ref"
	"github.com/bureau-foundation/chatsync/lib/timeline"
)

// newLogger builds the process logger. Format "auto" picks text output
// when the destination is a terminal and JSON otherwise.
func newLogger(logging config.LoggingConfig, destination *os.File) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logging.Level)); err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	options := &slog.HandlerOptions{Level: level}

	useText := false
	switch logging.Format {
	case "text":
		useText = true
	case "json":
	case "", "auto":
		useText = term.IsTerminal(int(destination.Fd()))
	default:
		return nil, fmt.Errorf("logging.format %q: must be auto, text, or json", logging.Format)
	}

	if useText {
		return slog.New(slog.NewTextHandler(destination, options)), nil
	}
	return slog.New(slog.NewJSONHandler(destination, options)), nil
}

func printRoomHeader(w io.Writer, room timeline.Room) {
	name := room.Name
	if name == "" {
		name = room.ID.String()
	}
	fmt.Fprintf(w, "== %s (%s, %s)\n", name, room.Kind, room.ID)
}

// liveOutput prints the loaded timeline and then live messages,
// skipping live messages the timeline already showed. Live messages
// that arrive before the timeline is printed are part of it.
type liveOutput struct {
	w io.Writer

	mu      sync.Mutex
	shown   map[timeline.MessageID]bool
	started bool
}

func newLiveOutput(w io.Writer) *liveOutput {
	return &liveOutput{w: w, shown: make(map[timeline.MessageID]bool)}
}

func (o *liveOutput) printTimeline(messages []timeline.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, message := range messages {
		o.shown[message.ID] = true
		printMessage(o.w, message)
	}
	o.started = true
}

func (o *liveOutput) message(message timeline.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started || o.shown[message.ID] {
		return
	}
	o.shown[message.ID] = true
	printMessage(o.w, message)
}

// printMessage writes one line per message. Messages that are not yet
// confirmed carry their delivery status.
func printMessage(w io.Writer, message timeline.Message) {
	line := fmt.Sprintf("%s <%s> %s",
		message.Timestamp.Local().Format("2006-01-02 15:04:05"), message.Sender, message.Body)
	if !message.Delivery.IsSent() {
		line += " [" + message.Delivery.String() + "]"
	}
	fmt.Fprintln(w, line)
}

// reportSend prints the outcome of a completed send and turns a failed
// delivery into an error. The temporary ID no longer exists once the
// server has confirmed the message.
func reportSend(w io.Writer, store *timeline.Store, roomID ref.RoomID, id timeline.MessageID) error {
	message, ok := store.Message(roomID, id)
	switch {
	case !ok:
		fmt.Fprintln(w, "sent")
		return nil
	case message.Delivery.IsFailed():
		return fmt.Errorf("message not delivered: %s", message.Delivery.Reason())
	default:
		fmt.Fprintf(w, "send %s\n", message.Delivery)
		return nil
	}
}
