// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Chatsync opens a Matrix room through the chatsync engine and prints
// its timeline. It can then send a message, page in older history,
// follow live messages until interrupted, or leave the room.
//
// The room is named by ID (!room:server), alias (#name:server, or
// #name on the user's own server), or user ID (@peer:server) for a
// direct chat.
//
//	chatsync --config chatsync.yaml --open '#lobby' --send 'hello' --follow
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/chatsync/lib/chatsync"
	"github.com/bureau-foundation/chatsync/lib/clock"
	"github.com/bureau-foundation/chatsync/lib/config"
	"github.com/bureau-foundation/chatsync/lib/protocol"
	"github.com/bureau-foundation/chatsync/lib/ref"
	"github.com/bureau-foundation/chatsync/lib/secret"
	"github.com/bureau-foundation/chatsync/lib/version"
	"github.com/bureau-foundation/chatsync/messaging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath   string
		openTarget   string
		sendText     string
		historyPages int
		follow       bool
		leave        bool
		showVersion  bool
	)

	flagSet := pflag.NewFlagSet("chatsync", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to chatsync.yaml (default: $CHATSYNC_CONFIG)")
	flagSet.StringVar(&openTarget, "open", "", "room ID, alias, or user ID to open (required)")
	flagSet.StringVar(&sendText, "send", "", "message to send after opening the room")
	flagSet.IntVar(&historyPages, "history", 0, "number of older pages to load before printing")
	flagSet.BoolVar(&follow, "follow", false, "print live messages until interrupted")
	flagSet.BoolVar(&leave, "leave", false, "leave the room after the other actions")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print(os.Stdout, "chatsync")
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}
	if openTarget == "" {
		return fmt.Errorf("--open is required")
	}
	if historyPages < 0 {
		return fmt.Errorf("--history must not be negative")
	}
	if follow && leave {
		return fmt.Errorf("--follow and --leave are mutually exclusive")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	syncTimeout, err := cfg.SyncTimeout()
	if err != nil {
		return err
	}
	maxBackoff, err := cfg.SyncMaxBackoff()
	if err != nil {
		return err
	}
	stream := messaging.NewSyncStream(session, messaging.SyncStreamConfig{
		Filter:     messaging.TimelineFilter(cfg.Sync.TimelineLimit, ref.EventTypeMessage, ref.EventTypeName, ref.EventTypeAvatar),
		Timeout:    syncTimeout,
		MaxBackoff: maxBackoff,
		Logger:     logger,
	})
	facade, err := protocol.NewMatrix(protocol.MatrixConfig{
		Session: session,
		Stream:  stream,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	engine, err := chatsync.New(chatsync.Config{
		Facade:    facade,
		Clock:     clock.Real(),
		Logger:    logger,
		BatchSize: cfg.Timeline.BatchSize,
		PageSize:  cfg.Timeline.PageSize,
	})
	if err != nil {
		return err
	}
	defer engine.Wait()

	var streamDone chan error
	if follow {
		streamDone = make(chan error, 1)
		go func() { streamDone <- stream.Run(ctx) }()
	}

	roomID, err := engine.ResolveAndOpen(ctx, openTarget)
	if err != nil {
		return err
	}

	live := newLiveOutput(os.Stdout)
	if follow {
		unsubscribe := engine.Subscribe(roomID, live.message)
		defer unsubscribe()

		// Events between the first load and the initial sync are never
		// dispatched live; reload once the stream has a position.
		select {
		case <-stream.Ready():
		case err := <-streamDone:
			if err != nil {
				return err
			}
			return ctx.Err()
		}
		if err := engine.LoadMessages(ctx, roomID); err != nil {
			return err
		}
	}

	store := engine.Store()
	for page := 0; page < historyPages; page++ {
		if hasMore, _ := store.Pagination(roomID); !hasMore {
			break
		}
		if err := engine.LoadMore(ctx, roomID); err != nil {
			return err
		}
	}

	if room, ok := store.Room(roomID); ok {
		printRoomHeader(os.Stdout, room)
	}
	live.printTimeline(store.Messages(roomID))

	if sendText != "" {
		id := engine.Send(ctx, roomID, sendText)
		engine.Wait()
		if err := reportSend(os.Stdout, store, roomID, id); err != nil {
			return err
		}
	}

	if leave {
		return engine.Leave(ctx, roomID)
	}

	if follow {
		logger.Info("following room", "room_id", roomID)
		return <-streamDone
	}
	return nil
}

// loadConfig reads and validates the file named by --config, falling
// back to CHATSYNC_CONFIG.
func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// connect builds a session from the configured token and checks that
// the token belongs to the configured user.
func connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*messaging.DirectSession, error) {
	userID, err := cfg.UserID()
	if err != nil {
		return nil, err
	}
	token, err := secret.ReadTokenFile(cfg.Homeserver.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("reading access token: %w", err)
	}

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: cfg.Homeserver.URL,
		Logger:        logger,
	})
	if err != nil {
		token.Close()
		return nil, err
	}
	session, err := client.SessionFromToken(userID, token)
	if err != nil {
		token.Close()
		return nil, err
	}

	versions, err := client.ServerVersions(ctx)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("probing homeserver: %w", err)
	}
	logger.Debug("homeserver reachable", "versions", versions.Versions)

	owner, err := session.WhoAmI(ctx)
	if err != nil {
		session.Close()
		return nil, err
	}
	if owner != userID {
		session.Close()
		return nil, fmt.Errorf("access token belongs to %s, config names %s", owner, userID)
	}
	logger.Info("session established", "user_id", owner, "token_locked", token.Locked())
	return session, nil
}
