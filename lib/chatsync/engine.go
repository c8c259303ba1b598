// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chatsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/chatsync/lib/clock"
	"github.com/bureau-foundation/chatsync/lib/directory"
	"github.com/bureau-foundation/chatsync/lib/protocol"
	"github.com/bureau-foundation/chatsync/lib/ref"
	"github.com/bureau-foundation/chatsync/lib/timeline"
)

// DefaultBatchSize is the number of events requested for a room's
// initial window and for each older page.
const DefaultBatchSize = 30

// Config configures an Engine.
type Config struct {
	// Facade performs all server calls. Required.
	Facade protocol.Facade

	// Store holds the cache. If nil, a new empty store is used.
	Store *timeline.Store

	// Resolver resolves identifiers and classifies rooms. If nil, one
	// is built over Facade.
	Resolver *directory.Resolver

	// Clock stamps optimistic messages. If nil, clock.Real() is used.
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger

	// BatchSize is the initial window size. Zero means DefaultBatchSize.
	BatchSize int

	// PageSize is the LoadMore page size. Zero means DefaultBatchSize.
	PageSize int
}

// Engine reconciles the local cache with the homeserver. All methods
// are safe for concurrent use.
type Engine struct {
	facade    protocol.Facade
	store     *timeline.Store
	resolver  *directory.Resolver
	clock     clock.Clock
	logger    *slog.Logger
	batchSize int
	pageSize  int

	// loadingHistory is held for the duration of a LoadMore in any
	// room.
	loadingHistory atomic.Bool

	// sends tracks background send goroutines for Wait.
	sends sync.WaitGroup

	mu sync.Mutex
	// left holds rooms this engine has left and not reopened since.
	left map[ref.RoomID]bool
}

// New creates an Engine.
func New(config Config) (*Engine, error) {
	if config.Facade == nil {
		return nil, fmt.Errorf("chatsync: Facade is required")
	}
	if config.BatchSize < 0 || config.PageSize < 0 {
		return nil, fmt.Errorf("chatsync: batch and page sizes must not be negative")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := config.Store
	if store == nil {
		store = timeline.NewStore()
	}
	resolver := config.Resolver
	if resolver == nil {
		var err error
		resolver, err = directory.New(directory.Config{Facade: config.Facade, Logger: logger})
		if err != nil {
			return nil, err
		}
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	batchSize := config.BatchSize
	if batchSize == 0 {
		batchSize = DefaultBatchSize
	}
	pageSize := config.PageSize
	if pageSize == 0 {
		pageSize = DefaultBatchSize
	}

	return &Engine{
		facade:    config.Facade,
		store:     store,
		resolver:  resolver,
		clock:     clk,
		logger:    logger,
		batchSize: batchSize,
		pageSize:  pageSize,
		left:      make(map[ref.RoomID]bool),
	}, nil
}

// Store returns the cache the engine writes to.
func (e *Engine) Store() *timeline.Store { return e.store }

// Wait blocks until every send started so far has been confirmed or
// has failed.
func (e *Engine) Wait() { e.sends.Wait() }

// ResolveAndOpen resolves identifier to a room, records the room and
// loads its initial window. Once the room is resolved its ID is always
// returned: a failed load is logged and can be retried with
// LoadMessages.
func (e *Engine) ResolveAndOpen(ctx context.Context, identifier string) (ref.RoomID, error) {
	roomID, err := e.resolver.Resolve(ctx, identifier)
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("resolving %s: %w", identifier, err)
	}

	e.mu.Lock()
	delete(e.left, roomID)
	e.mu.Unlock()

	e.store.UpdateRoom(roomID, func(*timeline.Room) {})
	if err := e.LoadMessages(ctx, roomID); err != nil {
		e.logger.Warn("loading opened room failed", "room_id", roomID, "error", err)
	}
	return roomID, nil
}

// Leave leaves the room and drops it from the cache. Sends still in
// flight for the room fail their confirmation harmlessly.
func (e *Engine) Leave(ctx context.Context, roomID ref.RoomID) error {
	if err := e.resolver.Leave(ctx, roomID); err != nil {
		return err
	}
	e.mu.Lock()
	e.left[roomID] = true
	e.mu.Unlock()

	e.store.Drop(roomID)
	e.logger.Info("left room", "room_id", roomID)
	return nil
}

func (e *Engine) hasLeft(roomID ref.RoomID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.left[roomID]
}
