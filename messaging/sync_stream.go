// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bureau-foundation/chatsync/lib/clock"
	"github.com/bureau-foundation/chatsync/lib/ref"
)

// SyncStreamConfig configures a SyncStream.
type SyncStreamConfig struct {
	// Filter is the inline JSON filter sent with every /sync (see
	// TimelineFilter).
	Filter string

	// Timeout is the long-poll timeout. Default: 30 seconds.
	Timeout time.Duration

	// MaxBackoff caps the retry delay after a failed /sync. The delay
	// starts at one second and doubles. Default: 30 seconds.
	MaxBackoff time.Duration

	// Clock paces the backoff. If nil, clock.Real() is used.
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// SyncHandler receives one timeline event of one joined room. Handlers
// run on the sync goroutine and should return quickly.
type SyncHandler func(roomID ref.RoomID, event Event)

// SyncStream runs the /sync long-poll loop and fans out timeline events
// to subscribers. Events from the initial sync are history, not live
// traffic, and are not dispatched.
type SyncStream struct {
	session    Session
	filter     string
	timeout    time.Duration
	maxBackoff time.Duration
	clock      clock.Clock
	logger     *slog.Logger

	mu       sync.Mutex
	handlers map[uint64]SyncHandler
	nextID   uint64
	position string

	ready     chan struct{}
	readyOnce sync.Once
}

// NewSyncStream creates a stream over session. Call Run to start it.
func NewSyncStream(session Session, config SyncStreamConfig) *SyncStream {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxBackoff := config.MaxBackoff
	if maxBackoff == 0 {
		maxBackoff = 30 * time.Second
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncStream{
		session:    session,
		filter:     config.Filter,
		timeout:    timeout,
		maxBackoff: maxBackoff,
		clock:      clk,
		logger:     logger,
		handlers:   make(map[uint64]SyncHandler),
		ready:      make(chan struct{}),
	}
}

// Subscribe registers handler for every live timeline event. The
// returned cancel function is idempotent and safe to call after Run has
// returned.
func (s *SyncStream) Subscribe(handler SyncHandler) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = handler
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.handlers, id)
			s.mu.Unlock()
		})
	}
}

// Position returns the next_batch token of the last successful sync,
// or "" before the initial sync completes.
func (s *SyncStream) Position() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// Ready is closed once the initial sync has established a position.
// Every event the server accepts after that is dispatched live, so
// history read after Ready and live events together miss nothing.
func (s *SyncStream) Ready() <-chan struct{} { return s.ready }

// Run syncs until ctx is cancelled. Transient failures are retried with
// exponential backoff. Run returns nil on cancellation and an error only
// when the homeserver rejects the access token, which no retry can fix.
func (s *SyncStream) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return nil
		}

		since := s.Position()
		options := SyncOptions{Since: since, Filter: s.filter}
		if since != "" {
			options.Timeout = int(s.timeout / time.Millisecond)
			options.SetTimeout = true
		}

		response, err := s.session.Sync(ctx, options)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if IsMatrixError(err, ErrCodeUnknownToken) {
				return fmt.Errorf("messaging: sync stopped: %w", err)
			}
			s.logger.Error("sync failed, retrying", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-s.clock.After(backoff):
			}
			backoff *= 2
			if backoff > s.maxBackoff {
				backoff = s.maxBackoff
			}
			continue
		}
		backoff = time.Second

		s.mu.Lock()
		s.position = response.NextBatch
		s.mu.Unlock()

		if since == "" {
			s.logger.Info("initial sync complete", "rooms", len(response.Rooms.Join))
			s.readyOnce.Do(func() { close(s.ready) })
			continue
		}
		s.dispatch(response)
	}
}

func (s *SyncStream) dispatch(response *SyncResponse) {
	s.mu.Lock()
	handlers := make([]SyncHandler, 0, len(s.handlers))
	ids := make([]uint64, 0, len(s.handlers))
	for id := range s.handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		handlers = append(handlers, s.handlers[id])
	}
	s.mu.Unlock()
	if len(handlers) == 0 {
		return
	}

	roomIDs := make([]ref.RoomID, 0, len(response.Rooms.Join))
	for roomID := range response.Rooms.Join {
		roomIDs = append(roomIDs, roomID)
	}
	sort.Slice(roomIDs, func(i, j int) bool { return roomIDs[i].String() < roomIDs[j].String() })

	for _, roomID := range roomIDs {
		for _, event := range response.Rooms.Join[roomID].Timeline.Events {
			event.RoomID = roomID
			for _, handler := range handlers {
				handler(roomID, event)
			}
		}
	}
}

// TimelineFilter builds an inline /sync filter that keeps only the
// given timeline event types, at most limit per room, and drops
// presence and account data.
func TimelineFilter(limit int, types ...ref.EventType) string {
	type eventFilter struct {
		Limit int             `json:"limit,omitempty"`
		Types []ref.EventType `json:"types"`
	}
	filter := struct {
		Room struct {
			Timeline eventFilter `json:"timeline"`
		} `json:"room"`
		Presence    eventFilter `json:"presence"`
		AccountData eventFilter `json:"account_data"`
	}{}
	filter.Room.Timeline = eventFilter{Limit: limit, Types: types}
	filter.Presence.Types = []ref.EventType{}
	filter.AccountData.Types = []ref.EventType{}

	encoded, err := json.Marshal(filter)
	if err != nil {
		panic(fmt.Sprintf("messaging: encoding sync filter: %v", err))
	}
	return string(encoded)
}
