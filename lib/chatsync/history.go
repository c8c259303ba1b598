// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chatsync

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/chatsync/lib/directory"
	"github.com/bureau-foundation/chatsync/lib/protocol"
	"github.com/bureau-foundation/chatsync/lib/ref"
	"github.com/bureau-foundation/chatsync/lib/timeline"
)

// LoadMessages refreshes the room record and replaces the room's
// timeline with its newest window. A window shorter than the batch size
// is topped up with one more older page when the server has one.
// Local sends survive the replacement. A failed state read keeps the
// previous room record and does not stop the load.
func (e *Engine) LoadMessages(ctx context.Context, roomID ref.RoomID) error {
	snapshot, err := e.facade.RoomSnapshot(ctx, roomID)
	if err != nil {
		e.logger.Warn("reading room state failed", "room_id", roomID, "error", err)
	} else {
		e.recordSnapshot(ctx, snapshot)
	}

	page, err := e.facade.PaginateBackward(ctx, roomID, "", e.batchSize)
	if err != nil {
		return fmt.Errorf("loading messages of %s: %w", roomID, err)
	}
	events := page.Events
	hasMore, cursor := page.HasMore, page.NextCursor

	if len(page.Events) < e.batchSize && page.HasMore {
		older, err := e.facade.PaginateBackward(ctx, roomID, cursor, e.batchSize)
		if err != nil {
			// The first window stands; LoadMore continues from its cursor.
			e.logger.Warn("topping up initial window failed", "room_id", roomID, "error", err)
		} else {
			events = append(older.Events, events...)
			hasMore, cursor = older.HasMore, older.NextCursor
		}
	}

	e.store.Reset(roomID, e.convertPage(roomID, events), hasMore, cursor)
	e.logger.Debug("loaded messages",
		"room_id", roomID, "count", e.store.Len(roomID), "has_more", hasMore)
	return nil
}

// LoadMore prepends the next older page of the room's history. It does
// nothing when the room has no more history or when any LoadMore is
// already running. A room that was never loaded fails with
// ErrStaleState.
func (e *Engine) LoadMore(ctx context.Context, roomID ref.RoomID) error {
	if !e.store.Loaded(roomID) {
		return fmt.Errorf("loading more of %s: no loaded timeline: %w", roomID, protocol.ErrStaleState)
	}
	hasMore, cursor := e.store.Pagination(roomID)
	if !hasMore {
		return nil
	}
	if !e.loadingHistory.CompareAndSwap(false, true) {
		return nil
	}
	defer e.loadingHistory.Store(false)

	page, err := e.facade.PaginateBackward(ctx, roomID, cursor, e.pageSize)
	if err != nil {
		e.logger.Warn("loading older messages failed", "room_id", roomID, "error", err)
		return fmt.Errorf("loading more of %s: %w", roomID, err)
	}

	accepted, ok := e.store.Prepend(roomID, e.convertPage(roomID, page.Events), page.HasMore, page.NextCursor)
	if !ok {
		return fmt.Errorf("loading more of %s: timeline dropped: %w", roomID, protocol.ErrStaleState)
	}
	e.logger.Debug("loaded older messages",
		"room_id", roomID, "new", len(accepted), "has_more", page.HasMore)
	return nil
}

// LoadingHistory reports whether a LoadMore is running.
func (e *Engine) LoadingHistory() bool {
	return e.loadingHistory.Load()
}

// recordSnapshot copies room metadata and classification into the
// room record. A classification failure keeps the previous kind.
func (e *Engine) recordSnapshot(ctx context.Context, snapshot *protocol.RoomSnapshot) {
	mapping, err := e.resolver.DirectMapping(ctx)
	if err != nil {
		e.logger.Warn("reading direct chats failed", "room_id", snapshot.RoomID, "error", err)
	}
	e.store.UpdateRoom(snapshot.RoomID, func(room *timeline.Room) {
		room.Name = snapshot.Name
		room.AvatarURL = snapshot.AvatarURL
		if err != nil {
			return
		}
		room.Kind = timeline.KindGroup
		if directory.ClassifyDirect(mapping, snapshot) {
			room.Kind = timeline.KindDirect
		}
	})
}

// convertPage keeps the message events of a page, dropping any that
// fail conversion.
func (e *Engine) convertPage(roomID ref.RoomID, events []protocol.Event) []timeline.Message {
	messages := make([]timeline.Message, 0, len(events))
	for _, event := range events {
		if event.Type != ref.EventTypeMessage {
			continue
		}
		message, err := messageFromEvent(event)
		if err != nil {
			e.logger.Debug("dropping history event", "room_id", roomID, "event_id", event.ID, "error", err)
			continue
		}
		messages = append(messages, message)
	}
	return messages
}
