// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chatsync

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/chatsync/lib/protocol"
	"github.com/bureau-foundation/chatsync/lib/ref"
	"github.com/bureau-foundation/chatsync/lib/timeline"
)

// Send appends text to the room's timeline as a Sending message and
// sends it in the background. It never fails: the outcome is recorded
// in the message's delivery status. The send is not cancelled when ctx
// is.
func (e *Engine) Send(ctx context.Context, roomID ref.RoomID, text string) timeline.MessageID {
	message := e.store.AddPending(roomID, e.facade.UserID(), text, e.clock.Now())

	if e.hasLeft(roomID) {
		e.logger.Warn("send into a room that was left",
			"room_id", roomID, "message_id", message.ID, "error", protocol.ErrStaleState)
		e.store.Fail(roomID, message.ID, "room was left")
		return message.ID
	}

	e.dispatch(ctx, roomID, message)
	return message.ID
}

// Retry re-sends a Failed message. It fails with ErrStaleState when the
// message is unknown or not Failed.
func (e *Engine) Retry(ctx context.Context, roomID ref.RoomID, id timeline.MessageID) error {
	if e.hasLeft(roomID) {
		return fmt.Errorf("retrying %s: room %s was left: %w", id, roomID, protocol.ErrStaleState)
	}
	message, ok := e.store.MarkSending(roomID, id)
	if !ok {
		return fmt.Errorf("retrying %s: not a failed message: %w", id, protocol.ErrStaleState)
	}
	e.dispatch(ctx, roomID, message)
	return nil
}

// Discard deletes a Failed message. It fails with ErrStaleState when
// the message is unknown or not Failed.
func (e *Engine) Discard(roomID ref.RoomID, id timeline.MessageID) error {
	message, ok := e.store.Message(roomID, id)
	if !ok || !message.Delivery.IsFailed() || !e.store.Remove(roomID, id) {
		return fmt.Errorf("discarding %s: not a failed message: %w", id, protocol.ErrStaleState)
	}
	return nil
}

func (e *Engine) dispatch(ctx context.Context, roomID ref.RoomID, message timeline.Message) {
	sendCtx := context.WithoutCancel(ctx)
	e.sends.Add(1)
	go func() {
		defer e.sends.Done()
		eventID, err := e.facade.SendMessage(sendCtx, roomID, message.Body)
		e.resolveSend(roomID, message.ID, eventID, err)
	}()
}

func (e *Engine) resolveSend(roomID ref.RoomID, tempID timeline.MessageID, eventID ref.EventID, sendErr error) {
	if sendErr != nil {
		if !e.store.Fail(roomID, tempID, sendErr.Error()) {
			e.logger.Warn("send failure for a message no longer pending",
				"room_id", roomID, "message_id", tempID, "error", protocol.ErrStaleState)
			return
		}
		e.logger.Warn("send failed",
			"room_id", roomID, "message_id", tempID,
			"transport", protocol.IsTransport(sendErr), "error", sendErr)
		return
	}

	switch e.store.Confirm(roomID, tempID, eventID) {
	case timeline.ConfirmReplaced:
		e.logger.Debug("send confirmed", "room_id", roomID, "message_id", tempID, "event_id", eventID)
	case timeline.ConfirmMerged:
		e.logger.Debug("send confirmed after live echo",
			"room_id", roomID, "message_id", tempID, "event_id", eventID)
	case timeline.ConfirmMissing:
		e.logger.Warn("send confirmed for a message no longer pending",
			"room_id", roomID, "message_id", tempID, "event_id", eventID, "error", protocol.ErrStaleState)
	}
}
