// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chatsync

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bureau-foundation/chatsync/lib/protocol"
	"github.com/bureau-foundation/chatsync/lib/ref"
	"github.com/bureau-foundation/chatsync/lib/timeline"
)

// Subscribe routes live events of roomID into the cache. onMessage, if
// not nil, is called with every message that was new to the timeline,
// on the transport's delivery goroutine. Name and avatar changes update
// the room record. The returned function stops routing and may be
// called more than once.
func (e *Engine) Subscribe(roomID ref.RoomID, onMessage func(timeline.Message)) (unsubscribe func()) {
	stop := e.facade.SubscribeLiveEvents(func(event protocol.Event) {
		if event.RoomID != roomID {
			return
		}
		switch event.Type {
		case ref.EventTypeMessage:
			e.routeMessage(roomID, event, onMessage)
		case ref.EventTypeName, ref.EventTypeAvatar:
			if !isLocalEcho(event) {
				e.routeMetadata(roomID, event)
			}
		}
	})

	var once sync.Once
	return func() { once.Do(stop) }
}

func (e *Engine) routeMessage(roomID ref.RoomID, event protocol.Event, onMessage func(timeline.Message)) {
	if isLocalEcho(event) {
		return
	}
	if e.hasLeft(roomID) {
		e.logger.Debug("dropping live event", "room_id", roomID, "event_id", event.ID,
			"error", fmt.Errorf("room was left: %w", protocol.ErrStaleState))
		return
	}
	message, err := messageFromEvent(event)
	if err != nil {
		e.logger.Debug("dropping live event", "room_id", roomID, "event_id", event.ID, "error", err)
		return
	}
	if accepted := e.store.Append(roomID, message); len(accepted) > 0 && onMessage != nil {
		onMessage(message)
	}
}

func (e *Engine) routeMetadata(roomID ref.RoomID, event protocol.Event) {
	if _, known := e.store.Room(roomID); !known && e.hasLeft(roomID) {
		return
	}
	e.store.UpdateRoom(roomID, func(room *timeline.Room) {
		switch event.Type {
		case ref.EventTypeName:
			room.Name = event.Name
		case ref.EventTypeAvatar:
			room.AvatarURL = event.AvatarURL
		}
	})
}

// isLocalEcho reports whether a transport surfaced the event before
// the server accepted it. Such events are owned by the send path.
func isLocalEcho(event protocol.Event) bool {
	return event.Status.Provisional() || timeline.IsTempID(event.ID)
}

var (
	errNotMessage   = errors.New("not a message event")
	errNoSender     = errors.New("missing sender")
	errEmptyMessage = errors.New("message has neither body nor msgtype")
)

// messageFromEvent converts a server message event into a timeline
// message, rejecting events that lack a valid event ID, a sender, or
// content.
func messageFromEvent(event protocol.Event) (timeline.Message, error) {
	if event.Type != ref.EventTypeMessage {
		return timeline.Message{}, fmt.Errorf("%w: %s", errNotMessage, event.Type)
	}
	eventID, err := ref.ParseEventID(event.ID)
	if err != nil {
		return timeline.Message{}, err
	}
	if event.Sender.IsZero() {
		return timeline.Message{}, errNoSender
	}
	if event.Body == "" && event.MsgType == "" {
		return timeline.Message{}, errEmptyMessage
	}
	return timeline.Message{
		ID:        timeline.IDFromEvent(eventID),
		Body:      event.Body,
		Sender:    event.Sender,
		Timestamp: event.Timestamp,
		Delivery:  timeline.Sent(eventID),
	}, nil
}
