// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chatsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/chatsync/lib/protocol"
	"github.com/bureau-foundation/chatsync/lib/ref"
	"github.com/bureau-foundation/chatsync/lib/timeline"
)

func liveMessage(roomID ref.RoomID, id string, body string) protocol.Event {
	return protocol.Event{
		RoomID:    roomID,
		ID:        id,
		Type:      ref.EventTypeMessage,
		Sender:    bob,
		Timestamp: testNow.Add(time.Minute),
		Body:      body,
		MsgType:   "m.text",
	}
}

func TestSubscribeRoutesLiveMessages(t *testing.T) {
	env := newTestEnv(t, 10)
	roomID := env.loadRoom(t, 2)
	other := env.addJoinedRoom(0)

	var received []timeline.Message
	unsubscribe := env.engine.Subscribe(roomID, func(message timeline.Message) {
		received = append(received, message)
	})

	sending := liveMessage(roomID, "$echo1", "local echo")
	sending.Status = protocol.StatusSending
	notSent := liveMessage(roomID, "$echo2", "local echo")
	notSent.Status = protocol.StatusNotSent
	state := liveMessage(roomID, "$member", "")
	state.Type = ref.EventTypeMember

	env.fake.Emit(liveMessage(roomID, "$new", "hello"))
	env.fake.Emit(liveMessage(roomID, "$new", "hello"))
	env.fake.Emit(liveMessage(other, "$elsewhere", "other room"))
	env.fake.Emit(liveMessage(roomID, "~3f2a", "temporary id"))
	env.fake.Emit(sending)
	env.fake.Emit(notSent)
	env.fake.Emit(state)
	env.fake.Emit(liveMessage(roomID, "not-an-event-id", "malformed"))

	if len(received) != 1 || received[0].ID != "$new" || received[0].Body != "hello" {
		t.Fatalf("received = %+v, want only $new", received)
	}
	if !received[0].Delivery.IsSent() {
		t.Errorf("live message delivery = %s", received[0].Delivery)
	}
	messages := env.store.Messages(roomID)
	if len(messages) != 3 || messages[2].ID != "$new" {
		t.Errorf("timeline = %v", messages)
	}
	if env.store.Len(other) != 0 {
		t.Error("event for another room routed into the cache")
	}

	unsubscribe()
	unsubscribe()
	env.fake.Emit(liveMessage(roomID, "$after", "too late"))
	if len(received) != 1 || env.store.Len(roomID) != 3 {
		t.Error("events routed after unsubscribe")
	}
	if env.fake.Subscribers() != 0 {
		t.Errorf("subscribers = %d after unsubscribe", env.fake.Subscribers())
	}
}

func TestSubscribeDeduplicatesHistory(t *testing.T) {
	env := newTestEnv(t, 10)
	roomID := env.loadRoom(t, 3)
	loaded := env.store.Messages(roomID)

	notified := 0
	unsubscribe := env.engine.Subscribe(roomID, func(timeline.Message) { notified++ })
	defer unsubscribe()

	// Sync redelivers the newest loaded message.
	replay := liveMessage(roomID, loaded[2].ID.String(), loaded[2].Body)
	replay.Timestamp = loaded[2].Timestamp
	env.fake.Emit(replay)

	if notified != 0 || env.store.Len(roomID) != 3 {
		t.Errorf("replayed event accepted: notified=%d len=%d", notified, env.store.Len(roomID))
	}
}

func TestSubscribeIgnoresLeftRoom(t *testing.T) {
	env := newTestEnv(t, 10)
	roomID := env.loadRoom(t, 2)

	notified := 0
	unsubscribe := env.engine.Subscribe(roomID, func(timeline.Message) { notified++ })
	defer unsubscribe()

	if err := env.engine.Leave(context.Background(), roomID); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	env.fake.Emit(liveMessage(roomID, "$late", "after leave"))

	if notified != 0 {
		t.Errorf("notified %d times for a left room", notified)
	}
	if env.store.Len(roomID) != 0 {
		t.Errorf("left room back in the cache with %d messages", env.store.Len(roomID))
	}
	if _, ok := env.store.Room(roomID); ok {
		t.Error("left room record recreated")
	}
}

func TestSubscribeUpdatesRoomMetadata(t *testing.T) {
	env := newTestEnv(t, 10)
	roomID := env.loadRoom(t, 1)
	unsubscribe := env.engine.Subscribe(roomID, nil)
	defer unsubscribe()

	env.fake.Emit(protocol.Event{RoomID: roomID, ID: "$n", Type: ref.EventTypeName, Name: "Renamed"})
	env.fake.Emit(protocol.Event{RoomID: roomID, ID: "$a", Type: ref.EventTypeAvatar, AvatarURL: "mxc://local/new"})
	env.fake.Emit(protocol.Event{RoomID: roomID, ID: "~pending", Type: ref.EventTypeName, Name: "Echo"})

	room, _ := env.store.Room(roomID)
	if room.Name != "Renamed" || room.AvatarURL != "mxc://local/new" {
		t.Errorf("room = %+v", room)
	}
	if env.store.Len(roomID) != 1 {
		t.Error("metadata event added to the timeline")
	}
}

func TestMessageFromEvent(t *testing.T) {
	roomID := ref.MustParseRoomID("!room:local")
	valid := liveMessage(roomID, "$ok", "body")

	tests := []struct {
		name       string
		mutate     func(*protocol.Event)
		wantErr    error
		wantReject bool
	}{
		{name: "valid", mutate: func(*protocol.Event) {}},
		{name: "empty body with msgtype", mutate: func(event *protocol.Event) { event.Body = "" }},
		{name: "wrong type", mutate: func(event *protocol.Event) { event.Type = ref.EventTypeName }, wantErr: errNotMessage},
		{name: "no sender", mutate: func(event *protocol.Event) { event.Sender = ref.UserID{} }, wantErr: errNoSender},
		{name: "redacted", mutate: func(event *protocol.Event) { event.Body, event.MsgType = "", "" }, wantErr: errEmptyMessage},
		{name: "bad id", mutate: func(event *protocol.Event) { event.ID = "ok" }, wantReject: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			event := valid
			test.mutate(&event)
			message, err := messageFromEvent(event)
			switch {
			case test.wantReject:
				if err == nil {
					t.Fatal("accepted an event without a valid event ID")
				}
			case test.wantErr != nil:
				if !errors.Is(err, test.wantErr) {
					t.Fatalf("error = %v, want %v", err, test.wantErr)
				}
			default:
				if err != nil {
					t.Fatalf("messageFromEvent: %v", err)
				}
				if message.ID.String() != event.ID || message.Sender != bob || !message.Timestamp.Equal(event.Timestamp) {
					t.Errorf("message = %+v", message)
				}
			}
		})
	}
}
