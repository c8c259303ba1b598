// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/chatsync/lib/ref"
)

func TestFakePagination(t *testing.T) {
	fake := NewFake(alice)
	roomID := fake.AddRoom(FakeRoom{Members: map[ref.UserID]string{alice: MembershipJoin}})
	for _, body := range []string{"one", "two", "three", "four", "five"} {
		fake.AddMessage(roomID, bob, body, time.Time{})
	}

	ctx := context.Background()
	page, err := fake.PaginateBackward(ctx, roomID, "", 2)
	if err != nil {
		t.Fatalf("PaginateBackward: %v", err)
	}
	if len(page.Events) != 2 || page.Events[0].Body != "four" || page.Events[1].Body != "five" || !page.HasMore {
		t.Fatalf("first page = %+v", page)
	}

	page, err = fake.PaginateBackward(ctx, roomID, page.NextCursor, 2)
	if err != nil {
		t.Fatalf("PaginateBackward: %v", err)
	}
	if page.Events[0].Body != "two" || !page.HasMore {
		t.Fatalf("second page = %+v", page)
	}

	page, err = fake.PaginateBackward(ctx, roomID, page.NextCursor, 2)
	if err != nil {
		t.Fatalf("PaginateBackward: %v", err)
	}
	if len(page.Events) != 1 || page.Events[0].Body != "one" || page.HasMore {
		t.Fatalf("last page = %+v", page)
	}
	if fake.Calls(OpPaginate) != 3 {
		t.Errorf("Calls(paginate) = %d", fake.Calls(OpPaginate))
	}
}

func TestFakeAliasLifecycle(t *testing.T) {
	fake := NewFake(alice)
	ctx := context.Background()

	if _, err := fake.JoinRoom(ctx, "#lobby:local"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("join of unknown alias = %v, want ErrNotFound", err)
	}
	roomID, err := fake.CreateRoom(ctx, CreateRoomOptions{Name: "lobby", Alias: "lobby", Public: true})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := fake.CreateRoom(ctx, CreateRoomOptions{Alias: "lobby"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate alias = %v, want ErrConflict", err)
	}
	joined, err := fake.JoinRoom(ctx, "#lobby:local")
	if err != nil || joined != roomID {
		t.Fatalf("JoinRoom = %s, %v; want %s", joined, err, roomID)
	}

	if err := fake.ForgetRoom(ctx, roomID); err == nil {
		t.Error("forgetting a joined room should fail")
	}
	if err := fake.LeaveRoom(ctx, roomID); err != nil {
		t.Fatalf("LeaveRoom: %v", err)
	}
	if err := fake.ForgetRoom(ctx, roomID); err != nil {
		t.Fatalf("ForgetRoom: %v", err)
	}
	if !fake.Forgotten(roomID) || fake.Membership(roomID, alice) != MembershipLeave {
		t.Error("room should be left and forgotten")
	}
}

func TestFakeHooksFallThrough(t *testing.T) {
	fake := NewFake(alice)
	roomID := fake.AddRoom(FakeRoom{Members: map[ref.UserID]string{alice: MembershipJoin}})
	hookCalls := 0
	fake.SendHook = func(ctx context.Context, _ ref.RoomID, text string) (ref.EventID, error) {
		hookCalls++
		return ref.EventID{}, nil
	}

	eventID, err := fake.SendMessage(context.Background(), roomID, "hi")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if hookCalls != 1 || eventID.IsZero() {
		t.Errorf("hook calls = %d, event = %s", hookCalls, eventID)
	}

	injected := errors.New("boom")
	fake.Fail(OpSend, injected)
	if _, err := fake.SendMessage(context.Background(), roomID, "again"); !errors.Is(err, injected) {
		t.Errorf("SendMessage = %v, want injected failure", err)
	}
	fake.Fail(OpSend, nil)
	if _, err := fake.SendMessage(context.Background(), roomID, "third"); err != nil {
		t.Errorf("SendMessage after clearing failure: %v", err)
	}
}

func TestFakeLiveEvents(t *testing.T) {
	fake := NewFake(alice)
	fake.EchoSends = true
	roomID := fake.AddRoom(FakeRoom{Members: map[ref.UserID]string{alice: MembershipJoin}})

	var received []Event
	unsubscribe := fake.SubscribeLiveEvents(func(event Event) { received = append(received, event) })
	if _, err := fake.SendMessage(context.Background(), roomID, "echo"); err != nil {
		t.Fatal(err)
	}
	fake.Emit(Event{RoomID: roomID, ID: "$external", Type: "m.room.message"})
	unsubscribe()
	unsubscribe()
	fake.Emit(Event{RoomID: roomID, ID: "$late"})

	if len(received) != 2 || received[0].Body != "echo" || received[1].ID != "$external" {
		t.Errorf("received = %+v", received)
	}
	if fake.Subscribers() != 0 {
		t.Errorf("Subscribers = %d after unsubscribe", fake.Subscribers())
	}
}

func TestFakeAccountMetadata(t *testing.T) {
	fake := NewFake(alice)
	ctx := context.Background()
	if _, err := fake.AccountMetadata(ctx, "m.direct"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unset key = %v, want ErrNotFound", err)
	}
	if err := fake.SetAccountMetadata(ctx, "m.direct", map[string][]string{"@bob:local": {"!r:local"}}); err != nil {
		t.Fatal(err)
	}
	raw, err := fake.AccountMetadata(ctx, "m.direct")
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string][]string
	if err := json.Unmarshal(raw, &decoded); err != nil || decoded["@bob:local"][0] != "!r:local" {
		t.Errorf("decoded = %v, %v", decoded, err)
	}
}
