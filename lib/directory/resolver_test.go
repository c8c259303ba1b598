// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/bureau-foundation/chatsync/lib/protocol"
	"github.com/bureau-foundation/chatsync/lib/ref"
)

var (
	alice = ref.MustParseUserID("@alice:local")
	bob   = ref.MustParseUserID("@bob:local")
	carol = ref.MustParseUserID("@carol:local")
)

func newTestResolver(t *testing.T) (*Resolver, *protocol.Fake) {
	t.Helper()
	fake := protocol.NewFake(alice)
	resolver, err := New(Config{Facade: fake})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return resolver, fake
}

func storedMapping(t *testing.T, fake *protocol.Fake) DirectMapping {
	t.Helper()
	raw, err := fake.AccountMetadata(context.Background(), ref.EventTypeDirect)
	if errors.Is(err, protocol.ErrNotFound) {
		return DirectMapping{}
	}
	if err != nil {
		t.Fatalf("AccountMetadata: %v", err)
	}
	var mapping DirectMapping
	if err := json.Unmarshal(raw, &mapping); err != nil {
		t.Fatalf("decoding m.direct: %v", err)
	}
	return mapping
}

func TestNewRequiresFacade(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for missing facade")
	}
}

func TestResolveRoomID(t *testing.T) {
	resolver, fake := newTestResolver(t)
	public := fake.AddRoom(protocol.FakeRoom{JoinRule: protocol.JoinRulePublic})
	private := fake.AddRoom(protocol.FakeRoom{})

	roomID, err := resolver.Resolve(context.Background(), public.String())
	if err != nil || roomID != public {
		t.Fatalf("Resolve(public) = %s, %v", roomID, err)
	}
	if fake.Membership(public, alice) != protocol.MembershipJoin {
		t.Error("not joined after resolve")
	}

	// The fake rejects joins to invite-only rooms with a plain error.
	if _, err := resolver.Resolve(context.Background(), private.String()); !errors.Is(err, protocol.ErrNotFound) {
		t.Errorf("Resolve(private) = %v, want ErrNotFound", err)
	}
	if _, err := resolver.Resolve(context.Background(), "!missing:local"); !errors.Is(err, protocol.ErrNotFound) {
		t.Errorf("Resolve(missing) = %v, want ErrNotFound", err)
	}
}

func TestResolveRoomTransportFailure(t *testing.T) {
	resolver, fake := newTestResolver(t)
	fake.Fail(protocol.OpJoin, &protocol.TransportError{Op: "join", Err: errors.New("connection reset")})

	_, err := resolver.Resolve(context.Background(), "!room:local")
	if !protocol.IsTransport(err) {
		t.Fatalf("Resolve = %v, want transport error", err)
	}
	if errors.Is(err, protocol.ErrNotFound) {
		t.Error("transport failure reported as ErrNotFound")
	}
}

func TestResolveInvalidIdentifier(t *testing.T) {
	resolver, fake := newTestResolver(t)
	for _, identifier := range []string{"lobby", "", "@alice:local"} {
		if _, err := resolver.Resolve(context.Background(), identifier); !errors.Is(err, ErrInvalidIdentifier) {
			t.Errorf("Resolve(%q) = %v, want ErrInvalidIdentifier", identifier, err)
		}
	}
	if fake.Calls(protocol.OpJoin)+fake.Calls(protocol.OpCreate) != 0 {
		t.Error("invalid identifiers reached the server")
	}
}

func TestResolveExistingAlias(t *testing.T) {
	resolver, fake := newTestResolver(t)
	lobby := fake.AddRoom(protocol.FakeRoom{
		Alias:    ref.MustParseRoomAlias("#lobby:local"),
		JoinRule: protocol.JoinRulePublic,
	})

	roomID, err := resolver.Resolve(context.Background(), "#lobby:local")
	if err != nil || roomID != lobby {
		t.Fatalf("Resolve = %s, %v; want %s", roomID, err, lobby)
	}
	if fake.Calls(protocol.OpCreate) != 0 {
		t.Error("existing alias triggered a create")
	}
}

func TestResolveMissingAliasCreatesPublicRoom(t *testing.T) {
	resolver, fake := newTestResolver(t)

	roomID, err := resolver.Resolve(context.Background(), "#lobby")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	snapshot, err := fake.RoomSnapshot(context.Background(), roomID)
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.Name != "lobby" || snapshot.JoinRule != protocol.JoinRulePublic {
		t.Errorf("created room = %+v", snapshot)
	}

	again, err := resolver.Resolve(context.Background(), "#lobby:local")
	if err != nil || again != roomID {
		t.Errorf("second Resolve = %s, %v; want %s", again, err, roomID)
	}
	if fake.Calls(protocol.OpCreate) != 1 {
		t.Errorf("creates = %d, want 1", fake.Calls(protocol.OpCreate))
	}
}

func TestResolveForeignAliasIsNotCreated(t *testing.T) {
	resolver, fake := newTestResolver(t)
	if _, err := resolver.Resolve(context.Background(), "#lobby:elsewhere.org"); !errors.Is(err, protocol.ErrNotFound) {
		t.Fatalf("Resolve = %v, want ErrNotFound", err)
	}
	if fake.Calls(protocol.OpCreate) != 0 {
		t.Error("foreign alias triggered a create")
	}
}

func TestResolveAliasCreateConflict(t *testing.T) {
	t.Run("retry join succeeds", func(t *testing.T) {
		resolver, fake := newTestResolver(t)
		var winner ref.RoomID
		fake.CreateRoomHook = func(ctx context.Context, options protocol.CreateRoomOptions) error {
			// Another client claims the alias between our join and create.
			winner = fake.AddRoom(protocol.FakeRoom{
				Alias:    ref.MustParseRoomAlias("#lobby:local"),
				JoinRule: protocol.JoinRulePublic,
			})
			return nil
		}

		roomID, err := resolver.Resolve(context.Background(), "#lobby:local")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if roomID != winner {
			t.Errorf("Resolve = %s, want the concurrently created %s", roomID, winner)
		}
		if fake.Calls(protocol.OpJoin) != 2 {
			t.Errorf("joins = %d, want 2", fake.Calls(protocol.OpJoin))
		}
	})

	t.Run("retry join fails", func(t *testing.T) {
		resolver, fake := newTestResolver(t)
		fake.Fail(protocol.OpCreate, protocol.ErrConflict)

		_, err := resolver.Resolve(context.Background(), "#lobby:local")
		if !errors.Is(err, protocol.ErrConflict) {
			t.Fatalf("Resolve = %v, want ErrConflict", err)
		}
		if fake.Calls(protocol.OpJoin) != 2 {
			t.Errorf("joins = %d, want exactly one retry", fake.Calls(protocol.OpJoin))
		}
	})
}

func TestResolveDirectReusesRoom(t *testing.T) {
	resolver, fake := newTestResolver(t)
	ctx := context.Background()

	first, err := resolver.Resolve(ctx, bob.String())
	if err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	if fake.Membership(first, bob) != protocol.MembershipInvite {
		t.Errorf("peer membership = %q, want invite", fake.Membership(first, bob))
	}
	mapping := storedMapping(t, fake)
	if rooms := mapping.Rooms(bob); len(rooms) != 1 || rooms[0] != first {
		t.Fatalf("mapping = %v", mapping)
	}

	second, err := resolver.Resolve(ctx, bob.String())
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if second != first {
		t.Errorf("second Resolve = %s, want reuse of %s", second, first)
	}
	if fake.Calls(protocol.OpCreate) != 1 {
		t.Errorf("creates = %d, want 1", fake.Calls(protocol.OpCreate))
	}
}

func TestResolveDirectSkipsLeftRooms(t *testing.T) {
	resolver, fake := newTestResolver(t)
	ctx := context.Background()
	left := fake.AddRoom(protocol.FakeRoom{Members: map[ref.UserID]string{
		alice: protocol.MembershipLeave, bob: protocol.MembershipJoin,
	}})
	invited := fake.AddRoom(protocol.FakeRoom{Members: map[ref.UserID]string{
		alice: protocol.MembershipInvite, bob: protocol.MembershipJoin,
	}})
	if err := fake.SetAccountMetadata(ctx, ref.EventTypeDirect, DirectMapping{
		bob.String(): {"!vanished:local", left.String(), invited.String()},
	}); err != nil {
		t.Fatal(err)
	}

	roomID, err := resolver.Resolve(ctx, bob.String())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if roomID != invited {
		t.Errorf("Resolve = %s, want invited room %s", roomID, invited)
	}
	if fake.Membership(invited, alice) != protocol.MembershipJoin {
		t.Error("invite was not accepted")
	}
	if fake.Calls(protocol.OpCreate) != 0 {
		t.Error("reusable room existed but a new one was created")
	}
}

func TestResolveDirectMappingWriteFailureIsNonFatal(t *testing.T) {
	resolver, fake := newTestResolver(t)
	fake.Fail(protocol.OpSetMetadata, errors.New("quota exceeded"))

	roomID, err := resolver.Resolve(context.Background(), carol.String())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if roomID.IsZero() {
		t.Fatal("no room returned")
	}
	if len(storedMapping(t, fake)) != 0 {
		t.Error("mapping written despite failure")
	}
}

func TestResolveDirectCoalescesConcurrentCalls(t *testing.T) {
	resolver, fake := newTestResolver(t)
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	fake.CreateRoomHook = func(ctx context.Context, options protocol.CreateRoomOptions) error {
		entered <- struct{}{}
		<-release
		return nil
	}

	var wait sync.WaitGroup
	results := make([]ref.RoomID, 2)
	for index := range results {
		wait.Add(1)
		go func() {
			defer wait.Done()
			roomID, err := resolver.Resolve(context.Background(), bob.String())
			if err != nil {
				t.Errorf("Resolve: %v", err)
			}
			results[index] = roomID
		}()
		if index == 0 {
			<-entered
		}
	}
	close(release)
	wait.Wait()

	if results[0] != results[1] {
		t.Errorf("concurrent resolves returned %s and %s", results[0], results[1])
	}
	if fake.Calls(protocol.OpCreate) != 1 {
		t.Errorf("creates = %d, want 1", fake.Calls(protocol.OpCreate))
	}
}

func TestResolveCoalescedCallerOutlivesFirstCaller(t *testing.T) {
	resolver, fake := newTestResolver(t)
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	createCtxErr := make(chan error, 1)
	fake.CreateRoomHook = func(ctx context.Context, options protocol.CreateRoomOptions) error {
		entered <- struct{}{}
		<-release
		createCtxErr <- ctx.Err()
		return nil
	}

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := resolver.Resolve(firstCtx, bob.String())
		firstErr <- err
	}()
	<-entered

	type outcome struct {
		roomID ref.RoomID
		err    error
	}
	second := make(chan outcome, 1)
	go func() {
		roomID, err := resolver.Resolve(context.Background(), bob.String())
		second <- outcome{roomID, err}
	}()

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller = %v, want context.Canceled", err)
	}
	close(release)

	result := <-second
	if result.err != nil {
		t.Fatalf("second caller: %v", result.err)
	}
	if result.roomID.IsZero() {
		t.Error("second caller got no room")
	}
	if err := <-createCtxErr; err != nil {
		t.Errorf("shared create saw %v", err)
	}
	if fake.Calls(protocol.OpCreate) != 1 {
		t.Errorf("creates = %d, want 1", fake.Calls(protocol.OpCreate))
	}
}
func TestLeaveCleansDirectMapping(t *testing.T) {
	ctx := context.Background()

	t.Run("sole entry removes peer", func(t *testing.T) {
		resolver, fake := newTestResolver(t)
		roomID, err := resolver.Resolve(ctx, bob.String())
		if err != nil {
			t.Fatal(err)
		}
		if err := resolver.Leave(ctx, roomID); err != nil {
			t.Fatalf("Leave: %v", err)
		}
		if _, ok := storedMapping(t, fake)[bob.String()]; ok {
			t.Error("peer kept after its only room was left")
		}
		if !fake.Forgotten(roomID) {
			t.Error("room not forgotten")
		}
	})

	t.Run("shared entry removes only the room", func(t *testing.T) {
		resolver, fake := newTestResolver(t)
		first := fake.AddRoom(protocol.FakeRoom{Members: map[ref.UserID]string{alice: protocol.MembershipJoin}})
		second := fake.AddRoom(protocol.FakeRoom{Members: map[ref.UserID]string{alice: protocol.MembershipJoin}})
		if err := fake.SetAccountMetadata(ctx, ref.EventTypeDirect, DirectMapping{
			bob.String(): {first.String(), second.String()},
		}); err != nil {
			t.Fatal(err)
		}

		if err := resolver.Leave(ctx, first); err != nil {
			t.Fatalf("Leave: %v", err)
		}
		rooms := storedMapping(t, fake).Rooms(bob)
		if len(rooms) != 1 || rooms[0] != second {
			t.Errorf("bob's rooms = %v, want [%s]", rooms, second)
		}
	})

	t.Run("cleanup failures do not fail the leave", func(t *testing.T) {
		resolver, fake := newTestResolver(t)
		roomID := fake.AddRoom(protocol.FakeRoom{Members: map[ref.UserID]string{alice: protocol.MembershipJoin}})
		fake.Fail(protocol.OpForget, errors.New("forget unavailable"))
		fake.Fail(protocol.OpGetMetadata, errors.New("account data unavailable"))

		if err := resolver.Leave(ctx, roomID); err != nil {
			t.Fatalf("Leave: %v", err)
		}
		if fake.Membership(roomID, alice) != protocol.MembershipLeave {
			t.Error("not left")
		}
	})

	t.Run("leave failure is returned", func(t *testing.T) {
		resolver, fake := newTestResolver(t)
		if err := resolver.Leave(ctx, ref.MustParseRoomID("!missing:local")); !errors.Is(err, protocol.ErrNotFound) {
			t.Fatalf("Leave = %v, want ErrNotFound", err)
		}
		if fake.Calls(protocol.OpForget) != 0 {
			t.Error("forget attempted after a failed leave")
		}
	})
}

func TestIsDirectChat(t *testing.T) {
	resolver, fake := newTestResolver(t)
	ctx := context.Background()

	direct, err := resolver.Resolve(ctx, bob.String())
	if err != nil {
		t.Fatal(err)
	}
	unlisted := fake.AddRoom(protocol.FakeRoom{Members: map[ref.UserID]string{
		alice: protocol.MembershipJoin, carol: protocol.MembershipJoin,
	}})
	group := fake.AddRoom(protocol.FakeRoom{Members: map[ref.UserID]string{
		alice: protocol.MembershipJoin, bob: protocol.MembershipJoin, carol: protocol.MembershipInvite,
	}})

	tests := []struct {
		roomID ref.RoomID
		want   bool
	}{
		{roomID: direct, want: true},
		{roomID: unlisted, want: true},
		{roomID: group, want: false},
	}
	for _, test := range tests {
		got, err := resolver.IsDirectChat(ctx, test.roomID)
		if err != nil {
			t.Fatalf("IsDirectChat(%s): %v", test.roomID, err)
		}
		if got != test.want {
			t.Errorf("IsDirectChat(%s) = %v, want %v", test.roomID, got, test.want)
		}
	}
}
