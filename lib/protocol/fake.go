// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/chatsync/lib/ref"
)

// Operation names used by Fake.Calls and Fake.Fail.
const (
	OpSend        = "send"
	OpSnapshot    = "snapshot"
	OpPaginate    = "paginate"
	OpGetMetadata = "get_metadata"
	OpSetMetadata = "set_metadata"
	OpJoin        = "join"
	OpCreate      = "create"
	OpLeave       = "leave"
	OpForget      = "forget"
)

// fakeEpoch is the timestamp of the first event the Fake generates.
var fakeEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Fake is an in-memory homeserver implementing Facade for tests.
//
// Hooks run before the default behavior, outside the Fake's lock, so
// they may block on test channels or call back into the Fake. A hook
// that returns a zero result and a nil error falls through to the
// default. Set hooks before the Fake is shared with other goroutines.
type Fake struct {
	// SendHook intercepts SendMessage.
	SendHook func(ctx context.Context, roomID ref.RoomID, text string) (ref.EventID, error)

	// PaginateHook intercepts PaginateBackward.
	PaginateHook func(ctx context.Context, roomID ref.RoomID, cursor string, limit int) (*Page, error)

	// CreateRoomHook intercepts CreateRoom. Returning an error aborts
	// the create.
	CreateRoomHook func(ctx context.Context, options CreateRoomOptions) error

	// EchoSends makes a successful default send also deliver the new
	// event to live subscribers before SendMessage returns.
	EchoSends bool

	self   ref.UserID
	server ref.ServerName

	mu          sync.Mutex
	rooms       map[ref.RoomID]*fakeRoom
	aliases     map[ref.RoomAlias]ref.RoomID
	accountData map[ref.EventType]json.RawMessage
	failures    map[string]error
	calls       map[string]int
	handlers    map[uint64]func(Event)
	nextHandler uint64
	nextRoom    int
	nextEvent   int
}

type fakeRoom struct {
	id        ref.RoomID
	name      string
	avatarURL string
	joinRule  string
	members   map[ref.UserID]string
	history   []Event
	forgotten bool
}

// Compile-time check: *Fake implements Facade.
var _ Facade = (*Fake)(nil)

// NewFake creates an empty homeserver with self as the session owner.
func NewFake(self ref.UserID) *Fake {
	return &Fake{
		self:        self,
		server:      self.Server(),
		rooms:       make(map[ref.RoomID]*fakeRoom),
		aliases:     make(map[ref.RoomAlias]ref.RoomID),
		accountData: make(map[ref.EventType]json.RawMessage),
		failures:    make(map[string]error),
		calls:       make(map[string]int),
		handlers:    make(map[uint64]func(Event)),
	}
}

// FakeRoom describes a room to seed with AddRoom.
type FakeRoom struct {
	ID        ref.RoomID
	Alias     ref.RoomAlias
	Name      string
	AvatarURL string
	JoinRule  string
	Members   map[ref.UserID]string
}

// AddRoom seeds a room. A zero ID allocates one. Returns the room ID.
func (f *Fake) AddRoom(room FakeRoom) ref.RoomID {
	f.mu.Lock()
	defer f.mu.Unlock()

	if room.ID.IsZero() {
		room.ID = f.allocateRoomIDLocked()
	}
	members := make(map[ref.UserID]string, len(room.Members))
	for userID, membership := range room.Members {
		members[userID] = membership
	}
	joinRule := room.JoinRule
	if joinRule == "" {
		joinRule = JoinRuleInvite
	}
	f.rooms[room.ID] = &fakeRoom{
		id:        room.ID,
		name:      room.Name,
		avatarURL: room.AvatarURL,
		joinRule:  joinRule,
		members:   members,
	}
	if !room.Alias.IsZero() {
		f.aliases[room.Alias] = room.ID
	}
	return room.ID
}

// AddMessage appends a message to a room's server-side history and
// returns its event ID. A zero timestamp uses the Fake's own sequence.
func (f *Fake) AddMessage(roomID ref.RoomID, sender ref.UserID, body string, timestamp time.Time) ref.EventID {
	f.mu.Lock()
	defer f.mu.Unlock()
	event := f.newMessageLocked(roomID, sender, body, timestamp)
	room := f.roomLocked(roomID)
	room.history = append(room.history, event)
	return ref.MustParseEventID(event.ID)
}

// Emit delivers event to every live subscriber. The event is not added
// to history.
func (f *Fake) Emit(event Event) {
	for _, handler := range f.snapshotHandlers() {
		handler(event)
	}
}

// Fail makes every subsequent call of op return err. A nil err clears
// the failure.
func (f *Fake) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, op)
		return
	}
	f.failures[op] = err
}

// Calls returns how many times op has been invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Membership returns userID's membership in roomID, or "".
func (f *Fake) Membership(roomID ref.RoomID, userID ref.UserID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok := f.rooms[roomID]; ok {
		return room.members[userID]
	}
	return ""
}

// Forgotten reports whether the session owner forgot roomID.
func (f *Fake) Forgotten(roomID ref.RoomID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	return ok && room.forgotten
}

// Subscribers returns the number of live subscriptions.
func (f *Fake) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

// UserID returns the session owner.
func (f *Fake) UserID() ref.UserID { return f.self }

// SendMessage records a message in the room history.
func (f *Fake) SendMessage(ctx context.Context, roomID ref.RoomID, text string) (ref.EventID, error) {
	if err := f.begin(OpSend); err != nil {
		return ref.EventID{}, err
	}
	if f.SendHook != nil {
		eventID, err := f.SendHook(ctx, roomID, text)
		if err != nil || !eventID.IsZero() {
			return eventID, err
		}
	}

	f.mu.Lock()
	room, ok := f.rooms[roomID]
	if !ok || room.members[f.self] != MembershipJoin {
		f.mu.Unlock()
		return ref.EventID{}, fmt.Errorf("fake: %s not joined to %s", f.self, roomID)
	}
	event := f.newMessageLocked(roomID, f.self, text, time.Time{})
	room.history = append(room.history, event)
	f.mu.Unlock()

	if f.EchoSends {
		f.Emit(event)
	}
	return ref.MustParseEventID(event.ID), nil
}

// RoomSnapshot returns the room state.
func (f *Fake) RoomSnapshot(ctx context.Context, roomID ref.RoomID) (*RoomSnapshot, error) {
	if err := f.begin(OpSnapshot); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	room, ok := f.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: room %s", ErrNotFound, roomID)
	}
	snapshot := &RoomSnapshot{
		RoomID:        roomID,
		Name:          room.name,
		AvatarURL:     room.avatarURL,
		JoinRule:      room.joinRule,
		OwnMembership: room.members[f.self],
	}
	for userID, membership := range room.members {
		snapshot.Members = append(snapshot.Members, Member{UserID: userID, Membership: membership})
	}
	sort.Slice(snapshot.Members, func(i, j int) bool {
		return snapshot.Members[i].UserID.String() < snapshot.Members[j].UserID.String()
	})
	return snapshot, nil
}

// PaginateBackward pages through history. Cursors are decimal indexes
// into the history: a page covers [cursor-limit, cursor).
func (f *Fake) PaginateBackward(ctx context.Context, roomID ref.RoomID, cursor string, limit int) (*Page, error) {
	if err := f.begin(OpPaginate); err != nil {
		return nil, err
	}
	if f.PaginateHook != nil {
		page, err := f.PaginateHook(ctx, roomID, cursor, limit)
		if err != nil || page != nil {
			return page, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: room %s", ErrNotFound, roomID)
	}

	end := len(room.history)
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil || parsed < 0 || parsed > len(room.history) {
			return nil, fmt.Errorf("fake: invalid cursor %q", cursor)
		}
		end = parsed
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	events := make([]Event, end-start)
	copy(events, room.history[start:end])
	return &Page{
		Events:     events,
		NextCursor: strconv.Itoa(start),
		HasMore:    start > 0,
	}, nil
}

// SubscribeLiveEvents registers handler for Emit and echoed sends.
func (f *Fake) SubscribeLiveEvents(handler func(Event)) (unsubscribe func()) {
	f.mu.Lock()
	id := f.nextHandler
	f.nextHandler++
	f.handlers[id] = handler
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.handlers, id)
			f.mu.Unlock()
		})
	}
}

// AccountMetadata returns stored account data.
func (f *Fake) AccountMetadata(ctx context.Context, key ref.EventType) (json.RawMessage, error) {
	if err := f.begin(OpGetMetadata); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.accountData[key]
	if !ok {
		return nil, fmt.Errorf("%w: account data %s", ErrNotFound, key)
	}
	return append(json.RawMessage(nil), value...), nil
}

// SetAccountMetadata stores account data as JSON.
func (f *Fake) SetAccountMetadata(ctx context.Context, key ref.EventType, value any) error {
	if err := f.begin(OpSetMetadata); err != nil {
		return err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("fake: encoding %s: %w", key, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accountData[key] = encoded
	return nil
}

// JoinRoom joins by ID or alias. Joining by ID requires the room to be
// public or the owner to be invited or joined already.
func (f *Fake) JoinRoom(ctx context.Context, roomIDOrAlias string) (ref.RoomID, error) {
	if err := f.begin(OpJoin); err != nil {
		return ref.RoomID{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var roomID ref.RoomID
	if strings.HasPrefix(roomIDOrAlias, "#") {
		alias, err := ref.ParseRoomAlias(roomIDOrAlias)
		if err != nil {
			return ref.RoomID{}, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		target, ok := f.aliases[alias]
		if !ok {
			return ref.RoomID{}, fmt.Errorf("%w: alias %s", ErrNotFound, alias)
		}
		roomID = target
	} else {
		target, err := ref.ParseRoomID(roomIDOrAlias)
		if err != nil {
			return ref.RoomID{}, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		roomID = target
	}

	room, ok := f.rooms[roomID]
	if !ok {
		return ref.RoomID{}, fmt.Errorf("%w: room %s", ErrNotFound, roomID)
	}
	membership := room.members[f.self]
	if room.joinRule != JoinRulePublic && membership != MembershipInvite && membership != MembershipJoin {
		return ref.RoomID{}, fmt.Errorf("fake: %s may not join %s", f.self, roomID)
	}
	room.members[f.self] = MembershipJoin
	room.forgotten = false
	return roomID, nil
}

// CreateRoom creates a room owned by the session owner. Claiming an
// alias that already exists fails with ErrConflict.
func (f *Fake) CreateRoom(ctx context.Context, options CreateRoomOptions) (ref.RoomID, error) {
	if err := f.begin(OpCreate); err != nil {
		return ref.RoomID{}, err
	}
	if f.CreateRoomHook != nil {
		if err := f.CreateRoomHook(ctx, options); err != nil {
			return ref.RoomID{}, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var alias ref.RoomAlias
	if options.Alias != "" {
		parsed, err := ref.NewRoomAlias(options.Alias, f.server)
		if err != nil {
			return ref.RoomID{}, fmt.Errorf("fake: alias %q: %w", options.Alias, err)
		}
		if _, taken := f.aliases[parsed]; taken {
			return ref.RoomID{}, fmt.Errorf("%w: alias %s in use", ErrConflict, parsed)
		}
		alias = parsed
	}

	roomID := f.allocateRoomIDLocked()
	room := &fakeRoom{
		id:       roomID,
		name:     options.Name,
		joinRule: JoinRuleInvite,
		members:  map[ref.UserID]string{f.self: MembershipJoin},
	}
	if options.Public {
		room.joinRule = JoinRulePublic
	}
	for _, invitee := range options.Invite {
		room.members[invitee] = MembershipInvite
	}
	f.rooms[roomID] = room
	if !alias.IsZero() {
		f.aliases[alias] = roomID
	}
	return roomID, nil
}

// LeaveRoom sets the owner's membership to leave.
func (f *Fake) LeaveRoom(ctx context.Context, roomID ref.RoomID) error {
	if err := f.begin(OpLeave); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok {
		return fmt.Errorf("%w: room %s", ErrNotFound, roomID)
	}
	membership := room.members[f.self]
	if membership != MembershipJoin && membership != MembershipInvite {
		return fmt.Errorf("fake: %s is not in %s", f.self, roomID)
	}
	room.members[f.self] = MembershipLeave
	return nil
}

// ForgetRoom marks a left room forgotten.
func (f *Fake) ForgetRoom(ctx context.Context, roomID ref.RoomID) error {
	if err := f.begin(OpForget); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok {
		return fmt.Errorf("%w: room %s", ErrNotFound, roomID)
	}
	if room.members[f.self] != MembershipLeave {
		return fmt.Errorf("fake: cannot forget %s while still a member", roomID)
	}
	room.forgotten = true
	return nil
}

// begin counts a call of op and returns its injected failure, if any.
func (f *Fake) begin(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	return f.failures[op]
}

func (f *Fake) snapshotHandlers() []func(Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]uint64, 0, len(f.handlers))
	for id := range f.handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]func(Event), len(ids))
	for index, id := range ids {
		handlers[index] = f.handlers[id]
	}
	return handlers
}

func (f *Fake) allocateRoomIDLocked() ref.RoomID {
	f.nextRoom++
	return ref.MustParseRoomID(fmt.Sprintf("!fake%d:%s", f.nextRoom, f.server))
}

// roomLocked returns the room, creating an empty joined one if needed.
func (f *Fake) roomLocked(roomID ref.RoomID) *fakeRoom {
	room, ok := f.rooms[roomID]
	if !ok {
		room = &fakeRoom{
			id:       roomID,
			joinRule: JoinRuleInvite,
			members:  map[ref.UserID]string{f.self: MembershipJoin},
		}
		f.rooms[roomID] = room
	}
	return room
}

func (f *Fake) newMessageLocked(roomID ref.RoomID, sender ref.UserID, body string, timestamp time.Time) Event {
	f.nextEvent++
	if timestamp.IsZero() {
		timestamp = fakeEpoch.Add(time.Duration(f.nextEvent) * time.Second)
	}
	return Event{
		RoomID:    roomID,
		ID:        fmt.Sprintf("$fake%d", f.nextEvent),
		Type:      ref.EventTypeMessage,
		Sender:    sender,
		Timestamp: timestamp,
		Body:      body,
		MsgType:   "m.text",
	}
}
