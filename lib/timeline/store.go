// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/bureau-foundation/chatsync/lib/ref"
)

// ChangeKind names the mutation a [Change] reports.
type ChangeKind uint8

const (
	ChangeReset ChangeKind = iota
	ChangeAppend
	ChangePrepend
	ChangeDelivery
	ChangeRemove
	ChangeRoom
	ChangeDrop
)

var changeKindNames = [...]string{
	ChangeReset:    "reset",
	ChangeAppend:   "append",
	ChangePrepend:  "prepend",
	ChangeDelivery: "delivery",
	ChangeRemove:   "remove",
	ChangeRoom:     "room",
	ChangeDrop:     "drop",
}

func (k ChangeKind) String() string {
	if int(k) < len(changeKindNames) {
		return changeKindNames[k]
	}
	return "unknown"
}

// Change is delivered to listeners after a mutation.
type Change struct {
	RoomID ref.RoomID
	Kind   ChangeKind
}

// ConfirmOutcome reports what [Store.Confirm] did.
type ConfirmOutcome uint8

const (
	// ConfirmReplaced: the temporary entry now carries the event ID
	// and a Sent delivery, at the same position and timestamp.
	ConfirmReplaced ConfirmOutcome = iota

	// ConfirmMerged: the event was already present (delivered live
	// before the send returned), so the temporary entry was removed.
	ConfirmMerged

	// ConfirmMissing: no pending entry with the temporary ID exists.
	ConfirmMissing
)

// Store owns all timelines and room records. All methods are safe for
// concurrent use. Listeners run after the store lock is released, in
// registration order, on the goroutine that made the mutation.
type Store struct {
	mu           sync.Mutex
	timelines    map[ref.RoomID]*Timeline
	rooms        map[ref.RoomID]Room
	listeners    map[uint64]func(Change)
	nextListener uint64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		timelines: make(map[ref.RoomID]*Timeline),
		rooms:     make(map[ref.RoomID]Room),
		listeners: make(map[uint64]func(Change)),
	}
}

// Listen registers fn for every subsequent change. The returned
// function removes it and may be called more than once.
func (s *Store) Listen(fn func(Change)) (cancel func()) {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Reset replaces the room's timeline with messages and marks it
// loaded. Local sends of the previous timeline are carried over: those
// still pending, and confirmed ones the window does not contain (the
// window may have been read before the send reached the server).
func (s *Store) Reset(roomID ref.RoomID, messages []Message, hasMore bool, cursor string) {
	s.mu.Lock()
	replacement := New()
	replacement.Append(messages...)
	if previous, ok := s.timelines[roomID]; ok {
		for _, message := range replacement.Append(previous.local()...) {
			if _, confirmed := previous.confirmed[message.ID]; confirmed {
				replacement.confirmed[message.ID] = struct{}{}
			}
		}
	}
	replacement.SetPagination(hasMore, cursor)
	replacement.loaded = true
	s.timelines[roomID] = replacement
	s.touchLocked(roomID, replacement.messages)
	s.mu.Unlock()

	s.notify(Change{RoomID: roomID, Kind: ChangeReset})
}

// Append adds newer messages, creating an unloaded timeline if the
// room has none. Returns the messages that were not duplicates.
func (s *Store) Append(roomID ref.RoomID, messages ...Message) []Message {
	s.mu.Lock()
	accepted := s.timelineLocked(roomID).Append(messages...)
	s.touchLocked(roomID, accepted)
	s.mu.Unlock()

	if len(accepted) > 0 {
		s.notify(Change{RoomID: roomID, Kind: ChangeAppend})
	}
	return accepted
}

// Prepend adds an older page and records the new pagination state.
// Returns false without changes if the room has no loaded timeline.
func (s *Store) Prepend(roomID ref.RoomID, messages []Message, hasMore bool, cursor string) ([]Message, bool) {
	s.mu.Lock()
	timeline, ok := s.timelines[roomID]
	if !ok || !timeline.loaded {
		s.mu.Unlock()
		return nil, false
	}
	accepted := timeline.Prepend(messages...)
	timeline.SetPagination(hasMore, cursor)
	s.touchLocked(roomID, accepted)
	s.mu.Unlock()

	s.notify(Change{RoomID: roomID, Kind: ChangePrepend})
	return accepted, true
}

// AddPending appends a local send with a fresh temporary ID and a
// Sending delivery. Its timestamp is now, or the tail's timestamp if
// that is later, so the message always lands at the tail.
func (s *Store) AddPending(roomID ref.RoomID, sender ref.UserID, body string, now time.Time) Message {
	s.mu.Lock()
	timeline := s.timelineLocked(roomID)
	if tail, ok := timeline.Tail(); ok && tail.Timestamp.After(now) {
		now = tail.Timestamp
	}
	message := Message{
		ID:        NewTempID(),
		Body:      body,
		Sender:    sender,
		Timestamp: now,
		Delivery:  Sending(),
	}
	timeline.Append(message)
	s.touchLocked(roomID, []Message{message})
	s.mu.Unlock()

	s.notify(Change{RoomID: roomID, Kind: ChangeAppend})
	return message
}

// Confirm resolves a Sending local message with the event ID the
// server assigned.
func (s *Store) Confirm(roomID ref.RoomID, tempID MessageID, eventID ref.EventID) ConfirmOutcome {
	s.mu.Lock()
	timeline, ok := s.timelines[roomID]
	if !ok {
		s.mu.Unlock()
		return ConfirmMissing
	}
	message, ok := timeline.Find(tempID)
	if !ok || !message.ID.IsTemp() || !message.Delivery.IsSending() {
		s.mu.Unlock()
		return ConfirmMissing
	}

	outcome := ConfirmReplaced
	if timeline.Contains(IDFromEvent(eventID)) {
		timeline.Remove(tempID)
		outcome = ConfirmMerged
	} else {
		timeline.Update(tempID, func(message Message) Message {
			message.ID = IDFromEvent(eventID)
			message.Delivery = Sent(eventID)
			return message
		})
		timeline.confirmed[IDFromEvent(eventID)] = struct{}{}
	}
	s.mu.Unlock()

	kind := ChangeDelivery
	if outcome == ConfirmMerged {
		kind = ChangeRemove
	}
	s.notify(Change{RoomID: roomID, Kind: kind})
	return outcome
}

// Fail marks a Sending local message Failed in place.
func (s *Store) Fail(roomID ref.RoomID, id MessageID, reason string) bool {
	return s.transition(roomID, id, Delivery.IsSending, Failed(reason))
}

// MarkSending moves a Failed local message back to Sending for a retry
// and returns it.
func (s *Store) MarkSending(roomID ref.RoomID, id MessageID) (Message, bool) {
	if !s.transition(roomID, id, Delivery.IsFailed, Sending()) {
		return Message{}, false
	}
	return s.Message(roomID, id)
}

func (s *Store) transition(roomID ref.RoomID, id MessageID, from func(Delivery) bool, to Delivery) bool {
	s.mu.Lock()
	timeline, ok := s.timelines[roomID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	message, ok := timeline.Find(id)
	if !ok || !message.ID.IsTemp() || !from(message.Delivery) {
		s.mu.Unlock()
		return false
	}
	timeline.Update(id, func(message Message) Message {
		message.Delivery = to
		return message
	})
	s.mu.Unlock()

	s.notify(Change{RoomID: roomID, Kind: ChangeDelivery})
	return true
}

// Remove deletes a message.
func (s *Store) Remove(roomID ref.RoomID, id MessageID) bool {
	s.mu.Lock()
	timeline, ok := s.timelines[roomID]
	removed := ok && timeline.Remove(id)
	s.mu.Unlock()

	if removed {
		s.notify(Change{RoomID: roomID, Kind: ChangeRemove})
	}
	return removed
}

// Drop forgets the room's timeline and room record.
func (s *Store) Drop(roomID ref.RoomID) {
	s.mu.Lock()
	delete(s.timelines, roomID)
	delete(s.rooms, roomID)
	s.mu.Unlock()

	s.notify(Change{RoomID: roomID, Kind: ChangeDrop})
}

// Message returns one message.
func (s *Store) Message(roomID ref.RoomID, id MessageID) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	timeline, ok := s.timelines[roomID]
	if !ok {
		return Message{}, false
	}
	return timeline.Find(id)
}

// Messages returns a copy of the room's messages, oldest first.
func (s *Store) Messages(roomID ref.RoomID) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timeline, ok := s.timelines[roomID]; ok {
		return timeline.Messages()
	}
	return nil
}

// Len returns the number of messages in the room's timeline.
func (s *Store) Len(roomID ref.RoomID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timeline, ok := s.timelines[roomID]; ok {
		return timeline.Len()
	}
	return 0
}

// Loaded reports whether the room has a loaded timeline.
func (s *Store) Loaded(roomID ref.RoomID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	timeline, ok := s.timelines[roomID]
	return ok && timeline.loaded
}

// Pagination returns the room's backward pagination state.
func (s *Store) Pagination(roomID ref.RoomID) (hasMore bool, cursor string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timeline, ok := s.timelines[roomID]; ok {
		return timeline.HasMore(), timeline.Cursor()
	}
	return false, ""
}

// UpdateRoom applies update to the room record, creating it first if
// needed, and returns the result.
func (s *Store) UpdateRoom(roomID ref.RoomID, update func(*Room)) Room {
	s.mu.Lock()
	room, ok := s.rooms[roomID]
	if !ok {
		room = Room{ID: roomID}
		if timeline, exists := s.timelines[roomID]; exists {
			if tail, hasTail := timeline.Tail(); hasTail {
				room.LastActivity = tail.Timestamp
			}
		}
	}
	update(&room)
	room.ID = roomID
	s.rooms[roomID] = room
	s.mu.Unlock()

	s.notify(Change{RoomID: roomID, Kind: ChangeRoom})
	return room
}

// Room returns the room record.
func (s *Store) Room(roomID ref.RoomID) (Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	return room, ok
}

// Rooms returns every room record, most recently active first.
func (s *Store) Rooms() []Room {
	s.mu.Lock()
	rooms := make([]Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room)
	}
	s.mu.Unlock()

	sort.Slice(rooms, func(i, j int) bool {
		if !rooms[i].LastActivity.Equal(rooms[j].LastActivity) {
			return rooms[i].LastActivity.After(rooms[j].LastActivity)
		}
		return rooms[i].ID.String() < rooms[j].ID.String()
	})
	return rooms
}

func (s *Store) timelineLocked(roomID ref.RoomID) *Timeline {
	timeline, ok := s.timelines[roomID]
	if !ok {
		timeline = New()
		s.timelines[roomID] = timeline
	}
	return timeline
}

// touchLocked advances the room record's LastActivity. Rooms without a
// record are left alone.
func (s *Store) touchLocked(roomID ref.RoomID, messages []Message) {
	room, ok := s.rooms[roomID]
	if !ok {
		return
	}
	for _, message := range messages {
		if message.Timestamp.After(room.LastActivity) {
			room.LastActivity = message.Timestamp
		}
	}
	s.rooms[roomID] = room
}

func (s *Store) notify(change Change) {
	s.mu.Lock()
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	listeners := make([]func(Change), len(ids))
	for index, id := range ids {
		listeners[index] = s.listeners[id]
	}
	s.mu.Unlock()

	for _, listener := range listeners {
		listener(change)
	}
}
