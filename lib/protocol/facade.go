// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bureau-foundation/chatsync/lib/ref"
)

// Facade is the capability surface the engine uses. Every blocking call
// takes a context; implementations impose no timeouts of their own.
type Facade interface {
	// UserID returns the session owner.
	UserID() ref.UserID

	// SendMessage sends a plain text message and returns the
	// server-issued event ID.
	SendMessage(ctx context.Context, roomID ref.RoomID, text string) (ref.EventID, error)

	// RoomSnapshot returns the current state of a room: metadata and
	// membership. It carries no timeline.
	RoomSnapshot(ctx context.Context, roomID ref.RoomID) (*RoomSnapshot, error)

	// PaginateBackward returns up to limit events older than cursor.
	// An empty cursor starts at the live end of the room.
	PaginateBackward(ctx context.Context, roomID ref.RoomID, cursor string, limit int) (*Page, error)

	// SubscribeLiveEvents calls handler for every live event in every
	// room. The returned function unsubscribes; it is idempotent.
	SubscribeLiveEvents(handler func(Event)) (unsubscribe func())

	// AccountMetadata returns the raw value stored under key, or
	// ErrNotFound when the key has never been set.
	AccountMetadata(ctx context.Context, key ref.EventType) (json.RawMessage, error)

	// SetAccountMetadata replaces the value stored under key.
	SetAccountMetadata(ctx context.Context, key ref.EventType, value any) error

	// JoinRoom joins by room ID ("!...") or alias ("#...") and returns
	// the joined room's ID.
	JoinRoom(ctx context.Context, roomIDOrAlias string) (ref.RoomID, error)

	// CreateRoom creates a room and returns its ID.
	CreateRoom(ctx context.Context, options CreateRoomOptions) (ref.RoomID, error)

	// LeaveRoom leaves a room.
	LeaveRoom(ctx context.Context, roomID ref.RoomID) error

	// ForgetRoom drops a left room from the account.
	ForgetRoom(ctx context.Context, roomID ref.RoomID) error
}

// TransportStatus is the delivery state a transport attaches to events
// it surfaces before the server has accepted them (local echoes).
// Events from the server have StatusNone.
type TransportStatus int

const (
	StatusNone TransportStatus = iota
	StatusSending
	StatusQueued
	StatusNotSent
)

// Provisional reports whether the event is a local echo that the server
// has not yet accepted.
func (s TransportStatus) Provisional() bool {
	return s != StatusNone
}

// Event is the canonical shape of a room event crossing the facade.
type Event struct {
	RoomID ref.RoomID

	// ID is the event identifier as the transport reported it. Server
	// events carry a '$' event ID; local echoes may carry anything.
	ID string

	Type      ref.EventType
	Sender    ref.UserID
	Timestamp time.Time

	// Message fields, set for m.room.message.
	Body    string
	MsgType string

	// Metadata fields, set for m.room.name and m.room.avatar.
	Name      string
	AvatarURL string

	Status        TransportStatus
	TransactionID string
}

// Membership states.
const (
	MembershipJoin   = "join"
	MembershipInvite = "invite"
	MembershipLeave  = "leave"
	MembershipBan    = "ban"
)

// Join rules.
const (
	JoinRulePublic = "public"
	JoinRuleInvite = "invite"
)

// Member is one entry of a room's membership.
type Member struct {
	UserID     ref.UserID
	Membership string
}

// RoomSnapshot is the current state of a room.
type RoomSnapshot struct {
	RoomID    ref.RoomID
	Name      string
	AvatarURL string
	JoinRule  string

	// OwnMembership is the session owner's membership, or "" when the
	// owner has no member event in the room.
	OwnMembership string

	Members []Member
}

// ActiveMembers counts members whose membership is join or invite.
func (s *RoomSnapshot) ActiveMembers() int {
	count := 0
	for _, member := range s.Members {
		if member.Membership == MembershipJoin || member.Membership == MembershipInvite {
			count++
		}
	}
	return count
}

// Page is one step of backward pagination. Events are ordered oldest
// to newest. NextCursor continues further back; it is meaningful only
// when HasMore is true.
type Page struct {
	Events     []Event
	NextCursor string
	HasMore    bool
}

// CreateRoomOptions describes a room to create.
type CreateRoomOptions struct {
	Name string

	// Alias is the alias localpart to claim, without '#' or server.
	Alias string

	// Public creates a publicly joinable, directory-listed room.
	Public bool

	// Direct marks the room as a direct chat with the invitees.
	Direct bool

	Invite []ref.UserID
}
