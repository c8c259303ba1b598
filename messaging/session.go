// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"

	"github.com/bureau-foundation/chatsync/lib/ref"
)

// Session is the set of authenticated Matrix operations the chat engine
// uses. *DirectSession is the HTTP implementation; tests substitute
// httptest servers behind a real DirectSession.
type Session interface {
	// UserID returns the session owner.
	UserID() ref.UserID

	// Close releases the access token memory. Idempotent.
	Close() error

	// WhoAmI validates the token and returns the owner it belongs to.
	WhoAmI(ctx context.Context) (ref.UserID, error)

	// ResolveAlias resolves a room alias to a room ID.
	ResolveAlias(ctx context.Context, alias ref.RoomAlias) (ref.RoomID, error)

	// CreateRoom creates a new room.
	CreateRoom(ctx context.Context, request CreateRoomRequest) (*CreateRoomResponse, error)

	// JoinRoom joins a room by ID.
	JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error)

	// JoinAlias joins the room an alias points at and returns its ID.
	JoinAlias(ctx context.Context, alias ref.RoomAlias) (ref.RoomID, error)

	// LeaveRoom leaves a room.
	LeaveRoom(ctx context.Context, roomID ref.RoomID) error

	// ForgetRoom removes a left room from the account's room list.
	ForgetRoom(ctx context.Context, roomID ref.RoomID) error

	// SendMessage sends an m.room.message and returns its event ID.
	SendMessage(ctx context.Context, roomID ref.RoomID, content MessageContent) (ref.EventID, error)

	// SendEvent sends an event of any type and returns its event ID.
	SendEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, content any) (ref.EventID, error)

	// GetStateEvent returns the raw content of one state event.
	GetStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string) (json.RawMessage, error)

	// GetRoomState returns every current state event of a room.
	GetRoomState(ctx context.Context, roomID ref.RoomID) ([]Event, error)

	// GetRoomMembers returns the member list of a room.
	GetRoomMembers(ctx context.Context, roomID ref.RoomID) ([]RoomMember, error)

	// RoomMessages fetches one page of room history.
	RoomMessages(ctx context.Context, roomID ref.RoomID, options RoomMessagesOptions) (*RoomMessagesResponse, error)

	// GetAccountData returns the raw content of an account-data event.
	GetAccountData(ctx context.Context, eventType ref.EventType) (json.RawMessage, error)

	// SetAccountData replaces an account-data event.
	SetAccountData(ctx context.Context, eventType ref.EventType, content any) error

	// Sync performs one /sync request.
	Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error)
}

// Compile-time check: *DirectSession implements Session.
var _ Session = (*DirectSession)(nil)
