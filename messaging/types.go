// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"github.com/bureau-foundation/chatsync/lib/ref"
)

// Room creation presets.
const (
	PresetPublicChat         = "public_chat"
	PresetPrivateChat        = "private_chat"
	PresetTrustedPrivateChat = "trusted_private_chat"
)

// CreateRoomRequest holds parameters for creating a Matrix room.
type CreateRoomRequest struct {
	Name         string       `json:"name,omitempty"`
	Topic        string       `json:"topic,omitempty"`
	Alias        string       `json:"room_alias_name,omitempty"` // localpart without # or :server
	Visibility   string       `json:"visibility,omitempty"`      // "public" or "private"
	Preset       string       `json:"preset,omitempty"`
	Invite       []ref.UserID `json:"invite,omitempty"`
	IsDirect     bool         `json:"is_direct,omitempty"`
	InitialState []StateEvent `json:"initial_state,omitempty"`
}

// CreateRoomResponse is returned by CreateRoom.
type CreateRoomResponse struct {
	RoomID ref.RoomID `json:"room_id"`
}

// StateEvent is an initial state entry for room creation.
type StateEvent struct {
	Type     ref.EventType `json:"type"`
	StateKey string        `json:"state_key"`
	Content  any           `json:"content"`
}

// MessageContent is the content of an m.room.message event.
type MessageContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
}

// NewTextMessage creates a plain text message.
func NewTextMessage(body string) MessageContent {
	return MessageContent{MsgType: "m.text", Body: body}
}

// Event is a Matrix event as delivered by /messages, /state and /sync.
type Event struct {
	EventID        ref.EventID    `json:"event_id"`
	Type           ref.EventType  `json:"type"`
	Sender         ref.UserID     `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Content        map[string]any `json:"content"`
	RoomID         ref.RoomID     `json:"room_id,omitempty"`
	StateKey       *string        `json:"state_key,omitempty"`
	Unsigned       *EventUnsigned `json:"unsigned,omitempty"`
}

// EventUnsigned holds unsigned data attached to events. TransactionID
// is set only on the sender's own events, echoing the send request.
type EventUnsigned struct {
	Age           int64  `json:"age,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// ContentString returns a string field of the event content, or "".
func (e Event) ContentString(key string) string {
	value, _ := e.Content[key].(string)
	return value
}

// RoomMessagesOptions controls pagination for /messages.
type RoomMessagesOptions struct {
	From      string // pagination token; empty means "from the live end"
	Direction string // "b" (older) or "f" (newer); default "b"
	Limit     int    // max events; 0 uses server default
}

// RoomMessagesResponse is returned by RoomMessages. For backward
// pagination Chunk is newest first. An empty End means the start of the
// room has been reached.
type RoomMessagesResponse struct {
	Start string  `json:"start"`
	End   string  `json:"end,omitempty"`
	Chunk []Event `json:"chunk"`
}

// SyncOptions controls the /sync endpoint.
type SyncOptions struct {
	Since      string // next_batch from the previous sync; empty for initial
	Timeout    int    // long-poll timeout in milliseconds
	SetTimeout bool   // send Timeout even when zero
	Filter     string // filter ID or inline JSON filter
}

// SyncResponse is the top-level response from /sync.
type SyncResponse struct {
	NextBatch   string             `json:"next_batch"`
	Rooms       RoomsSection       `json:"rooms"`
	AccountData AccountDataSection `json:"account_data"`
}

// RoomsSection contains per-room sync data by membership. Map keys
// decode through ref.RoomID's TextUnmarshaler.
type RoomsSection struct {
	Join   map[ref.RoomID]JoinedRoom  `json:"join,omitempty"`
	Invite map[ref.RoomID]InvitedRoom `json:"invite,omitempty"`
	Leave  map[ref.RoomID]LeftRoom    `json:"leave,omitempty"`
}

// JoinedRoom contains sync data for a joined room.
type JoinedRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// InvitedRoom contains sync data for a pending invite.
type InvitedRoom struct {
	InviteState StateSection `json:"invite_state"`
}

// LeftRoom contains sync data for a room the user has left.
type LeftRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// TimelineSection contains timeline events from a sync response.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

// StateSection contains state events from a sync response.
type StateSection struct {
	Events []Event `json:"events"`
}

// AccountDataSection contains global account-data changes.
type AccountDataSection struct {
	Events []Event `json:"events"`
}

// SendEventResponse is returned by SendEvent.
type SendEventResponse struct {
	EventID ref.EventID `json:"event_id"`
}

// WhoAmIResponse is returned by WhoAmI.
type WhoAmIResponse struct {
	UserID   ref.UserID `json:"user_id"`
	DeviceID string     `json:"device_id,omitempty"`
}

// ResolveAliasResponse is returned by ResolveAlias.
type ResolveAliasResponse struct {
	RoomID  ref.RoomID `json:"room_id"`
	Servers []string   `json:"servers"`
}

// RoomMember is one member of a room.
type RoomMember struct {
	UserID      ref.UserID `json:"user_id"`
	DisplayName string     `json:"display_name"`
	Membership  string     `json:"membership"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
}

// RoomMembersResponse is returned by the /members endpoint.
type RoomMembersResponse struct {
	Chunk []RoomMemberEvent `json:"chunk"`
}

// RoomMemberEvent is a member state event from /members.
type RoomMemberEvent struct {
	Type     ref.EventType     `json:"type"`
	StateKey string            `json:"state_key"`
	Sender   ref.UserID        `json:"sender"`
	Content  RoomMemberContent `json:"content"`
}

// RoomMemberContent is the content of an m.room.member event.
type RoomMemberContent struct {
	Membership  string `json:"membership"`
	DisplayName string `json:"displayname,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// ServerVersionsResponse is returned by Client.ServerVersions.
type ServerVersionsResponse struct {
	Versions         []string        `json:"versions"`
	UnstableFeatures map[string]bool `json:"unstable_features,omitempty"`
}
