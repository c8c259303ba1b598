// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

// EventType identifies a Matrix event type ("m.room.message",
// "m.room.member", ...). It is a named string rather than a validated
// struct: event types are opaque and need no parsing, the type only
// keeps them from being confused with state keys or bodies.
type EventType string

// Event types the chat engine reads or writes.
const (
	EventTypeMessage    EventType = "m.room.message"
	EventTypeMember     EventType = "m.room.member"
	EventTypeName       EventType = "m.room.name"
	EventTypeAvatar     EventType = "m.room.avatar"
	EventTypeJoinRules  EventType = "m.room.join_rules"
	EventTypeCreate     EventType = "m.room.create"
	EventTypeDirect     EventType = "m.direct"
	EventTypeCanonAlias EventType = "m.room.canonical_alias"
)

// String returns the event type string.
func (t EventType) String() string { return string(t) }
