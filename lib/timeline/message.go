// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/chatsync/lib/ref"
)

// tempPrefix marks identifiers allocated locally for messages the
// server has not yet accepted. Server event IDs start with '$', so the
// two spaces never collide.
const tempPrefix = "~"

// MessageID identifies a message within a timeline: either a temporary
// local ID or a server event ID.
type MessageID string

// NewTempID allocates a fresh temporary message ID.
func NewTempID() MessageID {
	return MessageID(tempPrefix + uuid.NewString())
}

// IDFromEvent returns the message ID for a server event.
func IDFromEvent(eventID ref.EventID) MessageID {
	return MessageID(eventID.String())
}

// IsTempID reports whether id has the temporary-ID shape. Transports
// that surface local echoes may use the same shape; such events are
// never treated as server events.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempPrefix)
}

// IsTemp reports whether the ID was allocated locally.
func (id MessageID) IsTemp() bool { return IsTempID(string(id)) }

func (id MessageID) String() string { return string(id) }

type deliveryState uint8

const (
	stateSending deliveryState = iota
	stateSent
	stateFailed
)

// Delivery is the delivery status of a message. The zero value is
// Sending. Messages received from the server are Sent.
type Delivery struct {
	state   deliveryState
	eventID ref.EventID
	reason  string
}

// Sending is the status of a message the server has not yet accepted.
func Sending() Delivery { return Delivery{state: stateSending} }

// Sent is the status of a message the server accepted as eventID.
func Sent(eventID ref.EventID) Delivery {
	return Delivery{state: stateSent, eventID: eventID}
}

// Failed is the status of a send the server rejected or that never
// reached it.
func Failed(reason string) Delivery {
	return Delivery{state: stateFailed, reason: reason}
}

func (d Delivery) IsSending() bool { return d.state == stateSending }
func (d Delivery) IsSent() bool    { return d.state == stateSent }
func (d Delivery) IsFailed() bool  { return d.state == stateFailed }

// EventID returns the server event ID of a Sent delivery.
func (d Delivery) EventID() (ref.EventID, bool) {
	return d.eventID, d.state == stateSent
}

// Reason returns the failure reason of a Failed delivery, or "".
func (d Delivery) Reason() string { return d.reason }

func (d Delivery) String() string {
	switch d.state {
	case stateSent:
		return "sent(" + d.eventID.String() + ")"
	case stateFailed:
		return "failed(" + d.reason + ")"
	default:
		return "sending"
	}
}

// Message is one entry of a timeline.
type Message struct {
	ID        MessageID
	Body      string
	Sender    ref.UserID
	Timestamp time.Time
	Delivery  Delivery
}

// Pending reports whether the message is a local send that has not been
// confirmed: its ID is temporary and it is Sending or Failed.
func (m Message) Pending() bool {
	return m.ID.IsTemp() && !m.Delivery.IsSent()
}
