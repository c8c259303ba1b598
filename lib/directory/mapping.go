// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"slices"

	"github.com/bureau-foundation/chatsync/lib/protocol"
	"github.com/bureau-foundation/chatsync/lib/ref"
)

// DirectMapping is the content of the m.direct account-data event: peer
// user ID to the IDs of direct-chat rooms with that peer.
//
// Keys and values are kept as raw strings so that entries this client
// cannot parse, written by other clients, survive a read-modify-write.
type DirectMapping map[string][]string

// Rooms returns the parseable room IDs listed for peer, in order.
func (m DirectMapping) Rooms(peer ref.UserID) []ref.RoomID {
	var rooms []ref.RoomID
	for _, raw := range m[peer.String()] {
		if roomID, err := ref.ParseRoomID(raw); err == nil {
			rooms = append(rooms, roomID)
		}
	}
	return rooms
}

// Contains reports whether roomID is listed for any peer.
func (m DirectMapping) Contains(roomID ref.RoomID) bool {
	for _, rooms := range m {
		if slices.Contains(rooms, roomID.String()) {
			return true
		}
	}
	return false
}

// Add appends roomID to peer's list. Returns false if it was already
// listed.
func (m DirectMapping) Add(peer ref.UserID, roomID ref.RoomID) bool {
	key := peer.String()
	if slices.Contains(m[key], roomID.String()) {
		return false
	}
	m[key] = append(m[key], roomID.String())
	return true
}

// RemoveRoom deletes roomID from every peer's list and deletes peers
// whose list becomes empty. Returns whether anything changed.
func (m DirectMapping) RemoveRoom(roomID ref.RoomID) bool {
	changed := false
	for peer, rooms := range m {
		if !slices.Contains(rooms, roomID.String()) {
			continue
		}
		changed = true
		remaining := slices.DeleteFunc(slices.Clone(rooms), func(room string) bool {
			return room == roomID.String()
		})
		if len(remaining) == 0 {
			delete(m, peer)
		} else {
			m[peer] = remaining
		}
	}
	return changed
}

// ClassifyDirect decides whether a room is a direct chat. In priority
// order: a room listed in the mapping is direct; a room with a public
// join rule is not; otherwise the room is direct exactly when two
// members are joined or invited.
func ClassifyDirect(mapping DirectMapping, snapshot *protocol.RoomSnapshot) bool {
	if mapping.Contains(snapshot.RoomID) {
		return true
	}
	if snapshot.JoinRule == protocol.JoinRulePublic {
		return false
	}
	return snapshot.ActiveMembers() == 2
}
