// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"time"

	"github.com/bureau-foundation/chatsync/lib/ref"
)

// Kind classifies a room.
type Kind uint8

const (
	KindGroup Kind = iota
	KindDirect
)

func (k Kind) String() string {
	if k == KindDirect {
		return "direct"
	}
	return "group"
}

// Room is the cached metadata of a room.
type Room struct {
	ID   ref.RoomID
	Name string

	// AvatarURL is an mxc:// content URI, or "".
	AvatarURL string

	// LastActivity is the timestamp of the newest message observed.
	LastActivity time.Time

	Kind Kind
}
