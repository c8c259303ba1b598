// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bureau-foundation/chatsync/lib/ref"
)

// ErrInvalidIdentifier reports an identifier that is not a room ID,
// room alias, or user ID.
var ErrInvalidIdentifier = errors.New("invalid room identifier")

// TargetKind classifies an identifier.
type TargetKind uint8

const (
	TargetRoom TargetKind = iota
	TargetAlias
	TargetUser
)

func (k TargetKind) String() string {
	switch k {
	case TargetRoom:
		return "room"
	case TargetAlias:
		return "alias"
	case TargetUser:
		return "user"
	default:
		return "unknown"
	}
}

// Target is a parsed identifier. Exactly one of RoomID, Alias, and
// UserID is set, according to Kind.
type Target struct {
	Kind   TargetKind
	RoomID ref.RoomID
	Alias  ref.RoomAlias
	UserID ref.UserID
}

// String returns the canonical identifier.
func (t Target) String() string {
	switch t.Kind {
	case TargetAlias:
		return t.Alias.String()
	case TargetUser:
		return t.UserID.String()
	default:
		return t.RoomID.String()
	}
}

// ParseTarget classifies identifier by its sigil. An alias without a
// server part ("#lobby") is qualified with defaultServer; when
// defaultServer is zero such aliases are rejected.
func ParseTarget(identifier string, defaultServer ref.ServerName) (Target, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Target{}, fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}

	switch identifier[0] {
	case '!':
		roomID, err := ref.ParseRoomID(identifier)
		if err != nil {
			return Target{}, fmt.Errorf("%w: %w", ErrInvalidIdentifier, err)
		}
		return Target{Kind: TargetRoom, RoomID: roomID}, nil

	case '#':
		if !strings.Contains(identifier, ":") && !defaultServer.IsZero() {
			alias, err := ref.NewRoomAlias(identifier[1:], defaultServer)
			if err != nil {
				return Target{}, fmt.Errorf("%w: %w", ErrInvalidIdentifier, err)
			}
			return Target{Kind: TargetAlias, Alias: alias}, nil
		}
		alias, err := ref.ParseRoomAlias(identifier)
		if err != nil {
			return Target{}, fmt.Errorf("%w: %w", ErrInvalidIdentifier, err)
		}
		return Target{Kind: TargetAlias, Alias: alias}, nil

	case '@':
		userID, err := ref.ParseUserID(identifier)
		if err != nil {
			return Target{}, fmt.Errorf("%w: %w", ErrInvalidIdentifier, err)
		}
		return Target{Kind: TargetUser, UserID: userID}, nil
	}
	return Target{}, fmt.Errorf("%w: %q has no room, alias, or user sigil", ErrInvalidIdentifier, identifier)
}
