// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// RoomAlias is a validated Matrix room alias (e.g., "#lobby:example.org").
//
// Aliases are the public, human-readable names of rooms. The resolver
// joins by alias and, when the alias does not exist yet, creates a
// public room using the alias localpart as both name and alias.
type RoomAlias struct {
	alias string
}

// ParseRoomAlias validates and wraps a raw Matrix room alias string.
// Returns an error if the string is empty, doesn't start with '#',
// or is missing the ':server' suffix.
func ParseRoomAlias(raw string) (RoomAlias, error) {
	_, server, err := parseRoomAlias(raw)
	if err != nil {
		return RoomAlias{}, err
	}
	if err := validateServer(server); err != nil {
		return RoomAlias{}, fmt.Errorf("room alias %q: %w", raw, err)
	}
	return RoomAlias{alias: raw}, nil
}

// MustParseRoomAlias is like ParseRoomAlias but panics on error.
func MustParseRoomAlias(raw string) RoomAlias {
	a, err := ParseRoomAlias(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseRoomAlias(%q): %v", raw, err))
	}
	return a
}

// NewRoomAlias builds an alias from a localpart and server name.
func NewRoomAlias(localpart string, server ServerName) (RoomAlias, error) {
	return ParseRoomAlias("#" + localpart + ":" + server.String())
}

// String returns the full room alias string.
func (a RoomAlias) String() string { return a.alias }

// IsZero reports whether the RoomAlias is the zero value.
func (a RoomAlias) IsZero() bool { return a.alias == "" }

// Localpart returns the alias localpart without the '#' prefix or
// ':server' suffix ("lobby" for "#lobby:example.org").
func (a RoomAlias) Localpart() string {
	if a.alias == "" {
		return ""
	}
	localpart, _, _ := parseRoomAlias(a.alias)
	return localpart
}

// Server returns the server name from the alias.
func (a RoomAlias) Server() ServerName {
	if a.alias == "" {
		return ServerName{}
	}
	_, server, _ := parseRoomAlias(a.alias)
	return newServerName(server)
}

// MarshalText implements encoding.TextMarshaler.
func (a RoomAlias) MarshalText() ([]byte, error) {
	return []byte(a.alias), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// produces the zero value.
func (a *RoomAlias) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*a = RoomAlias{}
		return nil
	}
	parsed, err := ParseRoomAlias(string(data))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
