// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// UserID is a validated Matrix user ID (e.g., "@alice:example.org").
//
// User IDs identify the session owner, message senders, and DM peers.
// The DM mapping is keyed by UserID.
type UserID struct {
	id string
}

// ParseUserID validates and wraps a raw Matrix user ID string.
// Returns an error if the string is empty, doesn't start with '@',
// has an empty localpart, or is missing the ':server' suffix.
func ParseUserID(raw string) (UserID, error) {
	_, server, err := parseMatrixID(raw)
	if err != nil {
		return UserID{}, err
	}
	if err := validateServer(server); err != nil {
		return UserID{}, fmt.Errorf("user ID %q: %w", raw, err)
	}
	return UserID{id: raw}, nil
}

// MustParseUserID is like ParseUserID but panics on error.
func MustParseUserID(raw string) UserID {
	u, err := ParseUserID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseUserID(%q): %v", raw, err))
	}
	return u
}

// String returns the full user ID string.
func (u UserID) String() string { return u.id }

// IsZero reports whether the UserID is the zero value.
func (u UserID) IsZero() bool { return u.id == "" }

// Localpart returns the localpart (without '@' or ':server'). Returns
// the empty string for the zero value.
func (u UserID) Localpart() string {
	localpart, _, _ := parseMatrixID(u.id)
	return localpart
}

// Server returns the server portion of the user ID. Returns the zero
// ServerName for the zero value.
func (u UserID) Server() ServerName {
	_, server, err := parseMatrixID(u.id)
	if err != nil {
		return ServerName{}
	}
	return newServerName(server)
}

// MarshalText implements encoding.TextMarshaler.
func (u UserID) MarshalText() ([]byte, error) {
	return []byte(u.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// produces the zero value. UserID is used as a JSON object key in the
// m.direct account data, which encoding/json supports through this
// method.
func (u *UserID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*u = UserID{}
		return nil
	}
	parsed, err := ParseUserID(string(data))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
