// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// ServerName is a validated Matrix server name (e.g., "example.org",
// "localhost:8448"). It appears after the colon in user IDs, room IDs
// and aliases.
type ServerName struct {
	name string
}

// ParseServerName validates and wraps a raw Matrix server name string.
func ParseServerName(raw string) (ServerName, error) {
	if err := validateServer(raw); err != nil {
		return ServerName{}, err
	}
	return ServerName{name: raw}, nil
}

// MustParseServerName is like ParseServerName but panics on error.
func MustParseServerName(raw string) ServerName {
	s, err := ParseServerName(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseServerName(%q): %v", raw, err))
	}
	return s
}

// newServerName wraps a server name that was already validated as part
// of a larger identifier.
func newServerName(name string) ServerName {
	return ServerName{name: name}
}

// String returns the server name string.
func (s ServerName) String() string { return s.name }

// IsZero reports whether the ServerName is the zero value.
func (s ServerName) IsZero() bool { return s.name == "" }
