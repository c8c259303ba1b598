// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated, immutable Matrix identifiers for the
// chat engine: room IDs, room aliases, user IDs, event IDs, and server
// names.
//
// Every identifier that crosses into the engine from the homeserver,
// the UI, or configuration is parsed into one of these types at the
// boundary. Past the boundary, code never re-validates: a RoomID is a
// room ID. The zero value of each type is "unset" and reports IsZero.
//
// The canonical serialization is the raw Matrix string (sigil
// included). JSON and YAML encoding go through encoding.TextMarshaler,
// so a malformed identifier in a server response fails decoding rather
// than propagating as an opaque string.
package ref
