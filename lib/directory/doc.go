// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package directory turns user-supplied identifiers into rooms and
// maintains the direct-chat mapping.
//
// [Resolver.Resolve] accepts three identifier shapes: a room ID
// ("!opaque:server") is joined, an alias ("#name:server") is joined or
// created as a public room, and a user ID ("@name:server") opens the
// direct chat with that user, reusing an existing one where possible.
//
// The direct-chat mapping is the account-data event m.direct: a map
// from peer user ID to the rooms that are direct chats with that peer.
// Other clients of the same account write it too, so every update
// re-reads the current value immediately before writing it back.
package directory
