// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the capability surface the chat engine needs
// from a federated chat backend, and the canonical shapes that cross
// it.
//
// [Facade] is deliberately narrow: send a text message, snapshot a
// room's state, page backward through history, subscribe to live
// events, read and write account metadata, and the room lifecycle
// (join, create, leave, forget). Everything above this package is
// written against the interface and never sees transport types.
//
// Two implementations exist. [Matrix] adapts a [messaging.Session] and
// [messaging.SyncStream] to the interface and translates Matrix errors
// into the taxonomy in errors.go. [Fake] is an in-memory homeserver for
// tests: rooms, aliases, membership, account data, and live event
// fan-out, with hooks to block or fail individual operations and
// counters to assert on call volume.
//
// Errors are classified, not stringly typed. [ErrNotFound] and
// [ErrConflict] mark application-level outcomes the resolver reacts to,
// [*TransportError] marks retryable network or protocol failures, and
// [ErrStaleState] marks operations on state the engine no longer holds.
package protocol
