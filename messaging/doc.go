// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the Matrix client-server API for the chat
// engine.
//
// [Client] holds the homeserver URL and HTTP transport. It is
// unauthenticated; [Client.SessionFromToken] binds it to an access
// token held in a [secret.Token] and returns a [DirectSession].
//
// [Session] is the interface the rest of the module programs against:
// room lifecycle (create, join by ID or alias, leave, forget), message
// sending with idempotent transaction IDs, backward pagination through
// /messages, room state and membership, account data, and /sync.
// [DirectSession] is the HTTP implementation.
//
// [SyncStream] turns the /sync long-poll into a fan-out of room
// timeline events. It performs one initial sync to establish a
// position, then polls incrementally with exponential backoff, calling
// every subscriber for every timeline event of every joined room.
//
// All API errors are returned as [*MatrixError] carrying the Matrix
// error code and HTTP status. [IsMatrixError] tests for a code. Request
// URLs are built by string concatenation with url.PathEscape on each
// segment so that aliases and room IDs are never double-encoded.
// Response bodies are read through a size bound.
package messaging
