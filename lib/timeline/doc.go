// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package timeline is the local cache of rooms and their message
// timelines.
//
// A [Timeline] holds one room's messages ordered oldest to newest by
// timestamp, with ties kept in insertion order. Message identifiers are
// unique within a timeline: every insertion path (append, prepend,
// reset, send confirmation) accepts a message only if no entry already
// carries its ID.
//
// [Store] owns every timeline and room record. It serializes mutations
// with a single mutex, hands out copies to readers, and notifies
// listeners after each mutation. The reconciliation engine in
// lib/chatsync is its only writer in production.
//
// Locally originated messages start with a temporary [MessageID]
// (prefix "~") and a [Sending] delivery. Confirmation replaces the
// entry in place with the server event ID; if the server's copy of the
// event already arrived through the live stream, the temporary entry is
// removed instead.
package timeline
