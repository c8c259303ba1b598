// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package chatsync is the reconciliation engine between the local
// timeline cache and the homeserver.
//
// [Engine] is the command surface a UI drives:
//
//   - Send inserts an optimistic message immediately and reconciles it
//     with the server's answer in the background.
//   - LoadMessages installs a room's initial window; LoadMore pages
//     older history behind a single engine-wide guard.
//   - Subscribe routes live events for one room into the cache,
//     dropping local echoes and duplicates.
//   - ResolveAndOpen and Leave delegate to lib/directory and keep the
//     cache in step.
//
// All state lives in a [timeline.Store]; a UI observes it through
// Store.Listen and reads copies. The engine itself never times out a
// server call: callers bound work through the contexts they pass, and
// sends outlive their caller's context.
package chatsync
