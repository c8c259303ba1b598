// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for chatsync packages.
//
// [RequireReceive] and [RequireNoReceive] wrap the select-with-timeout
// pattern for channels fed by subscription callbacks and background
// goroutines. They are the only helpers that use wall-clock time.
//
// All helpers call t.Fatalf on failure.
package testutil
