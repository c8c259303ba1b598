// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chatsync

import (
	"testing"

	"go.uber.org/goleak"
)

// Send goroutines must all have finished once each test's cleanup has
// waited on the engine.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
