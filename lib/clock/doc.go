// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The chat engine reads the clock in two places: stamping optimistic
// messages with a local timestamp, and waiting out the /sync backoff
// after a failed request. Both take a Clock so tests can pin "now" and
// step through backoff without sleeping.
//
// In production pass Real(). In tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go stream.Run(ctx)
//	c.WaitForTimers(1)       // the loop is now blocked in After
//	c.Advance(time.Second)   // release it deterministically
package clock
