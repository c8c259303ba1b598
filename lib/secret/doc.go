// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds the homeserver access token outside the Go heap.
//
// [Token] copies the credential into an anonymous mmap region, asks the
// kernel to keep it out of swap (mlock) and core dumps
// (MADV_DONTDUMP), and zeroes it on Close. The messaging client reads
// the token through [Token.String] only when building an
// Authorization header.
//
// mlock can be refused by RLIMIT_MEMLOCK in containers. That failure is
// tolerated: the token still lives outside the heap and is still
// zeroed, and [Token.Locked] reports whether the lock took.
package secret
