// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports that a room, alias, or metadata key does not
	// exist or is not visible to the session.
	ErrNotFound = errors.New("not found")

	// ErrConflict reports that a create collided with existing state,
	// typically an alias claimed by another room.
	ErrConflict = errors.New("conflict")

	// ErrStaleState reports an operation against engine state that has
	// moved on: a message that is no longer pending, a room that was
	// left, a timeline that was never loaded.
	ErrStaleState = errors.New("stale state")
)

// TransportError is a network or protocol-level failure. The same call
// may succeed if retried.
type TransportError struct {
	// Op names the facade operation that failed ("send", "paginate", ...).
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is or wraps a *TransportError.
func IsTransport(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}
