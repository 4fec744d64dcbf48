// SPDX-FileCopyrightText: © 2026 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"errors"
	"fmt"

	"github.com/katzenpost/mixclient/core/fragment"
)

var (
	// ErrMessageTooLarge is returned by SubmitMessage when a message does
	// not fit the fragmentation limits.
	ErrMessageTooLarge = fragment.ErrMessageTooLarge

	// ErrDuplicateEntry is wrapped by the FatalError returned when a
	// fragment identifier is inserted into the pending table twice.
	ErrDuplicateEntry = errors.New("client: duplicate pending entry")

	// ErrOutboundClosed is wrapped by the FatalError returned when a packet
	// is pushed after the outbound queue was closed.
	ErrOutboundClosed = errors.New("client: outbound queue closed")

	// ErrNoTopology is returned when no PKI document is available yet.
	ErrNoTopology = errors.New("client: no PKI document available")

	// ErrShutdown is returned by operations invoked after Shutdown.
	ErrShutdown = errors.New("client: shutdown requested")
)

// FatalError is an internal invariant violation.  It is never returned to
// remote parties; the client logs it and shuts down.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("client: fatal error in %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal returns true iff err is or wraps a *FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
