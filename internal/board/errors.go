package board

import (
	"context"
	"errors"
	"fmt"
)

// ErrLinkLost reports that an established link to the board dropped.
var ErrLinkLost = errors.New("board link lost")

// ErrHandshakeTimeout reports a board that answered too slowly or not at all.
// It matches context.DeadlineExceeded.
var ErrHandshakeTimeout = fmt.Errorf("board handshake timed out: %w", context.DeadlineExceeded)

// ErrClosed is recorded when the link was closed locally.
var ErrClosed = errors.New("board link closed")

// ConnectionError is returned by Connect when the board transport cannot be reached.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("board connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
