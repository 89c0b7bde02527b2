package chatclient

import "errors"

// Error kinds surfaced at the client's public API boundary (spec §7).
var (
	// ErrAlreadyConnected is returned by Connect when the client already
	// holds an open connection.
	ErrAlreadyConnected = errors.New("chatclient: already connected")
	// ErrNotConnected is returned by operations that require an open
	// connection when none exists.
	ErrNotConnected = errors.New("chatclient: not connected")
	// ErrInvalidArgument is returned when a name or message is empty
	// (after trim) or exceeds its wire length limit.
	ErrInvalidArgument = errors.New("chatclient: invalid argument")
	// ErrClosed is returned by Connect on a client that has been closed, and
	// by Say or SetName when the client tears down while their frame is
	// being queued. Say on a closed client returns ErrNotConnected.
	ErrClosed = errors.New("chatclient: closed")
)
