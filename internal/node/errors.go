package node

import "errors"

// ErrInvalidArgument is returned by Say and SetName for empty (after trim)
// or oversized input, synchronously and before anything reaches a socket
// (spec §7, §8 edge case 6).
var ErrInvalidArgument = errors.New("node: invalid argument")
