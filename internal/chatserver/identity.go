package chatserver

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// newUID returns a uniformly random 64-bit server identifier, stable for
// the server's lifetime (spec §3). uuid.New() already draws 122 random
// bits from crypto/rand under the hood; XOR-folding its two 8-byte halves
// lines each fixed version/variant bit up with a fully random one, so the
// 64-bit uid is uniform without hand-rolling a second random source.
func newUID() uint64 {
	id := uuid.New()
	return binary.LittleEndian.Uint64(id[:8]) ^ binary.LittleEndian.Uint64(id[8:])
}

// ageSeconds reports the whole seconds elapsed since start, as the
// unsigned 32-bit value beacons carry.
func ageSeconds(start time.Time) uint32 {
	d := time.Since(start)
	if d < 0 {
		return 0
	}
	return uint32(d / time.Second)
}
