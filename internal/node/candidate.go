package node

import (
	"net"
	"sort"
	"time"
)

// candidateServer is a server observed during discovery that the node may
// try to connect to (spec §3). effectiveAge grows with wall-clock time
// since discoveryInstant, so candidates discovered early in a long
// discovery window aren't unfairly treated as younger than ones seen late.
type candidateServer struct {
	ip               net.IP
	ageAtDiscovery   uint32
	discoveryInstant time.Time
	uid              uint64
}

// effectiveAge returns ageAtDiscovery plus the whole seconds elapsed since
// discoveryInstant.
func (c candidateServer) effectiveAge(now time.Time) uint32 {
	elapsed := now.Sub(c.discoveryInstant)
	if elapsed < 0 {
		elapsed = 0
	}
	return c.ageAtDiscovery + uint32(elapsed/time.Second)
}

// sortCandidates orders candidates oldest-effective-age-first, breaking
// ties with the higher uid (spec §4.4 step 2).
func sortCandidates(candidates []candidateServer) {
	now := time.Now()
	sort.Slice(candidates, func(i, j int) bool {
		ai, aj := candidates[i].effectiveAge(now), candidates[j].effectiveAge(now)
		if ai != aj {
			return ai > aj
		}
		return candidates[i].uid > candidates[j].uid
	})
}
