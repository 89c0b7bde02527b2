package chatserver

import (
	"log"
	"net"
	"time"

	"lanchat/internal/protocol"
)

// youngPhase is the "young" age threshold below which a server polls for
// beacons more eagerly (spec §4.3/§5).
const youngPhase = 2 * time.Second

// Beacon cadence: a young server reads for a short window so a freshly
// started peer hears back quickly; once past the young phase it idles
// longer between its own beacon sends.
const (
	youngReadWindow = 100 * time.Millisecond
	oldReadWindow   = 2 * time.Second
)

// ageFuzz is the clock-skew/beacon-delay tolerance band in the election
// rule (spec §4.3): ages within ageFuzz of each other are considered tied.
const ageFuzz = 2 * time.Second

// shouldYield implements the election rule: older wins, ties (within
// ageFuzz) broken by higher uid. delta = otherAge - thisAge.
func shouldYield(thisAge, otherAge uint32, thisUID, otherUID uint64) bool {
	delta := int64(otherAge) - int64(thisAge)
	fuzzSeconds := int64(ageFuzz / time.Second)
	if delta > fuzzSeconds {
		return true
	}
	if delta >= -fuzzSeconds && otherUID > thisUID {
		return true
	}
	return false
}

// runElectionWorker owns the UDP socket: it sends one beacon per loop
// iteration, drains incoming datagrams for a cadence-dependent window,
// answers SERVER_INFO_REQUEST, and yields (stops the server) when a better
// peer is heard (spec §4.3).
func (s *Server) runElectionWorker() {
	defer s.wg.Done()

	buf := make([]byte, 512)
	for {
		if s.stopping.Load() {
			return
		}

		s.sendBeacon(s.broadcastAddr)

		window := oldReadWindow
		if time.Since(s.startTime) < youngPhase {
			window = youngReadWindow
		}
		deadline := time.Now().Add(window)
		if err := s.udpConn.SetReadDeadline(deadline); err != nil {
			log.Printf("[election] set read deadline: %v", err)
		}

		for {
			if s.stopping.Load() {
				return
			}
			n, addr, err := s.udpConn.ReadFromUDP(buf)
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					break // window elapsed, send the next beacon
				}
				if s.stopping.Load() {
					return
				}
				log.Printf("[election] udp read error: %v", err)
				break
			}
			s.handleDatagram(buf[:n], addr)
			if s.stopping.Load() {
				return
			}
		}
	}
}

func (s *Server) handleDatagram(data []byte, from *net.UDPAddr) {
	if protocol.IsServerInfoRequest(data) {
		s.sendBeacon(s.broadcastAddr)
		return
	}

	beacon, err := protocol.DecodeBeacon(data)
	if err != nil {
		return // malformed beacon: silently dropped, per spec §4.1
	}
	if beacon.UID == s.uid {
		return // self-echo suppression
	}

	thisAge := ageSeconds(s.startTime)
	if shouldYield(thisAge, beacon.Age, s.uid, beacon.UID) {
		log.Printf("[election] yielding to peer %s (age=%d uid=%#x) vs self (age=%d uid=%#x)",
			from, beacon.Age, beacon.UID, thisAge, s.uid)
		s.Stop()
	}
}

func (s *Server) sendBeacon(to *net.UDPAddr) {
	beacon := protocol.EncodeBeacon(ageSeconds(s.startTime), s.uid)
	if _, err := s.udpConn.WriteToUDP(beacon, to); err != nil {
		log.Printf("[election] send beacon: %v", err)
	}
}
