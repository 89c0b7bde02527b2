package node

import (
	"log"
	"net"
	"time"

	"lanchat/internal/netutil"
	"lanchat/internal/protocol"
)

const (
	discoveryHardCap   = 2 * time.Second
	discoveryFastPath  = 1 * time.Second
	discoveryProbeTick = 100 * time.Millisecond
)

// discover broadcasts SERVER_INFO_REQUEST probes for up to discoveryHardCap
// and collects distinct candidates from valid SERVER_INFO replies. As soon
// as the list is non-empty, the remaining window is shortened to at most
// discoveryFastPath (spec §4.4 step 1).
func (n *Node) discover() []candidateServer {
	conn, err := netutil.NewBroadcastSender()
	if err != nil {
		log.Printf("[node] discovery socket: %v", err)
		return nil
	}
	defer conn.Close()

	broadcastAddr := netutil.BroadcastAddr(n.port)
	byIP := make(map[string]candidateServer)

	deadline := time.Now().Add(discoveryHardCap)
	buf := make([]byte, 512)

	for time.Now().Before(deadline) {
		if _, err := conn.WriteToUDP(protocol.ServerInfoRequest(), broadcastAddr); err != nil {
			log.Printf("[node] discovery probe: %v", err)
		}

		readDeadline := time.Now().Add(discoveryProbeTick)
		if readDeadline.After(deadline) {
			readDeadline = deadline
		}
		if err := conn.SetReadDeadline(readDeadline); err != nil {
			log.Printf("[node] discovery read deadline: %v", err)
		}

		for {
			n2, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				break // tick elapsed; send the next probe
			}
			beacon, err := protocol.DecodeBeacon(buf[:n2])
			if err != nil {
				continue // malformed beacon: silently dropped
			}
			ip := candidateIP(from)
			byIP[ip.String()] = candidateServer{
				ip:               ip,
				ageAtDiscovery:   beacon.Age,
				discoveryInstant: time.Now(),
				uid:              beacon.UID,
			}
		}

		if len(byIP) > 0 {
			if fast := time.Now().Add(discoveryFastPath); fast.Before(deadline) {
				deadline = fast
			}
		}
	}

	out := make([]candidateServer, 0, len(byIP))
	for _, c := range byIP {
		out = append(out, c)
	}
	sortCandidates(out)
	return out
}

// candidateIP normalizes the replying address to its IP (dropping the
// ephemeral source port) so dedup is by host, not by socket.
func candidateIP(addr *net.UDPAddr) net.IP {
	return addr.IP
}
