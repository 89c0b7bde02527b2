// Package netutil provides the broadcast-capable UDP sockets shared by the
// chat server's election worker and the node's discovery probe (spec §6).
package netutil

import (
	"context"
	"fmt"
	"net"
)

// ListenBroadcastUDP binds a UDP4 socket to port with SO_REUSEADDR and
// SO_BROADCAST set, suitable for a server that both receives on a
// well-known port and sends broadcast beacons from it.
func ListenBroadcastUDP(port int) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: controlUDPSocket}
	pconn, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	return pconn.(*net.UDPConn), nil
}

// NewBroadcastSender binds an ephemeral UDP4 socket with SO_BROADCAST set,
// suitable for a client that only needs to send SERVER_INFO_REQUEST probes
// and read replies, not receive on the well-known port itself.
func NewBroadcastSender() (*net.UDPConn, error) {
	return ListenBroadcastUDP(0)
}

// BroadcastAddr returns the limited-broadcast address (255.255.255.255) on
// port.
func BroadcastAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4bcast, Port: port}
}
