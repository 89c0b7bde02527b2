// Package chatserver implements the chat server: TCP client acceptance and
// fan-out, and the UDP election worker that keeps exactly one authoritative
// server per LAN (spec §4.3).
package chatserver

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"lanchat/internal/netutil"
	"lanchat/internal/protocol"
)

// Server is a running (or stopped) chat server instance. Its identity
// (startTime, uid) is fixed at construction and stable for its lifetime
// (spec §3).
type Server struct {
	startTime time.Time
	uid       uint64
	port      int

	sayRateLimit int // max SAY frames/sec per client; 0 = unlimited

	listener net.Listener
	udpConn  *net.UDPConn

	broadcastAddr *net.UDPAddr

	clients *clientTable
	queue   *dispatchQueue

	stopping atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Config controls server construction.
type Config struct {
	Port         int // 0 selects protocol.Port
	SayRateLimit int // max SAY frames/sec per client; 0 = unlimited
}

// New constructs an unstarted server with a fresh identity. Call Start to
// bind its sockets and begin accepting clients.
func New(cfg Config) *Server {
	port := cfg.Port
	if port == 0 {
		port = protocol.Port
	}
	return &Server{
		startTime:    time.Now(),
		uid:          newUID(),
		port:         port,
		sayRateLimit: cfg.SayRateLimit,
		clients:      newClientTable(),
		queue:        newDispatchQueue(4096),
		stopCh:       make(chan struct{}),
	}
}

// UID returns the server's random 64-bit identity.
func (s *Server) UID() uint64 { return s.uid }

// Age returns how long the server has been running.
func (s *Server) Age() time.Duration { return time.Since(s.startTime) }

// Port returns the TCP/UDP port the server is bound to.
func (s *Server) Port() int { return s.port }

// ClientCount returns the number of currently connected clients.
func (s *Server) ClientCount() int { return s.clients.count() }

// Start binds the TCP listener and UDP socket and launches the accept,
// dispatch, and election workers. It returns once sockets are bound;
// workers run in the background. Start is not idempotent — call it once.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("chatserver: listen tcp: %w", err)
	}
	s.listener = ln

	udpConn, err := netutil.ListenBroadcastUDP(s.port)
	if err != nil {
		ln.Close()
		return fmt.Errorf("chatserver: listen udp: %w", err)
	}
	s.udpConn = udpConn
	s.broadcastAddr = netutil.BroadcastAddr(s.port)

	s.wg.Add(3)
	go s.acceptLoop()
	go s.runDispatchWorker()
	go s.runElectionWorker()

	log.Printf("[chatserver] listening on port %d, uid=%#x", s.port, s.uid)
	return nil
}

// acceptLoop accepts TCP clients until the listener is closed. Each
// accepted connection is assigned the next id, defaulted to the peer IP's
// textual form, recorded, and handed a per-client receive worker.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.stopping.Load() {
				return
			}
			// Per spec §7: a listener error is fatal to the whole server.
			log.Printf("[chatserver] accept error, stopping: %v", err)
			s.Stop()
			return
		}

		rec := s.clients.add(conn, remoteIPName(conn), s.sayRateLimit)
		s.wg.Add(1)
		go s.clientWorker(rec)
		s.queue.enqueue("SERVER", rec.Name()+" connected.")
	}
}

// remoteIPName returns the textual IP of conn's remote address, used as the
// default client name.
func remoteIPName(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}

// clientWorker reads frames from one client until it disconnects or sends
// something unreadable (spec §4.3).
func (s *Server) clientWorker(rec *clientRecord) {
	defer s.wg.Done()
	defer s.removeClient(rec)

	r := bufio.NewReader(rec.conn)
	for {
		op, err := r.ReadByte()
		if err != nil {
			return
		}
		switch protocol.Opcode(op) {
		case protocol.OpSay:
			text, err := protocol.ReadSay(r)
			if err != nil {
				return
			}
			if rec.limiter != nil && !rec.limiter.Allow() {
				continue // over the per-client SAY rate limit; drop silently
			}
			trimmed, err := protocol.ValidateMessage(text)
			if err != nil {
				continue // empty after trim: nothing to relay
			}
			s.queue.enqueue(rec.Name(), trimmed)

		case protocol.OpSetName:
			name, err := protocol.ReadSetName(r)
			if err != nil {
				return
			}
			trimmed, err := protocol.ValidateName(name)
			if err != nil {
				continue
			}
			old := rec.Name()
			if trimmed == old {
				continue
			}
			rec.SetName(trimmed)
			s.queue.enqueue("SERVER", old+" changed their name to "+trimmed)

		default:
			// Unknown opcode on this stream: no way to skip it safely
			// without a length prefix, so the connection is treated as
			// desynced and closed.
			return
		}
	}
}

// removeClient removes rec from the table at most once and announces the
// disconnect.
func (s *Server) removeClient(rec *clientRecord) {
	_, first := s.clients.remove(rec.id)
	rec.conn.Close()
	if first {
		s.queue.enqueue("SERVER", rec.Name()+" disconnected.")
	}
}

// Stop signals every worker to wind down and closes all sockets and client
// connections. Stop is idempotent.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		close(s.stopCh)
		if s.listener != nil {
			s.listener.Close()
		}
		if s.udpConn != nil {
			s.udpConn.Close()
		}
		s.clients.closeAll()
	})
}

// Dispose signals stop and blocks until every worker task has joined
// (spec §3 lifecycle: running -> signaled-to-stop -> drained -> disposed).
func (s *Server) Dispose() {
	s.Stop()
	s.wg.Wait()
}

// Endpoint returns the "host:port" string the loopback chat client should
// dial to reach this server.
func (s *Server) Endpoint() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(s.port))
}
