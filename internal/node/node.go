// Package node implements the session manager: it joins or forms a chat
// session (discovery, election fallback to self-hosting, reconnection) and
// exposes the small public API the GUI/CLI front end consumes (spec §4.4).
package node

import (
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"lanchat/internal/chatclient"
	"lanchat/internal/chatserver"
	"lanchat/internal/protocol"
)

// Config controls node construction.
type Config struct {
	Port         int // 0 selects protocol.Port
	SayRateLimit int // passed through to any server this node self-hosts
}

// Node is the session manager. It owns at most one client and at most one
// server at a time (spec §3).
type Node struct {
	port         int
	sayRateLimit int

	// clientLock guards the client, server, lostCh and onServerChanged
	// fields. It is held only while those fields are read or swapped:
	// Connect, Close and the backlog drain run outside it (all on the run
	// goroutine), and Say takes it only to read the current client, so Say
	// never waits on a connect or a drain.
	clientLock sync.Mutex
	client     *chatclient.Client
	server     *chatserver.Server
	lostCh     chan struct{}

	nameMu sync.RWMutex
	name   string

	backlog backlogQueue

	onMessageSaid   func(name, msg string)
	onServerChanged func(*chatserver.Server)

	started atomic.Bool
}

// New returns a node that has not yet started session acquisition.
// onMessageSaid is invoked for every server-relayed chat message and every
// node-local status notice ("CLIENT"/"SERVER" senders, spec §6).
func New(cfg Config, onMessageSaid func(name, msg string)) *Node {
	port := cfg.Port
	if port == 0 {
		port = protocol.Port
	}
	return &Node{
		port:          port,
		sayRateLimit:  cfg.SayRateLimit,
		onMessageSaid: onMessageSaid,
	}
}

func (n *Node) emit(name, msg string) {
	if n.onMessageSaid != nil {
		n.onMessageSaid(name, msg)
	}
}

// OnServerChanged registers a callback invoked whenever this node starts or
// stops self-hosting a server: with the new *chatserver.Server when it
// begins hosting, and with nil when that server is disposed. Only one
// callback is kept; a later call replaces an earlier one. It is intended
// for optional introspection (e.g. internal/httpstatus) to follow the
// node's current server without polling.
func (n *Node) OnServerChanged(fn func(*chatserver.Server)) {
	n.clientLock.Lock()
	n.onServerChanged = fn
	n.clientLock.Unlock()
}

// Server returns the server this node most recently self-hosted, or nil if
// it has not self-hosted yet. The reference is kept after that server stops
// (for example after it yields) and while the node is connected to another
// server; it is replaced only when the node self-hosts again.
func (n *Node) Server() *chatserver.Server {
	n.clientLock.Lock()
	defer n.clientLock.Unlock()
	return n.server
}

func (n *Node) notifyServerChanged(srv *chatserver.Server) {
	n.clientLock.Lock()
	fn := n.onServerChanged
	n.clientLock.Unlock()
	if fn != nil {
		fn(srv)
	}
}

// Name returns the node's currently configured display name, or "" if unset.
func (n *Node) Name() string {
	n.nameMu.RLock()
	defer n.nameMu.RUnlock()
	return n.name
}

// SetName validates and stores name, forwarding it to the live client (if
// any) so a SET_NAME frame is sent.
func (n *Node) SetName(name string) error {
	trimmed, err := protocol.ValidateName(name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	n.nameMu.Lock()
	n.name = trimmed
	n.nameMu.Unlock()

	n.clientLock.Lock()
	client := n.client
	n.clientLock.Unlock()
	if client != nil {
		if err := client.SetName(trimmed); err != nil {
			log.Printf("[node] SetName forward: %v", err)
		}
	}
	return nil
}

// Say validates msg and sends it if connected, or appends it to the
// backlog for later delivery if not (spec §4.4). Validation happens before
// either path so an invalid message never reaches the backlog or a socket.
func (n *Node) Say(msg string) error {
	trimmed, err := protocol.ValidateMessage(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	n.clientLock.Lock()
	client := n.client
	n.clientLock.Unlock()

	if client != nil && client.Connected() {
		if err := client.Say(trimmed); err == nil {
			return nil
		}
		// Lost the race with a connection drop; fall through to backlog.
	}
	n.backlog.push(trimmed)
	return nil
}

// Start begins session acquisition in the background. It is idempotent —
// only the first call has any effect.
func (n *Node) Start() {
	if n.started.Swap(true) {
		return
	}
	go n.run()
}

// run is the session-acquisition/reconnection loop (spec §4.4): it never
// exits for the lifetime of the node.
func (n *Node) run() {
	for {
		n.emit("CLIENT", "Searching for session…")
		if !n.acquireSession() {
			continue
		}

		n.clientLock.Lock()
		lost := n.lostCh
		n.clientLock.Unlock()

		<-lost
		n.emit("CLIENT", "Connection Lost.")
	}
}

// acquireSession runs one full discover -> sort -> attempt -> fallback
// pass and, on success, drains the backlog. It returns false if even
// self-hosting failed to produce a usable connection (extremely unlikely;
// the caller simply retries).
func (n *Node) acquireSession() bool {
	candidates := n.discover()

	client, lostCh := n.tryCandidates(candidates)
	if client == nil {
		n.emit("CLIENT", "Starting new session.")
		client, lostCh = n.selfHost()
	}
	if client == nil {
		return false
	}

	n.clientLock.Lock()
	n.client = client
	n.lostCh = lostCh
	n.clientLock.Unlock()

	n.emit("CLIENT", "Connected.")
	n.drainBacklog(client)
	return true
}

// tryCandidates attempts each candidate in order, closing any prior client
// before each attempt, and returns the first one that connects.
func (n *Node) tryCandidates(candidates []candidateServer) (*chatclient.Client, chan struct{}) {
	for _, cand := range candidates {
		n.closeCurrentClient()

		lostCh := make(chan struct{}, 1)
		client := chatclient.New(n.onClientMessage, n.onConnectionLost(lostCh))

		endpoint := net.JoinHostPort(cand.ip.String(), strconv.Itoa(n.port))
		if err := client.Connect(endpoint); err == nil {
			return client, lostCh
		}
		client.Close()
	}
	return nil, nil
}

// selfHost disposes of any previously owned server (clearing the reference
// before constructing its replacement — spec §9's fix for the source's
// stale-reference bug), starts a fresh one, and connects a client to it
// over loopback.
func (n *Node) selfHost() (*chatclient.Client, chan struct{}) {
	n.clientLock.Lock()
	prior := n.server
	n.server = nil
	n.clientLock.Unlock()
	if prior != nil {
		prior.Dispose()
		n.notifyServerChanged(nil)
	}

	srv := chatserver.New(chatserver.Config{Port: n.port, SayRateLimit: n.sayRateLimit})
	if err := srv.Start(); err != nil {
		log.Printf("[node] self-host failed: %v", err)
		return nil, nil
	}

	n.clientLock.Lock()
	n.server = srv
	n.clientLock.Unlock()
	n.notifyServerChanged(srv)

	n.closeCurrentClient()

	lostCh := make(chan struct{}, 1)
	client := chatclient.New(n.onClientMessage, n.onConnectionLost(lostCh))
	if err := client.Connect(srv.Endpoint()); err != nil {
		log.Printf("[node] connect to self-hosted server failed: %v", err)
		return nil, nil
	}
	return client, lostCh
}

func (n *Node) closeCurrentClient() {
	n.clientLock.Lock()
	client := n.client
	n.client = nil
	n.clientLock.Unlock()
	if client != nil {
		client.Close()
	}
}

// onClientMessage forwards a received SAY_DISPATCH straight through as a
// MessageSaid event.
func (n *Node) onClientMessage(name, msg string) {
	n.emit(name, msg)
}

// onConnectionLost returns a callback that signals lostCh exactly once.
func (n *Node) onConnectionLost(lostCh chan struct{}) func() {
	return func() {
		select {
		case lostCh <- struct{}{}:
		default:
		}
	}
}

// drainBacklog flushes every backlogged message through client, in FIFO
// order, swallowing per-message send errors the way spec §4.4 directs.
func (n *Node) drainBacklog(client *chatclient.Client) {
	msgs := n.backlog.drain()
	if len(msgs) == 0 {
		return
	}
	log.Printf("[node] draining %s backlogged messages", humanize.Comma(int64(len(msgs))))
	for _, msg := range msgs {
		if err := client.Say(msg); err != nil {
			log.Printf("[node] backlog send error (swallowed): %v", err)
		}
	}
}
