// Package chatclient implements the chat client side of the wire protocol:
// one TCP connection to a chat server, a dedicated receive loop, and a
// single dedicated writer goroutine that serializes SAY and SET_NAME frames
// onto the stream in call order (spec §4.2).
package chatclient

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"lanchat/internal/protocol"
)

type state int32

const (
	stateUnconnected state = iota
	stateConnected
	stateClosed
)

// writeQueueDepth bounds how many frames may be queued ahead of the writer
// goroutine before Say/SetName block; generous enough that a burst of sends
// never stalls the caller under normal operation.
const writeQueueDepth = 64

// Client maintains a single TCP connection to a chat server. It is the
// Unconnected -> Connected -> Closed state machine from spec §4.2; once
// Closed it is terminal and a fresh Client must be constructed to
// reconnect (the node does exactly that).
type Client struct {
	state atomic.Int32

	conn net.Conn // set once, in Connect; immutable afterward

	// writeCh is the single ordered queue SAY/SET_NAME frames pass through;
	// writeLoop is its sole consumer, so writes are both serialized and
	// delivered in call order (spec §4.2, §5, §8 "Backlog ordering").
	writeCh  chan []byte
	stopCh   chan struct{}
	stopOnce sync.Once

	closeMu sync.Mutex // serializes Close against Connect
	wg      sync.WaitGroup
	closed  atomic.Bool

	nameMu sync.RWMutex // guards name: getter, setter, and the SET_NAME serializer race
	name   string

	onMessage        func(name, msg string)
	onConnectionLost func()
}

// New returns an unconnected client. onMessage is invoked synchronously on
// the receive-loop goroutine for every SAY_DISPATCH frame; onConnectionLost
// is invoked at most once, only when the receive loop ends because of a
// transport error rather than an explicit Close.
func New(onMessage func(name, msg string), onConnectionLost func()) *Client {
	c := &Client{
		writeCh:          make(chan []byte, writeQueueDepth),
		stopCh:           make(chan struct{}),
		onMessage:        onMessage,
		onConnectionLost: onConnectionLost,
	}
	c.state.Store(int32(stateUnconnected))
	return c
}

// Name returns the currently configured display name, or "" if unset.
func (c *Client) Name() string {
	c.nameMu.RLock()
	defer c.nameMu.RUnlock()
	return c.name
}

// SetName validates and stores name, trimming surrounding whitespace. If
// the client is connected, a SET_NAME frame is enqueued for the writer.
func (c *Client) SetName(name string) error {
	trimmed, err := protocol.ValidateName(name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	c.nameMu.Lock()
	c.name = trimmed
	c.nameMu.Unlock()

	if state(c.state.Load()) == stateConnected {
		frame, err := protocol.EncodeSetName(trimmed)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		if err := c.enqueueWrite(frame); err != nil {
			log.Printf("[chatclient] SetName enqueue: %v", err)
		}
	}
	return nil
}

// Connect opens a TCP connection to endpoint, starts the receive and
// writer loops, and enqueues the current name (if any) as a SET_NAME frame.
func (c *Client) Connect(endpoint string) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if state(c.state.Load()) != stateUnconnected {
		if state(c.state.Load()) == stateClosed {
			return ErrClosed
		}
		return ErrAlreadyConnected
	}

	conn, err := net.Dial("tcp", endpoint)
	if err != nil {
		return fmt.Errorf("chatclient: dial %s: %w", endpoint, err)
	}

	c.conn = conn
	c.state.Store(int32(stateConnected))

	c.wg.Add(2)
	go c.receiveLoop(conn)
	go c.writeLoop(conn)

	if name := c.Name(); name != "" {
		frame, err := protocol.EncodeSetName(name)
		if err == nil {
			if err := c.enqueueWrite(frame); err != nil {
				log.Printf("[chatclient] initial SetName enqueue: %v", err)
			}
		}
	}
	return nil
}

// Say validates and trims msg, then enqueues it as a SAY frame for the
// writer. Returns ErrNotConnected if there is no open connection; the
// caller (the node) is responsible for backlogging in that case.
func (c *Client) Say(msg string) error {
	trimmed, err := protocol.ValidateMessage(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if state(c.state.Load()) != stateConnected {
		return ErrNotConnected
	}
	frame, err := protocol.EncodeSay(trimmed)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return c.enqueueWrite(frame)
}

// enqueueWrite hands frame to writeLoop, preserving call order. It returns
// ErrClosed instead of blocking forever if the client is tearing down.
func (c *Client) enqueueWrite(frame []byte) error {
	select {
	case c.writeCh <- frame:
		return nil
	case <-c.stopCh:
		return ErrClosed
	}
}

// writeLoop is the sole writer of the stream: it drains writeCh in order
// and writes each frame to conn, so concurrent Say/SetName callers can
// never interleave frame bytes on the wire.
func (c *Client) writeLoop(conn net.Conn) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case frame := <-c.writeCh:
			if _, err := conn.Write(frame); err != nil {
				log.Printf("[chatclient] write error: %v", err)
				c.closeConnOnError()
				return
			}
		}
	}
}

// stop closes stopCh exactly once, waking writeLoop and unblocking any
// enqueueWrite callers.
func (c *Client) stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

// closeConnOnError closes the transport after a write failure so the
// receive loop observes the close and raises ConnectionLost. It is a no-op
// if Close has already run.
func (c *Client) closeConnOnError() {
	if c.closed.Load() {
		return
	}
	c.stop()
	if c.conn != nil {
		c.conn.Close()
	}
}

// receiveLoop reads frames from conn until the socket closes or a read
// error occurs. It is the sole reader of the stream.
func (c *Client) receiveLoop(conn net.Conn) {
	defer c.wg.Done()

	r := bufio.NewReader(conn)
	for {
		op, err := r.ReadByte()
		if err != nil {
			c.handleReceiveLoopExit()
			return
		}
		switch protocol.Opcode(op) {
		case protocol.OpSayDispatch:
			name, msg, err := protocol.ReadSayDispatch(r)
			if err != nil {
				c.handleReceiveLoopExit()
				return
			}
			if c.onMessage != nil {
				c.onMessage(name, msg)
			}
		default:
			// Forward-compatibility: an opcode we don't recognize on this
			// stream. There is no way to know its payload length without a
			// shared length prefix, so we can't safely resync; just ignore
			// this byte and keep reading.
		}
	}
}

// handleReceiveLoopExit marks the client closed and raises ConnectionLost,
// unless the loop ended because Close() was already called explicitly. It
// also wakes writeLoop, since a dead read side means the transport is dead
// for writes too.
func (c *Client) handleReceiveLoopExit() {
	wasClosed := c.closed.Swap(true)
	c.state.Store(int32(stateClosed))
	c.stop()
	if !wasClosed && c.onConnectionLost != nil {
		c.onConnectionLost()
	}
}

// Close idempotently tears the client down: it marks the client closed,
// closes the transport (unblocking the receive loop) and the stop signal
// (unblocking the writer loop and any pending enqueueWrite calls), and
// waits for both worker goroutines to finish before returning. No in-flight
// reader/writer can still be touching the transport once Close returns.
func (c *Client) Close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed.Swap(true) {
		c.wg.Wait()
		return
	}
	c.state.Store(int32(stateClosed))
	c.stop()
	if c.conn != nil {
		c.conn.Close()
	}
	c.wg.Wait()
}

// Connected reports whether the client currently holds an open connection.
func (c *Client) Connected() bool {
	return state(c.state.Load()) == stateConnected
}
