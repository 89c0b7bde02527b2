package chatserver

import (
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// clientRecord is the server-side connected-client record from spec §3:
// (id, transport, currentName). currentName defaults to the remote IP's
// textual form and may be replaced by SET_NAME.
type clientRecord struct {
	id   uint64
	conn net.Conn

	nameMu sync.RWMutex
	name   string

	// limiter throttles SAY frames per client; promotes golang.org/x/time/rate
	// (already pulled in transitively by the pack) to a direct dependency for
	// the same operational-limits concern as the teacher's connection/control
	// rate limiting.
	limiter *rate.Limiter

	removed atomic.Bool // set exactly once by removeClient
}

func (c *clientRecord) Name() string {
	c.nameMu.RLock()
	defer c.nameMu.RUnlock()
	return c.name
}

func (c *clientRecord) SetName(name string) {
	c.nameMu.Lock()
	c.name = name
	c.nameMu.Unlock()
}

// clientTable is the server's concurrent client-record map, keyed by id.
// Removal is atomic and at-most-once (spec §3 invariant).
type clientTable struct {
	mu      sync.RWMutex
	clients map[uint64]*clientRecord
	nextID  atomic.Uint64
}

func newClientTable() *clientTable {
	return &clientTable{clients: make(map[uint64]*clientRecord)}
}

// add assigns the next id, stores the record, and returns it.
func (t *clientTable) add(conn net.Conn, name string, sayRateLimit int) *clientRecord {
	id := t.nextID.Add(1) - 1

	var limiter *rate.Limiter
	if sayRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(sayRateLimit), sayRateLimit)
	}

	rec := &clientRecord{id: id, conn: conn, name: name, limiter: limiter}
	t.mu.Lock()
	t.clients[id] = rec
	t.mu.Unlock()
	return rec
}

// remove deletes id from the table and returns true the first time it is
// called for that id (at-most-once removal).
func (t *clientTable) remove(id uint64) (*clientRecord, bool) {
	t.mu.Lock()
	rec, ok := t.clients[id]
	if ok {
		delete(t.clients, id)
	}
	t.mu.Unlock()
	if !ok {
		return nil, false
	}
	return rec, !rec.removed.Swap(true)
}

// snapshot returns every currently-registered client record.
func (t *clientTable) snapshot() []*clientRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*clientRecord, 0, len(t.clients))
	for _, rec := range t.clients {
		out = append(out, rec)
	}
	return out
}

func (t *clientTable) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}

func (t *clientTable) closeAll() {
	for _, rec := range t.snapshot() {
		rec.conn.Close()
	}
}
