package chatserver

import (
	"log"

	"github.com/dustin/go-humanize"
	"lanchat/internal/protocol"
)

// pendingDispatch is the (senderName, messageText) pair queued for fan-out
// (spec §3). The channel itself is the multi-producer, single-consumer FIFO;
// Go channels give us that guarantee natively instead of the hand-rolled
// queue+poll loop the spec describes.
type pendingDispatch struct {
	senderName string
	text       string
}

// dispatchQueue wraps a buffered channel sized generously enough that a
// burst of SAYs never blocks a per-client receive worker under normal
// operation; a full queue is a sign of sustained overload, at which point
// blocking the producer (nothing is dropped) is preferable to growing
// without bound.
type dispatchQueue struct {
	ch chan pendingDispatch
}

func newDispatchQueue(capacity int) *dispatchQueue {
	return &dispatchQueue{ch: make(chan pendingDispatch, capacity)}
}

// enqueue is non-blocking-safe to call even after Stop: the channel is
// never closed (only the workers reading it are told to stop), so a
// producer racing with shutdown blocks on a full buffer at worst, and is
// itself about to exit once its connection tears down.
func (q *dispatchQueue) enqueue(senderName, text string) {
	q.ch <- pendingDispatch{senderName: senderName, text: text}
}

// runDispatchWorker dequeues pending messages in FIFO order and fans each
// one out to every currently-registered client exactly once. A write
// failure to one client removes that client's record and closes its
// transport; the fan-out continues for the rest (spec §4.3).
func (s *Server) runDispatchWorker() {
	defer s.wg.Done()

	var relayed, bytesOut uint64
	for {
		var msg pendingDispatch
		select {
		case <-s.stopCh:
			return
		case msg = <-s.queue.ch:
		}

		frame, err := protocol.EncodeSayDispatch(msg.senderName, msg.text)
		if err != nil {
			log.Printf("[chatserver] dropping unencodable dispatch from %q: %v", msg.senderName, err)
			continue
		}

		for _, rec := range s.clients.snapshot() {
			if _, err := rec.conn.Write(frame); err != nil {
				log.Printf("[chatserver] dropping client %d: write failed: %v", rec.id, err)
				s.removeClient(rec)
				continue
			}
			bytesOut += uint64(len(frame))
		}
		relayed++
		if relayed%256 == 0 {
			log.Printf("[chatserver] relayed %s messages, %s total", humanize.Comma(int64(relayed)), humanize.Bytes(bytesOut))
		}
	}
}
