package chatserver

import (
	"bufio"
	"net"
	"testing"
	"time"

	"lanchat/internal/protocol"
)

func getFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("getFreePort: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func startTestServer(t *testing.T) *Server {
	t.Helper()
	s := New(Config{Port: getFreePort(t)})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Dispose)
	return s
}

func dialClient(t *testing.T, s *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", s.Endpoint())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn, bufio.NewReader(conn)
}

// readNextSayDispatch reads exactly one SAY_DISPATCH frame.
func readNextSayDispatch(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	type frame struct {
		name, msg string
		err       error
	}
	ch := make(chan frame, 1)
	go func() {
		op, err := r.ReadByte()
		if err != nil {
			ch <- frame{err: err}
			return
		}
		if protocol.Opcode(op) != protocol.OpSayDispatch {
			ch <- frame{err: err}
			return
		}
		name, msg, err := protocol.ReadSayDispatch(r)
		ch <- frame{name: name, msg: msg, err: err}
	}()
	select {
	case f := <-ch:
		if f.err != nil {
			t.Fatalf("readNextSayDispatch: %v", f.err)
		}
		return f.name, f.msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for SAY_DISPATCH")
		return "", ""
	}
}

// readUntilMessage skips SERVER announcements until it sees a dispatch
// whose text equals want, or fails the test after too many frames.
func readUntilMessage(t *testing.T, r *bufio.Reader, want string) string {
	t.Helper()
	for i := 0; i < 10; i++ {
		name, msg := readNextSayDispatch(t, r)
		if msg == want {
			return name
		}
	}
	t.Fatalf("never saw message %q", want)
	return ""
}

func TestClientConnectTriggersServerAnnouncement(t *testing.T) {
	s := startTestServer(t)

	c1, r1 := dialClient(t, s)
	defer c1.Close()

	name, msg := readNextSayDispatch(t, r1)
	if name != "SERVER" {
		t.Fatalf("expected SERVER announcement, got name=%q msg=%q", name, msg)
	}
}

func TestSayFanOutToAllClients(t *testing.T) {
	s := startTestServer(t)

	c1, r1 := dialClient(t, s)
	defer c1.Close()
	c2, r2 := dialClient(t, s)
	defer c2.Close()

	frame, err := protocol.EncodeSay("hello there")
	if err != nil {
		t.Fatalf("EncodeSay: %v", err)
	}
	if _, err := c1.Write(frame); err != nil {
		t.Fatalf("write SAY: %v", err)
	}

	readUntilMessage(t, r1, "hello there")
	readUntilMessage(t, r2, "hello there")
}

func TestSetNameChangeAnnouncement(t *testing.T) {
	s := startTestServer(t)

	c1, r1 := dialClient(t, s)
	defer c1.Close()

	frame, err := protocol.EncodeSetName("alice")
	if err != nil {
		t.Fatalf("EncodeSetName: %v", err)
	}
	if _, err := c1.Write(frame); err != nil {
		t.Fatalf("write SET_NAME: %v", err)
	}
	if announcer := readUntilMessage(t, r1, "127.0.0.1 changed their name to alice"); announcer != "SERVER" {
		t.Fatalf("expected SERVER name-change announcement, got sender %q", announcer)
	}

	sayFrame, _ := protocol.EncodeSay("it's me")
	if _, err := c1.Write(sayFrame); err != nil {
		t.Fatalf("write SAY: %v", err)
	}
	gotName := readUntilMessage(t, r1, "it's me")
	if gotName != "alice" {
		t.Fatalf("expected sender alice after rename, got %q", gotName)
	}
}

func TestClientDisconnectRemovesRecord(t *testing.T) {
	s := startTestServer(t)

	c1, _ := dialClient(t, s)
	c2, r2 := dialClient(t, s)
	defer c2.Close()

	readNextSayDispatch(t, r2) // c2's own "connected" announcement

	c1.Close()

	name, _ := readNextSayDispatch(t, r2) // c1's "disconnected" announcement
	if name != "SERVER" {
		t.Fatalf("expected SERVER disconnect announcement, got %q", name)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.ClientCount() == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected 1 remaining client, got %d", s.ClientCount())
}

func TestShouldYieldOlderWins(t *testing.T) {
	cases := []struct {
		name              string
		thisAge, otherAge uint32
		thisUID, otherUID uint64
		want              bool
	}{
		{"clearly older peer wins", 1, 10, 1, 2, true},
		{"clearly younger peer loses", 10, 1, 1, 2, false},
		{"tie broken by higher uid", 5, 5, 1, 2, true},
		{"tie broken by lower uid loses", 5, 5, 2, 1, false},
		{"within fuzz band, higher uid wins", 5, 6, 1, 2, true},
		{"identical uid never yields (self-echo should be filtered upstream)", 5, 5, 7, 7, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := shouldYield(c.thisAge, c.otherAge, c.thisUID, c.otherUID)
			if got != c.want {
				t.Fatalf("shouldYield(%d,%d,%d,%d) = %v, want %v",
					c.thisAge, c.otherAge, c.thisUID, c.otherUID, got, c.want)
			}
		})
	}
}
