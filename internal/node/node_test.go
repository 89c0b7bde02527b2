package node

import (
	"net"
	"testing"
	"time"

	"lanchat/internal/chatserver"
)

// freeNodePort returns a currently-unused TCP port by briefly binding to
// port 0 and releasing it, mirroring the teacher's ephemeral-port test
// helper pattern.
func freeNodePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("freeNodePort: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func collectMessages(t *testing.T) (func(name, msg string), chan string) {
	t.Helper()
	ch := make(chan string, 64)
	return func(name, msg string) {
		select {
		case ch <- name + ": " + msg:
		default:
		}
	}, ch
}

func waitForMessage(t *testing.T, ch chan string, want string, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case got := <-ch:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for message %q", want)
		}
	}
}

// TestNodeSelfHostsWhenAlone verifies that with no other servers on the
// (test) network, a node falls back to hosting its own server and can talk
// to itself over it.
func TestNodeSelfHostsWhenAlone(t *testing.T) {
	onMessage, ch := collectMessages(t)
	n := New(Config{Port: freeNodePort(t)}, onMessage)
	n.Start()

	waitForMessage(t, ch, "CLIENT: Searching for session…", 3*time.Second)
	waitForMessage(t, ch, "CLIENT: Starting new session.", 3*time.Second)
	waitForMessage(t, ch, "CLIENT: Connected.", 3*time.Second)

	if srv := n.Server(); srv == nil {
		t.Fatal("expected node to be self-hosting a server")
	}

	if err := n.Say("hello there"); err != nil {
		t.Fatalf("Say: %v", err)
	}
	waitForMessage(t, ch, "127.0.0.1: hello there", 3*time.Second)
}

// TestNodeBacklogsWhileOffline verifies a message sent before the node has
// ever connected is queued, then delivered once self-hosting succeeds.
func TestNodeBacklogsWhileOffline(t *testing.T) {
	onMessage, ch := collectMessages(t)
	n := New(Config{Port: freeNodePort(t)}, onMessage)

	if err := n.Say("queued before start"); err != nil {
		t.Fatalf("Say: %v", err)
	}

	n.Start()
	waitForMessage(t, ch, "CLIENT: Connected.", 3*time.Second)
	waitForMessage(t, ch, "127.0.0.1: queued before start", 3*time.Second)
}

// TestNodeSayRejectsInvalidInput verifies validation happens synchronously
// and before anything reaches the backlog or a socket.
func TestNodeSayRejectsInvalidInput(t *testing.T) {
	onMessage, _ := collectMessages(t)
	n := New(Config{Port: freeNodePort(t)}, onMessage)

	if err := n.Say("   "); err == nil {
		t.Fatal("expected error for blank message")
	}
	if got := n.backlog.drain(); len(got) != 0 {
		t.Fatalf("expected nothing backlogged for invalid input, got %v", got)
	}
}

// TestNodeOnServerChangedNotifiesOnSelfHost verifies the introspection hook
// fires with the live server once self-hosting begins.
func TestNodeOnServerChangedNotifiesOnSelfHost(t *testing.T) {
	onMessage, ch := collectMessages(t)
	n := New(Config{Port: freeNodePort(t)}, onMessage)

	changed := make(chan bool, 4)
	n.OnServerChanged(func(srv *chatserver.Server) {
		changed <- srv != nil
	})

	n.Start()
	waitForMessage(t, ch, "CLIENT: Connected.", 3*time.Second)

	select {
	case got := <-changed:
		if !got {
			t.Fatal("expected non-nil server notification")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for OnServerChanged notification")
	}
}
