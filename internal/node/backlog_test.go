package node

import "testing"

func TestBacklogQueueFIFO(t *testing.T) {
	var q backlogQueue
	q.push("one")
	q.push("two")
	q.push("three")

	got := q.drain()
	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("got %d items, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("item %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBacklogQueueDrainEmpty(t *testing.T) {
	var q backlogQueue
	if got := q.drain(); got != nil {
		t.Fatalf("expected nil drain of empty queue, got %v", got)
	}
}

func TestBacklogQueueDrainResets(t *testing.T) {
	var q backlogQueue
	q.push("x")
	q.drain()
	if got := q.drain(); len(got) != 0 {
		t.Fatalf("expected empty second drain, got %v", got)
	}
}
