package gossip_test

import (
	"context"
	"testing"
	"time"

	"github.com/ledgerforge/consensuscore/internal/gossip"
	"github.com/ledgerforge/consensuscore/internal/logging"
)

var discardLogger = logging.NewDiscard().Logger(logging.SubsystemGossip)

func newTestBus(t *testing.T) *gossip.Bus {
	t.Helper()
	b, err := gossip.NewBus("127.0.0.1:0", discardLogger)
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBroadcastDeliversToDialedPeer(t *testing.T) {
	a := newTestBus(t)
	b := newTestBus(t)

	if err := a.Dial(context.Background(), b.Addr()); err != nil {
		t.Fatalf("dial: %v", err)
	}
	// Give the accept/upgrade handshake a moment to complete before the
	// broadcast races it.
	time.Sleep(50 * time.Millisecond)

	if err := a.Broadcast([]byte("hello")); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	select {
	case payload := <-b.Subscribe():
		if string(payload) != "hello" {
			t.Fatalf("expected payload %q, got %q", "hello", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for gossip delivery")
	}
}

func TestBroadcastIsBidirectional(t *testing.T) {
	a := newTestBus(t)
	b := newTestBus(t)
	if err := a.Dial(context.Background(), b.Addr()); err != nil {
		t.Fatalf("dial: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := b.Broadcast([]byte("from-b")); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	select {
	case payload := <-a.Subscribe():
		if string(payload) != "from-b" {
			t.Fatalf("expected payload %q, got %q", "from-b", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reverse-direction gossip delivery")
	}
}

func TestBroadcastWithNoPeersIsANoOp(t *testing.T) {
	a := newTestBus(t)
	if err := a.Broadcast([]byte("nobody-home")); err != nil {
		t.Fatalf("expected broadcasting with no peers to succeed silently, got %v", err)
	}
}
