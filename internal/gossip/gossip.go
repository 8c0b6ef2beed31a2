// Package gossip implements the narrow Gossip external interface (spec
// §6: "broadcast(bytes), subscribe() -> stream<bytes>. Best-effort; the
// core tolerates duplicates and out-of-order delivery via ids and
// heights") plus a loopback reference implementation over
// github.com/gorilla/websocket, so the consensus core is runnable end
// to end without a real peer-discovery/transport stack. Grounded on the
// teacher's internal/network/simulation.go (SimulatedNetwork's
// peer-map, per-peer inbox, broadcast-to-all-peers shape), generalized
// from an in-process channel simulation to an actual loopback socket
// bus: every "peer" is a websocket connection to or from this node's
// own listener, so multiple node processes on one host (or in tests,
// multiple Bus values in one process) can gossip over a real transport
// without a real network.
package gossip

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/decred/slog"
	"github.com/gorilla/websocket"
)

// Gossip is the interface the block pipeline and mempool's peer-facing
// edges consume (spec §6). Implementations must tolerate duplicate and
// out-of-order delivery; callers distinguish redelivered payloads by id
// and height themselves, not the transport.
type Gossip interface {
	Broadcast(payload []byte) error
	Subscribe() <-chan []byte
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Bus is a loopback gossip bus: it listens for inbound peer connections
// on one local address and dials outbound connections to others, then
// relays every Broadcast payload to all connected peers in both
// directions, mirroring SimulatedNetwork's peers map and
// sendToPeers fan-out but over real websocket frames instead of Go
// channels wrapping a NetworkMessage struct.
type Bus struct {
	log slog.Logger

	mu      sync.RWMutex
	peers   map[string]*peerConn
	nextID  int
	inbound chan []byte

	listener net.Listener
	server   *http.Server
}

type peerConn struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *peerConn) send(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteMessage(websocket.BinaryMessage, payload)
}

// NewBus constructs a Bus that will serve inbound peer connections at
// listenAddr (e.g. "127.0.0.1:0" to let the OS choose a free port) and
// relay gossip between every peer it accepts or dials.
func NewBus(listenAddr string, logger slog.Logger) (*Bus, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("gossip: listen on %s: %w", listenAddr, err)
	}
	b := &Bus{
		log:      logger,
		peers:    make(map[string]*peerConn),
		inbound:  make(chan []byte, 256),
		listener: ln,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/gossip", b.handleInbound)
	b.server = &http.Server{Handler: mux}
	go b.server.Serve(ln)
	return b, nil
}

// Addr returns the address the Bus is listening on, for peers that want
// to Dial this node.
func (b *Bus) Addr() string {
	return b.listener.Addr().String()
}

func (b *Bus) handleInbound(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if b.log != nil {
			b.log.Warnf("inbound upgrade failed: %v", err)
		}
		return
	}
	b.adopt(conn)
}

// Dial connects this Bus to a peer listening at addr, adding it to the
// peer set both inbound and outbound Broadcast calls will reach.
func (b *Bus) Dial(ctx context.Context, addr string) error {
	url := fmt.Sprintf("ws://%s/gossip", addr)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("gossip: dial %s: %w", addr, err)
	}
	b.adopt(conn)
	return nil
}

func (b *Bus) adopt(conn *websocket.Conn) {
	b.mu.Lock()
	b.nextID++
	id := fmt.Sprintf("peer-%d", b.nextID)
	pc := &peerConn{id: id, conn: conn}
	b.peers[id] = pc
	b.mu.Unlock()

	if b.log != nil {
		b.log.Infof("peer %s connected", id)
	}
	go b.readLoop(pc)
}

func (b *Bus) readLoop(pc *peerConn) {
	defer func() {
		b.mu.Lock()
		delete(b.peers, pc.id)
		b.mu.Unlock()
		pc.conn.Close()
		if b.log != nil {
			b.log.Infof("peer %s disconnected", pc.id)
		}
	}()
	for {
		_, payload, err := pc.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case b.inbound <- payload:
		default:
			if b.log != nil {
				b.log.Warnf("inbound gossip channel full, dropping message from %s", pc.id)
			}
		}
	}
}

// Broadcast relays payload to every currently connected peer. A peer
// whose connection has gone stale is dropped silently; gossip is
// best-effort per spec §6.
func (b *Bus) Broadcast(payload []byte) error {
	b.mu.RLock()
	peers := make([]*peerConn, 0, len(b.peers))
	for _, p := range b.peers {
		peers = append(peers, p)
	}
	b.mu.RUnlock()

	for _, p := range peers {
		if err := p.send(payload); err != nil {
			if b.log != nil {
				b.log.Warnf("broadcast to %s failed, dropping peer: %v", p.id, err)
			}
			b.mu.Lock()
			delete(b.peers, p.id)
			b.mu.Unlock()
		}
	}
	return nil
}

// Subscribe returns the channel every inbound payload from any peer is
// delivered to. There is a single shared subscriber channel, matching
// the one-reader-per-node shape the block pipeline and mempool actually
// need; it is not a pub/sub fan-out to multiple local subscribers.
func (b *Bus) Subscribe() <-chan []byte {
	return b.inbound
}

// Close stops accepting new peers, closes every existing connection,
// and shuts down the listener.
func (b *Bus) Close() error {
	b.server.Close()
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, p := range b.peers {
		p.conn.Close()
		delete(b.peers, id)
	}
	return nil
}

var _ Gossip = (*Bus)(nil)
