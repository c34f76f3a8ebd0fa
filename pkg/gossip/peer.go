package gossip

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/edgemesh/axcore/pkg/nodeid"
)

// peer is one gossip mesh connection. Send framing mirrors the teacher's
// Connection/sendRaw split: a single writer mutex per peer, a bounded
// write timeout so one slow peer cannot stall the caller indefinitely.
type peer struct {
	id   nodeid.NodeID
	conn *websocket.Conn

	writeTimeout time.Duration
	sendMu       sync.Mutex
}

func (p *peer) send(ctx context.Context, env envelope) error {
	data, err := encodeEnvelope(env)
	if err != nil {
		return err
	}
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()
	if err := p.conn.Write(wctx, websocket.MessageBinary, data); err != nil {
		return fmt.Errorf("gossip: send to %s: %w", p.id, err)
	}
	return nil
}

func (p *peer) close() {
	_ = p.conn.Close(websocket.StatusNormalClosure, "")
}

// peerHub is the mesh's connection registry (spec §4.6 "per-peer
// diagnostics"), modeled directly on the teacher's ConnectionManager:
// a map guarded by its own mutex, snapshotted under the lock and released
// before any slow per-connection work.
type peerHub struct {
	mu    sync.RWMutex
	peers map[nodeid.NodeID]*peer
}

func newPeerHub() *peerHub {
	return &peerHub{peers: make(map[nodeid.NodeID]*peer)}
}

func (h *peerHub) add(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[p.id] = p
}

func (h *peerHub) remove(id nodeid.NodeID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.peers, id)
}

func (h *peerHub) get(id nodeid.NodeID) (*peer, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.peers[id]
	return p, ok
}

// snapshot copies the current peer set without holding the lock during
// any subsequent send (Broadcast's "copy pointers, release lock" idiom).
func (h *peerHub) snapshot() []*peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		out = append(out, p)
	}
	return out
}
