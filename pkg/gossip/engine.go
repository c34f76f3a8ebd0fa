package gossip

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/edgemesh/axcore/pkg/blockstore"
	"github.com/edgemesh/axcore/pkg/eventstore"
	"github.com/edgemesh/axcore/pkg/nodeid"
	"github.com/edgemesh/axcore/pkg/offsetmap"
	"github.com/edgemesh/axcore/pkg/replication"
)

// Config tunes the gossip engine. Defaults follow spec §4.5; FetchTimeout,
// ValidateTimeout/MaxDepth and PresenceTimeout are the supplemented
// behaviors restored from the original swarm layer (spec §3.7).
type Config struct {
	RootMapInterval  time.Duration
	MaxBlockBytes    int
	WriteTimeout     time.Duration
	FetchTimeout     time.Duration
	ValidateTimeout  time.Duration
	ValidateMaxDepth int
	PresenceTimeout  time.Duration
}

// DefaultConfig returns the spec's defaults (1 MiB fast-path block
// ceiling, 30s root-map cadence).
func DefaultConfig() Config {
	return Config{
		RootMapInterval:  30 * time.Second,
		MaxBlockBytes:    1 << 20,
		WriteTimeout:     5 * time.Second,
		FetchTimeout:     10 * time.Second,
		ValidateTimeout:  30 * time.Second,
		ValidateMaxDepth: 64,
		PresenceTimeout:  2 * time.Minute,
	}
}

// Engine is the node's gossip participant: it publishes local root
// updates, ingests remote ones via the validate state machine, and serves
// bitswap-style block requests from peers (spec §4.5).
type Engine struct {
	node nodeid.NodeID
	cfg  Config

	store *eventstore.Store
	bs    *blockstore.Store
	walk  ChildrenFunc
	repl  *replication.State

	hub *peerHub

	cancel context.CancelFunc
	done   chan struct{}

	outMu    sync.Mutex
	outQueue map[nodeid.StreamID]rootUpdateMsg
	outWake  chan struct{}

	waitMu  sync.Mutex
	waiters map[string]chan []byte

	ingestMu sync.Mutex
	ingest   map[nodeid.StreamID]*streamIngest

	presenceMu    sync.Mutex
	lastAnnounced map[string]time.Time
}

// ChildrenFunc decodes a block and returns the CIDs of the child blocks it
// references, so the engine can walk a tree without depending on
// pkg/banyan's block layout directly (satisfied by banyan.Children).
type ChildrenFunc func(data []byte) ([]blockstore.CID, error)

// New constructs a gossip Engine. walk is the banyan tree's block-to-
// children decoder (banyan.Children), kept as an injected function so
// this package has no import-time dependency on pkg/banyan's wire format.
func New(node nodeid.NodeID, store *eventstore.Store, bs *blockstore.Store, walk ChildrenFunc, repl *replication.State, cfg Config) *Engine {
	return &Engine{
		node:          node,
		cfg:           cfg,
		store:         store,
		bs:            bs,
		walk:          walk,
		repl:          repl,
		hub:           newPeerHub(),
		outQueue:      make(map[nodeid.StreamID]rootUpdateMsg),
		outWake:       make(chan struct{}, 1),
		waiters:       make(map[string]chan []byte),
		ingest:        make(map[nodeid.StreamID]*streamIngest),
		lastAnnounced: make(map[string]time.Time),
	}
}

// Start launches the periodic root-map broadcaster and the coalescing
// outgoing root-update sender (modeled on the teacher's cleanup.Service
// run loop: context cancellation plus a done channel, ticker-driven work).
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.run(ctx)
}

// Stop signals the engine's background loop to exit and waits for it.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.cfg.RootMapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.broadcastRootMap(ctx)
		case <-e.outWake:
			e.drainOutgoing(ctx)
		}
	}
}

// HandleConnection registers a peer and runs its read loop until the
// connection closes, mirroring the teacher's
// ConnectionManager.HandleConnection: blocks the caller, cleans up via
// defer. Called by the HTTP layer after a WebSocket upgrade.
func (e *Engine) HandleConnection(ctx context.Context, id nodeid.NodeID, conn *websocket.Conn) {
	p := &peer{id: id, conn: conn, writeTimeout: e.cfg.WriteTimeout}
	e.hub.add(p)
	e.repl.UpdatePeer(id, func(info *replication.PeerInfo) {
		info.Direction = "inbound"
		info.LastSeen = time.Now()
	})
	defer func() {
		e.hub.remove(id)
		p.close()
	}()

	e.sendRootMapTo(ctx, p)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		env, err := decodeEnvelope(data)
		if err != nil {
			slog.Warn("gossip: malformed frame", "peer", id.String(), "error", err)
			continue
		}
		e.repl.UpdatePeer(id, func(info *replication.PeerInfo) { info.LastSeen = time.Now() })
		e.dispatch(ctx, p, env)
	}
}

// Dial opens an outbound gossip connection to a peer address (spec §6
// "Peer transport framing used for gossip peer connections") and runs its
// read loop, like HandleConnection does for inbound connections.
func (e *Engine) Dial(ctx context.Context, id nodeid.NodeID, url string) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return err
	}
	e.repl.UpdatePeer(id, func(info *replication.PeerInfo) {
		info.Direction = "outbound"
		info.Addresses = []string{url}
	})
	go e.HandleConnection(ctx, id, conn)
	return nil
}

func (e *Engine) dispatch(ctx context.Context, from *peer, env envelope) {
	switch env.Kind {
	case kindRootUpdate:
		if env.RootUpdate != nil {
			e.handleRootUpdate(ctx, from, *env.RootUpdate)
		}
	case kindRootMap:
		if env.RootMap != nil {
			e.handleRootMap(ctx, from, *env.RootMap)
		}
	case kindHave:
		if env.Have != nil {
			e.handleHave(ctx, from, *env.Have)
		}
	case kindWant:
		if env.Want != nil {
			e.handleWant(ctx, from, *env.Want)
		}
	case kindBlock:
		if env.Block != nil {
			e.handleBlock(*env.Block)
		}
	}
}

// PublishRoot enqueues a local stream's fresh root for the fast-path
// broadcast (spec §4.5 "On each new root of a local stream, publish..."),
// attaching as many new blocks as fit under MaxBlockBytes. Repeated calls
// for the same stream before the next drain coalesce to the latest one
// (spec §5 backpressure: "only the latest is transmitted").
func (e *Engine) PublishRoot(stream nodeid.StreamID, root blockstore.CID, offset uint64, lamport uint64, blocks [][]byte) {
	capped := make([][]byte, 0, len(blocks))
	total := 0
	for _, b := range blocks {
		if total+len(b) > e.cfg.MaxBlockBytes {
			break
		}
		capped = append(capped, b)
		total += len(b)
	}

	msg := rootUpdateMsg{
		Stream:  stream.String(),
		Root:    root.String(),
		Lamport: lamport,
		Offset:  int64(offset),
		TimeUs:  time.Now().UnixMicro(),
		Blocks:  capped,
	}

	e.outMu.Lock()
	e.outQueue[stream] = msg
	e.outMu.Unlock()

	select {
	case e.outWake <- struct{}{}:
	default:
	}
}

func (e *Engine) drainOutgoing(ctx context.Context) {
	e.outMu.Lock()
	queue := e.outQueue
	e.outQueue = make(map[nodeid.StreamID]rootUpdateMsg)
	e.outMu.Unlock()

	for _, msg := range queue {
		m := msg
		e.broadcast(ctx, envelope{Kind: kindRootUpdate, RootUpdate: &m})
	}
}

func (e *Engine) broadcastRootMap(ctx context.Context) {
	e.broadcast(ctx, envelope{Kind: kindRootMap, RootMap: e.buildRootMap()})
}

func (e *Engine) sendRootMapTo(ctx context.Context, p *peer) {
	if err := p.send(ctx, envelope{Kind: kindRootMap, RootMap: e.buildRootMap()}); err != nil {
		slog.Warn("gossip: initial root map failed", "peer", p.id.String(), "error", err)
	}
}

func (e *Engine) buildRootMap() *rootMapMsg {
	roots, lamport := e.store.RootsSnapshot()
	present, _ := e.store.Offsets()

	entries := make(map[string]string, len(roots))
	offsets := make(map[string]offLamp, len(roots))
	for stream, cid := range roots {
		label := stream.String()
		entries[label] = cid.String()
		offsets[label] = offLamp{Offset: present.Get(label), Lamport: lamport}
	}
	return &rootMapMsg{Entries: entries, Offsets: offsets, Lamport: lamport, TimeUs: time.Now().UnixMicro()}
}

func (e *Engine) broadcast(ctx context.Context, env envelope) {
	for _, p := range e.hub.snapshot() {
		if err := p.send(ctx, env); err != nil {
			slog.Warn("gossip: broadcast failed", "peer", p.id.String(), "error", err)
		}
	}
}

func (e *Engine) handleHave(ctx context.Context, from *peer, msg haveMsg) {
	have := make([]string, 0, len(msg.CIDs))
	for _, s := range msg.CIDs {
		cid, err := blockstore.ParseCID(s)
		if err != nil {
			continue
		}
		if ok, _ := e.bs.Has(ctx, cid); ok {
			have = append(have, s)
		}
	}
	if err := from.send(ctx, envelope{Kind: kindHave, Have: &haveMsg{CIDs: have}}); err != nil {
		slog.Warn("gossip: have response failed", "peer", from.id.String(), "error", err)
	}
}

func (e *Engine) handleWant(ctx context.Context, from *peer, msg wantMsg) {
	for _, s := range msg.CIDs {
		cid, err := blockstore.ParseCID(s)
		if err != nil {
			continue
		}
		data, err := e.bs.Get(ctx, cid)
		if err != nil {
			continue
		}
		if err := from.send(ctx, envelope{Kind: kindBlock, Block: &blockMsg{CID: s, Data: data}}); err != nil {
			slog.Warn("gossip: block send failed", "peer", from.id.String(), "error", err)
		}
	}
}

func (e *Engine) handleBlock(msg blockMsg) {
	e.waitMu.Lock()
	ch, ok := e.waiters[msg.CID]
	if ok {
		delete(e.waiters, msg.CID)
	}
	e.waitMu.Unlock()
	if ok {
		ch <- msg.Data
	}
}

// fetchBlock requests a single missing block from the peer that announced
// it, for the slow path's block-exchange (spec §4.5 "fetch missing
// ancestors via a block-exchange protocol").
func (e *Engine) fetchBlock(ctx context.Context, from *peer, cid blockstore.CID) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()

	key := cid.String()
	ch := make(chan []byte, 1)
	e.waitMu.Lock()
	e.waiters[key] = ch
	e.waitMu.Unlock()
	defer func() {
		e.waitMu.Lock()
		delete(e.waiters, key)
		e.waitMu.Unlock()
	}()

	if err := from.send(ctx, envelope{Kind: kindWant, Want: &wantMsg{CIDs: []string{key}}}); err != nil {
		return err
	}

	select {
	case data := <-ch:
		_, err := e.bs.Put(ctx, data)
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// advanceHighestSeen merges a single (stream, offset) observation into the
// shared highest-seen offset map (spec §4.5 ingest step 2) and records the
// wall-clock time it was announced, for the presence-timeout diagnostic.
func (e *Engine) advanceHighestSeen(stream nodeid.StreamID, offset int64, _ uint64) {
	label := stream.String()
	next := e.repl.HighestSeen().Union(offsetmap.New().Set(label, offset))
	e.repl.SetHighestSeen(next)

	e.presenceMu.Lock()
	e.lastAnnounced[label] = time.Now()
	e.presenceMu.Unlock()
}

// StalePresence reports streams whose highest-seen value has not been
// reannounced within PresenceTimeout — restored from the original swarm
// layer so a disconnected peer's last-known progress is surfaced as
// frozen rather than silently treated as still advancing (spec §3.7).
func (e *Engine) StalePresence(now time.Time) []string {
	e.presenceMu.Lock()
	defer e.presenceMu.Unlock()
	var stale []string
	for label, t := range e.lastAnnounced {
		if now.Sub(t) > e.cfg.PresenceTimeout {
			stale = append(stale, label)
		}
	}
	return stale
}
