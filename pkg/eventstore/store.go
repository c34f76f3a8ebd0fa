// Package eventstore implements the node's local event store: assigning
// Lamport timestamps and offsets on publish, and serving bounded and live
// reads over the streams it owns or has replicated (spec §4.4).
package eventstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/edgemesh/axcore/pkg/banyan"
	"github.com/edgemesh/axcore/pkg/blockstore"
	"github.com/edgemesh/axcore/pkg/event"
	"github.com/edgemesh/axcore/pkg/nodeid"
	"github.com/edgemesh/axcore/pkg/offsetmap"
	"github.com/edgemesh/axcore/pkg/replication"
	"github.com/edgemesh/axcore/pkg/tags"
)

// ErrClosed is returned by operations submitted after Stop.
var ErrClosed = errors.New("eventstore: closed")

// PublishItem is one event to append, prior to Lamport/offset assignment.
type PublishItem struct {
	Tags    tags.Set
	Payload []byte
}

// Assigned is the (lamport, offset, stream) triple returned for a
// published event (spec §4.4 publish()).
type Assigned struct {
	Lamport   uint64
	Offset    uint64
	StreamNr  uint32
	Timestamp int64
}

// Store is the node's event store: one Banyan tree per stream, a single
// Lamport clock, and the current root for every stream it knows about
// (owned locally or replicated from a peer). All mutation is funneled
// through a single background goroutine (modeled on the teacher's
// pkg/queue.Worker run loop: a command channel plus a cancel/done pair),
// giving single-writer semantics over the tree and blockstore without a
// mutation-wide mutex.
type Store struct {
	tree *banyan.Tree
	bs   *blockstore.Store
	repl *replication.State
	node nodeid.NodeID

	cmdCh  chan func()
	cancel context.CancelFunc
	done   chan struct{}

	// Mutated only inside run(), on the single worker goroutine.
	roots        map[nodeid.StreamID]blockstore.CID
	maxOffset    map[nodeid.StreamID]int64
	localStreams map[nodeid.StreamID]bool
	lamport      uint64

	// snap is a read-only copy refreshed after every mutation, safe for
	// concurrent readers (BoundedForward/Backward/Subscribe) without
	// touching the worker goroutine.
	snapMu sync.RWMutex
	snap   snapshot

	wakeMu sync.Mutex
	wakeCh chan struct{}

	// onLocalRoot, if set, is called after every successful Publish with
	// the stream's fresh root (spec §4.5 "on each new root of a local
	// stream, publish a fast-path update"). Wired to the gossip engine's
	// PublishRoot by the node-assembly layer; left nil in tests and in
	// single-node use.
	onLocalRoot func(stream nodeid.StreamID, root blockstore.CID, offset uint64, lamport uint64)
}

// SetLocalRootHook installs the callback invoked after every successful
// local Publish. Call before Start.
func (s *Store) SetLocalRootHook(fn func(stream nodeid.StreamID, root blockstore.CID, offset uint64, lamport uint64)) {
	s.onLocalRoot = fn
}

type snapshot struct {
	roots        map[nodeid.StreamID]blockstore.CID
	localStreams map[nodeid.StreamID]bool
	lamport      uint64
}

// New constructs a Store. Call Start before Publish or any replicated-root
// ingestion; reads (Offsets, BoundedForward, BoundedBackward, Subscribe)
// work before Start since they only touch the snapshot.
func New(tree *banyan.Tree, bs *blockstore.Store, repl *replication.State, node nodeid.NodeID) *Store {
	s := &Store{
		tree:         tree,
		bs:           bs,
		repl:         repl,
		node:         node,
		cmdCh:        make(chan func()),
		roots:        make(map[nodeid.StreamID]blockstore.CID),
		maxOffset:    make(map[nodeid.StreamID]int64),
		localStreams: make(map[nodeid.StreamID]bool),
		wakeCh:       make(chan struct{}),
	}
	s.snap = snapshot{roots: map[nodeid.StreamID]blockstore.CID{}, localStreams: map[nodeid.StreamID]bool{}}
	return s
}

// Restore seeds the store's in-memory state from the blockstore's
// persistent pins on startup, so a restarted node resumes exactly where
// it left off (spec §5 durability). Persistent pins record only a CID per
// stream, so each root's max offset and Lamport timestamp are recovered
// from the tree itself (Tree.RootSummary) rather than from separately
// persisted counters. A stream is treated as local when it belongs to
// this node's own identity.
func (s *Store) Restore(ctx context.Context) error {
	pins, err := s.bs.PersistentPins(ctx)
	if err != nil {
		return fmt.Errorf("eventstore: restore: %w", err)
	}
	var lamport uint64
	for label, cid := range pins {
		stream, err := nodeid.ParseStreamID(label)
		if err != nil {
			continue // not a stream pin (e.g. blob retention root); ignore
		}
		s.roots[stream] = cid
		maxOffset, maxLamport, _, err := s.tree.RootSummary(ctx, cid)
		if err != nil {
			return fmt.Errorf("eventstore: restore: stream %s: %w", stream, err)
		}
		s.maxOffset[stream] = int64(maxOffset)
		if maxLamport > lamport {
			lamport = maxLamport
		}
		if stream.Node == s.node {
			s.localStreams[stream] = true
		}
	}
	s.lamport = lamport
	s.publishSnapshotLocked(ctx)
	return nil
}

// Start launches the worker goroutine.
func (s *Store) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop signals the worker to exit and waits for it to drain.
func (s *Store) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Store) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.cmdCh:
			cmd()
		}
	}
}

func (s *Store) submit(ctx context.Context, cmd func()) error {
	select {
	case s.cmdCh <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// Publish atomically assigns contiguous Lamports and offsets to items and
// appends them to the local stream identified by streamNr (spec §4.4
// publish()).
func (s *Store) Publish(ctx context.Context, appID string, streamNr uint32, items []PublishItem) ([]Assigned, error) {
	type result struct {
		out []Assigned
		err error
	}
	resCh := make(chan result, 1)
	if err := s.submit(ctx, func() {
		out, err := s.applyPublish(ctx, appID, streamNr, items)
		resCh <- result{out, err}
	}); err != nil {
		return nil, err
	}
	select {
	case r := <-resCh:
		return r.out, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) applyPublish(ctx context.Context, appID string, streamNr uint32, items []PublishItem) ([]Assigned, error) {
	stream := nodeid.StreamID{Node: s.node, Nr: streamNr}
	root := s.roots[stream]
	startOffset := uint64(s.maxOffset[stream] + 1)
	if _, known := s.maxOffset[stream]; !known {
		startOffset = 0
	}

	events := make([]event.Event, len(items))
	assigned := make([]Assigned, len(items))
	now := time.Now().UnixMicro()
	for i, it := range items {
		s.lamport++
		ev := event.Event{
			Stream:    stream,
			Offset:    startOffset + uint64(i),
			Lamport:   s.lamport,
			Timestamp: now,
			Tags:      it.Tags,
			AppID:     appID,
			Payload:   it.Payload,
		}
		if err := ev.Validate(); err != nil {
			return nil, fmt.Errorf("eventstore: publish: %w", err)
		}
		events[i] = ev
		assigned[i] = Assigned{Lamport: ev.Lamport, Offset: ev.Offset, StreamNr: streamNr, Timestamp: ev.Timestamp}
	}

	newRoot, err := s.tree.Extend(ctx, root, events)
	if err != nil {
		return nil, fmt.Errorf("eventstore: publish: extend: %w", err)
	}
	if err := s.bs.PersistentPin(ctx, stream.String(), newRoot); err != nil {
		return nil, fmt.Errorf("eventstore: publish: pin: %w", err)
	}

	s.roots[stream] = newRoot
	s.maxOffset[stream] = int64(startOffset + uint64(len(items)) - 1)
	s.localStreams[stream] = true
	s.publishSnapshotLocked(ctx)
	s.wake()
	if s.onLocalRoot != nil {
		last := assigned[len(assigned)-1]
		s.onLocalRoot(stream, newRoot, last.Offset, last.Lamport)
	}
	return assigned, nil
}

// ApplyReplicatedRoot installs a gossip-validated root for a (possibly
// remote) stream. Called by pkg/gossip once its ingest state machine has
// validated the subtree (spec §4.5 step 5: "mark the stream's replicated
// root, pin it persistently, drop the previous pin, and update present").
func (s *Store) ApplyReplicatedRoot(ctx context.Context, stream nodeid.StreamID, root blockstore.CID, maxOffset uint64, lamport uint64) error {
	return s.submit(ctx, func() {
		s.roots[stream] = root
		s.maxOffset[stream] = int64(maxOffset)
		if lamport > s.lamport {
			s.lamport = lamport
		}
		if err := s.bs.PersistentPin(ctx, stream.String(), root); err != nil {
			return
		}
		s.publishSnapshotLocked(ctx)
		s.wake()
	})
}

// ApplyRetainedRoot installs a locally repacked root for stream after a
// retention sweep has pruned it (spec §3 lifecycle bullet; SPEC_FULL.md
// §3.13). Unlike ApplyReplicatedRoot, maxOffset and lamport are left
// untouched: retention only changes which events are physically stored,
// never the stream's public offset range.
func (s *Store) ApplyRetainedRoot(ctx context.Context, stream nodeid.StreamID, root blockstore.CID) error {
	return s.submit(ctx, func() {
		s.roots[stream] = root
		if err := s.bs.PersistentPin(ctx, stream.String(), root); err != nil {
			return
		}
		s.publishSnapshotLocked(ctx)
	})
}

// LocalStreamRoots returns the current root of every stream this node owns
// (publishes to directly), for the retention sweep to walk and prune.
func (s *Store) LocalStreamRoots() map[nodeid.StreamID]blockstore.CID {
	snap := s.currentSnapshot()
	out := make(map[nodeid.StreamID]blockstore.CID, len(snap.localStreams))
	for stream := range snap.localStreams {
		if root, ok := snap.roots[stream]; ok {
			out[stream] = root
		}
	}
	return out
}

func (s *Store) publishSnapshotLocked(ctx context.Context) {
	present := offsetmap.New()
	roots := make(map[nodeid.StreamID]blockstore.CID, len(s.roots))
	locals := make(map[nodeid.StreamID]bool, len(s.localStreams))
	for stream, cid := range s.roots {
		roots[stream] = cid
		present = present.Set(stream.String(), s.maxOffset[stream])
	}
	for stream := range s.localStreams {
		locals[stream] = true
	}

	s.snapMu.Lock()
	s.snap = snapshot{roots: roots, localStreams: locals, lamport: s.lamport}
	s.snapMu.Unlock()

	if s.repl != nil {
		s.repl.SetPresent(present)
	}
}

func (s *Store) currentSnapshot() snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

func (s *Store) wake() {
	s.wakeMu.Lock()
	ch := s.wakeCh
	s.wakeCh = make(chan struct{})
	s.wakeMu.Unlock()
	close(ch)
}

func (s *Store) wakeChan() chan struct{} {
	s.wakeMu.Lock()
	defer s.wakeMu.Unlock()
	return s.wakeCh
}

// Offsets returns the present and to-replicate offset maps (spec §4.4
// offsets()).
func (s *Store) Offsets() (present, toReplicate offsetmap.OffsetMap) {
	return s.repl.Present(), s.repl.ToReplicate()
}

// RootsSnapshot returns a point-in-time copy of every known stream's
// current root and the node's current Lamport clock. Consumed by the
// gossip engine to build its periodic root-map broadcast (spec §4.5
// "Periodic root map").
func (s *Store) RootsSnapshot() (roots map[nodeid.StreamID]blockstore.CID, lamport uint64) {
	snap := s.currentSnapshot()
	out := make(map[nodeid.StreamID]blockstore.CID, len(snap.roots))
	for k, v := range snap.roots {
		out[k] = v
	}
	return out, snap.lamport
}
