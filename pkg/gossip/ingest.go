package gossip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/edgemesh/axcore/pkg/blockstore"
	"github.com/edgemesh/axcore/pkg/nodeid"
)

// ErrValidateDepthExceeded is returned when a root's subtree is deeper
// than Config.ValidateMaxDepth, guarding against a malicious or corrupt
// peer handing out a cyclic or unbounded block graph (spec §4.5 ingest
// step 6: "failure (timeout, cycle, size cap)").
var ErrValidateDepthExceeded = errors.New("gossip: validate: max depth exceeded")

// streamIngest is the per-stream validation slot: at most one validation
// runs at a time for a stream, and a root arriving mid-validation replaces
// the pending target rather than queuing behind it (spec §4.5
// "Concurrency... latest-wins").
type streamIngest struct {
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	pending *rootUpdateMsg
}

// handleRootUpdate processes a received RootUpdate (fast or slow path):
// advances highest-seen, inserts any attached blocks, then schedules
// validation of the new root (spec §4.5 ingest steps 1-4).
func (e *Engine) handleRootUpdate(ctx context.Context, from *peer, msg rootUpdateMsg) {
	stream, err := nodeid.ParseStreamID(msg.Stream)
	if err != nil {
		slog.Warn("gossip: root update: bad stream id", "stream", msg.Stream, "error", err)
		return
	}
	root, err := blockstore.ParseCID(msg.Root)
	if err != nil {
		slog.Warn("gossip: root update: bad cid", "error", err)
		return
	}

	e.advanceHighestSeen(stream, msg.Offset, msg.Lamport)

	for _, b := range msg.Blocks {
		if _, err := e.bs.Put(ctx, b); err != nil {
			slog.Warn("gossip: root update: store block failed", "stream", msg.Stream, "error", err)
			return
		}
	}

	e.scheduleValidate(stream, from, root, msg.Offset, msg.Lamport)
}

// handleRootMap processes a periodic RootMap: it is the convergence path
// for streams whose fast-path update was missed (spec §4.5 "Periodic root
// map... the convergence mechanism when a node has missed updates").
func (e *Engine) handleRootMap(ctx context.Context, from *peer, msg rootMapMsg) {
	known, _ := e.store.RootsSnapshot()
	for label, rootStr := range msg.Entries {
		stream, err := nodeid.ParseStreamID(label)
		if err != nil {
			continue
		}
		root, err := blockstore.ParseCID(rootStr)
		if err != nil {
			continue
		}
		ol := msg.Offsets[label]
		e.advanceHighestSeen(stream, ol.Offset, ol.Lamport)

		if existing, ok := known[stream]; ok && existing == root {
			continue
		}
		e.scheduleValidate(stream, from, root, ol.Offset, ol.Lamport)
	}
	_ = ctx
}

// scheduleValidate is the per-stream singleflight-with-latest-wins
// dispatcher (spec §4.5 "Concurrency"): if a validation for this stream is
// already running, its target is replaced and its context cancelled;
// otherwise a fresh validation goroutine is started.
func (e *Engine) scheduleValidate(stream nodeid.StreamID, from *peer, root blockstore.CID, offset int64, lamport uint64) {
	e.ingestMu.Lock()
	si, ok := e.ingest[stream]
	if !ok {
		si = &streamIngest{}
		e.ingest[stream] = si
	}
	e.ingestMu.Unlock()

	target := rootUpdateMsg{Stream: stream.String(), Root: root.String(), Offset: offset, Lamport: lamport}

	si.mu.Lock()
	si.pending = &target
	if si.running {
		cancel := si.cancel
		si.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return
	}
	si.running = true
	si.mu.Unlock()

	go e.runValidationLoop(stream, si, from)
}

// runValidationLoop drains si.pending until empty, validating each target
// in turn (spec §4.5 ingest steps 4-6). Cancellation from a superseding
// root leaves highest-seen advanced but present unchanged, per step 6/
// "Cancellation".
func (e *Engine) runValidationLoop(stream nodeid.StreamID, si *streamIngest, from *peer) {
	for {
		si.mu.Lock()
		target := si.pending
		si.pending = nil
		if target == nil {
			si.running = false
			si.cancel = nil
			si.mu.Unlock()
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ValidateTimeout)
		si.cancel = cancel
		si.mu.Unlock()

		err := e.validateAndApply(ctx, from, stream, *target)
		cancel()
		if err != nil {
			slog.Warn("gossip: validate failed", "stream", stream.String(), "error", err)
		}
	}
}

func (e *Engine) validateAndApply(ctx context.Context, from *peer, stream nodeid.StreamID, target rootUpdateMsg) error {
	root, err := blockstore.ParseCID(target.Root)
	if err != nil {
		return err
	}
	if err := e.walkValidate(ctx, from, root, 0); err != nil {
		return fmt.Errorf("validate %s: %w", stream, err)
	}
	return e.store.ApplyReplicatedRoot(context.Background(), stream, root, uint64(target.Offset), target.Lamport)
}

// walkValidate descends the block graph from cid, fetching any missing
// block from from via the bitswap-style exchange (spec §4.5 "walk the tree
// from root downward, fetching any missing blocks via block exchange, up
// to a configurable depth or timeout").
func (e *Engine) walkValidate(ctx context.Context, from *peer, cid blockstore.CID, depth int) error {
	if depth > e.cfg.ValidateMaxDepth {
		return ErrValidateDepthExceeded
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := e.bs.Get(ctx, cid)
	if err != nil {
		if !errors.Is(err, blockstore.ErrNotFound) {
			return err
		}
		if err := e.fetchBlock(ctx, from, cid); err != nil {
			return fmt.Errorf("fetch %s: %w", cid, err)
		}
		data, err = e.bs.Get(ctx, cid)
		if err != nil {
			return err
		}
	}

	children, err := e.walk(data)
	if err != nil {
		return fmt.Errorf("decode %s: %w", cid, err)
	}
	for _, child := range children {
		if err := e.walkValidate(ctx, from, child, depth+1); err != nil {
			return err
		}
	}
	return nil
}
