// Package banyan implements the hash-linked, immutable, content-addressed
// event tree described in spec §4.3: append-only per-stream storage with
// branch summary indices that let a query skip whole subtrees without
// fetching them.
package banyan

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/edgemesh/axcore/pkg/blockstore"
	"github.com/edgemesh/axcore/pkg/event"
	"github.com/edgemesh/axcore/pkg/tags"
)

// Config bounds the shape of the tree: how many events a leaf holds and
// how many children a branch holds before it seals and a sibling carries
// upward (spec §4.3 "configurable fan-out and leaf size").
type Config struct {
	MaxLeafSize int
	MaxFanout   int
}

// DefaultConfig returns the node's default tree shape.
func DefaultConfig() Config {
	return Config{MaxLeafSize: 256, MaxFanout: 32}
}

// Tree operates on per-stream Banyan trees stored as CBOR blocks in a
// Store. A Tree value is stateless aside from its decode cache; the tree's
// actual content lives entirely in the blockstore, addressed by root CID.
type Tree struct {
	store *blockstore.Store
	cfg   Config
	cache *lru.Cache[blockstore.CID, blockNode]
}

// New constructs a Tree over store. cacheSize bounds the number of decoded
// blocks kept hot (spec §4.3: "an LRU decode cache keyed by CID to avoid
// re-decoding hot branch nodes on repeated queries").
func New(store *blockstore.Store, cfg Config, cacheSize int) (*Tree, error) {
	cache, err := lru.New[blockstore.CID, blockNode](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("banyan: new decode cache: %w", err)
	}
	return &Tree{store: store, cfg: cfg, cache: cache}, nil
}

func (t *Tree) decode(ctx context.Context, cid blockstore.CID) (blockNode, error) {
	if n, ok := t.cache.Get(cid); ok {
		return n, nil
	}
	data, err := t.store.Get(ctx, cid)
	if err != nil {
		return blockNode{}, fmt.Errorf("banyan: fetch block %s: %w", cid, err)
	}
	n, err := decodeBlock(data)
	if err != nil {
		return blockNode{}, err
	}
	t.cache.Add(cid, n)
	return n, nil
}

func (t *Tree) persist(ctx context.Context, n blockNode) (blockstore.CID, error) {
	data, err := encodeBlock(n)
	if err != nil {
		return blockstore.CID{}, err
	}
	cid, err := t.store.Put(ctx, data)
	if err != nil {
		return blockstore.CID{}, fmt.Errorf("banyan: persist block: %w", err)
	}
	t.cache.Add(cid, n)
	return cid, nil
}

// levelBuilder accumulates the currently-open (not yet full) content at one
// level of the rightmost spine: events for level 0, child pointers above.
type levelBuilder struct {
	events   []wireEvent
	children []branchChild
}

func (b levelBuilder) empty() bool {
	return len(b.events) == 0 && len(b.children) == 0
}

// loadOpenPath walks the rightmost spine from root to leaf and rebuilds the
// open builder content of every level: each branch keeps all children but
// its last, and the leaf's last event is re-inserted, so a level that is
// already full on disk is sealed again and carried upward exactly as
// insertEvent sealed it originally.
func (t *Tree) loadOpenPath(ctx context.Context, root blockstore.CID) ([]levelBuilder, error) {
	if root.IsZero() {
		return nil, nil
	}
	cid := root
	var path []levelBuilder
	for {
		n, err := t.decode(ctx, cid)
		if err != nil {
			return nil, err
		}
		if n.Leaf != nil {
			for len(path) < 1 {
				path = append(path, levelBuilder{})
			}
			events := n.Leaf.Events
			if len(events) == 0 {
				return path, nil
			}
			path[0] = levelBuilder{events: append([]wireEvent(nil), events[:len(events)-1]...)}
			return t.insertEvent(ctx, path, events[len(events)-1])
		}
		b := n.Branch
		level := int(b.Level)
		for len(path) < level+1 {
			path = append(path, levelBuilder{})
		}
		if len(b.Children) == 0 {
			return nil, fmt.Errorf("banyan: branch %s has no children", cid)
		}
		// Drop the last child: it is the currently-open node one level
		// down, which will be re-appended once its new CID is known.
		kept := append([]branchChild(nil), b.Children[:len(b.Children)-1]...)
		path[level] = levelBuilder{children: kept}
		next, err := blockstore.ParseCID(b.Children[len(b.Children)-1].CID)
		if err != nil {
			return nil, err
		}
		cid = next
	}
}

// sealLevel persists the content currently at path[level] as a block and
// returns a branchChild summarizing it, for carrying into the level above.
func (t *Tree) sealLevel(ctx context.Context, level int, b levelBuilder) (branchChild, error) {
	if level == 0 {
		s := summaryFromEvents(b.events)
		cid, err := t.persist(ctx, blockNode{Leaf: &leafNode{Events: b.events}})
		if err != nil {
			return branchChild{}, err
		}
		return branchChild{CID: cid.String(), Level: 0, Summary: s}, nil
	}
	s := summaryFromChildren(b.children)
	cid, err := t.persist(ctx, blockNode{Branch: &branchNode{Level: uint8(level), Children: b.children}})
	if err != nil {
		return branchChild{}, err
	}
	return branchChild{CID: cid.String(), Level: uint8(level), Summary: s}, nil
}

func summaryFromEvents(events []wireEvent) summary {
	var s summary
	first := true
	for _, w := range events {
		ev, err := w.toEvent()
		if err != nil {
			continue
		}
		es := summaryOf(ev)
		if first {
			s, first = es, false
			continue
		}
		s = mergeSummary(s, es)
	}
	return s
}

func summaryFromChildren(children []branchChild) summary {
	var s summary
	first := true
	for _, c := range children {
		if first {
			s, first = c.Summary, false
			continue
		}
		s = mergeSummary(s, c.Summary)
	}
	return s
}

// insertEvent appends one event into path, cascading seals upward through
// any level that becomes full, growing the tree's height when the carry
// reaches past the current top.
func (t *Tree) insertEvent(ctx context.Context, path []levelBuilder, ev wireEvent) ([]levelBuilder, error) {
	level := 0
	var carry *branchChild
	for {
		if level >= len(path) {
			path = append(path, levelBuilder{})
		}
		var count, capacity int
		if level == 0 {
			path[0].events = append(path[0].events, ev)
			count, capacity = len(path[0].events), t.cfg.MaxLeafSize
		} else {
			path[level].children = append(path[level].children, *carry)
			count, capacity = len(path[level].children), t.cfg.MaxFanout
		}
		if count < capacity {
			return path, nil
		}
		sealed, err := t.sealLevel(ctx, level, path[level])
		if err != nil {
			return nil, err
		}
		path[level] = levelBuilder{}
		carry = &sealed
		level++
	}
}

// flush persists whatever remains open in path and returns the new root.
func (t *Tree) flush(ctx context.Context, path []levelBuilder) (blockstore.CID, error) {
	var carry *branchChild
	for level := 0; level < len(path); level++ {
		if carry != nil {
			path[level].children = append(path[level].children, *carry)
			carry = nil
		}
		if path[level].empty() {
			continue
		}
		sealed, err := t.sealLevel(ctx, level, path[level])
		if err != nil {
			return blockstore.CID{}, err
		}
		carry = &sealed
	}
	if carry == nil {
		return blockstore.CID{}, errors.New("banyan: flush produced no root")
	}
	return blockstore.ParseCID(carry.CID)
}

// Extend appends events (already assigned contiguous offsets and Lamports
// by the event store) to the stream's tree, returning the new root. Only
// the rightmost spine's blocks change; every other block is byte-identical
// to the one referenced by root (spec §4.3 "Append").
func (t *Tree) Extend(ctx context.Context, root blockstore.CID, events []event.Event) (blockstore.CID, error) {
	if len(events) == 0 {
		return root, nil
	}
	path, err := t.loadOpenPath(ctx, root)
	if err != nil {
		return blockstore.CID{}, err
	}
	for _, ev := range events {
		w, err := toWire(ev)
		if err != nil {
			return blockstore.CID{}, err
		}
		path, err = t.insertEvent(ctx, path, w)
		if err != nil {
			return blockstore.CID{}, err
		}
	}
	return t.flush(ctx, path)
}

// Query selects events within a single stream's tree.
type Query struct {
	Tags           tags.DNF
	FromOffsetExcl int64 // -1 selects from the first event
	ToOffsetIncl   int64 // -1 selects up to the tree's tip
	IsLocal        bool
}

func (q Query) admitsOffsetRange(min, max uint64) bool {
	if q.FromOffsetExcl >= 0 && max <= uint64(q.FromOffsetExcl) {
		return false
	}
	if q.ToOffsetIncl >= 0 && min > uint64(q.ToOffsetIncl) {
		return false
	}
	return true
}

func (q Query) admitsOffset(o uint64) bool {
	if q.FromOffsetExcl >= 0 && o <= uint64(q.FromOffsetExcl) {
		return false
	}
	if q.ToOffsetIncl >= 0 && o > uint64(q.ToOffsetIncl) {
		return false
	}
	return true
}

// VisitFunc is called once per matching event in key order. Returning
// false stops the walk early (used to implement LIMIT upstream).
type VisitFunc func(event.Event) (bool, error)

// Walk visits every event in root matching q, in increasing (Lamport,
// offset) order if forward, decreasing otherwise (spec §4.3 "Query
// ordering"). Subtrees whose summary cannot satisfy q are skipped without
// being fetched.
func (t *Tree) Walk(ctx context.Context, root blockstore.CID, q Query, forward bool, visit VisitFunc) error {
	if root.IsZero() {
		return nil
	}
	_, err := t.walkNode(ctx, root, q, forward, visit)
	return err
}

func (t *Tree) walkNode(ctx context.Context, cid blockstore.CID, q Query, forward bool, visit VisitFunc) (bool, error) {
	n, err := t.decode(ctx, cid)
	if err != nil {
		return false, err
	}
	if n.Leaf != nil {
		idx := make([]int, len(n.Leaf.Events))
		for i := range idx {
			idx[i] = i
		}
		if !forward {
			for i, j := 0, len(idx)-1; i < j; i, j = i+1, j-1 {
				idx[i], idx[j] = idx[j], idx[i]
			}
		}
		for _, i := range idx {
			w := n.Leaf.Events[i]
			if !q.admitsOffset(w.Offset) {
				continue
			}
			ev, err := w.toEvent()
			if err != nil {
				return false, err
			}
			if len(q.Tags) > 0 && !matchesDNF(q.Tags, ev, q.IsLocal) {
				continue
			}
			cont, err := visit(ev)
			if err != nil || !cont {
				return cont, err
			}
		}
		return true, nil
	}

	children := n.Branch.Children
	order := make([]int, len(children))
	for i := range order {
		order[i] = i
	}
	if !forward {
		for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
			order[i], order[j] = order[j], order[i]
		}
	}
	for _, i := range order {
		c := children[i]
		if !q.admitsOffsetRange(c.Summary.MinOffset, c.Summary.MaxOffset) {
			continue
		}
		if len(q.Tags) > 0 && q.Tags.DisjointFromTagUnion(c.Summary.tagSet()) {
			continue
		}
		childCID, err := blockstore.ParseCID(c.CID)
		if err != nil {
			return false, err
		}
		cont, err := t.walkNode(ctx, childCID, q, forward, visit)
		if err != nil || !cont {
			return cont, err
		}
	}
	return true, nil
}

// matchesDNF reports whether ev satisfies any disjunct of d, including the
// time/Lamport range constraints Conjunct.Matches alone does not check.
func matchesDNF(d tags.DNF, ev event.Event, isLocal bool) bool {
	for _, c := range d {
		if c.Matches(ev.Tags, ev.AppID, isLocal) && c.MatchesRanges(ev.Lamport, ev.Timestamp) {
			return true
		}
	}
	return false
}

// Pack rebuilds the tree into its canonical bulk-loaded shape: the same
// events, repacked from scratch (spec §4.3 "pack(tree) -> tree' rebalances
// to a canonical shape"). Used after Retain prunes leaves, and available
// as a standalone compaction operation.
func (t *Tree) Pack(ctx context.Context, root blockstore.CID) (blockstore.CID, error) {
	var kept []event.Event
	err := t.Walk(ctx, root, Query{FromOffsetExcl: -1, ToOffsetIncl: -1}, true, func(e event.Event) (bool, error) {
		kept = append(kept, e)
		return true, nil
	})
	if err != nil {
		return blockstore.CID{}, err
	}
	return t.Extend(ctx, blockstore.CID{}, kept)
}

// Retain rebuilds the tree keeping only events for which keep returns true
// (spec supplement: age/count-based retention pruning, §/DESIGN.md). It is
// a full rebuild rather than an in-place edit: Banyan blocks are immutable,
// so dropping old events always produces a new tree, never mutates the old
// one (the old blocks become unreachable and are reclaimed by blockstore
// GC).
func (t *Tree) Retain(ctx context.Context, root blockstore.CID, keep func(event.Event) bool) (blockstore.CID, error) {
	var kept []event.Event
	err := t.Walk(ctx, root, Query{FromOffsetExcl: -1, ToOffsetIncl: -1}, true, func(e event.Event) (bool, error) {
		if keep(e) {
			kept = append(kept, e)
		}
		return true, nil
	})
	if err != nil {
		return blockstore.CID{}, err
	}
	return t.Extend(ctx, blockstore.CID{}, kept)
}

// RootSummary reports the highest offset and Lamport timestamp reachable
// from root, without walking every leaf: a branch root's children already
// carry their own subtree summary, so only those are merged; a leaf root
// is small enough to fold directly. Used on startup to recover each
// stream's max offset and the node's Lamport clock from persisted roots
// alone (spec §5 durability), since persistent pins only record CIDs, not
// the counters an event store needs to resume.
func (t *Tree) RootSummary(ctx context.Context, root blockstore.CID) (maxOffset uint64, maxLamport uint64, count uint64, err error) {
	if root.IsZero() {
		return 0, 0, 0, nil
	}
	n, err := t.decode(ctx, root)
	if err != nil {
		return 0, 0, 0, err
	}
	if n.Branch != nil {
		var s summary
		first := true
		for _, c := range n.Branch.Children {
			if first {
				s, first = c.Summary, false
				continue
			}
			s = mergeSummary(s, c.Summary)
		}
		return s.MaxOffset, s.MaxLamport, s.Count, nil
	}
	var s summary
	first := true
	for _, w := range n.Leaf.Events {
		ev, err := w.toEvent()
		if err != nil {
			return 0, 0, 0, err
		}
		if first {
			s, first = summaryOf(ev), false
			continue
		}
		s = mergeSummary(s, summaryOf(ev))
	}
	return s.MaxOffset, s.MaxLamport, s.Count, nil
}
