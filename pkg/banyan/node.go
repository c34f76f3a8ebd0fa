package banyan

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/edgemesh/axcore/pkg/blockstore"
	"github.com/edgemesh/axcore/pkg/event"
	"github.com/edgemesh/axcore/pkg/nodeid"
	"github.com/edgemesh/axcore/pkg/tags"
)

// wireEvent is the CBOR-on-disk shape of an event.Event. Events within a
// single stream's tree all share the same Stream value, but it is kept
// per-event rather than factored out so a leaf block is self-describing.
type wireEvent struct {
	StreamNode string  `cbor:"n"`
	StreamNr   uint32  `cbor:"s"`
	Offset     uint64  `cbor:"o"`
	Lamport    uint64  `cbor:"l"`
	Timestamp  int64   `cbor:"t"`
	Tags       []string `cbor:"g"`
	AppID      string  `cbor:"a"`
	Payload    []byte  `cbor:"p"`
}

func toWire(e event.Event) (wireEvent, error) {
	strs := make([]string, len(e.Tags))
	for i, t := range e.Tags {
		strs[i] = t.String()
	}
	return wireEvent{
		StreamNode: e.Stream.Node.String(),
		StreamNr:   e.Stream.Nr,
		Offset:     e.Offset,
		Lamport:    e.Lamport,
		Timestamp:  e.Timestamp,
		Tags:       strs,
		AppID:      e.AppID,
		Payload:    e.Payload,
	}, nil
}

func (w wireEvent) toEvent() (event.Event, error) {
	node, err := nodeid.Parse(w.StreamNode)
	if err != nil {
		return event.Event{}, fmt.Errorf("banyan: decode event stream id: %w", err)
	}
	set, err := tags.NewSet(w.Tags...)
	if err != nil {
		return event.Event{}, fmt.Errorf("banyan: decode event tags: %w", err)
	}
	return event.Event{
		Stream:    nodeid.StreamID{Node: node, Nr: w.StreamNr},
		Offset:    w.Offset,
		Lamport:   w.Lamport,
		Timestamp: w.Timestamp,
		Tags:      set,
		AppID:     w.AppID,
		Payload:   w.Payload,
	}, nil
}

// summary is a branch's index over its subtree: the information needed to
// decide, without descending, whether a query can skip it entirely (spec
// §4.3 "a branch's summary must exactly describe the union of its
// children").
type summary struct {
	Count       uint64   `cbor:"c"`
	MinOffset   uint64   `cbor:"o0"`
	MaxOffset   uint64   `cbor:"o1"`
	MinLamport  uint64   `cbor:"l0"`
	MaxLamport  uint64   `cbor:"l1"`
	MinTimeUs   int64    `cbor:"t0"`
	MaxTimeUs   int64    `cbor:"t1"`
	TagUnion    []string `cbor:"g"`
}

func summaryOf(e event.Event) summary {
	strs := make([]string, len(e.Tags))
	for i, t := range e.Tags {
		strs[i] = t.String()
	}
	return summary{
		Count:      1,
		MinOffset:  e.Offset,
		MaxOffset:  e.Offset,
		MinLamport: e.Lamport,
		MaxLamport: e.Lamport,
		MinTimeUs:  e.Timestamp,
		MaxTimeUs:  e.Timestamp,
		TagUnion:   strs,
	}
}

func mergeSummary(a, b summary) summary {
	union, _ := tags.NewSet(append(append([]string{}, a.TagUnion...), b.TagUnion...)...)
	strs := make([]string, len(union))
	for i, t := range union {
		strs[i] = t.String()
	}
	return summary{
		Count:      a.Count + b.Count,
		MinOffset:  minU64(a.MinOffset, b.MinOffset),
		MaxOffset:  maxU64(a.MaxOffset, b.MaxOffset),
		MinLamport: minU64(a.MinLamport, b.MinLamport),
		MaxLamport: maxU64(a.MaxLamport, b.MaxLamport),
		MinTimeUs:  minI64(a.MinTimeUs, b.MinTimeUs),
		MaxTimeUs:  maxI64(a.MaxTimeUs, b.MaxTimeUs),
		TagUnion:   strs,
	}
}

func (s summary) tagSet() tags.Set {
	set, _ := tags.NewSet(s.TagUnion...)
	return set
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func minI64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// branchChild is a pointer from a branch to one of its children, carrying
// the child's summary so pruning decisions never need to fetch the child.
type branchChild struct {
	CID     string  `cbor:"c"`
	Level   uint8   `cbor:"lv"`
	Summary summary `cbor:"s"`
}

type leafNode struct {
	Events []wireEvent `cbor:"e"`
}

type branchNode struct {
	Level    uint8         `cbor:"lv"`
	Children []branchChild `cbor:"ch"`
}

// blockNode is the top-level CBOR envelope persisted for every block: a
// leaf xor a branch. Keeping one envelope type (rather than two distinct
// block shapes) keeps decode() a single switch.
type blockNode struct {
	Leaf   *leafNode   `cbor:"leaf,omitempty"`
	Branch *branchNode `cbor:"branch,omitempty"`
}

func encodeBlock(n blockNode) ([]byte, error) {
	data, err := cbor.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("banyan: encode block: %w", err)
	}
	return data, nil
}

func decodeBlock(data []byte) (blockNode, error) {
	var n blockNode
	if err := cbor.Unmarshal(data, &n); err != nil {
		return blockNode{}, fmt.Errorf("banyan: decode block: %w", err)
	}
	return n, nil
}

// Children extracts the block references a decoded block points to,
// satisfying blockstore.ChildrenFunc for garbage collection.
func Children(data []byte) ([]blockstore.CID, error) {
	n, err := decodeBlock(data)
	if err != nil {
		return nil, err
	}
	if n.Branch == nil {
		return nil, nil
	}
	out := make([]blockstore.CID, 0, len(n.Branch.Children))
	for _, c := range n.Branch.Children {
		cid, err := blockstore.ParseCID(c.CID)
		if err != nil {
			return nil, err
		}
		out = append(out, cid)
	}
	return out, nil
}
