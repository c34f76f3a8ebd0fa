// Package gossip implements the node's peer-to-peer replication protocol:
// root-update fast/slow paths, periodic root-map broadcast, and a
// bitswap-style block exchange, plus the per-stream root ingest state
// machine that turns a received root into a validated, pinned local root
// (spec §4.5).
package gossip

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// kind discriminates the tagged union on the wire (spec §6 "Gossip wire
// format... top-level tagged union").
type kind uint8

const (
	kindRootUpdate kind = iota
	kindRootMap
	kindHave
	kindWant
	kindBlock
)

// rootUpdateMsg is the fast/slow path message (spec §4.5): fast path
// carries Blocks, slow path omits them and relies on block exchange.
type rootUpdateMsg struct {
	Stream  string   `cbor:"s"`
	Root    string   `cbor:"r"`
	Lamport uint64   `cbor:"l"`
	Offset  int64    `cbor:"o"`
	TimeUs  int64    `cbor:"t"`
	Blocks  [][]byte `cbor:"b,omitempty"`
}

// rootMapMsg is the periodic convergence broadcast (spec §4.5 "Periodic
// root map").
type rootMapMsg struct {
	Entries map[string]string  `cbor:"e"`
	Offsets map[string]offLamp `cbor:"f"`
	Lamport uint64             `cbor:"l"`
	TimeUs  int64              `cbor:"t"`
}

type offLamp struct {
	Offset  int64  `cbor:"o"`
	Lamport uint64 `cbor:"l"`
}

// haveMsg/wantMsg/blockMsg implement the bitswap-style block exchange used
// by the slow path to fetch missing ancestors (spec §4.5).
type haveMsg struct {
	CIDs []string `cbor:"c"`
}

type wantMsg struct {
	CIDs []string `cbor:"c"`
}

type blockMsg struct {
	CID  string `cbor:"c"`
	Data []byte `cbor:"d"`
}

// envelope is the single frame type exchanged between peers; exactly one
// of the payload fields is set, selected by Kind.
type envelope struct {
	Kind       kind           `cbor:"k"`
	RootUpdate *rootUpdateMsg `cbor:"ru,omitempty"`
	RootMap    *rootMapMsg    `cbor:"rm,omitempty"`
	Have       *haveMsg       `cbor:"hv,omitempty"`
	Want       *wantMsg       `cbor:"wt,omitempty"`
	Block      *blockMsg      `cbor:"bl,omitempty"`
}

func encodeEnvelope(e envelope) ([]byte, error) {
	b, err := cbor.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("gossip: encode: %w", err)
	}
	return b, nil
}

func decodeEnvelope(data []byte) (envelope, error) {
	var e envelope
	if err := cbor.Unmarshal(data, &e); err != nil {
		return envelope{}, fmt.Errorf("gossip: decode: %w", err)
	}
	return e, nil
}
