// Package event defines the immutable event envelope and its key ordering
// (spec §3 "Event", "Key ordering").
package event

import (
	"fmt"

	"github.com/edgemesh/axcore/pkg/nodeid"
	"github.com/edgemesh/axcore/pkg/tags"
)

// Key is the (Lamport, stream) pair that totally orders every event ever
// exposed by this node — the only global ordering the system provides.
type Key struct {
	Lamport uint64
	Stream  nodeid.StreamID
}

// Less defines the key order: primarily by Lamport, stream id breaks ties.
func (k Key) Less(o Key) bool {
	if k.Lamport != o.Lamport {
		return k.Lamport < o.Lamport
	}
	return k.Stream.Less(o.Stream)
}

// Equal reports key equality.
func (k Key) Equal(o Key) bool {
	return k.Lamport == o.Lamport && k.Stream == o.Stream
}

// Event is an immutable record appended to exactly one stream.
type Event struct {
	Stream    nodeid.StreamID
	Offset    uint64
	Lamport   uint64
	Timestamp int64 // wall-clock microseconds since epoch; informational only
	Tags      tags.Set
	AppID     string
	Payload   []byte // opaque CBOR value
}

// Key returns the event's ordering key.
func (e Event) Key() Key {
	return Key{Lamport: e.Lamport, Stream: e.Stream}
}

// Validate checks the per-event invariants that do not depend on stream
// context (offset contiguity and Lamport monotonicity are stream-level
// invariants checked by the event store on append).
func (e Event) Validate() error {
	if e.AppID == "" {
		return fmt.Errorf("event: app_id must not be empty")
	}
	return nil
}

// Less orders two events by Key, matching the system's global ordering.
func Less(a, b Event) bool {
	return a.Key().Less(b.Key())
}
