// Package offsetmap implements the lattice of per-stream offset bounds used
// throughout the system to describe "what has been seen" (spec §3 "Offset
// map", §8 lattice laws).
package offsetmap

import (
	"encoding/json"
	"sort"
)

// NoEvent is the sentinel meaning "no event known" for a stream.
const NoEvent int64 = -1

// OffsetMap maps a stream id to its highest known offset (NoEvent if none),
// with a default applying to every stream not explicitly present.
type OffsetMap struct {
	entries map[string]int64
	def     int64
}

// New returns an empty map whose default is NoEvent — selects no events.
func New() OffsetMap {
	return OffsetMap{entries: map[string]int64{}, def: NoEvent}
}

// NewWithDefault returns an empty map with an explicit default value.
func NewWithDefault(def int64) OffsetMap {
	return OffsetMap{entries: map[string]int64{}, def: def}
}

// Get returns the known offset for stream, or the map's default.
func (m OffsetMap) Get(stream string) int64 {
	if v, ok := m.entries[stream]; ok {
		return v
	}
	return m.def
}

// Set returns a copy of m with stream's offset updated to v.
func (m OffsetMap) Set(stream string, v int64) OffsetMap {
	out := m.clone()
	out.entries[stream] = v
	return out
}

// Default returns the map's default value for unmentioned streams.
func (m OffsetMap) Default() int64 { return m.def }

// Streams returns the set of streams with an explicit entry, sorted.
func (m OffsetMap) Streams() []string {
	out := make([]string, 0, len(m.entries))
	for s := range m.entries {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (m OffsetMap) clone() OffsetMap {
	out := OffsetMap{entries: make(map[string]int64, len(m.entries)), def: m.def}
	for k, v := range m.entries {
		out.entries[k] = v
	}
	return out
}

// allStreams returns the union of explicit keys across a and b.
func allStreams(a, b OffsetMap) []string {
	seen := make(map[string]struct{}, len(a.entries)+len(b.entries))
	for k := range a.entries {
		seen[k] = struct{}{}
	}
	for k := range b.entries {
		seen[k] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Union returns the element-wise maximum of m and other (commutative,
// associative, idempotent — spec §8 lattice laws).
func (m OffsetMap) Union(other OffsetMap) OffsetMap {
	out := NewWithDefault(max64(m.def, other.def))
	for _, s := range allStreams(m, other) {
		out.entries[s] = max64(m.Get(s), other.Get(s))
	}
	return out
}

// Intersect returns the element-wise minimum ("meet") of m and other.
func (m OffsetMap) Intersect(other OffsetMap) OffsetMap {
	out := NewWithDefault(min64(m.def, other.def))
	for _, s := range allStreams(m, other) {
		out.entries[s] = min64(m.Get(s), other.Get(s))
	}
	return out
}

// IsSubsetOf reports whether m ≤ other component-wise for every stream
// mentioned by either map (and for the default).
func (m OffsetMap) IsSubsetOf(other OffsetMap) bool {
	if m.def > other.def {
		// only matters for streams neither mentions; still must hold
		return false
	}
	for _, s := range allStreams(m, other) {
		if m.Get(s) > other.Get(s) {
			return false
		}
	}
	return true
}

// Equal reports whether m and other describe exactly the same mapping.
func (m OffsetMap) Equal(other OffsetMap) bool {
	return m.IsSubsetOf(other) && other.IsSubsetOf(m)
}

// Deficit returns, for every stream where highestSeen exceeds present, an
// entry holding highestSeen's offset; streams already caught up are
// omitted. This is "highest-seen minus present" (spec §4.4 offsets()),
// the set of (stream, target offset) pairs still worth replicating.
func Deficit(highestSeen, present OffsetMap) OffsetMap {
	out := NewWithDefault(NoEvent)
	for _, s := range allStreams(highestSeen, present) {
		if hs, pr := highestSeen.Get(s), present.Get(s); hs > pr {
			out.entries[s] = hs
		}
	}
	return out
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// MarshalJSON renders the wire form described in spec §6: an object mapping
// stream id to offset (non-negative integer or -1). The default is not
// part of the wire form; unmentioned streams are implicitly NoEvent on
// decode, matching the HTTP API's documented object shape.
func (m OffsetMap) MarshalJSON() ([]byte, error) {
	if m.entries == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m.entries)
}

// UnmarshalJSON parses the wire object form; the default becomes NoEvent.
func (m *OffsetMap) UnmarshalJSON(b []byte) error {
	raw := map[string]int64{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	m.entries = raw
	m.def = NoEvent
	return nil
}
