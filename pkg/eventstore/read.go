package eventstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/edgemesh/axcore/pkg/banyan"
	"github.com/edgemesh/axcore/pkg/event"
	"github.com/edgemesh/axcore/pkg/nodeid"
	"github.com/edgemesh/axcore/pkg/offsetmap"
	"github.com/edgemesh/axcore/pkg/tags"
)

// anyLocal reports whether at least one disjunct requires local origin —
// the "mixed" case of spec §4.4's stream-selection rule (DNF.OnlyLocal
// only answers whether *every* disjunct does).
func anyLocal(d tags.DNF) bool {
	for _, c := range d {
		if c.Local {
			return true
		}
	}
	return false
}

// selectStreams computes which streams a tag expression's DNF could
// possibly match against, given the bounds mentioning streams explicitly
// and the set of locally-owned streams (spec §4.4 "Stream selection").
func (s *Store) selectStreams(dnf tags.DNF, from, to offsetmap.OffsetMap, snap snapshot) []nodeid.StreamID {
	if dnf.OnlyLocal() {
		out := make([]nodeid.StreamID, 0, len(snap.localStreams))
		for stream := range snap.localStreams {
			out = append(out, stream)
		}
		return sortStreams(out)
	}

	seen := make(map[nodeid.StreamID]struct{})
	for _, label := range from.Streams() {
		if stream, err := nodeid.ParseStreamID(label); err == nil {
			seen[stream] = struct{}{}
		}
	}
	for _, label := range to.Streams() {
		if stream, err := nodeid.ParseStreamID(label); err == nil {
			seen[stream] = struct{}{}
		}
	}
	if anyLocal(dnf) {
		for stream := range snap.localStreams {
			seen[stream] = struct{}{}
		}
	}
	if len(seen) == 0 {
		// Unbounded/no explicit hint: every known stream is a candidate;
		// per-event tag matching still applies.
		for stream := range snap.roots {
			seen[stream] = struct{}{}
		}
	}
	out := make([]nodeid.StreamID, 0, len(seen))
	for stream := range seen {
		out = append(out, stream)
	}
	return sortStreams(out)
}

func sortStreams(streams []nodeid.StreamID) []nodeid.StreamID {
	sort.Slice(streams, func(i, j int) bool { return streams[i].Less(streams[j]) })
	return streams
}

// BoundedQuery parameterizes BoundedForward/BoundedBackward.
type BoundedQuery struct {
	Tags        tags.DNF
	FromExcl    offsetmap.OffsetMap
	ToIncl      offsetmap.OffsetMap
	StrictOrder bool
	IsLocal     func(nodeid.StreamID) bool
}

// ErrUpperBoundNotPresent is returned when ToIncl exceeds the currently
// validated present offset map (spec §4.4 "Fails if to_incl is not ≤
// current present").
var ErrUpperBoundNotPresent = fmt.Errorf("eventstore: to_incl exceeds present")

// BoundedForward materializes the union over every stream referenced by
// q.Tags in increasing (Lamport, offset) order (or, when StrictOrder is
// false, per-stream order with arbitrary inter-stream interleaving), and
// calls visit for each. visit returning false stops early.
func (s *Store) BoundedForward(ctx context.Context, q BoundedQuery, visit banyan.VisitFunc) error {
	return s.boundedRead(ctx, q, true, visit)
}

// BoundedBackward is the union over every stream referenced by q.Tags in
// strictly decreasing (Lamport, offset) order (spec §4.4 bounded_backward()
// has no strict_order parameter: unlike BoundedForward it always merges by
// key).
func (s *Store) BoundedBackward(ctx context.Context, q BoundedQuery, visit banyan.VisitFunc) error {
	q.StrictOrder = true
	return s.boundedRead(ctx, q, false, visit)
}

func (s *Store) boundedRead(ctx context.Context, q BoundedQuery, forward bool, visit banyan.VisitFunc) error {
	present, _ := s.Offsets()
	if !q.ToIncl.IsSubsetOf(present) {
		return ErrUpperBoundNotPresent
	}

	snap := s.currentSnapshot()
	streams := s.selectStreams(q.Tags, q.FromExcl, q.ToIncl, snap)

	perStream := make([]streamEvents, 0, len(streams))
	for _, stream := range streams {
		root, ok := snap.roots[stream]
		if !ok {
			continue
		}
		isLocal := false
		if q.IsLocal != nil {
			isLocal = q.IsLocal(stream)
		}
		query := banyan.Query{
			Tags:           q.Tags,
			FromOffsetExcl: q.FromExcl.Get(stream.String()),
			ToOffsetIncl:   q.ToIncl.Get(stream.String()),
			IsLocal:        isLocal,
		}
		var got []event.Event
		err := s.tree.Walk(ctx, root, query, true, func(e event.Event) (bool, error) {
			got = append(got, e)
			return true, nil
		})
		if err != nil {
			return fmt.Errorf("eventstore: bounded read: stream %s: %w", stream, err)
		}
		perStream = append(perStream, streamEvents{stream: stream, events: got})
	}

	var merged []event.Event
	for _, se := range perStream {
		merged = append(merged, se.events...)
	}
	if q.StrictOrder {
		sortEventsByKey(merged, forward)
	}

	for _, e := range merged {
		cont, err := visit(e)
		if err != nil || !cont {
			return err
		}
	}
	return nil
}

// streamEvents pairs a stream with its matching events read from its tree.
type streamEvents struct {
	stream nodeid.StreamID
	events []event.Event
}

func sortEventsByKey(events []event.Event, ascending bool) {
	sort.SliceStable(events, func(i, j int) bool {
		if ascending {
			return event.Less(events[i], events[j])
		}
		return event.Less(events[j], events[i])
	})
}
