package eventstore

import (
	"context"
	"fmt"

	"github.com/edgemesh/axcore/pkg/banyan"
	"github.com/edgemesh/axcore/pkg/event"
	"github.com/edgemesh/axcore/pkg/nodeid"
	"github.com/edgemesh/axcore/pkg/offsetmap"
	"github.com/edgemesh/axcore/pkg/tags"
)

// Subscribe delivers every event already present beyond fromExcl, then
// blocks for newly validated events and delivers those too, in per-stream
// order (spec §4.4 subscribe()). It only returns when ctx ends or visit
// stops the stream (returns false or an error).
func (s *Store) Subscribe(ctx context.Context, dnf tags.DNF, fromExcl offsetmap.OffsetMap, isLocal func(nodeid.StreamID) bool, visit banyan.VisitFunc) error {
	cursor := fromExcl
	for {
		wake := s.wakeChan()
		present, _ := s.Offsets()

		stopped := false
		err := s.BoundedForward(ctx, BoundedQuery{
			Tags:     dnf,
			FromExcl: cursor,
			ToIncl:   present,
			IsLocal:  isLocal,
		}, func(e event.Event) (bool, error) {
			cont, err := visit(e)
			if err == nil && cont {
				cursor = cursor.Set(e.Stream.String(), int64(e.Offset))
			} else {
				stopped = true
			}
			return cont, err
		})
		if err != nil {
			return fmt.Errorf("eventstore: subscribe: %w", err)
		}
		if stopped {
			return nil
		}

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// MonotonicItem is one value of a SubscribeMonotonic stream: either a
// delivered event, or a time-travel marker carrying the offset map the
// client should discard its materialized state back to (spec §4.4
// subscribe_monotonic()).
type MonotonicItem struct {
	Event      event.Event
	TimeTravel bool
	NewStart   offsetmap.OffsetMap
}

// MonotonicVisitFunc is called for each delivered item. Returning false or
// a non-nil error stops the subscription.
type MonotonicVisitFunc func(MonotonicItem) (bool, error)

// SubscribeMonotonic is Subscribe with a key-order invariant: it tracks the
// key of the last delivered event and, whenever a newly validated event
// would need to be inserted before it, emits a time-travel marker instead
// of silently reordering (spec §4.4 subscribe_monotonic()). Unlike
// Subscribe each pass over present reads in strict key order, so travel can
// only happen across passes (a replicated root backfilling a stream with
// events older than something already delivered from another stream).
func (s *Store) SubscribeMonotonic(ctx context.Context, dnf tags.DNF, fromExcl offsetmap.OffsetMap, isLocal func(nodeid.StreamID) bool, visit MonotonicVisitFunc) error {
	cursor := fromExcl
	var lastKey event.Key
	haveLast := false

	for {
		wake := s.wakeChan()
		present, _ := s.Offsets()

		stopped := false
		err := s.BoundedForward(ctx, BoundedQuery{
			Tags:        dnf,
			FromExcl:    cursor,
			ToIncl:      present,
			StrictOrder: true,
			IsLocal:     isLocal,
		}, func(e event.Event) (bool, error) {
			key := e.Key()
			if haveLast && key.Less(lastKey) {
				cont, err := visit(MonotonicItem{TimeTravel: true, NewStart: cursor})
				if err != nil || !cont {
					stopped = true
					return false, err
				}
			}

			cont, err := visit(MonotonicItem{Event: e})
			if err != nil || !cont {
				stopped = true
				return false, err
			}
			cursor = cursor.Set(e.Stream.String(), int64(e.Offset))
			lastKey = key
			haveLast = true
			return true, nil
		})
		if err != nil {
			return fmt.Errorf("eventstore: subscribe_monotonic: %w", err)
		}
		if stopped {
			return nil
		}

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
