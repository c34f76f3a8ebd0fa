package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/edgemesh/axcore/pkg/event"
	"github.com/edgemesh/axcore/pkg/eventstore"
	"github.com/edgemesh/axcore/pkg/nodeid"
	"github.com/edgemesh/axcore/pkg/offsetmap"
	"github.com/edgemesh/axcore/pkg/query"
)

// isLocalFor builds the IsLocal predicate every store read needs.
func (s *Server) isLocalFor() func(nodeid.StreamID) bool {
	return func(stream nodeid.StreamID) bool { return stream.Node == s.node }
}

// meta builds an event line's `meta` object from its originating event.
func meta(e event.Event) eventMeta {
	tagStrs := make([]string, len(e.Tags))
	for i, t := range e.Tags {
		tagStrs[i] = t.String()
	}
	return eventMeta{
		Lamport:   e.Lamport,
		Offset:    e.Offset,
		Stream:    e.Stream.String(),
		Timestamp: e.Timestamp,
		Tags:      tagStrs,
		AppID:     e.AppID,
	}
}

// feedEvent drives one event through a feeder and writes the results,
// attaching the originating event's meta to every value the feed step
// produces (a terminal AGGREGATE's Flush output, which has no single
// originating event, is written separately by the caller with zero meta).
func feedEvent(nd *ndjsonWriter, feeder *query.Feeder, e event.Event) (bool, error) {
	outs := feeder.Feed(query.EventValue(e))
	m := meta(e)
	for _, v := range outs {
		if v.IsError() {
			if err := nd.writeLine(&ndjsonDiagnostic{Type: "diagnostic", Severity: "warning", Message: v.Err.Error()}); err != nil {
				return false, err
			}
			continue
		}
		if err := nd.writeLine(&ndjsonEvent{Type: "event", Meta: m, Payload: valueToJSON(v)}); err != nil {
			return false, err
		}
	}
	return true, nil
}

// flushFeeder writes a feeder's terminal Flush() output (spec §4.8
// "Flush is called once after the source ends").
func flushFeeder(nd *ndjsonWriter, feeder *query.Feeder) error {
	for _, v := range feeder.Flush() {
		if v.IsError() {
			if err := nd.writeLine(&ndjsonDiagnostic{Type: "diagnostic", Severity: "warning", Message: v.Err.Error()}); err != nil {
				return err
			}
			continue
		}
		if err := nd.writeLine(&ndjsonEvent{Type: "event", Meta: eventMeta{}, Payload: valueToJSON(v)}); err != nil {
			return err
		}
	}
	return nil
}

// valueToJSON converts a query.Value to a plain Go value encoding/json can
// marshal directly.
func valueToJSON(v query.Value) any { return query.ToJSON(v) }

// queryHandler handles POST events/query: a bounded read through the query
// pipeline, terminated by an "offsets" line (spec §6).
func (s *Server) queryHandler(c *echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return requestError(http.StatusBadRequest, "malformedRequest", err.Error())
	}
	if req.UpperBound == nil {
		return requestError(http.StatusBadRequest, "malformedOffsetMap", "upperBound is required")
	}
	q, err := query.ParseQuery(req.Query)
	if err != nil {
		return mapStoreError(err)
	}
	q.Declared = q.Declared.Merge(s.defaultFeatures)
	if err := query.CheckFeatures(q, query.EndpointQuery); err != nil {
		return mapStoreError(err)
	}

	lower := offsetmap.New()
	if req.LowerBound != nil {
		lower = *req.LowerBound
	}
	upper := *req.UpperBound

	if q.Source.Kind == query.SourceTags {
		present, _ := s.store.Offsets()
		if !upper.IsSubsetOf(present) {
			return mapStoreError(eventstore.ErrUpperBoundNotPresent)
		}
	}

	nd := newNDJSONWriter(c.Response())
	feeder := query.NewFeeder(q, newSubQueryRunner(s.store, s.node))
	order := feeder.PreferredOrder()
	if req.Order == orderLamportReverse {
		order = query.OrderDesc
	}

	bq := eventstore.BoundedQuery{
		Tags:        q.Source.DNF,
		FromExcl:    lower,
		ToIncl:      upper,
		StrictOrder: req.Order != orderSourceOrdered,
		IsLocal:     s.isLocalFor(),
	}

	visit := func(e event.Event) (bool, error) {
		cont, err := feedEvent(nd, feeder, e)
		if err != nil || !cont {
			return false, err
		}
		return !feeder.IsDone(order), nil
	}

	ctx := c.Request().Context()
	if order == query.OrderDesc {
		err = s.store.BoundedBackward(ctx, bq, visit)
	} else {
		err = s.store.BoundedForward(ctx, bq, visit)
	}
	if err != nil {
		_ = nd.writeLine(&ndjsonDiagnostic{Type: "diagnostic", Severity: "error", Message: err.Error()})
		return nil
	}
	if err := flushFeeder(nd, feeder); err != nil {
		return nil
	}
	_ = nd.writeLine(&ndjsonOffsets{Type: "offsets", Offsets: upper})
	return nil
}

// subscribeHandler handles POST events/subscribe: unbounded, never
// terminates on its own (spec §6).
func (s *Server) subscribeHandler(c *echo.Context) error {
	var req SubscribeRequest
	if err := c.Bind(&req); err != nil {
		return requestError(http.StatusBadRequest, "malformedRequest", err.Error())
	}
	q, err := query.ParseQuery(req.Query)
	if err != nil {
		return mapStoreError(err)
	}
	q.Declared = q.Declared.Merge(s.defaultFeatures)
	if err := query.CheckFeatures(q, query.EndpointSubscribe); err != nil {
		return mapStoreError(err)
	}

	lower := offsetmap.New()
	if req.LowerBound != nil {
		lower = *req.LowerBound
	}

	nd := newNDJSONWriter(c.Response())
	feeder := query.NewFeeder(q, newSubQueryRunner(s.store, s.node))

	err = s.store.Subscribe(c.Request().Context(), q.Source.DNF, lower, s.isLocalFor(), func(e event.Event) (bool, error) {
		return feedEvent(nd, feeder, e)
	})
	if err != nil && c.Request().Context().Err() == nil {
		_ = nd.writeLine(&ndjsonDiagnostic{Type: "diagnostic", Severity: "error", Message: err.Error()})
	}
	return nil
}

// subscribeMonotonicHandler handles POST events/subscribe_monotonic: as
// subscribe, additionally emitting timeTravel markers (spec §6).
func (s *Server) subscribeMonotonicHandler(c *echo.Context) error {
	var req SubscribeMonotonicRequest
	if err := c.Bind(&req); err != nil {
		return requestError(http.StatusBadRequest, "malformedRequest", err.Error())
	}
	if req.Session == "" {
		return requestError(http.StatusBadRequest, "malformedRequest", "session is required")
	}
	q, err := query.ParseQuery(req.Query)
	if err != nil {
		return mapStoreError(err)
	}
	q.Declared = q.Declared.Merge(s.defaultFeatures)
	if err := query.CheckFeatures(q, query.EndpointSubscribeMonotonic); err != nil {
		return mapStoreError(err)
	}

	lower := offsetmap.New()
	if req.LowerBound != nil {
		lower = *req.LowerBound
	}

	nd := newNDJSONWriter(c.Response())
	feeder := query.NewFeeder(q, newSubQueryRunner(s.store, s.node))

	err = s.store.SubscribeMonotonic(c.Request().Context(), q.Source.DNF, lower, s.isLocalFor(), func(item eventstore.MonotonicItem) (bool, error) {
		if item.TimeTravel {
			if err := nd.writeLine(&ndjsonTimeTravel{Type: "timeTravel", NewStart: item.NewStart}); err != nil {
				return false, err
			}
			return true, nil
		}
		return feedEvent(nd, feeder, item.Event)
	})
	if err != nil && c.Request().Context().Err() == nil {
		_ = nd.writeLine(&ndjsonDiagnostic{Type: "diagnostic", Severity: "error", Message: err.Error()})
	}
	return nil
}
