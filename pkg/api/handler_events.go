package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/edgemesh/axcore/pkg/event"
	"github.com/edgemesh/axcore/pkg/eventstore"
	"github.com/edgemesh/axcore/pkg/query"
	"github.com/edgemesh/axcore/pkg/tags"
)

// httpPublishStreamNr is the stream number every HTTP-originated publish
// lands in. The wire request carries tags and a payload per event but no
// stream number (spec §6 "POST events/publish ← { data: [{ tags, payload
// }] }"); one well-known local stream per node keeps the HTTP surface
// simple while pkg/eventstore.Publish itself remains stream-parametric for
// callers that do need multiple local streams (e.g. a future CLI).
const httpPublishStreamNr = 0

// offsetsHandler handles GET events/offsets.
func (s *Server) offsetsHandler(c *echo.Context) error {
	present, toReplicate := s.store.Offsets()
	return c.JSON(http.StatusOK, &OffsetsResponse{Present: present, ToReplicate: toReplicate})
}

// publishHandler handles POST events/publish.
func (s *Server) publishHandler(c *echo.Context) error {
	var req PublishRequest
	if err := c.Bind(&req); err != nil {
		return requestError(http.StatusBadRequest, "malformedRequest", err.Error())
	}

	items := make([]eventstore.PublishItem, len(req.Data))
	for i, d := range req.Data {
		set, err := tags.NewSet(d.Tags...)
		if err != nil {
			return requestError(http.StatusBadRequest, "malformedTags", err.Error())
		}
		payload, err := query.ToCBOR(query.FromAny(d.Payload))
		if err != nil {
			return requestError(http.StatusBadRequest, "payloadNotEncodable", err.Error())
		}
		items[i] = eventstore.PublishItem{Tags: set, Payload: payload}
	}

	appID := appIDFromContext(c)
	assigned, err := s.store.Publish(c.Request().Context(), appID, httpPublishStreamNr, items)
	if err != nil {
		return mapStoreError(err)
	}

	stream := s.streamID(httpPublishStreamNr).String()
	out := make([]PublishedEvent, len(assigned))
	for i, a := range assigned {
		out[i] = PublishedEvent{Lamport: a.Lamport, Offset: a.Offset, Stream: stream, Timestamp: a.Timestamp}
	}
	return c.JSON(http.StatusOK, &PublishResponse{Data: out})
}

// snapshotHandler handles the supplemental GET events convenience
// endpoint: a single non-streaming JSON array over the full present
// range, restored from rust/sdk/src/http_client.rs's one-shot query
// helpers (dropped by the distillation's NDJSON-only framing).
func (s *Server) snapshotHandler(c *echo.Context) error {
	q, err := query.ParseQuery(c.QueryParam("query"))
	if err != nil {
		return mapStoreError(err)
	}
	q.Declared = q.Declared.Merge(s.defaultFeatures)
	if err := query.CheckFeatures(q, query.EndpointQuery); err != nil {
		return mapStoreError(err)
	}

	present, _ := s.store.Offsets()
	feeder := query.NewFeeder(q, newSubQueryRunner(s.store, s.node))
	var out []any
	bq := eventstore.BoundedQuery{Tags: q.Source.DNF, ToIncl: present, IsLocal: s.isLocalFor()}
	err = s.store.BoundedForward(c.Request().Context(), bq, func(e event.Event) (bool, error) {
		for _, v := range feeder.Feed(query.EventValue(e)) {
			out = append(out, query.ToJSON(v))
		}
		return true, nil
	})
	if err != nil {
		return mapStoreError(err)
	}
	for _, v := range feeder.Flush() {
		out = append(out, query.ToJSON(v))
	}
	return c.JSON(http.StatusOK, out)
}
