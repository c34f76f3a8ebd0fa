package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
)

// statusHandler handles GET _status: a diagnostic snapshot of this node's
// replication state and known peers (spec §4.6, supplemented since the
// distillation drops the original swarm status surface entirely).
func (s *Server) statusHandler(c *echo.Context) error {
	peers := s.repl.Peers()
	out := make(map[string]peerStatus, len(peers))
	for id, p := range peers {
		out[id.String()] = peerStatus{
			Direction:      p.Direction,
			AgentVersion:   p.AgentVersion,
			RTTMillis:      p.RTT.Milliseconds(),
			RecentFailures: p.RecentFailures,
			LastSeen:       p.LastSeen.Format(time.RFC3339),
		}
	}

	resp := &statusResponse{
		Node:        s.node.String(),
		Present:     s.repl.Present(),
		ToReplicate: s.repl.ToReplicate(),
		Peers:       out,
	}
	if s.engine != nil {
		resp.Stale = s.engine.StalePresence(time.Now())
	}
	return c.JSON(http.StatusOK, resp)
}

// metricsHandler handles GET _metrics: coarse counters derived from the
// same state statusHandler reports, in a flat numeric shape cheap for a
// scraper to poll (spec §4.6 "not on the hot path").
func (s *Server) metricsHandler(c *echo.Context) error {
	present, toReplicate := s.store.Offsets()
	peers := s.repl.Peers()

	var stale int
	if s.engine != nil {
		stale = len(s.engine.StalePresence(time.Now()))
	}

	return c.JSON(http.StatusOK, map[string]any{
		"streamsPresent":     len(present.Streams()),
		"streamsToReplicate": len(toReplicate.Streams()),
		"peerCount":          len(peers),
		"stalePresenceCount": stale,
	})
}
