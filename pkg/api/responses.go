package api

import "github.com/edgemesh/axcore/pkg/offsetmap"

// AuthResponse is returned by POST auth.
type AuthResponse struct {
	Token string `json:"token"`
}

// OffsetsResponse is returned by GET events/offsets.
type OffsetsResponse struct {
	Present     offsetmap.OffsetMap `json:"present"`
	ToReplicate offsetmap.OffsetMap `json:"toReplicate"`
}

// PublishedEvent is one element of PublishResponse.Data.
type PublishedEvent struct {
	Lamport   uint64 `json:"lamport"`
	Offset    uint64 `json:"offset"`
	Stream    string `json:"stream"`
	Timestamp int64  `json:"timestamp"`
}

// PublishResponse is returned by POST events/publish.
type PublishResponse struct {
	Data []PublishedEvent `json:"data"`
}

// eventMeta is the `meta` field of an NDJSON "event" line.
type eventMeta struct {
	Lamport   uint64   `json:"lamport"`
	Offset    uint64   `json:"offset"`
	Stream    string   `json:"stream"`
	Timestamp int64    `json:"timestamp"`
	Tags      []string `json:"tags"`
	AppID     string   `json:"appId"`
}

// ndjsonEvent is one "event" line of a query/subscribe/subscribe_monotonic
// response stream (spec §6).
type ndjsonEvent struct {
	Type    string    `json:"type"`
	Meta    eventMeta `json:"meta"`
	Payload any       `json:"payload"`
}

// ndjsonDiagnostic is one "diagnostic" line: an evaluation error surfaced
// in-band rather than terminating the stream (spec §7 "evaluation errors").
type ndjsonDiagnostic struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// ndjsonOffsets is the final "offsets" line of a bounded query response.
type ndjsonOffsets struct {
	Type    string              `json:"type"`
	Offsets offsetmap.OffsetMap `json:"offsets"`
}

// ndjsonTimeTravel is a subscribe_monotonic-only line announcing that the
// client's materialized state must be discarded back to newStart.
type ndjsonTimeTravel struct {
	Type     string              `json:"type"`
	NewStart offsetmap.OffsetMap `json:"newStart"`
}

// errorBody is the JSON body of a 4xx request-error response (spec §7
// "request errors ... surface as {code, message}").
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusResponse is returned by the diagnostic GET _status endpoint: a
// snapshot of pkg/replication's per-peer table (spec §4.6), explicitly
// bounded to inspection only, never consulted on the replication hot path.
type statusResponse struct {
	Node        string                 `json:"node"`
	Present     offsetmap.OffsetMap    `json:"present"`
	ToReplicate offsetmap.OffsetMap    `json:"toReplicate"`
	Peers       map[string]peerStatus  `json:"peers"`
	Stale       []string               `json:"stalePresence,omitempty"`
}

// peerStatus is the inspection-only view of one gossip peer.
type peerStatus struct {
	Direction      string `json:"direction"`
	AgentVersion   string `json:"agentVersion,omitempty"`
	RTTMillis      int64  `json:"rttMillis"`
	RecentFailures int    `json:"recentFailures"`
	LastSeen       string `json:"lastSeen"`
}
