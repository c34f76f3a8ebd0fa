package api

import "github.com/edgemesh/axcore/pkg/offsetmap"

// AppManifest is the body of POST auth (spec §6 "app manifest JSON").
type AppManifest struct {
	AppID       string `json:"appId"`
	DisplayName string `json:"displayName"`
	Version     string `json:"version"`
}

// PublishEventRequest is one element of PublishRequest.Data.
type PublishEventRequest struct {
	Tags    []string `json:"tags"`
	Payload any      `json:"payload"`
}

// PublishRequest is the body of POST events/publish.
type PublishRequest struct {
	Data []PublishEventRequest `json:"data"`
}

// queryOrder is the wire spelling of events/query's order field (spec §6,
// matching the kebab-case Order enum in rust/sdk/src/event_service/mod.rs:
// "lamport", "lamport-reverse", "source-ordered").
type queryOrder string

const (
	orderLamport        queryOrder = "lamport"
	orderLamportReverse queryOrder = "lamport-reverse"
	orderSourceOrdered  queryOrder = "source-ordered"
)

// QueryRequest is the body of POST events/query.
type QueryRequest struct {
	LowerBound *offsetmap.OffsetMap `json:"lowerBound,omitempty"`
	UpperBound *offsetmap.OffsetMap `json:"upperBound"`
	Query      string               `json:"query"`
	Order      queryOrder           `json:"order"`
}

// SubscribeRequest is the body of POST events/subscribe.
type SubscribeRequest struct {
	LowerBound *offsetmap.OffsetMap `json:"lowerBound,omitempty"`
	Query      string               `json:"query"`
}

// SubscribeMonotonicRequest is the body of POST events/subscribe_monotonic.
type SubscribeMonotonicRequest struct {
	LowerBound *offsetmap.OffsetMap `json:"lowerBound,omitempty"`
	Session    string               `json:"session"`
	Query      string               `json:"query"`
}
