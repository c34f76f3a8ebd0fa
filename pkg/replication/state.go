// Package replication holds the process-wide replication state: the
// present and highest-seen offset maps, exposed as sampled observables,
// plus per-peer diagnostics for the inspection endpoint (spec §4.6).
package replication

import (
	"context"
	"sync"
	"time"

	"github.com/edgemesh/axcore/pkg/nodeid"
	"github.com/edgemesh/axcore/pkg/offsetmap"
)

// Observable is a single mutex-guarded, latest-value variable with
// broadcast wakeup. Modeled on the teacher's ConnectionManager broadcast
// pattern: snapshot the value under the lock, release the lock, then do
// any slow work (here: blocking the caller) outside it. Observers that
// never poll again cost nothing once their goroutine exits; there is no
// subscriber list to clean up.
type Observable struct {
	mu     sync.Mutex
	value  offsetmap.OffsetMap
	waitCh chan struct{}
}

func newObservable(initial offsetmap.OffsetMap) *Observable {
	return &Observable{value: initial, waitCh: make(chan struct{})}
}

// Get returns the current value without waiting.
func (o *Observable) Get() offsetmap.OffsetMap {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value
}

// Set replaces the value and wakes every goroutine parked in Next.
func (o *Observable) Set(v offsetmap.OffsetMap) {
	o.mu.Lock()
	o.value = v
	ch := o.waitCh
	o.waitCh = make(chan struct{})
	o.mu.Unlock()
	close(ch)
}

// Next blocks until the value changes at least once, or ctx ends. A
// caller that misses several updates between calls only ever observes the
// latest one — there is no backlog to drain.
func (o *Observable) Next(ctx context.Context) (offsetmap.OffsetMap, error) {
	o.mu.Lock()
	ch := o.waitCh
	o.mu.Unlock()

	select {
	case <-ch:
		return o.Get(), nil
	case <-ctx.Done():
		return offsetmap.OffsetMap{}, ctx.Err()
	}
}

// PeerInfo is diagnostic-only information about a gossip peer. It is never
// consulted on the hot path (spec §4.6 "not on the hot path").
type PeerInfo struct {
	Addresses      []string
	Direction      string // "inbound" or "outbound"
	AgentVersion   string
	RTT            time.Duration
	RecentFailures int
	LastSeen       time.Time
}

// State is the process-wide replication state shared by the event store,
// the gossip engine, and the inspection HTTP endpoint.
type State struct {
	present     *Observable
	highestSeen *Observable

	mu    sync.RWMutex
	peers map[nodeid.NodeID]PeerInfo
}

// New constructs an empty replication state.
func New() *State {
	return &State{
		present:     newObservable(offsetmap.New()),
		highestSeen: newObservable(offsetmap.New()),
		peers:       make(map[nodeid.NodeID]PeerInfo),
	}
}

// Present returns the current validated offset map.
func (s *State) Present() offsetmap.OffsetMap { return s.present.Get() }

// HighestSeen returns the current gossip-learned upper bound offset map.
func (s *State) HighestSeen() offsetmap.OffsetMap { return s.highestSeen.Get() }

// SetPresent replaces the present offset map and wakes observers.
func (s *State) SetPresent(m offsetmap.OffsetMap) { s.present.Set(m) }

// SetHighestSeen replaces the highest-seen offset map and wakes observers.
func (s *State) SetHighestSeen(m offsetmap.OffsetMap) { s.highestSeen.Set(m) }

// WaitPresentChange blocks until Present changes or ctx ends.
func (s *State) WaitPresentChange(ctx context.Context) (offsetmap.OffsetMap, error) {
	return s.present.Next(ctx)
}

// WaitHighestSeenChange blocks until HighestSeen changes or ctx ends.
func (s *State) WaitHighestSeenChange(ctx context.Context) (offsetmap.OffsetMap, error) {
	return s.highestSeen.Next(ctx)
}

// ToReplicate is "highest-seen minus present" (spec §4.4 offsets()).
func (s *State) ToReplicate() offsetmap.OffsetMap {
	return offsetmap.Deficit(s.HighestSeen(), s.Present())
}

// UpdatePeer applies mutate to the stored PeerInfo for id, creating it if
// absent. LastSeen is stamped by the caller via the mutate callback.
func (s *State) UpdatePeer(id nodeid.NodeID, mutate func(*PeerInfo)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := s.peers[id]
	mutate(&info)
	s.peers[id] = info
}

// RemovePeer drops diagnostic state for a peer that disconnected.
func (s *State) RemovePeer(id nodeid.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, id)
}

// Peers returns a snapshot of every tracked peer's diagnostics.
func (s *State) Peers() map[nodeid.NodeID]PeerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[nodeid.NodeID]PeerInfo, len(s.peers))
	for k, v := range s.peers {
		out[k] = v
	}
	return out
}
