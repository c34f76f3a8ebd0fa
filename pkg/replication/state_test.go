package replication

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/edgemesh/axcore/pkg/nodeid"
	"github.com/edgemesh/axcore/pkg/offsetmap"
)

func TestPresentAndHighestSeenRoundTrip(t *testing.T) {
	s := New()
	require.Equal(t, offsetmap.NoEvent, s.Present().Get("node.0"))

	present := offsetmap.New().Set("node.0", 4)
	s.SetPresent(present)
	require.True(t, s.Present().Equal(present))

	seen := offsetmap.New().Set("node.0", 9)
	s.SetHighestSeen(seen)
	require.True(t, s.HighestSeen().Equal(seen))
}

func TestToReplicateIsDeficit(t *testing.T) {
	s := New()
	s.SetPresent(offsetmap.New().Set("node.0", 3))
	s.SetHighestSeen(offsetmap.New().Set("node.0", 8))

	deficit := s.ToReplicate()
	require.Equal(t, int64(8), deficit.Get("node.0"))
}

func TestWaitPresentChangeWakesOnSet(t *testing.T) {
	s := New()
	done := make(chan offsetmap.OffsetMap, 1)
	go func() {
		v, err := s.WaitPresentChange(context.Background())
		require.NoError(t, err)
		done <- v
	}()

	time.Sleep(10 * time.Millisecond)
	next := offsetmap.New().Set("node.0", 1)
	s.SetPresent(next)

	select {
	case v := <-done:
		require.True(t, v.Equal(next))
	case <-time.After(time.Second):
		t.Fatal("WaitPresentChange did not wake")
	}
}

func TestWaitPresentChangeRespectsContextCancel(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.WaitPresentChange(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestPeerDiagnostics(t *testing.T) {
	s := New()
	id, err := nodeid.New()
	require.NoError(t, err)

	s.UpdatePeer(id, func(p *PeerInfo) {
		p.Direction = "outbound"
		p.Addresses = []string{"10.0.0.1:4001"}
	})

	peers := s.Peers()
	require.Contains(t, peers, id)
	require.Equal(t, "outbound", peers[id].Direction)

	s.RemovePeer(id)
	require.NotContains(t, s.Peers(), id)
}
