package eventstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgemesh/axcore/pkg/banyan"
	"github.com/edgemesh/axcore/pkg/blockstore"
	"github.com/edgemesh/axcore/pkg/event"
	"github.com/edgemesh/axcore/pkg/nodeid"
	"github.com/edgemesh/axcore/pkg/offsetmap"
	"github.com/edgemesh/axcore/pkg/replication"
	"github.com/edgemesh/axcore/pkg/tags"
)

func newTestStore(t *testing.T) (*Store, nodeid.NodeID) {
	t.Helper()
	dir := t.TempDir()
	bs, err := blockstore.Open(context.Background(), filepath.Join(dir, "blocks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })

	tree, err := banyan.New(bs, banyan.DefaultConfig(), 64)
	require.NoError(t, err)

	node, err := nodeid.New()
	require.NoError(t, err)

	s := New(tree, bs, replication.New(), node)
	s.Start(context.Background())
	t.Cleanup(s.Stop)
	return s, node
}

func mustTagSet(t *testing.T, raw ...string) tags.Set {
	t.Helper()
	set, err := tags.NewSet(raw...)
	require.NoError(t, err)
	return set
}

func dnfOf(t *testing.T, expr string) tags.DNF {
	t.Helper()
	e, err := tags.ParseExpr(expr)
	require.NoError(t, err)
	d, err := tags.ToDNF(e)
	require.NoError(t, err)
	return d
}

func TestPublishAssignsContiguousOffsetsAndLamports(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	assigned, err := s.Publish(ctx, "com.example.app", 0, []PublishItem{
		{Tags: mustTagSet(t, "a"), Payload: []byte("1")},
		{Tags: mustTagSet(t, "a"), Payload: []byte("2")},
		{Tags: mustTagSet(t, "a"), Payload: []byte("3")},
	})
	require.NoError(t, err)
	require.Len(t, assigned, 3)
	for i, a := range assigned {
		require.Equal(t, uint64(i), a.Offset)
	}
	require.Less(t, assigned[0].Lamport, assigned[1].Lamport)
	require.Less(t, assigned[1].Lamport, assigned[2].Lamport)
}

func TestOffsetsReflectsPresent(t *testing.T) {
	s, node := newTestStore(t)
	ctx := context.Background()

	_, err := s.Publish(ctx, "com.example.app", 0, []PublishItem{
		{Tags: mustTagSet(t, "a"), Payload: []byte("1")},
	})
	require.NoError(t, err)

	present, _ := s.Offsets()
	stream := nodeid.StreamID{Node: node, Nr: 0}
	require.Equal(t, int64(0), present.Get(stream.String()))
}

func TestBoundedForwardReturnsPublishedEventsInOrder(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Publish(ctx, "com.example.app", 0, []PublishItem{
		{Tags: mustTagSet(t, "a"), Payload: []byte("1")},
		{Tags: mustTagSet(t, "a"), Payload: []byte("2")},
	})
	require.NoError(t, err)

	present, _ := s.Offsets()
	var payloads [][]byte
	err = s.BoundedForward(ctx, BoundedQuery{
		Tags:        dnfOf(t, "'a'"),
		FromExcl:    offsetmap.New(),
		ToIncl:      present,
		StrictOrder: true,
	}, func(e event.Event) (bool, error) {
		payloads = append(payloads, e.Payload)
		return true, nil
	})
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("1"), []byte("2")}, payloads)
}

func TestBoundedBackwardReturnsReverseOrder(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Publish(ctx, "com.example.app", 0, []PublishItem{
		{Tags: mustTagSet(t, "a"), Payload: []byte("1")},
		{Tags: mustTagSet(t, "a"), Payload: []byte("2")},
	})
	require.NoError(t, err)

	present, _ := s.Offsets()
	var payloads [][]byte
	err = s.BoundedBackward(ctx, BoundedQuery{
		Tags:     dnfOf(t, "'a'"),
		FromExcl: offsetmap.New(),
		ToIncl:   present,
	}, func(e event.Event) (bool, error) {
		payloads = append(payloads, e.Payload)
		return true, nil
	})
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("2"), []byte("1")}, payloads)
}

func TestBoundedForwardRejectsUpperBoundAheadOfPresent(t *testing.T) {
	s, node := newTestStore(t)
	ctx := context.Background()

	stream := nodeid.StreamID{Node: node, Nr: 0}
	tooFar := offsetmap.New().Set(stream.String(), 5)

	err := s.BoundedForward(ctx, BoundedQuery{
		Tags:     dnfOf(t, "'a'"),
		FromExcl: offsetmap.New(),
		ToIncl:   tooFar,
	}, func(e event.Event) (bool, error) { return true, nil })
	require.ErrorIs(t, err, ErrUpperBoundNotPresent)
}

func TestRestoreRehydratesFromPersistentPins(t *testing.T) {
	dir := t.TempDir()
	bs, err := blockstore.Open(context.Background(), filepath.Join(dir, "blocks.db"))
	require.NoError(t, err)
	defer bs.Close()

	tree, err := banyan.New(bs, banyan.DefaultConfig(), 64)
	require.NoError(t, err)

	node, err := nodeid.New()
	require.NoError(t, err)

	repl := replication.New()
	s := New(tree, bs, repl, node)
	s.Start(context.Background())

	ctx := context.Background()
	assigned, err := s.Publish(ctx, "com.example.app", 0, []PublishItem{
		{Tags: mustTagSet(t, "a"), Payload: []byte("1")},
	})
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	s.Stop()

	stream := nodeid.StreamID{Node: node, Nr: 0}
	restored := New(tree, bs, replication.New(), node)
	err = restored.Restore(ctx)
	require.NoError(t, err)

	present, _ := restored.Offsets()
	require.Equal(t, int64(0), present.Get(stream.String()))
}

func TestApplyReplicatedRootUpdatesPresent(t *testing.T) {
	s, node := newTestStore(t)
	other, err := nodeid.New()
	require.NoError(t, err)
	ctx := context.Background()

	remoteStream := nodeid.StreamID{Node: other, Nr: 0}
	tree := s.tree
	root, err := tree.Extend(ctx, blockstore.CID{}, nil)
	require.NoError(t, err)
	require.NoError(t, s.ApplyReplicatedRoot(ctx, remoteStream, root, 0, 1))

	present, _ := s.Offsets()
	require.Equal(t, int64(0), present.Get(remoteStream.String()))

	_ = node
}

func TestSubscribeDeliversPresentThenLive(t *testing.T) {
	s, node := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := s.Publish(ctx, "com.example.app", 0, []PublishItem{
		{Tags: mustTagSet(t, "a"), Payload: []byte("1")},
	})
	require.NoError(t, err)

	delivered := make(chan []byte, 8)
	go func() {
		_ = s.Subscribe(ctx, dnfOf(t, "'a'"), offsetmap.New(), nil, func(e event.Event) (bool, error) {
			delivered <- e.Payload
			return true, nil
		})
	}()

	require.Equal(t, []byte("1"), <-delivered)

	_, err = s.Publish(ctx, "com.example.app", 0, []PublishItem{
		{Tags: mustTagSet(t, "a"), Payload: []byte("2")},
	})
	require.NoError(t, err)

	require.Equal(t, []byte("2"), <-delivered)
	_ = node
}

func TestSubscribeMonotonicEmitsTimeTravelOnBackfill(t *testing.T) {
	s, node := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := s.Publish(ctx, "com.example.app", 0, []PublishItem{
		{Tags: mustTagSet(t, "a"), Payload: []byte("local-1")},
		{Tags: mustTagSet(t, "a"), Payload: []byte("local-2")},
	})
	require.NoError(t, err)
	present, _ := s.Offsets()
	localStream := nodeid.StreamID{Node: node, Nr: 0}
	localKey := present.Get(localStream.String())
	require.Equal(t, int64(1), localKey)

	items := make(chan MonotonicItem, 8)
	go func() {
		_ = s.SubscribeMonotonic(ctx, dnfOf(t, "'a'"), offsetmap.New(), nil, func(it MonotonicItem) (bool, error) {
			items <- it
			return true, nil
		})
	}()

	first := <-items
	require.False(t, first.TimeTravel)
	require.Equal(t, []byte("local-1"), first.Event.Payload)
	second := <-items
	require.False(t, second.TimeTravel)
	require.Equal(t, []byte("local-2"), second.Event.Payload)

	other, err := nodeid.New()
	require.NoError(t, err)
	remoteStream := nodeid.StreamID{Node: other, Nr: 0}
	remoteRoot, err := s.tree.Extend(ctx, blockstore.CID{}, []event.Event{
		{Stream: remoteStream, Offset: 0, Lamport: 1, Tags: mustTagSet(t, "a"), AppID: "com.example.app", Payload: []byte("remote-old")},
	})
	require.NoError(t, err)
	require.NoError(t, s.ApplyReplicatedRoot(ctx, remoteStream, remoteRoot, 0, 1))

	next := <-items
	require.True(t, next.TimeTravel)
}
