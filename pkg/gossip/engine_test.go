package gossip

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/edgemesh/axcore/pkg/banyan"
	"github.com/edgemesh/axcore/pkg/blockstore"
	"github.com/edgemesh/axcore/pkg/event"
	"github.com/edgemesh/axcore/pkg/eventstore"
	"github.com/edgemesh/axcore/pkg/nodeid"
	"github.com/edgemesh/axcore/pkg/replication"
	"github.com/edgemesh/axcore/pkg/tags"
)

type testNode struct {
	id     nodeid.NodeID
	bs     *blockstore.Store
	tree   *banyan.Tree
	repl   *replication.State
	store  *eventstore.Store
	engine *Engine
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()
	dir := t.TempDir()
	bs, err := blockstore.Open(context.Background(), filepath.Join(dir, "blocks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })

	tree, err := banyan.New(bs, banyan.DefaultConfig(), 64)
	require.NoError(t, err)

	id, err := nodeid.New()
	require.NoError(t, err)

	repl := replication.New()
	store := eventstore.New(tree, bs, repl, id)
	store.Start(context.Background())
	t.Cleanup(store.Stop)

	cfg := DefaultConfig()
	cfg.RootMapInterval = time.Hour // tests drive convergence explicitly
	engine := New(id, store, bs, banyan.Children, repl, cfg)
	engine.Start(context.Background())
	t.Cleanup(engine.Stop)

	return &testNode{id: id, bs: bs, tree: tree, repl: repl, store: store, engine: engine}
}

// connect wires a's engine and b's engine together over a real WebSocket
// pair (mirrors the teacher's manager_test.go httptest + websocket.Dial
// pattern), each side registering the other under its node id.
func connect(t *testing.T, a, b *testNode) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		go a.engine.HandleConnection(context.Background(), b.id, conn)
	}))
	t.Cleanup(server.Close)

	url := "ws" + server.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	go b.engine.HandleConnection(context.Background(), a.id, conn)

	// Allow both sides' initial root-map announce to complete.
	time.Sleep(50 * time.Millisecond)
}

func mustTags(t *testing.T, raw ...string) tags.Set {
	t.Helper()
	s, err := tags.NewSet(raw...)
	require.NoError(t, err)
	return s
}

func TestRootUpdateFastPathReplicates(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)
	connect(t, a, b)

	ctx := context.Background()
	assigned, err := a.store.Publish(ctx, "com.example.app", 0, []eventstore.PublishItem{
		{Tags: mustTags(t, "x"), Payload: []byte("hi")},
	})
	require.NoError(t, err)

	stream := nodeid.StreamID{Node: a.id, Nr: 0}
	roots, _ := a.store.RootsSnapshot()
	root := roots[stream]
	block, err := a.bs.Get(ctx, root)
	require.NoError(t, err)

	a.engine.PublishRoot(stream, root, assigned[0].Offset, assigned[0].Lamport, [][]byte{block})

	require.Eventually(t, func() bool {
		present, _ := b.store.Offsets()
		return present.Get(stream.String()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRootMapConvergesAfterMissedUpdate(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	ctx := context.Background()
	assigned, err := a.store.Publish(ctx, "com.example.app", 0, []eventstore.PublishItem{
		{Tags: mustTags(t, "x"), Payload: []byte("hi")},
	})
	require.NoError(t, err)
	stream := nodeid.StreamID{Node: a.id, Nr: 0}

	// Connect only after the publish: b never sees the fast-path update,
	// so it must converge via a's initial root-map announce plus the slow
	// path's block fetch.
	connect(t, a, b)

	require.Eventually(t, func() bool {
		present, _ := b.store.Offsets()
		return present.Get(stream.String()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	_ = assigned
}

func TestValidateFailsOnUnresolvableBlock(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)
	connect(t, a, b)

	ctx := context.Background()
	other, err := nodeid.New()
	require.NoError(t, err)
	ghostStream := nodeid.StreamID{Node: other, Nr: 0}

	// Build the ghost root in a throwaway blockstore that neither a nor b
	// ever opens, so the block behind it is not present in a's store to
	// serve a Want: unlike TestRootMapConvergesAfterMissedUpdate, this
	// root is genuinely unresolvable, not merely unannounced.
	dir := t.TempDir()
	orphanBS, err := blockstore.Open(ctx, filepath.Join(dir, "orphan.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = orphanBS.Close() })

	bogusTree, err := banyan.New(orphanBS, banyan.DefaultConfig(), 8)
	require.NoError(t, err)
	root, err := bogusTree.Extend(ctx, blockstore.CID{}, []event.Event{
		{Stream: ghostStream, Offset: 0, Lamport: 1, Tags: mustTags(t, "x"), AppID: "com.example.app", Payload: []byte("ghost")},
	})
	require.NoError(t, err)

	a.engine.PublishRoot(ghostStream, root, 0, 1, nil)

	// Give b the same budget TestRootMapConvergesAfterMissedUpdate gets to
	// converge; here it must never succeed, since a can't serve the block.
	require.Never(t, func() bool {
		present, _ := b.store.Offsets()
		return present.Get(ghostStream.String()) == 0
	}, 2*time.Second, 50*time.Millisecond)
}
