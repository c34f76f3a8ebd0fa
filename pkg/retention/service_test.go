package retention

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgemesh/axcore/pkg/banyan"
	"github.com/edgemesh/axcore/pkg/blockstore"
	"github.com/edgemesh/axcore/pkg/config"
	"github.com/edgemesh/axcore/pkg/event"
	"github.com/edgemesh/axcore/pkg/eventstore"
	"github.com/edgemesh/axcore/pkg/nodeid"
	"github.com/edgemesh/axcore/pkg/replication"
	"github.com/edgemesh/axcore/pkg/tags"
)

func newTestFixture(t *testing.T) (*banyan.Tree, *blockstore.Store, *eventstore.Store) {
	t.Helper()
	dir := t.TempDir()
	bs, err := blockstore.Open(context.Background(), filepath.Join(dir, "blocks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })

	tree, err := banyan.New(bs, banyan.DefaultConfig(), 64)
	require.NoError(t, err)

	node, err := nodeid.New()
	require.NoError(t, err)

	store := eventstore.New(tree, bs, replication.New(), node)
	store.Start(context.Background())
	t.Cleanup(store.Stop)

	return tree, bs, store
}

func publishN(t *testing.T, store *eventstore.Store, n int, payloadSize int) {
	t.Helper()
	set, err := tags.NewSet("a")
	require.NoError(t, err)

	items := make([]eventstore.PublishItem, n)
	for i := range items {
		items[i] = eventstore.PublishItem{Tags: set, Payload: make([]byte, payloadSize)}
	}
	_, err = store.Publish(context.Background(), "com.example.app", 0, items)
	require.NoError(t, err)
}

// countLive walks root and counts the surviving events.
func countLive(t *testing.T, tree *banyan.Tree, root blockstore.CID) int {
	t.Helper()
	n := 0
	err := tree.Walk(context.Background(), root, banyan.Query{FromOffsetExcl: -1, ToOffsetIncl: -1}, true, func(_ event.Event) (bool, error) {
		n++
		return true, nil
	})
	require.NoError(t, err)
	return n
}

func onlyRoot(t *testing.T, roots map[nodeid.StreamID]blockstore.CID) blockstore.CID {
	t.Helper()
	require.Len(t, roots, 1)
	for _, root := range roots {
		return root
	}
	return blockstore.CID{}
}

func TestPruneStreamByCount(t *testing.T) {
	tree, bs, store := newTestFixture(t)
	publishN(t, store, 10, 4)

	cfg := &config.RetentionConfig{MaxCount: 4}
	svc := NewService(cfg, tree, bs, store)
	svc.runAll(context.Background())

	root := onlyRoot(t, store.LocalStreamRoots())
	assert.Equal(t, 4, countLive(t, tree, root))
}

func TestPruneStreamByAge(t *testing.T) {
	tree, bs, store := newTestFixture(t)
	publishN(t, store, 5, 4)
	time.Sleep(2 * time.Millisecond)

	cfg := &config.RetentionConfig{MaxAge: time.Microsecond}
	svc := NewService(cfg, tree, bs, store)
	svc.runAll(context.Background())

	root := onlyRoot(t, store.LocalStreamRoots())
	assert.Equal(t, 0, countLive(t, tree, root))
}

func TestPruneStreamBySize(t *testing.T) {
	tree, bs, store := newTestFixture(t)
	publishN(t, store, 10, 100)

	cfg := &config.RetentionConfig{MaxSizeBytes: 350}
	svc := NewService(cfg, tree, bs, store)
	svc.runAll(context.Background())

	root := onlyRoot(t, store.LocalStreamRoots())
	assert.Equal(t, 3, countLive(t, tree, root))
}

func TestRunAllNoopWhenNoPolicyConfigured(t *testing.T) {
	tree, bs, store := newTestFixture(t)
	publishN(t, store, 5, 4)

	before := onlyRoot(t, store.LocalStreamRoots())

	svc := NewService(&config.RetentionConfig{}, tree, bs, store)
	svc.runAll(context.Background())

	after := onlyRoot(t, store.LocalStreamRoots())
	assert.Equal(t, before, after)
	assert.Equal(t, 5, countLive(t, tree, after))
}

func TestRunAllNoopWhenNothingCrossesThreshold(t *testing.T) {
	tree, bs, store := newTestFixture(t)
	publishN(t, store, 3, 4)

	cfg := &config.RetentionConfig{MaxCount: 100}
	svc := NewService(cfg, tree, bs, store)
	svc.runAll(context.Background())

	root := onlyRoot(t, store.LocalStreamRoots())
	assert.Equal(t, 3, countLive(t, tree, root))
}
