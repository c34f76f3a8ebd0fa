package blockstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), filepath.Join(dir, "blocks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cid, err := s.Put(ctx, []byte("hello"))
	require.NoError(t, err)

	has, err := s.Has(ctx, cid)
	require.NoError(t, err)
	require.True(t, has)

	data, err := s.Get(ctx, cid)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), Sum([]byte("never stored")))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPutIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, err := s.Put(ctx, []byte("same"))
	require.NoError(t, err)
	b, err := s.Put(ctx, []byte("same"))
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestPersistentPinRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cid, err := s.Put(ctx, []byte("pinned"))
	require.NoError(t, err)
	require.NoError(t, s.PersistentPin(ctx, "stream-a", cid))

	pins, err := s.PersistentPins(ctx)
	require.NoError(t, err)
	require.Equal(t, cid, pins["stream-a"])

	require.NoError(t, s.Unpin(ctx, "stream-a"))
	pins, err = s.PersistentPins(ctx)
	require.NoError(t, err)
	require.NotContains(t, pins, "stream-a")
}

func TestPersistentPinReplacesTarget(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, err := s.Put(ctx, []byte("first root"))
	require.NoError(t, err)
	b, err := s.Put(ctx, []byte("second root"))
	require.NoError(t, err)

	require.NoError(t, s.PersistentPin(ctx, "stream-a", a))
	require.NoError(t, s.PersistentPin(ctx, "stream-a", b))

	pins, err := s.PersistentPins(ctx)
	require.NoError(t, err)
	require.Equal(t, b, pins["stream-a"])
}

func TestGCKeepsReachableDeletesOrphans(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	leaf, err := s.Put(ctx, []byte("leaf"))
	require.NoError(t, err)
	root, err := s.Put(ctx, append([]byte("root->"), leaf.String()...))
	require.NoError(t, err)
	orphan, err := s.Put(ctx, []byte("orphan"))
	require.NoError(t, err)

	require.NoError(t, s.PersistentPin(ctx, "stream-a", root))

	children := func(data []byte) ([]CID, error) {
		if string(data[:6]) != "root->" {
			return nil, nil
		}
		c, err := ParseCID(string(data[6:]))
		if err != nil {
			return nil, err
		}
		return []CID{c}, nil
	}

	removed, err := s.GC(ctx, children)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	has, err := s.Has(ctx, orphan)
	require.NoError(t, err)
	require.False(t, has)

	has, err = s.Has(ctx, leaf)
	require.NoError(t, err)
	require.True(t, has)

	has, err = s.Has(ctx, root)
	require.NoError(t, err)
	require.True(t, has)
}

func TestGCRespectsTempPin(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cid, err := s.Put(ctx, []byte("ephemeral"))
	require.NoError(t, err)

	pin := s.CreateTempPin()
	pin.Pin(cid)

	noop := func([]byte) ([]CID, error) { return nil, nil }
	removed, err := s.GC(ctx, noop)
	require.NoError(t, err)
	require.Equal(t, 0, removed)

	pin.Drop()
	removed, err = s.GC(ctx, noop)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
}

func TestBlobRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cid, err := s.PutBlob(ctx, []byte("attachment bytes"))
	require.NoError(t, err)

	data, err := s.GetBlob(ctx, cid)
	require.NoError(t, err)
	require.Equal(t, []byte("attachment bytes"), data)
}

func TestCIDStringRoundTrip(t *testing.T) {
	cid := Sum([]byte("payload"))
	s := cid.String()
	parsed, err := ParseCID(s)
	require.NoError(t, err)
	require.Equal(t, cid, parsed)
}

func TestParseCIDRejectsGarbage(t *testing.T) {
	_, err := ParseCID("not-a-cid")
	require.ErrorIs(t, err, ErrInvalidCID)
}
