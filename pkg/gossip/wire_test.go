package gossip

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeRootUpdateRoundTrip(t *testing.T) {
	env := envelope{
		Kind: kindRootUpdate,
		RootUpdate: &rootUpdateMsg{
			Stream:  "u00.0",
			Root:    "broot",
			Lamport: 7,
			Offset:  3,
			TimeUs:  1000,
			Blocks:  [][]byte{[]byte("a"), []byte("b")},
		},
	}
	data, err := encodeEnvelope(env)
	require.NoError(t, err)

	got, err := decodeEnvelope(data)
	require.NoError(t, err)
	require.Equal(t, kindRootUpdate, got.Kind)
	require.NotNil(t, got.RootUpdate)
	require.Equal(t, env.RootUpdate.Stream, got.RootUpdate.Stream)
	require.Equal(t, env.RootUpdate.Blocks, got.RootUpdate.Blocks)
}

func TestEnvelopeRootMapRoundTrip(t *testing.T) {
	env := envelope{
		Kind: kindRootMap,
		RootMap: &rootMapMsg{
			Entries: map[string]string{"u00.0": "broot"},
			Offsets: map[string]offLamp{"u00.0": {Offset: 3, Lamport: 7}},
			Lamport: 7,
			TimeUs:  1000,
		},
	}
	data, err := encodeEnvelope(env)
	require.NoError(t, err)

	got, err := decodeEnvelope(data)
	require.NoError(t, err)
	require.Equal(t, kindRootMap, got.Kind)
	require.Equal(t, env.RootMap.Entries, got.RootMap.Entries)
	require.Equal(t, env.RootMap.Offsets, got.RootMap.Offsets)
}

func TestEnvelopeHaveWantBlockRoundTrip(t *testing.T) {
	for _, env := range []envelope{
		{Kind: kindHave, Have: &haveMsg{CIDs: []string{"b1", "b2"}}},
		{Kind: kindWant, Want: &wantMsg{CIDs: []string{"b1"}}},
		{Kind: kindBlock, Block: &blockMsg{CID: "b1", Data: []byte("hello")}},
	} {
		data, err := encodeEnvelope(env)
		require.NoError(t, err)
		got, err := decodeEnvelope(data)
		require.NoError(t, err)
		require.Equal(t, env.Kind, got.Kind)
	}
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	_, err := decodeEnvelope([]byte("not cbor"))
	require.Error(t, err)
}
