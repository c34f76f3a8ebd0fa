package event

import (
	"testing"

	"github.com/edgemesh/axcore/pkg/nodeid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyOrdering(t *testing.T) {
	n1, err := nodeid.New()
	require.NoError(t, err)
	n2, err := nodeid.New()
	require.NoError(t, err)

	k1 := Key{Lamport: 1, Stream: nodeid.StreamID{Node: n1, Nr: 0}}
	k2 := Key{Lamport: 1, Stream: nodeid.StreamID{Node: n2, Nr: 0}}
	k3 := Key{Lamport: 2, Stream: nodeid.StreamID{Node: n1, Nr: 0}}

	// Lower lamport always orders first regardless of stream id.
	assert.True(t, k1.Less(k3))
	assert.False(t, k3.Less(k1))

	// Same lamport: stream id breaks the tie, and exactly one order holds.
	assert.NotEqual(t, k1.Less(k2), k2.Less(k1))
}

func TestValidate(t *testing.T) {
	n, _ := nodeid.New()
	e := Event{Stream: nodeid.StreamID{Node: n}, AppID: "app"}
	assert.NoError(t, e.Validate())

	e.AppID = ""
	assert.Error(t, e.Validate())
}
