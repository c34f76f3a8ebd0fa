package offsetmap

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOnlySelectsNothing(t *testing.T) {
	m := New()
	assert.Equal(t, NoEvent, m.Get("anything"))
}

func TestUnionLatticeLaws(t *testing.T) {
	a := New().Set("s1", 3).Set("s2", 1)
	b := New().Set("s1", 1).Set("s3", 5)

	// commutative
	assert.True(t, a.Union(b).Equal(b.Union(a)))
	// idempotent
	assert.True(t, a.Union(a).Equal(a))
	// associative
	c := New().Set("s4", 2)
	assert.True(t, a.Union(b).Union(c).Equal(a.Union(b.Union(c))))
}

func TestIntersectIsMeet(t *testing.T) {
	present := New().Set("s1", 5)
	highestSeen := New().Set("s1", 7).Set("s2", 2)
	meet := present.Intersect(highestSeen)
	assert.True(t, meet.IsSubsetOf(present))
	assert.True(t, present.IsSubsetOf(highestSeen))
}

func TestJSONRoundTrip(t *testing.T) {
	m := New().Set("nodeA.0", 3).Set("nodeB.0", -1)
	b, err := json.Marshal(m)
	require.NoError(t, err)

	var got OffsetMap
	require.NoError(t, json.Unmarshal(b, &got))
	assert.True(t, m.Equal(got))
}

func TestIsSubsetOf(t *testing.T) {
	a := New().Set("s1", 2)
	b := New().Set("s1", 5).Set("s2", 1)
	assert.True(t, a.IsSubsetOf(b))
	assert.False(t, b.IsSubsetOf(a))
}

func TestDeficitOmitsCaughtUpStreams(t *testing.T) {
	highestSeen := New().Set("s1", 10).Set("s2", 3)
	present := New().Set("s1", 4).Set("s2", 3)

	d := Deficit(highestSeen, present)
	assert.Equal(t, int64(10), d.Get("s1"))
	assert.Equal(t, NoEvent, d.Get("s2"))
}

func TestDeficitEmptyWhenFullyCaughtUp(t *testing.T) {
	m := New().Set("s1", 5)
	d := Deficit(m, m)
	assert.Equal(t, NoEvent, d.Get("s1"))
}
