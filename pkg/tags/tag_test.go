package tags

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyTagRejected(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, ErrEmptyTag)
}

func TestSetRoundTrip(t *testing.T) {
	s, err := NewSet("b", "a", "a", "c")
	require.NoError(t, err)
	assert.Equal(t, "a:b:c", s.String())

	parsed, err := ParseSet(s.String())
	require.NoError(t, err)
	assert.True(t, s.Equal(parsed))
}

func TestSetAlgebra(t *testing.T) {
	a, _ := NewSet("a", "b")
	b, _ := NewSet("b", "c")

	assert.True(t, a.Union(b).Equal(mustSet(t, "a", "b", "c")))
	assert.True(t, a.Intersect(b).Equal(mustSet(t, "b")))
	assert.True(t, a.Difference(b).Equal(mustSet(t, "a")))
	assert.True(t, a.Union(b).IsSupersetOf(a))
	assert.False(t, a.IsSupersetOf(b))
}

func TestNFCNormalization(t *testing.T) {
	// "é" as combining sequence (e + combining acute) vs precomposed.
	decomposed := "é"
	precomposed := "é"
	dt, err := New(decomposed)
	require.NoError(t, err)
	pt, err := New(precomposed)
	require.NoError(t, err)
	assert.Equal(t, pt, dt)
}

func mustSet(t *testing.T, raw ...string) Set {
	t.Helper()
	s, err := NewSet(raw...)
	require.NoError(t, err)
	return s
}
