package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefReturnsKDistinctNodes(t *testing.T) {
	r := New(32)
	for _, id := range []string{"n1", "n2", "n3", "n4"} {
		r.AddNode(id)
	}

	got := r.Pref("some-key", 3)
	require.Len(t, got, 3)

	seen := make(map[string]bool)
	for _, id := range got {
		assert.False(t, seen[id], "Pref must not repeat a node")
		seen[id] = true
	}
}

func TestPrefIsDeterministic(t *testing.T) {
	r := New(32)
	for _, id := range []string{"n1", "n2", "n3"} {
		r.AddNode(id)
	}

	a := r.Pref("stable-key", 2)
	b := r.Pref("stable-key", 2)
	assert.Equal(t, a, b)
}

func TestPrefCapsAtNodeCount(t *testing.T) {
	r := New(16)
	r.AddNode("only")

	got := r.Pref("key", 5)
	assert.Equal(t, []string{"only"}, got)
}

func TestPrefEmptyRing(t *testing.T) {
	r := New(16)
	assert.Nil(t, r.Pref("key", 3))
}

func TestAddNodeIsIdempotent(t *testing.T) {
	r := New(16)
	r.AddNode("n1")
	r.AddNode("n1")
	assert.Equal(t, 1, r.NodeCount())
}

func TestRemoveNodeDropsItFromPreferences(t *testing.T) {
	r := New(32)
	for _, id := range []string{"n1", "n2", "n3"} {
		r.AddNode(id)
	}
	r.RemoveNode("n2")

	for _, id := range r.Pref("any-key", 3) {
		assert.NotEqual(t, "n2", id)
	}
	assert.Equal(t, 2, r.NodeCount())
}

func TestNodesSortedAndDistinct(t *testing.T) {
	r := New(16)
	for _, id := range []string{"n3", "n1", "n2"} {
		r.AddNode(id)
	}
	assert.Equal(t, []string{"n1", "n2", "n3"}, r.Nodes())
}
