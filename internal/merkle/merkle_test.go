package merkle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyTreeHasNoRoot(t *testing.T) {
	tr := New(nil)
	_, err := tr.RootHash()
	assert.ErrorIs(t, err, ErrEmpty)
	assert.Equal(t, 0, tr.LeafCount())
}

func TestInsertRequiresBytes(t *testing.T) {
	tr := New(nil)
	assert.Panics(t, func() { tr.Insert(42) })
}

func TestRootHashDeterministicForSameLeaves(t *testing.T) {
	build := func() *Tree {
		tr := New(nil)
		for _, s := range []string{"a", "b", "c", "d", "e"} {
			tr.InsertBytes([]byte(s))
		}
		return tr
	}

	t1, t2 := build(), build()
	r1, err1 := t1.RootHash()
	require.NoError(t, err1)
	r2, err2 := t2.RootHash()
	require.NoError(t, err2)
	assert.Equal(t, r1, r2)
}

func TestRootHashChangesOnDivergence(t *testing.T) {
	t1 := New(nil)
	for _, s := range []string{"a", "b", "c"} {
		t1.InsertBytes([]byte(s))
	}
	t2 := New(nil)
	for _, s := range []string{"a", "b", "x"} {
		t2.InsertBytes([]byte(s))
	}

	r1, _ := t1.RootHash()
	r2, _ := t2.RootHash()
	assert.NotEqual(t, r1, r2)
}

func TestSingleChildPromotionOddLeafCount(t *testing.T) {
	tr := New(nil)
	for _, s := range []string{"a", "b", "c"} {
		tr.InsertBytes([]byte(s))
	}
	// level 0 has 3 leaves; level 1 must have ceil(3/2) = 2 entries, with the
	// lone third leaf's digest promoted unchanged rather than padded.
	require.Len(t, tr.levelAt(0), 3)
	level1 := tr.levelAt(1)
	require.Len(t, level1, 2)
	assert.Equal(t, tr.levelAt(0)[2], level1[1])
}

func TestCompareWithBothEmptyIsSame(t *testing.T) {
	a, b := New(nil), New(nil)
	assert.Equal(t, Same, a.CompareWith(b).Kind)
}

func TestCompareWithSenderEmptyReceiverNotIsFromZero(t *testing.T) {
	receiver := New(nil)
	receiver.InsertBytes([]byte("a"))
	sender := New(nil)

	div := receiver.CompareWith(sender)
	assert.Equal(t, FromIndex, div.Kind)
	assert.Equal(t, 0, div.Index)
}

func TestCompareWithReceiverEmptySenderNotIsDoNothing(t *testing.T) {
	sender := New(nil)
	sender.InsertBytes([]byte("a"))
	receiver := New(nil)

	div := receiver.CompareWith(sender)
	assert.Equal(t, DoNothing, div.Kind)
}

func TestCompareWithIdenticalTreesIsSame(t *testing.T) {
	build := func() *Tree {
		tr := New(nil)
		for _, s := range []string{"a", "b", "c", "d"} {
			tr.InsertBytes([]byte(s))
		}
		return tr
	}
	a, b := build(), build()
	assert.Equal(t, Same, a.CompareWith(b).Kind)
}

func TestCompareWithDivergenceAtLastLeaf(t *testing.T) {
	receiver := New(nil)
	for _, s := range []string{"a", "b", "c", "d"} {
		receiver.InsertBytes([]byte(s))
	}
	sender := New(nil)
	for _, s := range []string{"a", "b", "c", "x"} {
		sender.InsertBytes([]byte(s))
	}

	div := receiver.CompareWith(sender)
	require.Equal(t, FromIndex, div.Kind)
	assert.Equal(t, 3, div.Index)
}

// TestFiveLeafShapeMatchesSpecFixture checks a known five-leaf shape: a
// root_level of 3, and a root hash that is the single-child-promoted
// combination on the right spine (H(H(H(h1∥h2)∥H(h3∥h4))∥h5)).
func TestFiveLeafShapeMatchesSpecFixture(t *testing.T) {
	inputs := [][]byte{
		[]byte("HI"),
		[]byte("I AM YIN"),
		[]byte("THIS IS DIST SYS"),
		[]byte("PROJECT DYNAMO"),
		{12, 23, 45, 56},
	}

	tr := New(nil)
	for _, b := range inputs {
		tr.InsertBytes(b)
	}

	require.Equal(t, 5, tr.LeafCount())
	require.Equal(t, 3, tr.RootLevel())
	require.Len(t, tr.levelAt(tr.RootLevel()), 1)

	h := make([][]byte, len(inputs))
	for i, b := range inputs {
		h[i] = DefaultHash(b)
	}
	left := DefaultHash(concat(DefaultHash(concat(h[0], h[1])), DefaultHash(concat(h[2], h[3]))))
	wantRoot := DefaultHash(concat(left, h[4]))

	gotRoot, err := tr.RootHash()
	require.NoError(t, err)
	assert.Equal(t, wantRoot, gotRoot)
}

func TestFromDigestsReproducesRootOfSourceTree(t *testing.T) {
	src := New(nil)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		src.InsertBytes([]byte(s))
	}
	srcRoot, err := src.RootHash()
	require.NoError(t, err)

	rebuilt := FromDigests(src.Leaves())
	rebuiltRoot, err := rebuilt.RootHash()
	require.NoError(t, err)

	assert.Equal(t, srcRoot, rebuiltRoot)
	assert.Equal(t, Same, src.CompareWith(rebuilt).Kind)
}
