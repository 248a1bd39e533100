package vclock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickAdvancesOnlyNamedComponent(t *testing.T) {
	vc := Clock{"a": 1, "b": 2}
	ticked := Tick(vc, "a")

	require.Equal(t, uint64(2), ticked["a"])
	require.Equal(t, uint64(2), ticked["b"])
	assert.Equal(t, uint64(1), vc["a"], "Tick must not mutate its input")
}

func TestCombineIsPointwiseMax(t *testing.T) {
	a := Clock{"n1": 3, "n2": 1}
	b := Clock{"n1": 1, "n3": 5}

	got := Combine(a, b)
	assert.Equal(t, Clock{"n1": 3, "n2": 1, "n3": 5}, got)
}

func TestCompareBeforeAfter(t *testing.T) {
	a := Clock{"n1": 1}
	b := Tick(a, "n1")

	assert.Equal(t, Before, Compare(a, b))
	assert.Equal(t, After, Compare(b, a))
}

func TestCompareConcurrentDivergentComponents(t *testing.T) {
	a := Clock{"n1": 2, "n2": 0}
	b := Clock{"n1": 1, "n2": 1}

	assert.Equal(t, Concurrent, Compare(a, b))
	assert.Equal(t, Concurrent, Compare(b, a))
}

func TestCompareIdenticalClocksIsConcurrentNotEqual(t *testing.T) {
	a := Clock{"n1": 4, "n2": 2}
	b := Clock{"n1": 4, "n2": 2}

	assert.Equal(t, Concurrent, Compare(a, b))
}

func TestCompareEmptyClocksIsConcurrent(t *testing.T) {
	assert.Equal(t, Concurrent, Compare(New(), New()))
}

func TestCombineCtxTakesLaterHintWhole(t *testing.T) {
	c1 := Ctx{Version: Clock{"n1": 1}, Hint: "node2"}
	c2 := Ctx{Version: Clock{"n1": 2}}

	merged := CombineCtx(c1, c2)
	assert.Equal(t, c2.Version, merged.Version)
	assert.Empty(t, merged.Hint, "c2 strictly dominates, its own (empty) hint wins")
}

func TestCombineCtxConcurrentPrefersLeftHint(t *testing.T) {
	c1 := Ctx{Version: Clock{"n1": 1}, Hint: "node3"}
	c2 := Ctx{Version: Clock{"n2": 1}}

	merged := CombineCtx(c1, c2)
	assert.Equal(t, "node3", merged.Hint)
	assert.Equal(t, Clock{"n1": 1, "n2": 1}, merged.Version)
}

func TestWithoutHintClearsOnlyHint(t *testing.T) {
	c := Ctx{Version: Clock{"n1": 2}, Hint: "node9"}
	stripped := c.WithoutHint()

	assert.Empty(t, stripped.Hint)
	assert.Equal(t, c.Version, stripped.Version)
}
