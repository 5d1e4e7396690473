package hierarchy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWouldCycleSelfParent(t *testing.T) {
	parents := Parents{1: NoParent}
	require.True(t, WouldCycle(parents, 1, 1))
}

func TestWouldCycleDescendantParent(t *testing.T) {
	// 1 <- 2 <- 3; moving 1 under 3 closes the loop.
	parents := Parents{1: NoParent, 2: 1, 3: 2}
	require.True(t, WouldCycle(parents, 1, 3))
	require.True(t, WouldCycle(parents, 1, 2))
	require.False(t, WouldCycle(parents, 3, 1))
}

func TestWouldCycleUnrelatedSubtree(t *testing.T) {
	parents := Parents{1: NoParent, 2: 1, 10: NoParent, 11: 10}
	require.False(t, WouldCycle(parents, 2, 11))
	require.False(t, WouldCycle(parents, 2, NoParent))
}

func TestWouldCycleCorruptedChainTerminates(t *testing.T) {
	// 5 and 6 already point at each other; the defensive bound must fire.
	parents := Parents{5: 6, 6: 5}
	require.True(t, WouldCycle(parents, 7, 5))
}

func TestDepth(t *testing.T) {
	parents := Parents{1: NoParent, 2: 1, 3: 2, 4: 3}
	require.Equal(t, 0, Depth(parents, 1))
	require.Equal(t, 1, Depth(parents, 2))
	require.Equal(t, 2, Depth(parents, 3))
	require.Equal(t, 3, Depth(parents, 4))
}

func TestDepthUnknownNodeIsRoot(t *testing.T) {
	require.Equal(t, 0, Depth(Parents{}, 99))
}

func TestDepthBoundedOnCorruptedChain(t *testing.T) {
	parents := Parents{5: 6, 6: 5}
	require.Equal(t, maxWalk, Depth(parents, 5))
}
