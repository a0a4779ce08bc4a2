package dispatch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIDArenaGenerations(t *testing.T) {
	a := &idArena{}

	first := a.alloc()
	second := a.alloc()
	require.NotEqual(t, first, second)

	require.True(t, a.release(first))

	// the slot is recycled under a new generation, so the stale id can
	// never alias the new one
	reused := a.alloc()
	require.Equal(t, first.Index, reused.Index)
	require.NotEqual(t, first.Generation, reused.Generation)

	require.False(t, a.release(first), "stale id must be rejected")
	require.True(t, a.release(reused))
	require.True(t, a.release(second))
}

func TestCanonicalKeyIsContentBased(t *testing.T) {
	a := EnvironmentSpec{Name: "default", Platform: "linux-64"}
	b := EnvironmentSpec{Name: "default", Platform: "linux-64"}
	c := EnvironmentSpec{Name: "default", Platform: "win-64"}

	ka, err := canonicalKey(KindSolveEnvironment, a)
	require.NoError(t, err)
	kb, err := canonicalKey(KindSolveEnvironment, b)
	require.NoError(t, err)
	kc, err := canonicalKey(KindSolveEnvironment, c)
	require.NoError(t, err)

	require.Equal(t, ka, kb)
	require.NotEqual(t, ka, kc)

	// the kind partitions the key space even for identical content
	kd, err := canonicalKey(KindSolveCondaEnvironment, a)
	require.NoError(t, err)
	require.NotEqual(t, ka, kd)
}
