package snapshot_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/frobware/go-one/internal/snapshot"
)

func TestSlice_ZeroValueIsStale(t *testing.T) {
	var s snapshot.Slice[int]
	assert.True(t, s.Stale(0))
	assert.Empty(t, s.Items())
}

// TestSlice_RebuildOnlyWhenGenerationMoves verifies that:
//
//	Given a slice built from generation 1,
//	When the source generation is still 1,
//	Then it is not stale, and it becomes stale once the generation moves.
func TestSlice_RebuildOnlyWhenGenerationMoves(t *testing.T) {
	var s snapshot.Slice[int]
	s.Rebuild(1, 3, func(dst []int) { copy(dst, []int{1, 2, 3}) })

	assert.False(t, s.Stale(1))
	assert.True(t, s.Stale(2))
	assert.Equal(t, uint64(1), s.Generation())
	assert.Equal(t, []int{1, 2, 3}, s.Items())
}

// TestSlice_CapacityDoublesAndIsKept verifies that:
//
//	Given a slice that grows from 1 to 5 elements and shrinks to 2,
//	When I inspect its capacity after each rebuild,
//	Then capacity grows by doubling and is retained on shrink.
func TestSlice_CapacityDoublesAndIsKept(t *testing.T) {
	var s snapshot.Slice[int]
	fill := func(dst []int) {
		for i := range dst {
			dst[i] = i
		}
	}

	s.Rebuild(1, 1, fill)
	assert.Equal(t, 1, s.Cap())

	s.Rebuild(2, 5, fill)
	assert.Equal(t, 8, s.Cap())

	before := &s.Items()[0]
	s.Rebuild(3, 2, fill)
	assert.Equal(t, 8, s.Cap())
	assert.Same(t, before, &s.Items()[0], "shrinking must reuse the backing array")
	assert.Equal(t, []int{0, 1}, s.Items())
}
