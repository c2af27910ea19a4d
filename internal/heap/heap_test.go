package heap

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type intCmp struct{}

func (intCmp) Compare(a, b int) int { return a - b }

func TestInsertPeekOrder(t *testing.T) {
	h := New[int](16, intCmp{})

	for _, v := range []int{5, 1, 9, 3, 7} {
		_, err := h.Insert(v)
		require.NoError(t, err)
	}

	handle, ok := h.Peek()
	require.True(t, ok)
	assert.Equal(t, 9, h.Get(handle))
}

func TestIterYieldsPriorityOrder(t *testing.T) {
	h := New[int](32, intCmp{})
	values := []int{4, 8, 15, 16, 23, 42, 1}
	for _, v := range values {
		_, err := h.Insert(v)
		require.NoError(t, err)
	}

	ordered := h.Iter()
	require.Len(t, ordered, len(values))
	for i := 1; i < len(ordered); i++ {
		assert.GreaterOrEqual(t, ordered[i-1], ordered[i])
	}

	// Iter must not mutate the heap.
	assert.Equal(t, len(values), h.Len())
}

func TestRemoveThenPopReflectsRemainder(t *testing.T) {
	h := New[int](16, intCmp{})
	handles := make(map[int]Handle)
	for _, v := range []int{10, 20, 30, 40} {
		handle, err := h.Insert(v)
		require.NoError(t, err)
		handles[v] = handle
	}

	h.Remove(handles[40])

	v, ok := h.Pop()
	require.True(t, ok)
	assert.Equal(t, 30, v)
	assert.Equal(t, 2, h.Len())
}

func TestUpdateChangesPriority(t *testing.T) {
	h := New[int](16, intCmp{})
	handle, err := h.Insert(5)
	require.NoError(t, err)
	_, err = h.Insert(3)
	require.NoError(t, err)

	newHandle := h.Update(handle, func(v *int) { *v = 1 })

	top, ok := h.Peek()
	require.True(t, ok)
	assert.Equal(t, 3, h.Get(top))
	assert.Equal(t, 1, h.Get(newHandle))
}

func TestInsertFailsAtCapacity(t *testing.T) {
	h := New[int](2, intCmp{})
	_, err := h.Insert(1)
	require.NoError(t, err)
	_, err = h.Insert(2)
	require.NoError(t, err)

	_, err = h.Insert(3)
	assert.ErrorIs(t, err, ErrHeapFull)
}

func TestRandomizedInvariantsHold(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	h := New[int](256, intCmp{})
	handles := make([]Handle, 0, 256)

	for i := 0; i < 200; i++ {
		if len(handles) == 0 || rng.Intn(2) == 0 {
			v := rng.Intn(1000)
			handle, err := h.Insert(v)
			require.NoError(t, err)
			handles = append(handles, handle)
		} else {
			idx := rng.Intn(len(handles))
			h.Remove(handles[idx])
			handles = append(handles[:idx], handles[idx+1:]...)
		}

		ordered := h.Iter()
		require.Len(t, ordered, len(handles))
		for j := 1; j < len(ordered); j++ {
			assert.GreaterOrEqual(t, ordered[j-1], ordered[j])
		}
	}
}
