package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradekernel/internal/domain"
)

func TestQueue_HigherPriorityDequeuesFirst(t *testing.T) {
	q := newTaskQueue(10)
	require.NoError(t, q.push("low", 0))
	require.NoError(t, q.push("high", 5))
	require.NoError(t, q.push("mid", 2))

	var order []string
	for i := 0; i < 3; i++ {
		id, ok := q.pop()
		require.True(t, ok)
		order = append(order, id)
	}
	assert.Equal(t, []string{"high", "mid", "low"}, order)
}

func TestQueue_EqualPriorityIsFIFO(t *testing.T) {
	q := newTaskQueue(10)
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, q.push(id, 1))
	}

	var order []string
	for i := 0; i < 4; i++ {
		id, ok := q.pop()
		require.True(t, ok)
		order = append(order, id)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
}

func TestQueue_BackpressureAtCapacity(t *testing.T) {
	q := newTaskQueue(2)
	require.NoError(t, q.push("a", 0))
	require.NoError(t, q.push("b", 0))

	err := q.push("c", 9)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBackpressure)
	assert.Equal(t, 2, q.depth())

	// Draining one slot frees capacity again.
	_, ok := q.pop()
	require.True(t, ok)
	assert.NoError(t, q.push("c", 9))
}

func TestQueue_RemoveCancelledEntry(t *testing.T) {
	q := newTaskQueue(10)
	require.NoError(t, q.push("a", 0))
	require.NoError(t, q.push("b", 3))
	require.NoError(t, q.push("c", 0))

	assert.True(t, q.remove("b"))
	assert.False(t, q.remove("b"))
	assert.False(t, q.remove("missing"))

	id, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, "a", id)
	id, ok = q.pop()
	require.True(t, ok)
	assert.Equal(t, "c", id)
	assert.Equal(t, 0, q.depth())
}

func TestQueue_CloseDrainsThenStops(t *testing.T) {
	q := newTaskQueue(10)
	require.NoError(t, q.push("a", 0))
	q.close()

	// Items still queued at close time drain normally.
	id, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, "a", id)

	_, ok = q.pop()
	assert.False(t, ok)

	assert.ErrorIs(t, q.push("late", 0), domain.ErrBackpressure)
}
