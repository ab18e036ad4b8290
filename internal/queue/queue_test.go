package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFOOrder(t *testing.T) {
	q := New[int](4)

	q.Enqueue(1)
	q.Enqueue(2)
	q.Enqueue(3)

	require.Equal(t, 3, q.Length())

	for want := 1; want <= 3; want++ {
		item, ok := q.Dequeue()
		require.True(t, ok)
		assert.Equal(t, want, item)
	}

	assert.True(t, q.IsEmpty())
}

func TestQueue_DequeueEmpty(t *testing.T) {
	q := New[string](0)

	item, ok := q.Dequeue()
	assert.False(t, ok)
	assert.Empty(t, item)
}

func TestQueue_Peek(t *testing.T) {
	q := New[int](2)

	_, ok := q.Peek()
	assert.False(t, ok)

	q.Enqueue(42)
	item, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, 42, item)
	assert.Equal(t, 1, q.Length(), "Peek must not remove the item")
}

func TestQueue_Reset(t *testing.T) {
	q := New[int](2)
	q.Enqueue(1)
	q.Enqueue(2)

	q.Reset()

	assert.True(t, q.IsEmpty())
	assert.Equal(t, 0, q.Length())

	q.Enqueue(7)
	item, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, 7, item)
}

func TestQueue_ZeroValueUsable(t *testing.T) {
	var q Queue[byte]

	assert.True(t, q.IsEmpty())
	q.Enqueue(0xA5)

	item, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, byte(0xA5), item)
}
