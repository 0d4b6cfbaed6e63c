package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadOrder(t *testing.T) {
	buf, err := NewCircularBuffer[int](4)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, buf.Write(i))
	}
	assert.Equal(t, 3, buf.Size())
	assert.False(t, buf.IsFull())

	for i := 1; i <= 3; i++ {
		item, ok := buf.Read()
		require.True(t, ok)
		assert.Equal(t, i, item)
	}
	assert.True(t, buf.IsEmpty())

	_, ok := buf.Read()
	assert.False(t, ok)
}

func TestDropOldestOverflow(t *testing.T) {
	var dropped []int
	buf, err := NewCircularBuffer[int](2,
		WithOverflowPolicy[int](DropOldest),
		WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
	)
	require.NoError(t, err)

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	require.NoError(t, buf.Write(3))

	assert.Equal(t, []int{1}, dropped)
	assert.Equal(t, int64(1), buf.Stats().Drops())
	assert.Equal(t, int64(1), buf.Stats().Overflows())

	item, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, 2, item)
}

func TestDropNewestOverflow(t *testing.T) {
	var dropped []int
	buf, err := NewCircularBuffer[int](2,
		WithOverflowPolicy[int](DropNewest),
		WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
	)
	require.NoError(t, err)

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	require.NoError(t, buf.Write(3))

	assert.Equal(t, []int{3}, dropped)

	item, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, 1, item)
}

func TestReadBatch(t *testing.T) {
	buf, err := NewCircularBuffer[string](8)
	require.NoError(t, err)

	for _, s := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, buf.Write(s))
	}

	batch := buf.ReadBatch(3)
	assert.Equal(t, []string{"a", "b", "c"}, batch)
	assert.Equal(t, 2, buf.Size())

	// Requesting more than available returns what remains.
	batch = buf.ReadBatch(10)
	assert.Equal(t, []string{"d", "e"}, batch)
	assert.Nil(t, buf.ReadBatch(10))
	assert.Nil(t, buf.ReadBatch(0))
}

func TestPeekDoesNotRemove(t *testing.T) {
	buf, err := NewCircularBuffer[int](2)
	require.NoError(t, err)

	require.NoError(t, buf.Write(42))

	item, ok := buf.Peek()
	require.True(t, ok)
	assert.Equal(t, 42, item)
	assert.Equal(t, 1, buf.Size())
}

func TestClearInvokesDropCallback(t *testing.T) {
	var dropped []int
	buf, err := NewCircularBuffer[int](4,
		WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
	)
	require.NoError(t, err)

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))

	buf.Clear()
	assert.True(t, buf.IsEmpty())
	assert.Equal(t, []int{1, 2}, dropped)
}

func TestWriteAfterClose(t *testing.T) {
	buf, err := NewCircularBuffer[int](2)
	require.NoError(t, err)

	require.NoError(t, buf.Close())
	assert.Error(t, buf.Write(1))
}

func TestWraparound(t *testing.T) {
	buf, err := NewCircularBuffer[int](3)
	require.NoError(t, err)

	// Cycle through the ring a few times.
	for cycle := 0; cycle < 5; cycle++ {
		for i := 0; i < 3; i++ {
			require.NoError(t, buf.Write(cycle*10+i))
		}
		for i := 0; i < 3; i++ {
			item, ok := buf.Read()
			require.True(t, ok)
			assert.Equal(t, cycle*10+i, item)
		}
	}
}

func TestConcurrentAccess(t *testing.T) {
	buf, err := NewCircularBuffer[int](1000)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = buf.Write(base + i)
			}
		}(w * 1000)
	}
	wg.Wait()

	assert.Equal(t, 400, buf.Size())
	assert.Equal(t, int64(400), buf.Stats().Writes())
}
