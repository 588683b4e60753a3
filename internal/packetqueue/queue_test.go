package packetqueue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFOOrder(t *testing.T) {
	q := New[int]()
	q.PushBack(1)
	q.PushBack(2)
	q.PushBack(3)

	assert.Equal(t, 3, q.Len())

	v, ok := q.PopFront()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, q.Len())
}

func TestQueuePopFrontEmpty(t *testing.T) {
	q := New[string]()
	_, ok := q.PopFront()
	assert.False(t, ok)
	assert.True(t, q.Empty())
}

func TestQueuePushFrontPrepends(t *testing.T) {
	q := New[int]()
	q.PushBack(2)
	q.PushBack(3)
	q.PushFront(1)

	assert.Equal(t, []int{1, 2, 3}, q.DrainAll())
}

func TestQueuePushFrontAllPreservesOrder(t *testing.T) {
	q := New[int]()
	q.PushBack(3)
	q.PushFrontAll([]int{1, 2})

	assert.Equal(t, []int{1, 2, 3}, q.DrainAll())
}

func TestQueuePushFrontAllNoOpOnEmpty(t *testing.T) {
	q := New[int]()
	q.PushBack(1)
	q.PushFrontAll(nil)
	assert.Equal(t, []int{1}, q.DrainAll())
}

func TestQueuePopFrontN(t *testing.T) {
	q := New[int]()
	for i := 1; i <= 5; i++ {
		q.PushBack(i)
	}

	first := q.PopFrontN(3)
	assert.Equal(t, []int{1, 2, 3}, first)
	assert.Equal(t, 2, q.Len())

	rest := q.PopFrontN(10)
	assert.Equal(t, []int{4, 5}, rest)
	assert.True(t, q.Empty())
}

func TestQueueDrainAllEmptiesQueue(t *testing.T) {
	q := New[int]()
	q.PushBack(1)
	q.PushBack(2)

	drained := q.DrainAll()
	assert.Equal(t, []int{1, 2}, drained)
	assert.True(t, q.Empty())
	assert.Empty(t, q.DrainAll())
}

func TestQueueConcurrentPushBack(t *testing.T) {
	q := New[int]()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			q.PushBack(v)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 100, q.Len())
}

func TestMapSetGetPop(t *testing.T) {
	m := NewMap[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)

	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = m.Get("missing")
	assert.False(t, ok)

	popped, ok := m.Pop("a")
	require.True(t, ok)
	assert.Equal(t, 1, popped)
	assert.Equal(t, 1, m.Len())

	_, ok = m.Pop("a")
	assert.False(t, ok)
}

func TestMapDrainAll(t *testing.T) {
	m := NewMap[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)

	drained := m.DrainAll()
	assert.ElementsMatch(t, []int{1, 2}, drained)
	assert.True(t, m.Empty())
}

func TestMapOverwritesExistingKey(t *testing.T) {
	m := NewMap[string, int]()
	m.Set("a", 1)
	m.Set("a", 2)

	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, m.Len())
}
