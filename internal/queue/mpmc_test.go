package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMPMCQueueFIFOOrder(t *testing.T) {
	q := NewMPMCQueue[int](4)
	require.NoError(t, q.Push(1))
	require.NoError(t, q.Push(2))
	require.NoError(t, q.Push(3))

	for _, want := range []int{1, 2, 3} {
		got, ok := q.Pop()
		require.True(t, ok)
		require.Equal(t, want, got)
	}
	_, ok := q.Pop()
	require.False(t, ok)
}

func TestMPMCQueueOutOfMemory(t *testing.T) {
	q := NewMPMCQueue[int](1)
	require.NoError(t, q.Push(1))
	require.Error(t, q.Push(2))
}

func TestMPMCQueueConcurrentProducersConsumers(t *testing.T) {
	const producers, perProducer = 8, 100
	q := NewMPMCQueue[int](producers * perProducer)

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				require.NoError(t, q.Push(p*perProducer+i))
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[int]bool)
	var mu sync.Mutex
	var consumers sync.WaitGroup
	consumers.Add(producers)
	for c := 0; c < producers; c++ {
		go func() {
			defer consumers.Done()
			for {
				v, ok := q.Pop()
				if !ok {
					return
				}
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	consumers.Wait()

	require.Len(t, seen, producers*perProducer)
}
