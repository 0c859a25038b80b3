package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMPSCQueueFIFOOrder(t *testing.T) {
	var q MPSCQueue[int]
	nodes := make([]*MNode[int], 5)
	for i := range nodes {
		nodes[i] = &MNode[int]{Value: i}
		q.Push(nodes[i])
	}
	for i := 0; i < 5; i++ {
		n := q.Pop()
		require.NotNil(t, n)
		require.Equal(t, i, n.Value)
	}
	require.Nil(t, q.Pop())
}

func TestMPSCQueueConcurrentProducers(t *testing.T) {
	var q MPSCQueue[int]
	const producers, perProducer = 8, 200

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(&MNode[int]{Value: p*perProducer + i})
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for n := q.Pop(); n != nil; n = q.Pop() {
		require.False(t, seen[n.Value], "duplicate value %d", n.Value)
		seen[n.Value] = true
	}
	require.Len(t, seen, producers*perProducer)
}

func TestMPSCQueueRemoveArbitraryNode(t *testing.T) {
	var q MPSCQueue[string]
	a := &MNode[string]{Value: "a"}
	b := &MNode[string]{Value: "b"}
	c := &MNode[string]{Value: "c"}
	q.Push(a)
	q.Push(b)
	q.Push(c)

	require.True(t, q.Remove(b))
	require.False(t, q.Remove(b)) // already removed

	n := q.Pop()
	require.Equal(t, "a", n.Value)
	n = q.Pop()
	require.Equal(t, "c", n.Value)
	require.Nil(t, q.Pop())
}

func TestMPSCQueueRemoveBeforeRebuild(t *testing.T) {
	// Remove must implicitly rebuild before it can see a node that was
	// pushed but never folded in by a prior Pop/Peek.
	var q MPSCQueue[int]
	a := &MNode[int]{Value: 1}
	b := &MNode[int]{Value: 2}
	q.Push(a)
	q.Push(b)

	require.True(t, q.Remove(a))
	n := q.Pop()
	require.Equal(t, 2, n.Value)
}
