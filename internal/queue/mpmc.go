package queue

import (
	"sync/atomic"

	"github.com/dexter0/prs-sub000/internal/directory"
)

type mpmcNode[T any] struct {
	next  atomic.Uint32 // directory.ID of the next node, or directory.Invalid
	value T
}

// MPMCQueue is the multi-producer, multi-consumer queue from spec.md §4.4,
// used as the semaphore's wait queue. It is a Michael-Scott queue with nodes
// addressed through a Pointer Directory rather than raw pointers, so a
// worker can safely hold a node ID across a context switch without risking
// use-after-free: every node carries exactly one persistent reference from
// the moment it's enqueued until the moment it's popped, and Lock/Unlock
// around each inspection keep a racing dequeuer/enqueuer from freeing it
// out from under a reader.
//
// head always designates a dummy node; the first real value lives at
// head's successor. tail may lag the true end of the chain by one node —
// callers cooperatively help it catch up, exactly as in the classic
// lock-free queue this is adapted from.
type MPMCQueue[T any] struct {
	pd         *directory.PointerDirectory[*mpmcNode[T]]
	head, tail atomic.Uint32
}

// NewMPMCQueue creates an empty MPMCQueue with a fixed node capacity.
func NewMPMCQueue[T any](capacity int) *MPMCQueue[T] {
	pd := directory.NewPointerDirectory[*mpmcNode[T]](capacity + 1)
	dummyID, err := pd.AllocAndLock(&mpmcNode[T]{})
	if err != nil {
		// capacity+1 always has room for the first allocation.
		panic(err)
	}
	q := &MPMCQueue[T]{pd: pd}
	q.head.Store(uint32(dummyID))
	q.tail.Store(uint32(dummyID))
	return q
}

// Push enqueues value. Returns prserr.OutOfMemory if the queue's node pool
// is exhausted.
func (q *MPMCQueue[T]) Push(value T) error {
	newID, err := q.pd.AllocAndLock(&mpmcNode[T]{value: value})
	if err != nil {
		return err
	}
	newID32 := uint32(newID)
	for {
		tailID := directory.ID(q.tail.Load())
		tailNode, ok := q.pd.Lock(tailID)
		if !ok {
			continue
		}
		nextID := directory.ID(tailNode.next.Load())
		if nextID == directory.Invalid {
			if tailNode.next.CompareAndSwap(uint32(directory.Invalid), newID32) {
				q.tail.CompareAndSwap(uint32(tailID), newID32)
				_ = q.pd.Unlock(tailID)
				return nil
			}
			_ = q.pd.Unlock(tailID)
			continue
		}
		// tail lagged behind the real end; help it catch up and retry.
		q.tail.CompareAndSwap(uint32(tailID), uint32(nextID))
		_ = q.pd.Unlock(tailID)
	}
}

// Pop dequeues the oldest value. Returns (zero, false) if the queue was
// empty at the moment of the attempt.
func (q *MPMCQueue[T]) Pop() (T, bool) {
	for {
		headID := directory.ID(q.head.Load())
		headNode, ok := q.pd.Lock(headID)
		if !ok {
			continue
		}
		nextID := directory.ID(headNode.next.Load())
		if nextID == directory.Invalid {
			_ = q.pd.Unlock(headID)
			var zero T
			return zero, false
		}
		nextNode, ok := q.pd.Lock(nextID)
		if !ok {
			_ = q.pd.Unlock(headID)
			continue
		}
		won := q.head.CompareAndSwap(uint32(headID), uint32(nextID))
		val := nextNode.value
		_ = q.pd.Unlock(nextID)
		if won {
			// Drop our inspection ref, then the dummy's persistent "queued"
			// ref — headID is now fully dequeued.
			_ = q.pd.Unlock(headID)
			_ = q.pd.Unlock(headID)
			return val, true
		}
		_ = q.pd.Unlock(headID)
	}
}
