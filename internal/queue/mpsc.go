// Package queue implements the intrusive queue primitives from spec.md
// §4.4: a lock-free MPSC intrusive queue with lazily built reverse links,
// and an MPMC queue layered over a Pointer Directory.
package queue

import "sync/atomic"

// MNode is a node in an MPSCQueue. Producers only ever touch next (via
// Push's CAS); prevLink/nextLink/linked are consumer-private state, safe
// without atomics because exactly one goroutine ever calls Pop/Remove.
type MNode[T any] struct {
	next               atomic.Pointer[MNode[T]]
	prevLink, nextLink *MNode[T]
	linked             bool
	Value              T
}

// MPSCQueue is the intrusive multi-producer, single-consumer queue from
// spec.md §4.4. Producers CAS-prepend onto head, turning the queue into a
// LIFO push stack; the single consumer lazily folds newly pushed nodes into
// a doubly linked FIFO chain (front/back) the first time it needs to look
// at them, which is what makes O(1) Remove of an arbitrary node (not just
// the head) possible — needed to cancel a queued timer-wheel entry without
// dequeuing everything ahead of it.
type MPSCQueue[T any] struct {
	head  atomic.Pointer[MNode[T]]
	front *MNode[T] // consumer-only: FIFO head (oldest)
	back  *MNode[T] // consumer-only: FIFO tail (newest linked)
}

// Push publishes n at the front of the producer stack. Safe for any number
// of concurrent callers.
func (q *MPSCQueue[T]) Push(n *MNode[T]) {
	for {
		old := q.head.Load()
		n.next.Store(old)
		if q.head.CompareAndSwap(old, n) {
			return
		}
	}
}

// rebuild claims the whole producer stack in one atomic swap and folds it
// into the front/back doubly linked chain. Consumer-only. Claiming the
// stack outright (rather than remembering a boundary node) keeps the queue
// correct when nodes are recycled — a node that is popped and later pushed
// again must always be folded in afresh.
func (q *MPSCQueue[T]) rebuild() {
	h := q.head.Swap(nil)
	if h == nil {
		return
	}
	// The claimed stack runs newest-to-oldest; splice oldest-first onto
	// back. This is the one O(new nodes) pass per rebuild; steady-state
	// Pop/Remove calls after it are O(1).
	var chain []*MNode[T]
	for cur := h; cur != nil; cur = cur.next.Load() {
		chain = append(chain, cur)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		n := chain[i]
		n.linked = true
		n.prevLink = q.back
		n.nextLink = nil
		if q.back != nil {
			q.back.nextLink = n
		} else {
			q.front = n
		}
		q.back = n
	}
}

// Remove unlinks n from the queue in O(1), once any nodes pushed ahead of
// it have been folded in by rebuild. Returns false if n was not present
// (already popped or removed).
func (q *MPSCQueue[T]) Remove(n *MNode[T]) bool {
	q.rebuild()
	if !n.linked {
		return false
	}
	n.linked = false
	if n.prevLink != nil {
		n.prevLink.nextLink = n.nextLink
	} else {
		q.front = n.nextLink
	}
	if n.nextLink != nil {
		n.nextLink.prevLink = n.prevLink
	} else {
		q.back = n.prevLink
	}
	n.prevLink, n.nextLink = nil, nil
	return true
}

// Pop removes and returns the oldest node, or nil if the queue is empty.
func (q *MPSCQueue[T]) Pop() *MNode[T] {
	q.rebuild()
	n := q.front
	if n == nil {
		return nil
	}
	q.Remove(n)
	return n
}

// Peek returns the oldest node without removing it, or nil if empty.
func (q *MPSCQueue[T]) Peek() *MNode[T] {
	q.rebuild()
	return q.front
}

// Each walks every currently linked node from oldest to newest, calling f
// for each; f returning false stops the walk early. Consumer-only, like
// Pop and Remove. Used by message-queue selective receive to scan for a
// match without disturbing nodes ahead of it (spec.md §4.7).
func (q *MPSCQueue[T]) Each(f func(n *MNode[T]) bool) {
	q.rebuild()
	for n := q.front; n != nil; n = n.nextLink {
		if !f(n) {
			return
		}
	}
}
