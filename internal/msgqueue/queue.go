package msgqueue

import (
	"sync/atomic"

	"github.com/dexter0/prs-sub000/internal/directory"
	"github.com/dexter0/prs-sub000/internal/fiberevent"
	"github.com/dexter0/prs-sub000/internal/prserr"
	"github.com/dexter0/prs-sub000/internal/queue"
	"github.com/dexter0/prs-sub000/internal/statetoken"
	"github.com/dexter0/prs-sub000/internal/timerwheel"
)

// Blocker is the subset of task behavior Recv needs to block and resume the
// calling task — kept as an interface, like fiberevent.Task, so this
// package doesn't import internal/task and create a cycle (a Task embeds a
// *Queue). It embeds fiberevent.Task since the Events Recv creates target
// this same Blocker.
type Blocker interface {
	fiberevent.Task
	Block() statetoken.Token
	Yield()
	Token() statetoken.Token
}

type filterRecord struct {
	filter *Filter
	event  *fiberevent.Event
}

// Queue is the per-task MPSC message queue with selective-receive filters
// and timeout from spec.md §4.7. Send is safe from any number of producer
// goroutines; Recv is single-consumer — only the owning task may call it.
type Queue struct {
	mq            queue.MPSCQueue[*Message]
	filters       *directory.PointerDirectory[*filterRecord]
	currentFilter atomic.Uint32 // directory.ID of the installed filter, or directory.Invalid
}

// New creates an empty Queue with a fixed capacity for concurrently
// in-flight filter records (in practice just 1, but PointerDirectory
// capacity must be sized to absorb the brief overlap between an expiring
// filter and the next Recv call installing a new one).
func New(filterCapacity int) *Queue {
	if filterCapacity < 2 {
		filterCapacity = 2
	}
	return &Queue{filters: directory.NewPointerDirectory[*filterRecord](filterCapacity)}
}

// Send enqueues msg, then — per spec.md §4.7 — checks the atomic
// current-filter-id: if a filter is installed and msg matches it, Send
// races every other producer for the right to consume that filter's Event
// reference and signal it, via a CAS on currentFilter. Exactly one sender
// ever wins this race for a given filter installation.
func (q *Queue) Send(msg *Message) error {
	msg.node.Value = msg
	q.mq.Push(&msg.node)

	fid := directory.ID(q.currentFilter.Load())
	if fid == directory.Invalid {
		return nil
	}
	rec, ok := q.filters.Lock(fid)
	if !ok {
		return nil
	}
	defer func() { _ = q.filters.Unlock(fid) }()
	if !rec.filter.Match(msg.ID) {
		return nil
	}
	if !q.currentFilter.CompareAndSwap(uint32(fid), uint32(directory.Invalid)) {
		// Another sender already claimed this filter installation, or the
		// receiver timed out and cleared it first.
		return nil
	}
	rec.event.SignalWith(statetoken.CauseSend, false)
	return nil
}

// Recv implements the double-scan-with-filter loop from spec.md §4.7: scan
// for an already-queued match; if none, publish a filter record and
// re-scan (closing the race where a message arrives between the first scan
// and filter publication); if still no match, optionally arm a timer and
// yield; on resumption, distinguish SEND from TIMEOUT via the task's
// last-unblock cause and either rescan or give up. filter == nil matches
// any message. A nil timeout blocks indefinitely.
func (q *Queue) Recv(t Blocker, filter *Filter, timeout *uint64, wheel *timerwheel.Wheel) (*Message, error) {
	for {
		if n := q.scanAndRemove(filter); n != nil {
			return n.Value, nil
		}

		haveTimer := timeout != nil && wheel != nil
		refcount := int32(2) // one for whichever of {send} fires, one for the caller's own hold
		if haveTimer {
			refcount = 3 // + one for the timer source
		}
		tok := t.Block()
		ev := fiberevent.New(t, tok, refcount)
		rec := &filterRecord{filter: filter, event: ev}
		fid, err := q.filters.AllocAndLock(rec)
		if err != nil {
			// Undo the block via the self-unblock fast path (no signaler
			// can hold the event yet) before surfacing the failure.
			t.Unblock(tok, statetoken.CauseNone, true)
			ev.Cancel()
			return nil, err
		}
		q.currentFilter.Store(uint32(fid))

		if n := q.scanAndRemove(filter); n != nil {
			claimed := q.currentFilter.CompareAndSwap(uint32(fid), uint32(directory.Invalid))
			_ = q.filters.Unlock(fid)
			if claimed {
				// We beat every concurrent sender to this filter: consume
				// the send-share ourselves via the self-unblock fast path
				// (we never actually yielded, so there's nothing to wake).
				ev.SignalWith(statetoken.CauseSend, true)
				if haveTimer {
					ev.Unref() // the timer was never armed; give back its share.
				}
				ev.Unref() // our own hold.
			} else {
				// A concurrent sender already claimed and signaled the
				// filter before we did; our token says Ready even though
				// we never yielded — reconcile with the scheduler.
				if haveTimer {
					ev.Unref()
				}
				ev.Unref()
				t.Yield()
			}
			return n.Value, nil
		}

		var timerID timerwheel.ID
		if haveTimer {
			id, err := wheel.Queue(*timeout, statetoken.CauseTimeout, ev)
			if err != nil {
				// Couldn't arm the timer; fall back to an untimed wait
				// rather than losing the reference we reserved for it.
				ev.Unref()
				haveTimer = false
			} else {
				timerID = id
			}
		}

		t.Yield()

		cause := t.Token().Cause()
		if q.currentFilter.CompareAndSwap(uint32(fid), uint32(directory.Invalid)) {
			// Nobody ever claimed the filter: the send-share was never
			// consumed, so it's ours to give back.
			ev.Unref()
		}
		_ = q.filters.Unlock(fid)

		if haveTimer {
			// Cancel concludes the armed entry either way; it only returns
			// nil when the timer never fired, in which case its event share
			// is ours to give back.
			if cerr := wheel.Cancel(timerID); cerr == nil {
				ev.Unref()
			}
		}
		ev.Unref() // our own hold, now that we've observed the outcome.

		if cause == statetoken.CauseTimeout {
			return nil, prserr.Err(prserr.Timeout)
		}
		// CauseSend: loop back and rescan.
	}
}

func (q *Queue) scanAndRemove(filter *Filter) *queue.MNode[*Message] {
	var found *queue.MNode[*Message]
	q.mq.Each(func(n *queue.MNode[*Message]) bool {
		if filter.Match(n.Value.ID) {
			found = n
			return false
		}
		return true
	})
	if found != nil {
		q.mq.Remove(found)
	}
	return found
}
