package prs

import (
	"github.com/dexter0/prs-sub000/internal/directory"
	"github.com/dexter0/prs-sub000/internal/msgqueue"
	"github.com/dexter0/prs-sub000/internal/prserr"
)

// Message is the envelope type from spec.md §6: msg_alloc/msg_send/msg_recv
// all operate on it.
type Message = msgqueue.Message

// MessageID is the 32-bit [class:8 | service:8 | id:16] identifier from
// spec.md §6.
type MessageID = msgqueue.MessageID

// Re-exported class/service tags from spec.md §6.
const (
	MsgClassUser      = msgqueue.ClassUser
	MsgClassInternal  = msgqueue.ClassInternal
	MsgServiceProcess = msgqueue.ServiceProcess
	MsgServiceTest    = msgqueue.ServiceTest
)

// MakeMessageID packs class, service and id into a MessageID.
func MakeMessageID(class, service uint8, id uint16) MessageID {
	return msgqueue.MakeMessageID(class, service, id)
}

// MsgAlloc allocates a Message with the given id and an empty payload of
// size bytes, per spec.md §6's msg_alloc(id, size).
func (rt *Runtime) MsgAlloc(id MessageID, size int) *Message {
	return &Message{ID: id, Payload: make([]byte, size)}
}

// MsgFree releases msg. Go's garbage collector already reclaims it once
// unreferenced; this exists for parity with spec.md §6's explicit
// msg_free call, and as a hook point if a future caller wants to return a
// Message to a sync.Pool.
func (rt *Runtime) MsgFree(msg *Message) { _ = msg }

// MsgSend delivers msg to task to's queue, per spec.md §6's
// msg_send(task_id, msg). The caller is expected to have already set
// msg.Sender (TaskContext.MsgSend does this for the calling task).
func (rt *Runtime) MsgSend(to directory.ID, msg *Message) error {
	t, ok := rt.tasks.Lock(to)
	if !ok {
		return prserr.Err(prserr.NotFound)
	}
	defer func() { _ = rt.tasks.Unlock(to) }()
	msg.Owner = to
	return t.MessageQueue().Send(msg)
}

// MsgGetSender returns the ID of the task that sent msg, per spec.md §6's
// msg_get_sender.
func (rt *Runtime) MsgGetSender(msg *Message) directory.ID { return msg.Sender }

func newFilter(ids []uint32) (*msgqueue.Filter, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	mids := make([]MessageID, len(ids))
	for i, id := range ids {
		mids[i] = MessageID(id)
	}
	return msgqueue.NewFilter(mids...)
}
