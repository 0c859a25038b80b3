// Package msgqueue implements the per-task message queue with
// selective-receive filters and timeout from spec.md §4.7.
package msgqueue

import (
	"github.com/dexter0/prs-sub000/internal/directory"
	"github.com/dexter0/prs-sub000/internal/queue"
)

// MessageID is the 32-bit message identifier from spec.md §6:
// [class:8 | service:8 | id:16].
type MessageID uint32

// Class tags from spec.md §6.
const (
	ClassUser     uint8 = 0
	ClassInternal uint8 = 176
)

// Service tags from spec.md §6.
const (
	ServiceProcess uint8 = 1
	ServiceTest    uint8 = 2
)

// MakeMessageID packs class, service and id into a MessageID.
func MakeMessageID(class, service uint8, id uint16) MessageID {
	return MessageID(uint32(class)<<24 | uint32(service)<<16 | uint32(id))
}

// Class returns the message's class tag.
func (m MessageID) Class() uint8 { return uint8(m >> 24) }

// Service returns the message's service tag.
func (m MessageID) Service() uint8 { return uint8(m >> 16) }

// ID returns the message's low 16-bit id.
func (m MessageID) ID() uint16 { return uint16(m) }

// Message is the envelope delivered by Send and returned by Recv.
type Message struct {
	node    queue.MNode[*Message]
	Owner   directory.ID
	Sender  directory.ID
	ID      MessageID
	Payload []byte
}
