package mailbox

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/rmacdonaldsmith/channelbroker/pkg/channels"
	"github.com/rmacdonaldsmith/channelbroker/pkg/message"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 16

// Mailbox is a bounded in-process inbox. The broker holds it as a channels.Mailbox and
// pushes with TrySend; the owning connection reads with Receive or C and calls Close when
// it goes away.
type Mailbox struct {
	id   string
	ch   chan *message.Message
	done chan struct{}
	once sync.Once
}

// New creates an open mailbox buffering up to capacity messages.
func New(capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Mailbox{
		id:   uuid.NewString(),
		ch:   make(chan *message.Message, capacity),
		done: make(chan struct{}),
	}
}

// ID returns the mailbox identity, or "" for a nil mailbox.
func (m *Mailbox) ID() string {
	if m == nil {
		return ""
	}
	return m.id
}

// TrySend queues msg without blocking. A nil mailbox behaves as a closed one.
func (m *Mailbox) TrySend(msg *message.Message) error {
	if m == nil {
		return channels.ErrMailboxClosed
	}

	select {
	case <-m.done:
		return channels.ErrMailboxClosed
	default:
	}

	select {
	case m.ch <- msg:
		return nil
	case <-m.done:
		return channels.ErrMailboxClosed
	default:
		return channels.ErrMailboxFull
	}
}

// Receive waits for the next message. It returns channels.ErrMailboxClosed once the
// mailbox is closed.
func (m *Mailbox) Receive(ctx context.Context) (*message.Message, error) {
	select {
	case msg := <-m.ch:
		return msg, nil
	case <-m.done:
		return nil, channels.ErrMailboxClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// C exposes the inbox for use in select statements. It is never closed; watch Done as well.
func (m *Mailbox) C() <-chan *message.Message {
	return m.ch
}

// Done is closed once the mailbox is closed.
func (m *Mailbox) Done() <-chan struct{} {
	return m.done
}

// Len returns the number of queued messages.
func (m *Mailbox) Len() int {
	return len(m.ch)
}

// Close marks the receiving side as gone. Queued messages are drained and their bodies
// abandoned so that forwarders stop writing to them.
func (m *Mailbox) Close() error {
	m.once.Do(func() {
		close(m.done)
		for {
			select {
			case msg := <-m.ch:
				msg.Body().Abandon()
			default:
				return
			}
		}
	})
	return nil
}

// Closed reports whether Close has been called. A nil mailbox is always closed.
func (m *Mailbox) Closed() bool {
	if m == nil {
		return true
	}

	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// Verify that Mailbox implements channels.Mailbox at compile time
var _ channels.Mailbox = (*Mailbox)(nil)
