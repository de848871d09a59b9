package channels

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rmacdonaldsmith/channelbroker/pkg/message"
	"github.com/rmacdonaldsmith/channelbroker/pkg/topic"
)

var (
	// ErrMailboxClosed is returned by TrySend once the receiving side closed the mailbox.
	ErrMailboxClosed = errors.New("mailbox closed")
	// ErrMailboxFull is returned by TrySend when the mailbox buffer has no room.
	ErrMailboxFull = errors.New("mailbox full")
	// ErrBrokerClosed is returned by queries made after the broker stopped.
	ErrBrokerClosed = errors.New("broker closed")
)

// Protocol decides how forwarded messages are framed for a subscriber.
type Protocol int

const (
	// Naked strips the topic from forwarded messages. Use it when a mailbox only ever
	// listens to one topic.
	Naked Protocol = iota

	// Multiplexed tags every forwarded message with its originating topic so a mailbox
	// listening to many topics can tell them apart.
	Multiplexed
)

// String returns "naked" or "multiplexed".
func (p Protocol) String() string {
	switch p {
	case Naked:
		return "naked"
	case Multiplexed:
		return "multiplexed"
	default:
		return "unknown"
	}
}

// ParseProtocol is the inverse of Protocol.String.
func ParseProtocol(s string) (Protocol, error) {
	switch s {
	case "naked", "":
		return Naked, nil
	case "multiplexed":
		return Multiplexed, nil
	default:
		return Naked, fmt.Errorf("unknown protocol %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Protocol) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Protocol) UnmarshalText(text []byte) error {
	parsed, err := ParseProtocol(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Mailbox is the send side of one subscriber's bounded inbox.
type Mailbox interface {
	// ID returns a stable, non-empty identifier. Two Mailbox values with the same ID
	// refer to the same inbox. The broker ignores mailboxes whose ID is empty.
	ID() string

	// TrySend delivers m without blocking. It returns ErrMailboxClosed or ErrMailboxFull
	// when m cannot be accepted.
	TrySend(m *message.Message) error

	// Closed reports whether the receiving side has gone away.
	Closed() bool
}

// SubscriberInfo describes one subscription entry.
type SubscriberInfo struct {
	MailboxID string             `json:"mailbox_id"`
	Protocol  Protocol           `json:"protocol"`
	Topics    []topic.Descriptor `json:"topics"`
}

// Broker fans messages out from producers to subscribed mailboxes.
//
// A Broker value is a handle; Clone returns another handle on the same broker and Close
// releases one. The broker stops once every handle has been closed.
type Broker interface {
	io.Closer

	// Subscribe registers mb for d. The protocol only takes effect the first time a given
	// mailbox is registered.
	Subscribe(d topic.Descriptor, p Protocol, mb Mailbox)

	// Unsubscribe removes every registration of d for mb.
	Unsubscribe(d topic.Descriptor, mb Mailbox)

	// UnsubscribeAll removes mb from every topic.
	UnsubscribeAll(mb Mailbox)

	// Send forwards m to every mailbox subscribed to d.
	Send(d topic.Descriptor, m message.Messager)

	// SendTo is an alias of Send.
	SendTo(d topic.Descriptor, m message.Messager)

	// Snapshot returns the subscription table as seen after every command enqueued
	// before the call.
	Snapshot(ctx context.Context) ([]SubscriberInfo, error)

	// Clone returns a new handle on the same broker.
	Clone() Broker
}
