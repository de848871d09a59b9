package broker

import (
	"slices"

	"github.com/rmacdonaldsmith/channelbroker/pkg/channels"
	"github.com/rmacdonaldsmith/channelbroker/pkg/topic"
)

// entry is one subscriber: a mailbox, the protocol it registered with and its topics.
// A topic may appear more than once.
type entry struct {
	mailbox  channels.Mailbox
	protocol channels.Protocol
	topics   []topic.Descriptor
}

func (e *entry) has(d topic.Descriptor) bool {
	return slices.Contains(e.topics, d)
}

// channelMap is the subscription table. It is owned by the actor goroutine and is never
// touched from anywhere else, so it carries no locking.
type channelMap struct {
	entries []*entry
}

func newChannelMap(capacity int) *channelMap {
	return &channelMap{entries: make([]*entry, 0, capacity)}
}

func (m *channelMap) find(id string) int {
	return slices.IndexFunc(m.entries, func(e *entry) bool {
		return e.mailbox.ID() == id
	})
}

// register adds d to the mailbox's entry, creating the entry with protocol p if needed.
// An existing entry keeps its original protocol.
func (m *channelMap) register(d topic.Descriptor, p channels.Protocol, mb channels.Mailbox) {
	if i := m.find(mb.ID()); i >= 0 {
		m.entries[i].topics = append(m.entries[i].topics, d)
		return
	}
	m.entries = append(m.entries, &entry{
		mailbox:  mb,
		protocol: p,
		topics:   []topic.Descriptor{d},
	})
}

// unregister removes every occurrence of d from the mailbox's entry.
func (m *channelMap) unregister(d topic.Descriptor, mb channels.Mailbox) {
	i := m.find(mb.ID())
	if i < 0 {
		return
	}
	m.entries[i].topics = slices.DeleteFunc(m.entries[i].topics, func(t topic.Descriptor) bool {
		return t == d
	})
}

// remove drops the entry for the mailbox id. It reports whether an entry was removed.
func (m *channelMap) remove(id string) bool {
	i := m.find(id)
	if i < 0 {
		return false
	}
	m.entries = slices.Delete(m.entries, i, i+1)
	return true
}

// matching returns the entries subscribed to d, in registration order.
func (m *channelMap) matching(d topic.Descriptor) []*entry {
	var out []*entry
	for _, e := range m.entries {
		if e.has(d) {
			out = append(out, e)
		}
	}
	return out
}

// cleanup drops every entry whose mailbox is closed and returns how many were dropped.
func (m *channelMap) cleanup() int {
	before := len(m.entries)
	m.entries = slices.DeleteFunc(m.entries, func(e *entry) bool {
		return e.mailbox.Closed()
	})
	return before - len(m.entries)
}

func (m *channelMap) len() int {
	return len(m.entries)
}

func (m *channelMap) snapshot() []channels.SubscriberInfo {
	out := make([]channels.SubscriberInfo, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, channels.SubscriberInfo{
			MailboxID: e.mailbox.ID(),
			Protocol:  e.protocol,
			Topics:    slices.Clone(e.topics),
		})
	}
	return out
}
