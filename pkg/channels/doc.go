// Package channels provides interfaces for topic-to-mailbox fan-out.
//
// This package defines the core abstractions of the channel broker:
//   - Mailbox: a bounded, non-blocking inbox owned by one connection
//   - Protocol: whether forwarded messages carry their topic (Naked, Multiplexed)
//   - Broker: the handle producers and connections use to talk to the broker
//   - SubscriberInfo: a read-only view of one subscription entry
//
// The interfaces use Go idioms:
//   - Explicit error returns only where a caller can act on them
//   - io.Closer for handle release
//   - context.Context on the one blocking query (Snapshot)
//
// Example usage:
//
//	// A connection subscribes its mailbox to a room
//	room := topic.MustParse("/rooms/1")
//	b.Subscribe(room, channels.Naked, mb)
//	defer b.UnsubscribeAll(mb)
//
//	// Any producer can publish to the room
//	b.Send(room, message.Text("hello"))
//
// Subscribe, Unsubscribe, UnsubscribeAll and Send are fire-and-forget. They are applied in
// the order they reach the broker, and are silently ignored once the broker has stopped.
//
// Topic matching is exact equality of descriptors. There are no wildcards.
package channels
