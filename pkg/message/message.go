package message

import "github.com/rmacdonaldsmith/channelbroker/pkg/topic"

// Messager is anything that can be turned into a Message. *Message implements it, so
// broker calls accept both ready messages and custom types.
type Messager interface {
	Message() *Message
}

// Message is a header, an optional topic tag and a streamed body.
type Message struct {
	header Header
	topic  topic.Descriptor
	tagged bool
	body   *Body
}

// New creates an untagged message. A nil body is treated as an empty one.
func New(header Header, body *Body) *Message {
	if body == nil {
		body = BodyFrom()
	}
	return &Message{header: header, body: body}
}

// FromParts rebuilds a message from the triple returned by Parts.
func FromParts(header Header, d topic.Descriptor, tagged bool, body *Body) *Message {
	m := New(header, body)
	if tagged {
		m.topic = d
		m.tagged = true
	}
	return m
}

// Text creates a single-chunk text message.
func Text(s string) *Message {
	return New(Header{Kind: KindText}, BodyFrom(ChunkString(s)))
}

// Binary creates a single-chunk binary message. p is copied.
func Binary(p []byte) *Message {
	return New(Header{Kind: KindBinary}, BodyFrom(NewChunk(p)))
}

// Stream creates a message whose body is written by the caller after the message has
// been handed to the broker.
func Stream(header Header, body *Body) *Message {
	return New(header, body)
}

// Message returns m itself.
func (m *Message) Message() *Message {
	return m
}

// Header returns a copy of the message header.
func (m *Message) Header() Header {
	return m.header.Clone()
}

// Topic returns the topic tag, if the message carries one.
func (m *Message) Topic() (topic.Descriptor, bool) {
	return m.topic, m.tagged
}

// Body returns the message body.
func (m *Message) Body() *Body {
	return m.body
}

// Parts decomposes the message into header, topic tag and body.
func (m *Message) Parts() (Header, topic.Descriptor, bool, *Body) {
	return m.header, m.topic, m.tagged, m.body
}

// Verify that *Message implements Messager at compile time
var _ Messager = (*Message)(nil)
