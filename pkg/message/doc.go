// Package message defines the unit the broker moves around: a Header, an optional topic
// tag and a streamed Body made of immutable Chunks.
//
// Bodies are streams rather than byte slices so that large payloads can be forwarded while
// they are still being produced:
//
//	body := message.NewBody(4)
//	h.Send(room, message.Stream(message.Header{Kind: message.KindBinary}, body))
//	go body.CopyFrom(ctx, upload, 32*1024)
//
// The broker replicates one source body into one relay body per subscriber. Chunks are
// shared between relays, never copied.
package message
