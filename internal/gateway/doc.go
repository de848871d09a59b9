// Package gateway exposes the broker over HTTP and WebSocket.
//
// Every connection gets its own mailbox. Room connections (/ws/{topic}) and SSE streams
// subscribe with the Naked protocol; multiplexed connections (/mux) subscribe with the
// Multiplexed protocol and receive JSON or CBOR envelopes. On disconnect the mailbox is
// closed and removed from the broker.
package gateway
