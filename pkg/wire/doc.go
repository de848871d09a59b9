// Package wire holds the types exchanged between the channelbroker gateway and its
// clients: REST request/response bodies, Server-Sent Event payloads, and the control
// frames and envelopes of multiplexed WebSocket connections.
package wire
