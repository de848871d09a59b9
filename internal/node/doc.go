// Package node wires the broker, the HTTP/WebSocket gateway and the gRPC surface into
// one runnable unit with a single lifecycle.
package node
