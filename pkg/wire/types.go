package wire

import (
	"encoding/base64"
	"time"
)

// Request/Response types shared by the gateway and its clients

// AuthRequest represents a login request
type AuthRequest struct {
	ClientID string `json:"clientId"`
}

// AuthResponse represents a login response
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PublishResponse is returned once a streamed publish has been fully read
type PublishResponse struct {
	Topic string `json:"topic"`
	Kind  string `json:"kind"`
	Bytes int64  `json:"bytes"`
}

// StreamEvent is the data payload of one Server-Sent Event
type StreamEvent struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Kind      string    `json:"kind"`
	Data      string    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Bytes returns the event payload, decoding base64 for binary events
func (e StreamEvent) Bytes() ([]byte, error) {
	if e.Kind == "binary" {
		return base64.StdEncoding.DecodeString(e.Data)
	}
	return []byte(e.Data), nil
}

// SubscriptionInfo describes one mailbox in the broker's table
type SubscriptionInfo struct {
	MailboxID string   `json:"mailboxId"`
	Protocol  string   `json:"protocol"`
	Topics    []string `json:"topics"`
}

// AdminSubscriptionsResponse lists every subscription entry
type AdminSubscriptionsResponse struct {
	Subscriptions []SubscriptionInfo `json:"subscriptions"`
}

// AdminStatsResponse reports broker counters and connection counts
type AdminStatsResponse struct {
	Commands      uint64 `json:"commands"`
	Forwards      uint64 `json:"forwards"`
	Deliveries    uint64 `json:"deliveries"`
	DroppedFull   uint64 `json:"droppedFull"`
	DroppedClosed uint64 `json:"droppedClosed"`
	RelayFailures uint64 `json:"relayFailures"`
	Purged        uint64 `json:"purged"`
	Subscribers   int64  `json:"subscribers"`
	Connections   int64  `json:"connections"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Healthy     bool   `json:"healthy"`
	BrokerAlive bool   `json:"brokerAlive"`
	Connections int64  `json:"connections"`
	Message     string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
