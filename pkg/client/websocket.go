package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Frame is one message received on a room subscription
type Frame struct {
	Binary bool
	Data   []byte
}

// Subscription is a WebSocket joined to one topic. Every message sent to the topic
// arrives as a Frame; frames written with Send are published to the same topic.
type Subscription struct {
	conn      *websocket.Conn
	stop      func() bool
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Subscribe joins the room for topic. Cancelling ctx closes the subscription.
func (c *Client) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.topicURL("/ws", topic, "ws"), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to subscribe: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	s := &Subscription{conn: conn}
	s.stop = context.AfterFunc(ctx, func() { conn.Close() })
	return s, nil
}

// Recv blocks until the next frame arrives or the subscription ends
func (s *Subscription) Recv() (Frame, error) {
	messageType, data, err := s.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	return Frame{Binary: messageType == websocket.BinaryMessage, Data: data}, nil
}

// Send publishes data to the subscription's topic
func (s *Subscription) Send(data []byte, binary bool) error {
	messageType := websocket.TextMessage
	if binary {
		messageType = websocket.BinaryMessage
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}

// Close sends a close frame and closes the connection
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.stop()
		s.writeMu.Lock()
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}
