package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rmacdonaldsmith/channelbroker/pkg/wire"
)

// StreamClient receives a topic as Server-Sent Events
type StreamClient struct {
	client *Client
	events chan wire.StreamEvent
	errors chan error
	done   chan struct{}
	cancel context.CancelFunc
}

// StreamConfig configures the streaming client
type StreamConfig struct {
	// Topic to stream (required)
	Topic string

	// BufferSize for the event channel
	BufferSize int

	// ReconnectDelay between reconnection attempts
	ReconnectDelay time.Duration

	// MaxReconnectAttempts (0 = infinite, negative = never reconnect)
	MaxReconnectAttempts int

	// MaxEventSize bounds one SSE line
	MaxEventSize int
}

// SetDefaults sets reasonable default values for StreamConfig
func (sc *StreamConfig) SetDefaults() {
	if sc.BufferSize == 0 {
		sc.BufferSize = 100
	}
	if sc.ReconnectDelay == 0 {
		sc.ReconnectDelay = 2 * time.Second
	}
	if sc.MaxEventSize == 0 {
		sc.MaxEventSize = 32 * 1024 * 1024 // base64 of a 16MB message fits
	}
}

// Stream opens an SSE stream for config.Topic, reconnecting when the connection drops
func (c *Client) Stream(ctx context.Context, config StreamConfig) (*StreamClient, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("Topic is required")
	}

	config.SetDefaults()

	streamCtx, cancel := context.WithCancel(ctx)

	sc := &StreamClient{
		client: c,
		events: make(chan wire.StreamEvent, config.BufferSize),
		errors: make(chan error, 10),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go sc.startStreaming(streamCtx, config)

	return sc, nil
}

// Events returns the channel for receiving events
func (sc *StreamClient) Events() <-chan wire.StreamEvent {
	return sc.events
}

// Errors returns the channel for receiving errors
func (sc *StreamClient) Errors() <-chan error {
	return sc.errors
}

// Done returns a channel that's closed when streaming ends
func (sc *StreamClient) Done() <-chan struct{} {
	return sc.done
}

// Close stops the stream and waits for it to end
func (sc *StreamClient) Close() error {
	sc.cancel()
	<-sc.done
	return nil
}

func (sc *StreamClient) startStreaming(ctx context.Context, config StreamConfig) {
	defer close(sc.done)
	defer close(sc.events)
	defer close(sc.errors)

	attempts := 0
	for {
		err := sc.connectAndStream(ctx, config)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			sc.reportError(ctx, fmt.Errorf("streaming error: %w", err))
		}

		if config.MaxReconnectAttempts < 0 ||
			(config.MaxReconnectAttempts > 0 && attempts >= config.MaxReconnectAttempts) {
			return
		}
		attempts++

		select {
		case <-time.After(config.ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (sc *StreamClient) reportError(ctx context.Context, err error) {
	select {
	case sc.errors <- err:
	case <-ctx.Done():
	default:
	}
}

func (sc *StreamClient) connectAndStream(ctx context.Context, config StreamConfig) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sc.client.topicURL("/api/v1/stream", config.Topic, "http"), nil)
	if err != nil {
		return fmt.Errorf("failed to create streaming request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Bearer "+sc.client.token)

	resp, err := sc.client.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return apiError(resp.StatusCode, bodyBytes)
	}

	return sc.processSSEStream(ctx, resp.Body, config.MaxEventSize)
}

// processSSEStream reads "data:" lines; ids, event names and keepalive comments are skipped
func (sc *StreamClient) processSSEStream(ctx context.Context, reader io.Reader, maxEventSize int) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event wire.StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			sc.reportError(ctx, fmt.Errorf("failed to parse event: %w", err))
			continue
		}

		select {
		case sc.events <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	return nil
}
