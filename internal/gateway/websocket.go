package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/channelbroker/internal/mailbox"
	"github.com/rmacdonaldsmith/channelbroker/pkg/channels"
	"github.com/rmacdonaldsmith/channelbroker/pkg/message"
	"github.com/rmacdonaldsmith/channelbroker/pkg/topic"
	"github.com/rmacdonaldsmith/channelbroker/pkg/wire"
)

// wsConn is one upgraded connection. Only the writer loop writes data frames; the reader
// hands text replies to it through replies.
type wsConn struct {
	id      string
	conn    *websocket.Conn
	mailbox *mailbox.Mailbox
	replies chan []byte
	logger  *zap.Logger
}

// reply queues a text frame for the writer, dropping it if the queue is full
func (c *wsConn) reply(frame []byte) {
	select {
	case c.replies <- frame:
	default:
		c.logger.Debug("reply dropped")
	}
}

func (c *wsConn) replyError(err error) {
	frame, encErr := wire.EncodeText(wire.Envelope{Error: err.Error()})
	if encErr != nil {
		return
	}
	c.reply(frame)
}

type frameHandler func(c *wsConn, messageType int, data []byte)

// handleRoom handles GET /ws/{topic...}. The connection is subscribed to the path topic
// with the Naked protocol and every frame it sends is published to the same topic.
func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	d, err := topicFromRequest(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.serveWebSocket(w, r, false,
		func(mb *mailbox.Mailbox) {
			s.broker.Subscribe(d, channels.Naked, mb)
		},
		func(c *wsConn, messageType int, data []byte) {
			if messageType == websocket.BinaryMessage {
				s.broker.Send(d, message.Binary(data))
				return
			}
			s.broker.Send(d, message.Text(string(data)))
		})
}

// handleMux handles GET /mux. The connection manages its own subscriptions with JSON
// control frames and receives topic-tagged envelopes.
func (s *Server) handleMux(w http.ResponseWriter, r *http.Request) {
	s.serveWebSocket(w, r, true, nil, s.handleControlFrame)
}

func (s *Server) handleControlFrame(c *wsConn, messageType int, data []byte) {
	if messageType == websocket.BinaryMessage {
		env, err := wire.DecodeBinary(data)
		if err != nil {
			c.replyError(err)
			return
		}
		d, err := topic.Parse(env.Topic)
		if err != nil {
			c.replyError(err)
			return
		}
		s.broker.Send(d, message.Binary(env.Data))
		return
	}

	var frame wire.ControlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.replyError(errors.New("invalid control frame"))
		return
	}
	if err := frame.Validate(); err != nil {
		c.replyError(err)
		return
	}
	d, err := topic.Parse(frame.Topic)
	if err != nil {
		c.replyError(err)
		return
	}

	switch frame.Action {
	case wire.ActionSubscribe:
		s.broker.Subscribe(d, channels.Multiplexed, c.mailbox)
	case wire.ActionUnsubscribe:
		s.broker.Unsubscribe(d, c.mailbox)
	case wire.ActionPublish:
		if !frame.Binary {
			s.broker.Send(d, message.Text(frame.Data))
			return
		}
		raw, err := base64.StdEncoding.DecodeString(frame.Data)
		if err != nil {
			c.replyError(errors.New("binary publish data must be base64"))
			return
		}
		s.broker.Send(d, message.Binary(raw))
	}
}

// serveWebSocket upgrades the request and runs the reader and writer loops until either
// side goes away. The mailbox is closed and unsubscribed on the way out.
func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request, multiplexed bool, setup func(*mailbox.Mailbox), onFrame frameHandler) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := s.connContext(r)
	c := &wsConn{
		id:      uuid.NewString(),
		conn:    conn,
		mailbox: mailbox.New(s.cfg.MailboxCapacity),
		replies: make(chan []byte, 16),
	}
	c.logger = s.logger.With(zap.String("conn", c.id), zap.String("mailbox", c.mailbox.ID()))

	s.connections.Add(1)
	if setup != nil {
		setup(c.mailbox)
	}
	c.logger.Debug("websocket connected", zap.String("path", r.URL.Path))

	defer func() {
		cancel()
		c.mailbox.Close()
		s.broker.UnsubscribeAll(c.mailbox)
		conn.Close()
		s.connections.Add(-1)
		c.logger.Debug("websocket disconnected")
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writerLoop(ctx, c, multiplexed)
		// Unblock the reader
		conn.Close()
	}()

	s.readerLoop(c, onFrame)
	cancel()
	<-done
}

// readerLoop reads frames until the connection fails or is closed
func (s *Server) readerLoop(c *wsConn, onFrame frameHandler) {
	pongWait := 2 * s.cfg.PingInterval

	c.conn.SetReadLimit(s.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		onFrame(c, messageType, data)
	}
}

// writerLoop forwards mailbox messages, replies and keepalive pings
func (s *Server) writerLoop(ctx context.Context, c *wsConn, multiplexed bool) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.cfg.WriteTimeout))
			return

		case <-ticker.C:
			err = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout))

		case frame := <-c.replies:
			err = s.writeFrame(c, websocket.TextMessage, frame)

		case msg := <-c.mailbox.C():
			if multiplexed {
				err = s.writeEnvelope(ctx, c, msg)
			} else {
				err = s.writeStreamed(ctx, c, msg)
			}
		}

		if err != nil {
			c.logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}

func (s *Server) writeFrame(c *wsConn, messageType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return c.conn.WriteMessage(messageType, data)
}

// writeStreamed writes the body as one frame, chunk by chunk as it arrives
func (s *Server) writeStreamed(ctx context.Context, c *wsConn, msg *message.Message) error {
	body := msg.Body()

	messageType := websocket.TextMessage
	if msg.Header().Kind == message.KindBinary {
		messageType = websocket.BinaryMessage
	}

	w, err := c.conn.NextWriter(messageType)
	if err != nil {
		body.Abandon()
		return err
	}

	for {
		chunk, err := body.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			body.Abandon()
			if errors.Is(err, message.ErrBodyTruncated) {
				// Part of the frame may be on the wire already, so the connection has to go
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "message truncated"),
					time.Now().Add(s.cfg.WriteTimeout))
			}
			return err
		}

		_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if _, err := w.Write(chunk.Bytes()); err != nil {
			body.Abandon()
			return err
		}
	}

	return w.Close()
}

// writeEnvelope reads the whole body and writes it as a JSON or CBOR envelope. A truncated
// body is dropped.
func (s *Server) writeEnvelope(ctx context.Context, c *wsConn, msg *message.Message) error {
	body := msg.Body()
	data, err := body.ReadAll(ctx)
	if errors.Is(err, message.ErrBodyTruncated) {
		c.logger.Debug("dropping truncated message", zap.Error(err))
		return nil
	}
	if err != nil {
		body.Abandon()
		return err
	}

	d, _ := msg.Topic()
	env := wire.Envelope{Topic: d.String(), Data: data}

	if msg.Header().Kind == message.KindBinary {
		frame, err := wire.EncodeBinary(env)
		if err != nil {
			return err
		}
		return s.writeFrame(c, websocket.BinaryMessage, frame)
	}

	frame, err := wire.EncodeText(env)
	if err != nil {
		return err
	}
	return s.writeFrame(c, websocket.TextMessage, frame)
}
