package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/channelbroker/internal/mailbox"
	"github.com/rmacdonaldsmith/channelbroker/pkg/channels"
	"github.com/rmacdonaldsmith/channelbroker/pkg/message"
	"github.com/rmacdonaldsmith/channelbroker/pkg/topic"
	"github.com/rmacdonaldsmith/channelbroker/pkg/wire"
)

// publishBodyBuffer is the number of chunks buffered between a publish request and the
// broker's forwarder
const publishBodyBuffer = 4

// topicFromRequest turns the wildcard part of the route into a descriptor
func topicFromRequest(r *http.Request) (topic.Descriptor, error) {
	return topic.Parse(chi.URLParam(r, "*"))
}

// handleLogin handles POST /api/v1/auth/login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct != "application/json" {
		writeError(w, "Content-Type must be application/json", http.StatusBadRequest)
		return
	}

	var req wire.AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.ClientID) < 2 {
		writeError(w, "clientId must be at least 2 characters", http.StatusBadRequest)
		return
	}

	// No credential store: the client named "admin" gets admin rights
	isAdmin := req.ClientID == "admin"

	token, expiresAt, err := s.auth.GenerateToken(req.ClientID, isAdmin)
	if err != nil {
		writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, wire.AuthResponse{
		Token:     token,
		ClientID:  req.ClientID,
		ExpiresAt: expiresAt,
	}, http.StatusOK)
}

// handlePublish handles POST /api/v1/publish/{topic...}. The request body is streamed
// into the broker chunk by chunk while it is still being uploaded.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	d, err := topicFromRequest(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	kind := kindFromRequest(r)
	header := message.Header{
		Kind: kind,
		Metadata: map[string]string{
			"content-type": r.Header.Get("Content-Type"),
		},
	}
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		header.Metadata["client-id"] = claims.ClientID
	}

	body := message.NewBody(publishBodyBuffer)
	s.broker.Send(d, message.Stream(header, body))

	src := http.MaxBytesReader(w, r.Body, s.cfg.MaxMessageSize)
	n, err := body.CopyFrom(r.Context(), src, s.cfg.ChunkSize)
	if errors.Is(err, message.ErrBodyAbandoned) {
		// Nobody is listening any more; the publish still succeeds once the upload is read
		var rest int64
		rest, err = io.Copy(io.Discard, src)
		n += rest
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeError(w, fmt.Sprintf("message exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
		return
	case err != nil:
		s.logger.Debug("publish aborted", zap.String("topic", d.String()), zap.Error(err))
		writeError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	writeJSON(w, wire.PublishResponse{
		Topic: d.String(),
		Kind:  kind.String(),
		Bytes: n,
	}, http.StatusAccepted)
}

// kindFromRequest picks text for textual content types, binary otherwise. The "kind"
// query parameter overrides the guess.
func kindFromRequest(r *http.Request) message.Kind {
	switch r.URL.Query().Get("kind") {
	case "text":
		return message.KindText
	case "binary":
		return message.KindBinary
	}

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(ct, "text/") || ct == "application/json" {
		return message.KindText
	}
	return message.KindBinary
}

// handleStream handles GET /api/v1/stream/{topic...} as a Server-Sent Events stream
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	d, err := topicFromRequest(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := s.connContext(r)
	defer cancel()

	mb := mailbox.New(s.cfg.MailboxCapacity)
	s.connections.Add(1)
	s.broker.Subscribe(d, channels.Naked, mb)
	defer func() {
		mb.Close()
		s.broker.UnsubscribeAll(mb)
		s.connections.Add(-1)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, ": connected to %s\n\n", d)
	flusher.Flush()

	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()

		case msg := <-mb.C():
			event, err := streamEvent(ctx, d, msg)
			if errors.Is(err, message.ErrBodyTruncated) {
				continue
			}
			if err != nil {
				return
			}
			if err := writeSSE(w, event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func streamEvent(ctx context.Context, d topic.Descriptor, msg *message.Message) (wire.StreamEvent, error) {
	body := msg.Body()
	data, err := body.ReadAll(ctx)
	if err != nil {
		body.Abandon()
		return wire.StreamEvent{}, err
	}

	kind := msg.Header().Kind
	event := wire.StreamEvent{
		ID:        uuid.NewString(),
		Topic:     d.String(),
		Kind:      kind.String(),
		Timestamp: time.Now().UTC(),
	}
	if kind == message.KindBinary {
		event.Data = base64.StdEncoding.EncodeToString(data)
	} else {
		event.Data = string(data)
	}
	return event, nil
}

// writeSSE writes one event in "id:/event:/data:" form
func writeSSE(w http.ResponseWriter, event wire.StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE message: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: message\ndata: %s\n\n", event.ID, data)
	return err
}

// handleHealth handles GET /api/v1/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	alive := true
	select {
	case <-s.broker.Done():
		alive = false
	default:
	}

	resp := wire.HealthResponse{
		Healthy:     alive,
		BrokerAlive: alive,
		Connections: s.connections.Load(),
		Message:     "ok",
	}
	status := http.StatusOK
	if !alive {
		resp.Message = "broker stopped"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, resp, status)
}

// handleAdminSubscriptions handles GET /api/v1/admin/subscriptions
func (s *Server) handleAdminSubscriptions(w http.ResponseWriter, r *http.Request) {
	infos, err := s.broker.Snapshot(r.Context())
	if err != nil {
		writeError(w, "Failed to read subscriptions: "+err.Error(), http.StatusServiceUnavailable)
		return
	}

	resp := wire.AdminSubscriptionsResponse{Subscriptions: make([]wire.SubscriptionInfo, 0, len(infos))}
	for _, info := range infos {
		topics := make([]string, 0, len(info.Topics))
		for _, t := range info.Topics {
			topics = append(topics, t.String())
		}
		resp.Subscriptions = append(resp.Subscriptions, wire.SubscriptionInfo{
			MailboxID: info.MailboxID,
			Protocol:  info.Protocol.String(),
			Topics:    topics,
		})
	}

	writeJSON(w, resp, http.StatusOK)
}

// handleAdminStats handles GET /api/v1/admin/stats
func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	st := s.broker.Stats()
	writeJSON(w, wire.AdminStatsResponse{
		Commands:      st.Commands,
		Forwards:      st.Forwards,
		Deliveries:    st.Deliveries,
		DroppedFull:   st.DroppedFull,
		DroppedClosed: st.DroppedClosed,
		RelayFailures: st.RelayFailures,
		Purged:        st.Purged,
		Subscribers:   st.Subscribers,
		Connections:   s.connections.Load(),
	}, http.StatusOK)
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"service": "channelbroker",
		"endpoints": map[string]string{
			"login":         "POST /api/v1/auth/login",
			"publish":       "POST /api/v1/publish/{topic}",
			"stream":        "GET /api/v1/stream/{topic}",
			"room":          "GET /ws/{topic}",
			"multiplexed":   "GET /mux",
			"subscriptions": "GET /api/v1/admin/subscriptions",
			"stats":         "GET /api/v1/admin/stats",
			"health":        "GET /api/v1/health",
		},
		"authentication": "Bearer JWT token required for most endpoints",
	}, http.StatusOK)
}
