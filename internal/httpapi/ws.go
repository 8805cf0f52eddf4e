package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/chattoz/internal/hub"
	"github.com/ent0n29/chattoz/internal/observability"
	"github.com/ent0n29/chattoz/internal/protocol"
	"github.com/ent0n29/chattoz/internal/relay"
	"github.com/ent0n29/chattoz/internal/session"
)

const (
	wsQueueSize    = 256
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsPingInterval = 45 * time.Second
)

// wsConn adapts one websocket to hub.Connection. Sends are queued and a
// single writer goroutine owns the socket.
type wsConn struct {
	outbound  chan any
	done      chan struct{}
	closeOnce sync.Once
	metrics   *observability.Metrics
}

func newWSConn(metrics *observability.Metrics) *wsConn {
	return &wsConn{
		outbound: make(chan any, wsQueueSize),
		done:     make(chan struct{}),
		metrics:  metrics,
	}
}

func (c *wsConn) Send(ctx context.Context, payload any) error {
	select {
	case <-c.done:
		return hub.ErrConnectionClosed
	default:
	}
	select {
	case <-c.done:
		return hub.ErrConnectionClosed
	case <-ctx.Done():
		c.metrics.ObserveOutboundMessage(payloadType(payload), "drop_timeout")
		return ctx.Err()
	case c.outbound <- payload:
		c.metrics.ObserveOutboundMessage(payloadType(payload), "queued")
		return nil
	}
}

// offer enqueues without blocking and reports whether the payload was queued.
func (c *wsConn) offer(payload any) bool {
	select {
	case <-c.done:
		return false
	case c.outbound <- payload:
		c.metrics.ObserveOutboundMessage(payloadType(payload), "queued")
		return true
	default:
		c.metrics.ObserveOutboundMessage(payloadType(payload), "drop_full")
		return false
	}
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "session_id"))
	userID := strings.TrimSpace(chi.URLParam(r, "user_id"))
	role, err := protocol.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_role", err.Error())
		return
	}
	if sessionID == "" || userID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "session_id and user_id are required")
		return
	}
	if s.relay == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "relay not configured")
		return
	}

	if _, err := s.sessions.Get(r.Context(), sessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return
		}
		s.logger.Error("ws session lookup", "session_id", sessionID, "err", err)
		respondError(w, http.StatusInternalServerError, "session_store_failed", "could not load session")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.ObserveSessionEvent("ws_connected")
	s.metrics.ConnectionOpened()
	defer s.metrics.ConnectionClosed()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	wc := newWSConn(s.metrics)
	inbound := make(chan any, wsQueueSize)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		defer cancel()
		err := s.relay.RunConnection(ctx, relay.Participant{
			SessionID: sessionID,
			Role:      role,
			UserID:    userID,
			Conn:      wc,
		}, inbound)
		if err != nil && !errors.Is(err, relay.ErrSessionNotFound) {
			s.logger.Warn("relay connection ended", "session_id", sessionID, "role", role, "err", err)
		}
		// Flush what the relay queued, then hang up.
		_ = wc.Close()
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(conn, wc)
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			// Keep websocket writes single-threaded; drop if the queue is saturated.
			wc.offer(protocol.NewErrorEvent(sessionID, "invalid_client_message", "gateway", false, err.Error()))
			continue
		}

		if t, ok := protocol.TypeOf(parsed); ok {
			s.metrics.ObserveWSMessage("inbound", string(t))
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	_ = wc.Close()
	<-writerDone
	s.metrics.ObserveSessionEvent("ws_disconnected")
}

// writeLoop drains wc onto the socket until wc is closed or a write fails.
// Payloads still queued at close are flushed before the close frame.
func (s *Server) writeLoop(conn *websocket.Conn, wc *wsConn) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	write := func(msg any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			s.metrics.ObserveWriteError("write_json")
			return false
		}
		s.metrics.ObserveWSMessage("outbound", payloadType(msg))
		return true
	}

	for {
		select {
		case <-wc.done:
			for {
				select {
				case msg := <-wc.outbound:
					if !write(msg) {
						_ = conn.Close()
						return
					}
				default:
					deadline := time.Now().Add(time.Second)
					_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
					_ = conn.Close()
					return
				}
			}
		case msg := <-wc.outbound:
			if !write(msg) {
				_ = wc.Close()
				_ = conn.Close()
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				s.metrics.ObserveWriteError("ping")
				_ = wc.Close()
				_ = conn.Close()
				return
			}
		}
	}
}

func payloadType(v any) string {
	if t, ok := protocol.TypeOf(v); ok {
		return string(t)
	}
	return "unknown"
}
