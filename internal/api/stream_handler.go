package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hostping/hostping/internal/eventbus"
	"github.com/hostping/hostping/internal/metrics"
)

const (
	transportSSE = "sse"
	transportWS  = "ws"

	wsWriteWait = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The stream is read-only and carries no credentials.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamHandler relays event bus messages to live clients over SSE and
// WebSocket. Each connection holds its own subscription for its lifetime.
type StreamHandler struct {
	bus       *eventbus.Bus
	keepalive time.Duration
	logger    *slog.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(bus *eventbus.Bus, keepalive time.Duration, logger *slog.Logger) *StreamHandler {
	if keepalive <= 0 {
		keepalive = 30 * time.Second
	}
	return &StreamHandler{bus: bus, keepalive: keepalive, logger: logger}
}

// streamWriter is one client transport.
type streamWriter interface {
	Send(msg eventbus.Message) error
	Keepalive() error
}

// relay forwards messages from sub to out until the bus closes, ctx ends or a
// write fails, and returns the reason. A keepalive goes out after every idle
// interval. Lag is counted and skipped.
func (h *StreamHandler) relay(ctx context.Context, sub *eventbus.Subscription, transport string, logger *slog.Logger, out streamWriter) error {
	for {
		recvCtx, cancel := context.WithTimeout(ctx, h.keepalive)
		msg, err := sub.Recv(recvCtx)
		cancel()

		var lagged *eventbus.LaggedError
		switch {
		case err == nil:
			if err := out.Send(msg); err != nil {
				return err
			}
		case errors.As(err, &lagged):
			metrics.StreamLaggedTotal.WithLabelValues(transport).Add(float64(lagged.Skipped))
			logger.WarnContext(ctx, "Stream client lagging, messages skipped", slog.Uint64("skipped", lagged.Skipped))
		case errors.Is(err, eventbus.ErrClosed):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			if err := out.Keepalive(); err != nil {
				return err
			}
		}
	}
}

func (h *StreamHandler) track(ctx context.Context, transport string) (*slog.Logger, func()) {
	logger := h.logger.With(
		slog.String("conn_id", uuid.NewString()),
		slog.String("transport", transport),
	)
	metrics.StreamSubscribers.WithLabelValues(transport).Inc()
	logger.InfoContext(ctx, "Stream client connected")

	return logger, func() {
		metrics.StreamSubscribers.WithLabelValues(transport).Dec()
	}
}

// SSE handles GET /sse
func (h *StreamHandler) SSE(w http.ResponseWriter, r *http.Request) {
	if h.bus.Closed() {
		sendError(w, r, http.StatusServiceUnavailable, "STREAM_CLOSED", "Event stream is shut down", nil)
		return
	}

	sub := h.bus.Subscribe()
	defer sub.Close()

	ctx := r.Context()
	logger, done := h.track(ctx, transportSSE)
	defer done()

	rc := http.NewResponseController(w)
	// server write timeouts do not apply to a long-lived stream
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logger.ErrorContext(ctx, "Streaming unsupported", slog.String("error", err.Error()))
		return
	}

	err := h.relay(ctx, sub, transportSSE, logger, &sseWriter{w: w, rc: rc})
	logger.InfoContext(ctx, "Stream client disconnected", slog.String("reason", err.Error()))
}

type sseWriter struct {
	w  io.Writer
	rc *http.ResponseController
}

func (s *sseWriter) Send(msg eventbus.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *sseWriter) Keepalive() error {
	if _, err := io.WriteString(s.w, ": keepalive\n\n"); err != nil {
		return err
	}
	return s.rc.Flush()
}

// WS handles GET /ws
func (h *StreamHandler) WS(w http.ResponseWriter, r *http.Request) {
	if h.bus.Closed() {
		sendError(w, r, http.StatusServiceUnavailable, "STREAM_CLOSED", "Event stream is shut down", nil)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Failed to upgrade websocket", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	sub := h.bus.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	logger, done := h.track(ctx, transportWS)
	defer done()

	pongWait := 2 * h.keepalive
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go readPump(conn, cancel)

	err = h.relay(ctx, sub, transportWS, logger, &wsWriter{conn: conn})
	if errors.Is(err, eventbus.ErrClosed) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(wsWriteWait))
	}
	logger.InfoContext(ctx, "Stream client disconnected", slog.String("reason", err.Error()))
}

// readPump drains client frames so control frames are processed, and cancels
// the stream once the peer goes away.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

type wsWriter struct {
	conn *websocket.Conn
}

func (s *wsWriter) Send(msg eventbus.Message) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteJSON(msg)
}

func (s *wsWriter) Keepalive() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}
