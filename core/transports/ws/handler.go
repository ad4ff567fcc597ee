// Package ws is the persistent transport: one websocket carries an entire
// multi-turn, possibly multi-approval conversation. Wire events travel as
// JSON text frames; the terminal marker is a literal text frame.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	bridge "github.com/koscakluka/ema-bridge/core"
	"github.com/koscakluka/ema-bridge/core/protocol"
	"github.com/koscakluka/ema-bridge/core/runtimes"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Handler serves the persistent transport.
type Handler struct {
	live         runtimes.LiveRuntime
	tools        []runtimes.Tool
	instructions string

	upgrader websocket.Upgrader
}

type HandlerOption func(*Handler)

// WithTools registers the tool set exposed on every connection.
func WithTools(tools ...runtimes.Tool) HandlerOption {
	return func(h *Handler) { h.tools = append(h.tools, tools...) }
}

// WithInstructions sets the system instructions forwarded upstream.
func WithInstructions(instructions string) HandlerOption {
	return func(h *Handler) { h.instructions = instructions }
}

func NewHandler(live runtimes.LiveRuntime, opts ...HandlerOption) *Handler {
	h := &Handler{
		live: live,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the connection and bridges it to an upstream live
// session until either side disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "websocket connection")
	defer span.End()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	defer conn.Close()

	session := bridge.NewSession(bridge.WithSessionTools(h.tools...))
	defer session.Close()
	span.SetAttributes(attribute.String("session.id", session.ID()))

	liveSession, err := h.live.Connect(ctx,
		runtimes.WithTools(session.Tools()...),
		runtimes.WithInstructions(h.instructions),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		frame, frameErr := protocol.Marshal(protocol.NewError("upstream connection failed"))
		if frameErr == nil {
			_ = conn.WriteMessage(websocket.TextMessage, frame)
		}
		return
	}
	defer liveSession.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sink := &wsSink{conn: conn}
	orchestrator := bridge.NewPersistentOrchestrator(session, liveSession, sink)

	go h.readLoop(ctx, cancel, conn, session, orchestrator)

	if err := orchestrator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.WarnContext(ctx, "session ended with error", "session_id", session.ID(), "error", err)
	}
}

// readLoop consumes inbound client messages until the client disconnects,
// which cancels the connection's tasks.
func (h *Handler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, session *bridge.Session, orchestrator *bridge.PersistentOrchestrator) {
	defer cancel()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.DebugContext(ctx, "websocket read ended", "error", err)
			}
			return
		}

		inbound, err := protocol.ParseInbound(data)
		if err != nil {
			// Malformed messages are dropped; the connection survives.
			logger.WarnContext(ctx, "dropping inbound message", "error", err)
			continue
		}

		switch message := inbound.(type) {
		case protocol.UserMessage:
			if err := orchestrator.SendMessage(ctx, message.Text); err != nil {
				logger.WarnContext(ctx, "failed to forward message upstream", "error", err)
			}
		case protocol.ToolResultMessage:
			session.DeliverToolResult(message.ToolCallID, message.Result)
		case protocol.ApprovalDecision:
			session.DeliverDecision(message.ApprovalID, message.Approved)
		}
	}
}

// wsSink writes wire events as JSON text frames and the terminal marker as a
// literal text frame.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Send(event protocol.Event) error {
	frame, err := protocol.Marshal(event)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *wsSink) SendTerminal() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte(protocol.TerminalMarker))
}
