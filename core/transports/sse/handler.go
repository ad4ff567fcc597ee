// Package sse is the single-shot HTTP transport: each logical exchange is a
// fresh POST whose response streams wire events as SSE frames. Approval
// decisions and client tool results for an exchange still in flight arrive on
// side endpoints and are routed into the live stream's session.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	bridge "github.com/koscakluka/ema-bridge/core"
	"github.com/koscakluka/ema-bridge/core/protocol"
	"github.com/koscakluka/ema-bridge/core/runtimes"
	"go.opentelemetry.io/otel/attribute"
)

// Handler serves the single-shot transport.
type Handler struct {
	newRuntime   func() runtimes.Runtime
	tools        []runtimes.Tool
	instructions string

	mu sync.Mutex
	// streams tracks sessions whose response is still being written, so a
	// later request can deliver a decision into them. Entries are removed
	// when the exchange finishes; the registry never outlives a stream.
	streams map[string]*bridge.Session
}

type HandlerOption func(*Handler)

// WithTools registers the tool set exposed on every exchange.
func WithTools(tools ...runtimes.Tool) HandlerOption {
	return func(h *Handler) { h.tools = append(h.tools, tools...) }
}

// WithInstructions sets the system instructions forwarded upstream.
func WithInstructions(instructions string) HandlerOption {
	return func(h *Handler) { h.instructions = instructions }
}

// NewHandler builds the transport. newRuntime constructs a fresh runtime per
// exchange, since a single-shot runtime accumulates conversation state.
func NewHandler(newRuntime func() runtimes.Runtime, opts ...HandlerOption) *Handler {
	h := &Handler{
		newRuntime: newRuntime,
		streams:    map[string]*bridge.Session{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts the transport's endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/chat", h.handleChat)
	r.Post("/chat/{streamID}/decision", h.handleDecision)
	r.Post("/chat/{streamID}/tool-result", h.handleToolResult)
	return r
}

type chatRequest struct {
	Message string `json:"message"`
	// StreamID names this exchange so side-channel messages can reach it.
	// Generated when absent.
	StreamID string `json:"streamId"`
	// Approvals carries decisions already known to the client, applied as
	// pre-resolved results before the turn starts.
	Approvals []protocol.ApprovalDecision `json:"approvals"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "chat exchange")
	defer span.End()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.StreamID == "" {
		req.StreamID = uuid.NewString()
	}
	span.SetAttributes(attribute.String("stream.id", req.StreamID))

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Stream-Id", req.StreamID)

	session := bridge.NewSession(
		bridge.WithSessionID(req.StreamID),
		bridge.WithSessionTools(h.tools...),
	)
	h.register(req.StreamID, session)
	defer func() {
		h.unregister(req.StreamID)
		session.Close()
	}()

	sink := &sseSink{w: w, flusher: flusher}
	orchestrator := bridge.NewSingleShotOrchestrator(session, h.newRuntime(), sink,
		bridge.WithTurnOptions(runtimes.WithInstructions(h.instructions)),
	)

	if err := orchestrator.Run(ctx, req.Message, req.Approvals); err != nil {
		// The turn already finalized with an error event; nothing more can be
		// written to the response.
		logger.WarnContext(ctx, "exchange ended with error", "stream_id", req.StreamID, "error", err)
	}
}

func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(chi.URLParam(r, "streamID"))
	if !ok {
		http.Error(w, "unknown stream", http.StatusNotFound)
		return
	}

	var decision protocol.ApprovalDecision
	if err := json.NewDecoder(r.Body).Decode(&decision); err != nil || decision.ApprovalID == "" {
		http.Error(w, "invalid decision body", http.StatusBadRequest)
		return
	}

	session.DeliverDecision(decision.ApprovalID, decision.Approved)
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleToolResult(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(chi.URLParam(r, "streamID"))
	if !ok {
		http.Error(w, "unknown stream", http.StatusNotFound)
		return
	}

	var result protocol.ToolResultMessage
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil || result.ToolCallID == "" {
		http.Error(w, "invalid tool result body", http.StatusBadRequest)
		return
	}

	session.DeliverToolResult(result.ToolCallID, result.Result)
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) register(streamID string, session *bridge.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.streams[streamID] = session
}

func (h *Handler) unregister(streamID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.streams, streamID)
}

func (h *Handler) lookup(streamID string) (*bridge.Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	session, ok := h.streams[streamID]
	return session, ok
}

// sseSink writes wire events as SSE frames, flushing after each one.
type sseSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseSink) Send(event protocol.Event) error {
	frame, err := protocol.SSEFrame(event)
	if err != nil {
		return err
	}
	return s.write(frame)
}

func (s *sseSink) SendTerminal() error {
	return s.write(protocol.SSETerminalFrame())
}

func (s *sseSink) write(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}
