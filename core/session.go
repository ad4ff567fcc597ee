package bridge

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-bridge/core/runtimes"
)

// Session is the per-connection context object. It owns the identifier map,
// the remote call registry, the deferred confirmations, and the tool set, and
// is threaded explicitly through every call; there is no process-wide
// registry keyed by connection id.
//
// A session is created when a connection starts and closed when it ends.
// Nothing in it survives the process.
type Session struct {
	id string

	callMap       *CallMap
	calls         *Calls
	confirmations *confirmations
	tools         map[string]runtimes.Tool

	closeOnce sync.Once
}

// SessionOption configures a session at construction time.
type SessionOption func(*Session)

// WithSessionTools registers the tools executable within the session.
func WithSessionTools(tools ...runtimes.Tool) SessionOption {
	return func(s *Session) {
		for _, tool := range tools {
			s.tools[tool.Name] = tool
		}
	}
}

// WithSessionID overrides the generated session id.
func WithSessionID(id string) SessionOption {
	return func(s *Session) { s.id = id }
}

// WithCallTimeouts overrides the remote-call waits. Zero keeps a default.
func WithCallTimeouts(await, approval time.Duration) SessionOption {
	return func(s *Session) { s.calls.SetTimeouts(await, approval) }
}

func NewSession(opts ...SessionOption) *Session {
	callMap := NewCallMap()
	s := &Session{
		id:            uuid.NewString(),
		callMap:       callMap,
		calls:         NewCalls(callMap),
		confirmations: newConfirmations(),
		tools:         map[string]runtimes.Tool{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID is the session identity, stable for the connection's lifetime.
func (s *Session) ID() string { return s.id }

// Calls exposes the remote call registry for tool bodies that await
// client-side results.
func (s *Session) Calls() *Calls { return s.calls }

// CallMap exposes the identifier mapper.
func (s *Session) CallMap() *CallMap { return s.callMap }

// Tools returns the session's tool set for runtime declaration.
func (s *Session) Tools() []runtimes.Tool {
	tools := make([]runtimes.Tool, 0, len(s.tools))
	for _, tool := range s.tools {
		tools = append(tools, tool)
	}
	return tools
}

// DeliverToolResult routes a client-produced tool result to its waiter.
func (s *Session) DeliverToolResult(toolCallID string, result json.RawMessage) {
	s.calls.Deliver(toolCallID, result)
}

// DeliverDecision routes a human approval decision to the orchestrator
// waiting on it.
func (s *Session) DeliverDecision(approvalID string, approved bool) {
	payload, _ := json.Marshal(decisionPayload{Approved: approved})
	s.calls.Deliver(approvalID, payload)
}

// Close cancels all pending waits and drops the session's tables.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.calls.Close()
		s.confirmations.clear()
		s.callMap.Clear()
	})
}
