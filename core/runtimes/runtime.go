package runtimes

import "context"

// Runtime is a single-shot agent runtime: every logical exchange is a fresh
// request whose generation events arrive on the returned stream.
type Runtime interface {
	// StartTurn begins a new generation turn from a user message.
	StartTurn(ctx context.Context, message string, opts ...TurnOption) (Stream, error)
	// ContinueTurn resumes an existing turn with tool results (including
	// wrapped approval decisions) and streams the continuation.
	ContinueTurn(ctx context.Context, results []ToolResult, opts ...TurnOption) (Stream, error)
}

// LiveRuntime is a persistent agent runtime: one connection carries an entire
// multi-turn conversation.
type LiveRuntime interface {
	Connect(ctx context.Context, opts ...TurnOption) (LiveSession, error)
}

// LiveSession is an open bidirectional generation session.
type LiveSession interface {
	Stream
	// SendMessage submits a user message into the open session.
	SendMessage(ctx context.Context, message string) error
	// SendToolResult resumes generation in place with a tool result or a
	// wrapped approval decision.
	SendToolResult(ctx context.Context, result ToolResult) error
	Close() error
}

// TurnOptions collects per-turn request configuration.
type TurnOptions struct {
	Instructions string
	Tools        []Tool
	// TurnID carries the upstream turn identity a continuation resumes.
	TurnID string
}

type TurnOption func(*TurnOptions)

// WithInstructions sets the system instructions for the turn.
func WithInstructions(instructions string) TurnOption {
	return func(o *TurnOptions) { o.Instructions = instructions }
}

// WithTools declares the tools available to the runtime for the turn.
func WithTools(tools ...Tool) TurnOption {
	return func(o *TurnOptions) { o.Tools = append(o.Tools, tools...) }
}

// WithTurnID targets a continuation at an existing upstream turn.
func WithTurnID(id string) TurnOption {
	return func(o *TurnOptions) { o.TurnID = id }
}
