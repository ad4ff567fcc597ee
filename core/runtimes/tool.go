package runtimes

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
)

const (
	// ConfirmationToolName is the synthetic tool the runtime invokes when a
	// tool flagged as approval-required needs a human decision before it may
	// run. It is never exposed downstream as an ordinary tool call.
	ConfirmationToolName = "request_confirmation"

	// AwaitingApprovalSentinel is the error string the runtime reports as the
	// provisional result of an approval-required call. It must never reach
	// the client.
	AwaitingApprovalSentinel = "awaiting tool confirmation"
)

// Tool is an executable function exposed to the runtime, together with the
// metadata needed to declare it upstream.
type Tool struct {
	Name        string
	Description string
	// DisplayName is the human-facing name used in operator-visible messages;
	// Name is used when empty.
	DisplayName string
	// Parameters is the JSON schema of the tool's arguments object.
	Parameters *jsonschema.Schema
	// RequiresApproval marks the tool as needing a human decision before it
	// runs.
	RequiresApproval bool
	// ClientExecuted marks a tool whose body runs on the client; the bridge
	// declares it upstream and waits for the client to deliver its result.
	ClientExecuted bool

	execute func(context.Context, string) (json.RawMessage, error)
}

// ToolOption modifies tool metadata at construction time.
type ToolOption func(*Tool)

// WithApproval flags the tool as approval-required.
func WithApproval() ToolOption {
	return func(t *Tool) { t.RequiresApproval = true }
}

// WithDisplayName sets the human-facing tool name.
func WithDisplayName(name string) ToolOption {
	return func(t *Tool) { t.DisplayName = name }
}

// NewClientTool declares a tool executed by the client. The parameter schema
// is reflected from T's json tags; the result arrives through the remote
// call registry instead of a local handler.
func NewClientTool[T any](name, description string, opts ...ToolOption) Tool {
	tool := NewTool(name, description, func(context.Context, T) (any, error) {
		return nil, fmt.Errorf("tool %q is client-executed", name)
	}, opts...)
	tool.ClientExecuted = true
	return tool
}

// NewTool builds a tool from a typed handler. The parameter schema is
// reflected from T's json tags.
func NewTool[T any](name, description string, handler func(context.Context, T) (any, error), opts ...ToolOption) Tool {
	reflector := jsonschema.Reflector{DoNotReference: true}
	var zero T
	var schema *jsonschema.Schema
	if reflect.TypeOf(zero) != nil {
		schema = reflector.Reflect(zero)
		schema.Version = ""
	}

	tool := Tool{
		Name:        name,
		Description: description,
		Parameters:  schema,
		execute: func(ctx context.Context, arguments string) (json.RawMessage, error) {
			var args T
			if arguments != "" {
				if err := json.Unmarshal([]byte(arguments), &args); err != nil {
					return nil, fmt.Errorf("failed to parse arguments for tool %q: %w", name, err)
				}
			}

			result, err := handler(ctx, args)
			if err != nil {
				return nil, err
			}

			payload, err := json.Marshal(result)
			if err != nil {
				return nil, fmt.Errorf("failed to encode result of tool %q: %w", name, err)
			}
			return payload, nil
		},
	}
	for _, opt := range opts {
		opt(&tool)
	}
	return tool
}

// Execute runs the tool against raw JSON arguments.
func (t Tool) Execute(ctx context.Context, arguments string) (json.RawMessage, error) {
	if t.execute == nil {
		return nil, fmt.Errorf("tool %q has no handler", t.Name)
	}
	return t.execute(ctx, arguments)
}
