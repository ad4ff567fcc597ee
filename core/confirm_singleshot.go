package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/koscakluka/ema-bridge/core/protocol"
	"github.com/koscakluka/ema-bridge/core/runtimes"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// SingleShotOrchestrator drives one logical exchange against a
// request/response runtime. Tool calls are resolved bridge-side between
// continuation requests, and generation continues within the same downstream
// response: the terminal marker is withheld until the last continuation
// drains.
type SingleShotOrchestrator struct {
	session   *Session
	runtime   runtimes.Runtime
	converter *Converter
	confirmer confirmer

	turnOpts []runtimes.TurnOption
}

// OrchestratorOption configures an orchestrator variant.
type OrchestratorOption func(*orchestratorOptions)

type orchestratorOptions struct {
	turnOpts []runtimes.TurnOption
}

// WithTurnOptions forwards per-turn options (instructions, extra tools) to
// every runtime request the orchestrator makes.
func WithTurnOptions(opts ...runtimes.TurnOption) OrchestratorOption {
	return func(o *orchestratorOptions) { o.turnOpts = append(o.turnOpts, opts...) }
}

func NewSingleShotOrchestrator(session *Session, runtime runtimes.Runtime, sink Sink, opts ...OrchestratorOption) *SingleShotOrchestrator {
	var options orchestratorOptions
	for _, opt := range opts {
		opt(&options)
	}

	converter := NewConverter(sink, session.callMap, Capabilities{ResumeInPlace: false})
	return &SingleShotOrchestrator{
		session:   session,
		runtime:   runtime,
		converter: converter,
		confirmer: confirmer{session: session, converter: converter},
		turnOpts:  options.turnOpts,
	}
}

// Converter exposes the turn's converter, mainly for transports that need
// the message id.
func (o *SingleShotOrchestrator) Converter() *Converter { return o.converter }

// Run processes one user message to completion: it streams the runtime's
// events downstream, resolves tool calls (including full approval cycles),
// and keeps continuing the turn until generation finishes. Pre-resolved
// approval decisions that travelled with the request are applied before the
// turn starts.
func (o *SingleShotOrchestrator) Run(ctx context.Context, message string, preResolved []protocol.ApprovalDecision) error {
	ctx, span := tracer.Start(ctx, "process exchange")
	defer span.End()
	span.SetAttributes(attribute.String("message.id", o.converter.MessageID()))

	for _, decision := range preResolved {
		o.session.DeliverDecision(decision.ApprovalID, decision.Approved)
	}

	turnOpts := append([]runtimes.TurnOption{runtimes.WithTools(o.session.Tools()...)}, o.turnOpts...)

	stream, err := o.runtime.StartTurn(ctx, message, turnOpts...)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrUpstream, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return o.converter.FinalizeWithError(ctx, err)
	}

	for {
		toolCalls, err := o.drain(ctx, stream)
		if err != nil {
			return o.converter.FinalizeWithError(ctx, fmt.Errorf("%w: %w", ErrUpstream, err))
		}
		if o.converter.Finalized() {
			return nil
		}
		if len(toolCalls) == 0 {
			return o.converter.Finalize(ctx)
		}

		results := make([]runtimes.ToolResult, 0, len(toolCalls))
		for _, call := range toolCalls {
			results = append(results, o.resolve(ctx, call))
		}

		stream, err = o.runtime.ContinueTurn(ctx, results, turnOpts...)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrUpstream, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return o.converter.FinalizeWithError(ctx, err)
		}
	}
}

// drain feeds one runtime stream through the converter and collects the tool
// calls the runtime requested.
func (o *SingleShotOrchestrator) drain(ctx context.Context, stream runtimes.Stream) ([]runtimes.ToolCall, error) {
	var toolCalls []runtimes.ToolCall
	for chunk, err := range stream.Chunks(ctx) {
		if err != nil {
			return nil, err
		}
		if err := o.converter.Convert(ctx, chunk); err != nil {
			return nil, err
		}
		if call, ok := chunk.(runtimes.ToolCallChunk); ok {
			toolCalls = append(toolCalls, call.ToolCall())
		}
	}
	return toolCalls, nil
}

func (o *SingleShotOrchestrator) resolve(ctx context.Context, call runtimes.ToolCall) runtimes.ToolResult {
	// A synthetic confirmation call means the runtime owns the intercepted
	// tool: the decision itself is the call's result, and the runtime applies
	// it during the continuation.
	if call.Name == runtimes.ConfirmationToolName {
		return o.awaitDecision(ctx, call)
	}

	result := o.confirmer.resolveToolCall(ctx, call)
	if err := o.confirmer.emitToolResult(result); err != nil {
		logger.WarnContext(ctx, "failed to mirror tool result", "tool_call_id", result.ID, "error", err)
	}
	return result
}

func (o *SingleShotOrchestrator) awaitDecision(ctx context.Context, call runtimes.ToolCall) runtimes.ToolResult {
	approvalID := ApprovalID(confirmationOriginalCallID(call))
	payload, err := o.session.calls.AwaitApprovalByID(ctx, approvalID)
	if err != nil {
		logger.WarnContext(ctx, "approval decision did not arrive", "tool_call_id", call.ID, "error", err)
		payload, _ = json.Marshal(decisionPayload{Approved: false})
	}
	return runtimes.ToolResult{ID: call.ID, Name: call.Name, Payload: payload}
}
