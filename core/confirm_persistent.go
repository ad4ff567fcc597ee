package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/koscakluka/ema-bridge/core/runtimes"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PersistentOrchestrator drives an open bidirectional generation session.
// Tool calls resolve as independent tasks while the stream keeps flowing;
// results, including wrapped approval decisions, are sent back upstream as
// resumption messages and the already-open stream continues in place. It
// never starts a second request.
type PersistentOrchestrator struct {
	session *Session
	live    runtimes.LiveSession
	sink    Sink

	mu        sync.Mutex
	converter *Converter
	confirmer confirmer
	// pendingTools counts in-flight tool resolutions for the current turn;
	// finalization is deferred while any remain, so the terminal marker can
	// never precede an approval's resolution.
	pendingTools int
}

func NewPersistentOrchestrator(session *Session, live runtimes.LiveSession, sink Sink) *PersistentOrchestrator {
	return &PersistentOrchestrator{
		session: session,
		live:    live,
		sink:    sink,
	}
}

// SendMessage submits a user message into the open session, starting the
// next turn.
func (o *PersistentOrchestrator) SendMessage(ctx context.Context, message string) error {
	return o.live.SendMessage(ctx, message)
}

// Run drains the session's event stream until the upstream closes or the
// context is cancelled. It returns after finalizing the in-flight turn.
func (o *PersistentOrchestrator) Run(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "process live session")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", o.session.ID()))

	for chunk, err := range o.live.Chunks(ctx) {
		converter := o.turnConverter()
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrUpstream, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return converter.FinalizeWithError(ctx, err)
		}

		if err := converter.Convert(ctx, chunk); err != nil {
			return err
		}

		// Resolution starts only once the call's input events are on the wire
		// and its name mapping is registered.
		if call, ok := chunk.(runtimes.ToolCallChunk); ok {
			o.beginToolResolution()
			go o.resolveTool(ctx, call.ToolCall())
		}

		if converter.TurnComplete() {
			o.maybeFinalizeTurn(ctx)
		}
	}

	o.mu.Lock()
	converter := o.converter
	o.mu.Unlock()
	if converter != nil && !converter.Finalized() {
		return converter.Finalize(ctx)
	}
	return nil
}

// turnConverter returns the converter for the current turn, starting a new
// turn when the previous one has finalized.
func (o *PersistentOrchestrator) turnConverter() *Converter {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.converter == nil || o.converter.Finalized() {
		o.converter = NewConverter(o.sink, o.session.callMap, Capabilities{ResumeInPlace: true})
		o.confirmer = confirmer{session: o.session, converter: o.converter}
	}
	return o.converter
}

func (o *PersistentOrchestrator) beginToolResolution() {
	o.mu.Lock()
	o.pendingTools++
	o.mu.Unlock()
}

// maybeFinalizeTurn finalizes the current turn unless tool resolutions are
// still in flight; in that case the upstream stream continues after the
// resumption message and a later turn-complete signal finalizes.
func (o *PersistentOrchestrator) maybeFinalizeTurn(ctx context.Context) {
	o.mu.Lock()
	pending := o.pendingTools
	converter := o.converter
	o.mu.Unlock()

	if pending > 0 || converter == nil {
		return
	}
	if err := converter.Finalize(ctx); err != nil {
		logger.WarnContext(ctx, "failed to finalize turn", "error", err)
	}
}

// resolveTool runs one tool call as an independent task: it walks the
// confirmation cycle when required, mirrors the effective result downstream,
// and resumes generation in place by sending the result upstream.
func (o *PersistentOrchestrator) resolveTool(ctx context.Context, call runtimes.ToolCall) {
	o.mu.Lock()
	confirmer := o.confirmer
	o.mu.Unlock()

	var result runtimes.ToolResult
	if call.Name == runtimes.ConfirmationToolName {
		// Runtime-owned interception: the decision itself resumes the stream.
		approvalID := ApprovalID(confirmationOriginalCallID(call))
		payload, err := o.session.calls.AwaitApprovalByID(ctx, approvalID)
		if err != nil {
			logger.WarnContext(ctx, "approval decision did not arrive", "tool_call_id", call.ID, "error", err)
			payload, _ = json.Marshal(decisionPayload{Approved: false})
		}
		result = runtimes.ToolResult{ID: call.ID, Name: call.Name, Payload: payload}
	} else {
		result = confirmer.resolveToolCall(ctx, call)
		if err := confirmer.emitToolResult(result); err != nil {
			logger.WarnContext(ctx, "failed to mirror tool result", "tool_call_id", result.ID, "error", err)
		}
	}

	if err := o.live.SendToolResult(ctx, result); err != nil {
		logger.WarnContext(ctx, "failed to resume stream with tool result",
			"tool_call_id", result.ID, "error", err)
	}

	o.mu.Lock()
	o.pendingTools--
	o.mu.Unlock()
}
