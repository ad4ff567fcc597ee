package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/koscakluka/ema-bridge/core/protocol"
	"github.com/koscakluka/ema-bridge/core/runtimes"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// deferredConfirmation tracks one approval cycle: the intercepted call, its
// fresh approval identity, and the arguments to run with if approved.
type deferredConfirmation struct {
	approvalID     string
	originalCallID string
	toolName       string
	arguments      string
}

type confirmations struct {
	mu           sync.Mutex
	byApprovalID map[string]deferredConfirmation
}

func newConfirmations() *confirmations {
	return &confirmations{byApprovalID: map[string]deferredConfirmation{}}
}

func (c *confirmations) put(d deferredConfirmation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byApprovalID[d.approvalID] = d
}

func (c *confirmations) take(approvalID string) (deferredConfirmation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.byApprovalID[approvalID]
	if ok {
		delete(c.byApprovalID, approvalID)
	}
	return d, ok
}

func (c *confirmations) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.byApprovalID)
}

// decisionPayload is the wrapped form of a human approval decision as it
// travels through the remote call registry.
type decisionPayload struct {
	Approved bool `json:"approved"`
}

// confirmer implements the per-call confirmation state machine shared by both
// transport orchestrators: intercept, request approval, await the decision,
// and produce the call's effective result.
type confirmer struct {
	session   *Session
	converter *Converter
}

// resolveToolCall produces the effective result for one requested tool call.
// Ordinary tools run immediately; approval-required tools first go through a
// full approval cycle; unknown tools are delegated to the client through the
// remote call registry.
func (c *confirmer) resolveToolCall(ctx context.Context, call runtimes.ToolCall) runtimes.ToolResult {
	ctx, span := tracer.Start(ctx, "resolve tool call")
	defer span.End()
	span.SetAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	)

	tool, known := c.session.tools[call.Name]
	if known && tool.RequiresApproval {
		if approved, errText := c.requestApproval(ctx, call, tool); !approved {
			span.SetAttributes(attribute.String("tool.denied", errText))
			return errorResult(call, errText)
		}
	}

	if !known || tool.ClientExecuted {
		return c.delegateToClient(ctx, call)
	}
	return c.execute(ctx, tool, call)
}

// requestApproval emits the approval-request wire event, records the
// deferred confirmation, and suspends until the decision arrives. A timeout
// is treated as denial with a distinguishable message; the deferred entry is
// always released.
func (c *confirmer) requestApproval(ctx context.Context, call runtimes.ToolCall, tool runtimes.Tool) (approved bool, denialText string) {
	ctx, span := tracer.Start(ctx, "await tool approval")
	defer span.End()

	approvalID := ApprovalID(call.ID)
	c.session.confirmations.put(deferredConfirmation{
		approvalID:     approvalID,
		originalCallID: call.ID,
		toolName:       call.Name,
		arguments:      call.Arguments,
	})
	span.SetAttributes(attribute.String("tool.approval_id", approvalID))

	if err := c.converter.Emit(protocol.NewToolApprovalRequest(call.ID, approvalID)); err != nil {
		c.session.confirmations.take(approvalID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, "approval request could not be delivered"
	}

	payload, err := c.session.calls.AwaitApprovalByID(ctx, approvalID)
	defer c.session.confirmations.take(approvalID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrRemoteTimeout) {
			return false, "approval request timed out"
		}
		return false, denialMessage(tool)
	}

	var decision decisionPayload
	if err := json.Unmarshal(payload, &decision); err != nil {
		logger.WarnContext(ctx, "unparseable approval decision", "approval_id", approvalID, "error", err)
		return false, denialMessage(tool)
	}
	if !decision.Approved {
		return false, denialMessage(tool)
	}
	span.AddEvent("approved")
	return true, ""
}

// delegateToClient suspends until the client executes the tool and delivers
// its result.
func (c *confirmer) delegateToClient(ctx context.Context, call runtimes.ToolCall) runtimes.ToolResult {
	payload, err := c.session.calls.Await(ctx, call.Name, call.Arguments, "")
	if err != nil {
		return errorResult(call, fmt.Sprintf("client tool %q failed: %s", call.Name, err))
	}
	return runtimes.ToolResult{ID: call.ID, Name: call.Name, Payload: payload}
}

func (c *confirmer) execute(ctx context.Context, tool runtimes.Tool, call runtimes.ToolCall) runtimes.ToolResult {
	ctx, span := tracer.Start(ctx, "execute tool")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", call.Name))

	payload, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		err = fmt.Errorf("failed to execute tool %q: %w", call.Name, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return errorResult(call, err.Error())
	}
	return runtimes.ToolResult{ID: call.ID, Name: call.Name, Payload: payload}
}

// emitToolResult mirrors the effective result onto the wire.
func (c *confirmer) emitToolResult(result runtimes.ToolResult) error {
	if result.IsError {
		var failure struct {
			Error string `json:"error"`
		}
		errText := string(result.Payload)
		if err := json.Unmarshal(result.Payload, &failure); err == nil && failure.Error != "" {
			errText = failure.Error
		}
		return c.converter.Emit(protocol.NewToolOutputError(result.ID, errText))
	}
	return c.converter.Emit(protocol.NewToolOutputAvailable(result.ID, result.Payload))
}

func denialMessage(tool runtimes.Tool) string {
	name := tool.Name
	if tool.DisplayName != "" {
		name = tool.DisplayName
	}
	return fmt.Sprintf("%s rejected by user", name)
}

func errorResult(call runtimes.ToolCall, errText string) runtimes.ToolResult {
	payload, _ := json.Marshal(map[string]any{
		"success": false,
		"error":   errText,
	})
	return runtimes.ToolResult{ID: call.ID, Name: call.Name, Payload: payload, IsError: true}
}
