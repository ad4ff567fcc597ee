package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultAwaitTimeout bounds the wait for a directly-awaited client tool
	// result.
	DefaultAwaitTimeout = 10 * time.Second
	// DefaultApprovalTimeout bounds the wait for a human approval decision.
	DefaultApprovalTimeout = 30 * time.Second
)

// Calls is the per-connection registry of outstanding remote tool
// invocations. A tool body (or the confirmation orchestrator) suspends in
// Await until the client produces a result through Deliver, or the bounded
// wait elapses.
//
// This is the single suspension point of the core; nothing else blocks.
type Calls struct {
	mu          sync.Mutex
	pending     map[string]chan json.RawMessage
	preResolved map[string]json.RawMessage
	closed      chan struct{}
	closeOnce   sync.Once

	callMap *CallMap

	awaitTimeout    time.Duration
	approvalTimeout time.Duration
}

func NewCalls(callMap *CallMap) *Calls {
	return &Calls{
		pending:         map[string]chan json.RawMessage{},
		preResolved:     map[string]json.RawMessage{},
		closed:          make(chan struct{}),
		callMap:         callMap,
		awaitTimeout:    DefaultAwaitTimeout,
		approvalTimeout: DefaultApprovalTimeout,
	}
}

// SetTimeouts overrides the bounded waits. Zero keeps the current value.
func (c *Calls) SetTimeouts(await, approval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if await > 0 {
		c.awaitTimeout = await
	}
	if approval > 0 {
		c.approvalTimeout = approval
	}
}

// Await suspends the caller until the client delivers a result for the call
// resolved from name (or originalCall, when the tool runs on behalf of
// another call), or until the default await timeout elapses.
func (c *Calls) Await(ctx context.Context, name, arguments, originalCall string) (json.RawMessage, error) {
	c.mu.Lock()
	timeout := c.awaitTimeout
	c.mu.Unlock()
	return c.await(ctx, name, arguments, originalCall, timeout)
}

// AwaitApprovalByID suspends the caller until an approval decision arrives
// under the given approval id, with the longer approval timeout. Resolution
// skips the name table entirely: every approval cycle has its own id, and
// keying the wait on it keeps concurrent cycles from stealing each other's
// decision.
func (c *Calls) AwaitApprovalByID(ctx context.Context, approvalID string) (json.RawMessage, error) {
	c.mu.Lock()
	timeout := c.approvalTimeout
	c.mu.Unlock()

	ctx, span := tracer.Start(ctx, "await approval decision")
	defer span.End()
	span.SetAttributes(attribute.String("tool.downstream_id", approvalID))
	return c.suspend(ctx, approvalID, timeout)
}

func (c *Calls) await(ctx context.Context, name, arguments, originalCall string, timeout time.Duration) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "await remote call")
	defer span.End()
	span.SetAttributes(
		attribute.String("tool.name", name),
		attribute.String("tool.arguments", arguments),
	)

	downstreamID, ok := c.callMap.DownstreamID(name, originalCall)
	if !ok {
		err := fmt.Errorf("%w: no downstream id for tool %q", ErrMappingNotFound, name)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("tool.downstream_id", downstreamID))
	return c.suspend(ctx, downstreamID, timeout)
}

func (c *Calls) suspend(ctx context.Context, downstreamID string, timeout time.Duration) (json.RawMessage, error) {
	span := trace.SpanFromContext(ctx)

	c.mu.Lock()
	if payload, ok := c.preResolved[downstreamID]; ok {
		delete(c.preResolved, downstreamID)
		c.mu.Unlock()
		span.AddEvent("consumed pre-resolved result")
		return payload, nil
	}
	result := make(chan json.RawMessage, 1)
	c.pending[downstreamID] = result
	c.mu.Unlock()

	select {
	case payload := <-result:
		return payload, nil

	case <-time.After(timeout):
		c.mu.Lock()
		delete(c.pending, downstreamID)
		c.mu.Unlock()
		// The result may have landed between the timer firing and the entry
		// being removed.
		select {
		case payload := <-result:
			return payload, nil
		default:
		}
		err := fmt.Errorf("%w: %q after %s", ErrRemoteTimeout, downstreamID, timeout)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err

	case <-c.closed:
		return nil, ErrSessionClosed

	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, downstreamID)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Deliver routes a result from the client to the matching waiter. When no
// waiter matches an approval-prefixed id, the prefix is stripped and delivery
// retried against the underlying call. A result with no waiter at all is kept
// as pre-resolved for later pickup; Deliver never fails.
func (c *Calls) Deliver(downstreamID string, payload json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if waiter, ok := c.pending[downstreamID]; ok {
		delete(c.pending, downstreamID)
		waiter <- payload
		return
	}
	if original, ok := strings.CutPrefix(downstreamID, ApprovalIDPrefix); ok {
		if waiter, ok := c.pending[original]; ok {
			delete(c.pending, original)
			waiter <- payload
			return
		}
	}

	logger.Debug("storing pre-resolved remote call result", "downstream_id", downstreamID)
	c.preResolved[downstreamID] = payload
}

// Close cancels every pending wait with ErrSessionClosed. Used when the
// downstream transport disconnects.
func (c *Calls) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}
