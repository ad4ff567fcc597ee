package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-bridge/core/protocol"
	"github.com/koscakluka/ema-bridge/core/runtimes"
)

// scriptedStream replays a fixed chunk sequence.
type scriptedStream struct {
	chunks []runtimes.Chunk
	err    error
}

func (s scriptedStream) Chunks(context.Context) func(func(runtimes.Chunk, error) bool) {
	return func(yield func(runtimes.Chunk, error) bool) {
		for _, chunk := range s.chunks {
			if !yield(chunk, nil) {
				return
			}
		}
		if s.err != nil {
			yield(nil, s.err)
		}
	}
}

// scriptedRuntime hands out pre-scripted streams, one per request, and
// records the tool results each continuation carried.
type scriptedRuntime struct {
	mu            sync.Mutex
	streams       []scriptedStream
	continuations [][]runtimes.ToolResult
}

func (r *scriptedRuntime) next() (runtimes.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.streams) == 0 {
		return nil, fmt.Errorf("no scripted stream left")
	}
	stream := r.streams[0]
	r.streams = r.streams[1:]
	return stream, nil
}

func (r *scriptedRuntime) StartTurn(context.Context, string, ...runtimes.TurnOption) (runtimes.Stream, error) {
	return r.next()
}

func (r *scriptedRuntime) ContinueTurn(_ context.Context, results []runtimes.ToolResult, _ ...runtimes.TurnOption) (runtimes.Stream, error) {
	r.mu.Lock()
	r.continuations = append(r.continuations, results)
	r.mu.Unlock()
	return r.next()
}

func (r *scriptedRuntime) continuation(t *testing.T, i int) []runtimes.ToolResult {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.continuations) <= i {
		t.Fatalf("expected at least %d continuations, got %d", i+1, len(r.continuations))
	}
	return r.continuations[i]
}

func waitForEvent(t *testing.T, sink *captureSink, eventType protocol.Type) protocol.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for i, got := range sink.types() {
			if got == eventType {
				return sink.event(i)
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("event %q never arrived; got %v", eventType, sink.types())
	return nil
}

func toolCallChunk(id, name, arguments string) runtimes.Chunk {
	return runtimes.NewToolCallRequested(runtimes.ToolCall{ID: id, Name: name, Arguments: arguments})
}

func TestSingleShotStreamsPlainTurn(t *testing.T) {
	sink := &captureSink{}
	runtime := &scriptedRuntime{streams: []scriptedStream{
		{chunks: []runtimes.Chunk{
			runtimes.NewContentDelta("Hello!"),
			runtimes.NewTurnCompleted(nil),
		}},
	}}
	session := NewSession()
	defer session.Close()

	orchestrator := NewSingleShotOrchestrator(session, runtime, sink)
	if err := orchestrator.Run(context.Background(), "hi", nil); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	expectTypes(t, sink.types(), []protocol.Type{
		protocol.TypeStart,
		protocol.TypeTextStart,
		protocol.TypeTextDelta,
		protocol.TypeTextEnd,
		protocol.TypeFinish,
	})
	if sink.terminalCount() != 1 {
		t.Fatalf("expected one terminal marker, got %d", sink.terminalCount())
	}
}

func TestSingleShotExecutesServerToolBetweenContinuations(t *testing.T) {
	sink := &captureSink{}
	runtime := &scriptedRuntime{streams: []scriptedStream{
		{chunks: []runtimes.Chunk{toolCallChunk("call-1", "get_weather", `{"city":"Paris"}`)}},
		{chunks: []runtimes.Chunk{
			runtimes.NewContentDelta("It is sunny in Paris."),
			runtimes.NewTurnCompleted(nil),
		}},
	}}

	tool := runtimes.NewTool("get_weather", "Current weather for a city",
		func(_ context.Context, args struct {
			City string `json:"city"`
		}) (any, error) {
			return map[string]string{"forecast": "sunny in " + args.City}, nil
		})
	session := NewSession(WithSessionTools(tool))
	defer session.Close()

	orchestrator := NewSingleShotOrchestrator(session, runtime, sink)
	if err := orchestrator.Run(context.Background(), "weather in paris?", nil); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	expectTypes(t, sink.types(), []protocol.Type{
		protocol.TypeStart,
		protocol.TypeToolInputStart,
		protocol.TypeToolInputAvailable,
		protocol.TypeToolOutputAvailable,
		protocol.TypeTextStart,
		protocol.TypeTextDelta,
		protocol.TypeTextEnd,
		protocol.TypeFinish,
	})
	if sink.terminalCount() != 1 {
		t.Fatalf("expected one terminal marker, got %d", sink.terminalCount())
	}

	results := runtime.continuation(t, 0)
	if len(results) != 1 || results[0].ID != "call-1" {
		t.Fatalf("unexpected continuation results %+v", results)
	}
	if string(results[0].Payload) != `{"forecast":"sunny in Paris"}` {
		t.Fatalf("unexpected tool payload %s", results[0].Payload)
	}
}

func TestSingleShotDeniedApprovalRejectsTool(t *testing.T) {
	sink := &captureSink{}
	runtime := &scriptedRuntime{streams: []scriptedStream{
		{chunks: []runtimes.Chunk{toolCallChunk("call-1", "process_payment", `{"amount":5}`)}},
		{chunks: []runtimes.Chunk{
			runtimes.NewContentDelta("I could not process the payment."),
			runtimes.NewTurnCompleted(nil),
		}},
	}}

	executed := false
	tool := runtimes.NewTool("process_payment", "Charge the customer",
		func(context.Context, struct {
			Amount int `json:"amount"`
		}) (any, error) {
			executed = true
			return map[string]bool{"charged": true}, nil
		},
		runtimes.WithApproval(), runtimes.WithDisplayName("payment"))
	session := NewSession(WithSessionTools(tool))
	defer session.Close()

	orchestrator := NewSingleShotOrchestrator(session, runtime, sink)
	done := make(chan error, 1)
	go func() { done <- orchestrator.Run(context.Background(), "pay 5", nil) }()

	request := waitForEvent(t, sink, protocol.TypeToolApprovalRequest).(protocol.ToolApprovalRequest)
	if request.ToolCallID != "call-1" || request.ApprovalID != ApprovalID("call-1") {
		t.Fatalf("unexpected approval request %+v", request)
	}
	session.DeliverDecision(request.ApprovalID, false)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish after denial")
	}

	if executed {
		t.Fatal("denied tool must not execute")
	}
	outputError := waitForEvent(t, sink, protocol.TypeToolOutputError).(protocol.ToolOutputError)
	if outputError.ErrorText != "payment rejected by user" {
		t.Fatalf("expected denial message with display name, got %q", outputError.ErrorText)
	}

	results := runtime.continuation(t, 0)
	if len(results) != 1 || !results[0].IsError {
		t.Fatalf("expected an error result upstream, got %+v", results)
	}
	if string(results[0].Payload) != `{"error":"payment rejected by user","success":false}` {
		t.Fatalf("unexpected denial payload %s", results[0].Payload)
	}
}

func TestSingleShotApprovedToolExecutes(t *testing.T) {
	sink := &captureSink{}
	runtime := &scriptedRuntime{streams: []scriptedStream{
		{chunks: []runtimes.Chunk{toolCallChunk("call-1", "process_payment", `{"amount":5}`)}},
		{chunks: []runtimes.Chunk{
			runtimes.NewContentDelta("Done."),
			runtimes.NewTurnCompleted(nil),
		}},
	}}

	tool := runtimes.NewTool("process_payment", "Charge the customer",
		func(context.Context, struct {
			Amount int `json:"amount"`
		}) (any, error) {
			return map[string]bool{"charged": true}, nil
		},
		runtimes.WithApproval())
	session := NewSession(WithSessionTools(tool))
	defer session.Close()

	orchestrator := NewSingleShotOrchestrator(session, runtime, sink)
	done := make(chan error, 1)
	go func() { done <- orchestrator.Run(context.Background(), "pay 5", nil) }()

	request := waitForEvent(t, sink, protocol.TypeToolApprovalRequest).(protocol.ToolApprovalRequest)
	session.DeliverDecision(request.ApprovalID, true)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish after approval")
	}

	output := waitForEvent(t, sink, protocol.TypeToolOutputAvailable).(protocol.ToolOutputAvailable)
	if string(output.Output) != `{"charged":true}` {
		t.Fatalf("unexpected output %s", output.Output)
	}
}

func TestSingleShotApprovalTimeoutReadsAsDistinctDenial(t *testing.T) {
	sink := &captureSink{}
	runtime := &scriptedRuntime{streams: []scriptedStream{
		{chunks: []runtimes.Chunk{toolCallChunk("call-1", "process_payment", `{}`)}},
		{chunks: []runtimes.Chunk{runtimes.NewTurnCompleted(nil)}},
	}}

	tool := runtimes.NewTool("process_payment", "Charge the customer",
		func(context.Context, struct{}) (any, error) { return nil, nil },
		runtimes.WithApproval())
	session := NewSession(WithSessionTools(tool), WithCallTimeouts(0, 20*time.Millisecond))
	defer session.Close()

	orchestrator := NewSingleShotOrchestrator(session, runtime, sink)
	if err := orchestrator.Run(context.Background(), "pay", nil); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	outputError := waitForEvent(t, sink, protocol.TypeToolOutputError).(protocol.ToolOutputError)
	if outputError.ErrorText != "approval request timed out" {
		t.Fatalf("expected timeout message, got %q", outputError.ErrorText)
	}
}

func TestSingleShotPreResolvedDecisionSkipsTheWait(t *testing.T) {
	sink := &captureSink{}
	runtime := &scriptedRuntime{streams: []scriptedStream{
		{chunks: []runtimes.Chunk{toolCallChunk("call-1", "process_payment", `{}`)}},
		{chunks: []runtimes.Chunk{runtimes.NewTurnCompleted(nil)}},
	}}

	tool := runtimes.NewTool("process_payment", "Charge the customer",
		func(context.Context, struct{}) (any, error) {
			return map[string]bool{"charged": true}, nil
		},
		runtimes.WithApproval())
	session := NewSession(WithSessionTools(tool), WithCallTimeouts(0, 50*time.Millisecond))
	defer session.Close()

	// The decision travelled with the request, referencing the approval
	// identity the client learned on a previous exchange.
	preResolved := []protocol.ApprovalDecision{{ApprovalID: ApprovalID("call-1"), Approved: true}}

	orchestrator := NewSingleShotOrchestrator(session, runtime, sink)
	if err := orchestrator.Run(context.Background(), "pay", preResolved); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	output := waitForEvent(t, sink, protocol.TypeToolOutputAvailable).(protocol.ToolOutputAvailable)
	if string(output.Output) != `{"charged":true}` {
		t.Fatalf("unexpected output %s", output.Output)
	}
}

func TestSingleShotDelegatesUnknownToolToClient(t *testing.T) {
	sink := &captureSink{}
	runtime := &scriptedRuntime{streams: []scriptedStream{
		{chunks: []runtimes.Chunk{toolCallChunk("call-1", "get_local_time", `{}`)}},
		{chunks: []runtimes.Chunk{runtimes.NewTurnCompleted(nil)}},
	}}
	session := NewSession()
	defer session.Close()

	orchestrator := NewSingleShotOrchestrator(session, runtime, sink)
	done := make(chan error, 1)
	go func() { done <- orchestrator.Run(context.Background(), "what time is it?", nil) }()

	waitForEvent(t, sink, protocol.TypeToolInputAvailable)
	session.DeliverToolResult("call-1", json.RawMessage(`{"time":"12:00"}`))

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish after client result")
	}

	results := runtime.continuation(t, 0)
	if len(results) != 1 || string(results[0].Payload) != `{"time":"12:00"}` {
		t.Fatalf("expected client payload forwarded upstream, got %+v", results)
	}
}

func TestSingleShotRuntimeOwnedConfirmation(t *testing.T) {
	sink := &captureSink{}
	runtime := &scriptedRuntime{streams: []scriptedStream{
		{chunks: []runtimes.Chunk{
			toolCallChunk("call-9", runtimes.ConfirmationToolName, `{"originalCallId":"call-8"}`),
		}},
		{chunks: []runtimes.Chunk{
			runtimes.NewContentDelta("Payment sent."),
			runtimes.NewTurnCompleted(nil),
		}},
	}}
	session := NewSession()
	defer session.Close()

	orchestrator := NewSingleShotOrchestrator(session, runtime, sink)
	done := make(chan error, 1)
	go func() { done <- orchestrator.Run(context.Background(), "pay", nil) }()

	request := waitForEvent(t, sink, protocol.TypeToolApprovalRequest).(protocol.ToolApprovalRequest)
	if request.ToolCallID != "call-8" || request.ApprovalID != ApprovalID("call-8") {
		t.Fatalf("unexpected approval request %+v", request)
	}
	session.DeliverDecision(request.ApprovalID, true)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish after decision")
	}

	// The decision itself is the synthetic call's result; the runtime applies
	// it during the continuation.
	results := runtime.continuation(t, 0)
	if len(results) != 1 || results[0].ID != "call-9" {
		t.Fatalf("unexpected continuation %+v", results)
	}
	var decision decisionPayload
	if err := json.Unmarshal(results[0].Payload, &decision); err != nil || !decision.Approved {
		t.Fatalf("expected approved decision payload, got %s (err=%v)", results[0].Payload, err)
	}

	for _, eventType := range sink.types() {
		if eventType == protocol.TypeToolInputStart || eventType == protocol.TypeToolInputAvailable {
			t.Fatalf("synthetic confirmation call leaked as ordinary tool events: %v", sink.types())
		}
	}
}

// fakeLiveSession is an open bidirectional session whose continuation
// behavior is scripted through onToolResult.
type fakeLiveSession struct {
	mu           sync.Mutex
	chunks       chan runtimes.Chunk
	sent         []runtimes.ToolResult
	messages     []string
	onToolResult func(runtimes.ToolResult)
}

func newFakeLiveSession() *fakeLiveSession {
	return &fakeLiveSession{chunks: make(chan runtimes.Chunk, 16)}
}

func (s *fakeLiveSession) Chunks(ctx context.Context) func(func(runtimes.Chunk, error) bool) {
	return func(yield func(runtimes.Chunk, error) bool) {
		for {
			select {
			case chunk, ok := <-s.chunks:
				if !ok {
					return
				}
				if !yield(chunk, nil) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *fakeLiveSession) SendMessage(_ context.Context, message string) error {
	s.mu.Lock()
	s.messages = append(s.messages, message)
	s.mu.Unlock()
	return nil
}

func (s *fakeLiveSession) SendToolResult(_ context.Context, result runtimes.ToolResult) error {
	s.mu.Lock()
	s.sent = append(s.sent, result)
	callback := s.onToolResult
	s.mu.Unlock()
	if callback != nil {
		callback(result)
	}
	return nil
}

func (s *fakeLiveSession) Close() error { return nil }

func (s *fakeLiveSession) sentResults() []runtimes.ToolResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]runtimes.ToolResult(nil), s.sent...)
}

func TestPersistentOrchestratorResumesInPlaceAfterApproval(t *testing.T) {
	sink := &captureSink{}
	live := newFakeLiveSession()

	tool := runtimes.NewTool("process_payment", "Charge the customer",
		func(context.Context, struct{}) (any, error) {
			return map[string]bool{"charged": true}, nil
		},
		runtimes.WithApproval())
	session := NewSession(WithSessionTools(tool))
	defer session.Close()

	// After the resumption message, the upstream continues the same stream.
	live.onToolResult = func(runtimes.ToolResult) {
		live.chunks <- runtimes.NewContentDelta("Payment processed.")
		live.chunks <- runtimes.NewTurnCompleted(nil)
		close(live.chunks)
	}
	live.chunks <- runtimes.NewToolCallRequested(runtimes.ToolCall{
		ID: "call-1", Name: "process_payment", Arguments: `{}`,
	})

	orchestrator := NewPersistentOrchestrator(session, live, sink)
	done := make(chan error, 1)
	go func() { done <- orchestrator.Run(context.Background()) }()

	request := waitForEvent(t, sink, protocol.TypeToolApprovalRequest).(protocol.ToolApprovalRequest)
	session.DeliverDecision(request.ApprovalID, true)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish")
	}

	sent := live.sentResults()
	if len(sent) != 1 || sent[0].ID != "call-1" {
		t.Fatalf("expected one resumption result, got %+v", sent)
	}
	if string(sent[0].Payload) != `{"charged":true}` {
		t.Fatalf("unexpected resumption payload %s", sent[0].Payload)
	}

	// The terminal marker must come after the tool output, never before.
	types := sink.types()
	outputIndex, finishIndex := -1, -1
	for i, eventType := range types {
		switch eventType {
		case protocol.TypeToolOutputAvailable:
			outputIndex = i
		case protocol.TypeFinish:
			finishIndex = i
		}
	}
	if outputIndex == -1 || finishIndex == -1 || outputIndex > finishIndex {
		t.Fatalf("expected tool output before finish, got %v", types)
	}
	if sink.terminalCount() != 1 {
		t.Fatalf("expected one terminal marker, got %d", sink.terminalCount())
	}
}

func TestPersistentOrchestratorRoutesConcurrentApprovals(t *testing.T) {
	sink := &captureSink{}
	live := newFakeLiveSession()

	charge := runtimes.NewTool("charge_card", "Charge the customer",
		func(context.Context, struct{}) (any, error) {
			return map[string]bool{"charged": true}, nil
		},
		runtimes.WithApproval())
	refund := runtimes.NewTool("issue_refund", "Refund the customer",
		func(context.Context, struct{}) (any, error) {
			return map[string]bool{"refunded": true}, nil
		},
		runtimes.WithApproval(), runtimes.WithDisplayName("refund"))
	session := NewSession(WithSessionTools(charge, refund))
	defer session.Close()

	var mu sync.Mutex
	resumed := 0
	live.onToolResult = func(runtimes.ToolResult) {
		mu.Lock()
		resumed++
		last := resumed == 2
		mu.Unlock()
		if last {
			live.chunks <- runtimes.NewContentDelta("Charged; refund declined.")
			live.chunks <- runtimes.NewTurnCompleted(nil)
			close(live.chunks)
		}
	}
	live.chunks <- toolCallChunk("call-1", "charge_card", `{}`)
	live.chunks <- toolCallChunk("call-2", "issue_refund", `{}`)

	orchestrator := NewPersistentOrchestrator(session, live, sink)
	done := make(chan error, 1)
	go func() { done <- orchestrator.Run(context.Background()) }()

	requests := waitForApprovalRequests(t, sink, 2)
	if requests[ApprovalID("call-1")] != "call-1" || requests[ApprovalID("call-2")] != "call-2" {
		t.Fatalf("unexpected approval requests %v", requests)
	}

	// Decisions arrive in the opposite order of the requests; each must reach
	// the cycle it belongs to.
	session.DeliverDecision(ApprovalID("call-2"), false)
	session.DeliverDecision(ApprovalID("call-1"), true)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish")
	}

	output := waitForEvent(t, sink, protocol.TypeToolOutputAvailable).(protocol.ToolOutputAvailable)
	if output.ToolCallID != "call-1" || string(output.Output) != `{"charged":true}` {
		t.Fatalf("approved call produced the wrong output: %+v", output)
	}
	outputError := waitForEvent(t, sink, protocol.TypeToolOutputError).(protocol.ToolOutputError)
	if outputError.ToolCallID != "call-2" || outputError.ErrorText != "refund rejected by user" {
		t.Fatalf("denied call produced the wrong error: %+v", outputError)
	}

	byID := map[string]runtimes.ToolResult{}
	for _, result := range live.sentResults() {
		byID[result.ID] = result
	}
	if len(byID) != 2 {
		t.Fatalf("expected two resumption results, got %+v", byID)
	}
	if byID["call-1"].IsError || string(byID["call-1"].Payload) != `{"charged":true}` {
		t.Fatalf("unexpected resumption for approved call: %+v", byID["call-1"])
	}
	if !byID["call-2"].IsError {
		t.Fatalf("expected an error resumption for the denied call, got %+v", byID["call-2"])
	}
}

// waitForApprovalRequests collects approval requests until n arrived, keyed
// approval id to tool call id.
func waitForApprovalRequests(t *testing.T, sink *captureSink, n int) map[string]string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		requests := map[string]string{}
		for i, got := range sink.types() {
			if got == protocol.TypeToolApprovalRequest {
				request := sink.event(i).(protocol.ToolApprovalRequest)
				requests[request.ApprovalID] = request.ToolCallID
			}
		}
		if len(requests) >= n {
			return requests
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d approval requests, never arrived", n)
	return nil
}

func TestPersistentToolInputEventsPrecedeApprovalRequest(t *testing.T) {
	sink := &captureSink{}
	live := newFakeLiveSession()

	tool := runtimes.NewTool("process_payment", "Charge the customer",
		func(context.Context, struct{}) (any, error) {
			return map[string]bool{"charged": true}, nil
		},
		runtimes.WithApproval())
	session := NewSession(WithSessionTools(tool))
	defer session.Close()

	live.onToolResult = func(runtimes.ToolResult) {
		live.chunks <- runtimes.NewTurnCompleted(nil)
		close(live.chunks)
	}
	live.chunks <- toolCallChunk("call-1", "process_payment", `{}`)

	orchestrator := NewPersistentOrchestrator(session, live, sink)
	done := make(chan error, 1)
	go func() { done <- orchestrator.Run(context.Background()) }()

	request := waitForEvent(t, sink, protocol.TypeToolApprovalRequest).(protocol.ToolApprovalRequest)
	session.DeliverDecision(request.ApprovalID, true)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish")
	}

	indexOf := func(eventType protocol.Type) int {
		for i, got := range sink.types() {
			if got == eventType {
				return i
			}
		}
		return -1
	}
	inputStart := indexOf(protocol.TypeToolInputStart)
	inputAvailable := indexOf(protocol.TypeToolInputAvailable)
	approvalRequest := indexOf(protocol.TypeToolApprovalRequest)
	if inputStart == -1 || inputAvailable == -1 || approvalRequest == -1 ||
		inputStart > inputAvailable || inputAvailable > approvalRequest {
		t.Fatalf("expected input events before the approval request, got %v", sink.types())
	}
}

func TestPersistentDelegatedToolResolvesAfterInputEvents(t *testing.T) {
	sink := &captureSink{}
	live := newFakeLiveSession()
	session := NewSession()
	defer session.Close()

	live.onToolResult = func(runtimes.ToolResult) {
		live.chunks <- runtimes.NewTurnCompleted(nil)
		close(live.chunks)
	}
	live.chunks <- toolCallChunk("call-1", "get_local_time", `{}`)

	orchestrator := NewPersistentOrchestrator(session, live, sink)
	done := make(chan error, 1)
	go func() { done <- orchestrator.Run(context.Background()) }()

	// The name mapping is registered by the time the input events are visible,
	// so delivery resolves against it rather than failing as unmapped.
	waitForEvent(t, sink, protocol.TypeToolInputAvailable)
	session.DeliverToolResult("call-1", json.RawMessage(`{"time":"12:00"}`))

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish")
	}

	sent := live.sentResults()
	if len(sent) != 1 || sent[0].IsError {
		t.Fatalf("expected one successful resumption result, got %+v", sent)
	}
	if string(sent[0].Payload) != `{"time":"12:00"}` {
		t.Fatalf("unexpected resumption payload %s", sent[0].Payload)
	}
}

func TestPersistentOrchestratorStartsFreshTurnPerExchange(t *testing.T) {
	sink := &captureSink{}
	live := newFakeLiveSession()
	session := NewSession()
	defer session.Close()

	live.chunks <- runtimes.NewContentDelta("First answer.")
	live.chunks <- runtimes.NewTurnCompleted(nil)
	live.chunks <- runtimes.NewContentDelta("Second answer.")
	live.chunks <- runtimes.NewTurnCompleted(nil)
	close(live.chunks)

	orchestrator := NewPersistentOrchestrator(session, live, sink)
	if err := orchestrator.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	starts, terminals := 0, sink.terminalCount()
	for _, eventType := range sink.types() {
		if eventType == protocol.TypeStart {
			starts++
		}
	}
	if starts != 2 || terminals != 2 {
		t.Fatalf("expected two full turns, got %d starts and %d terminals (%v)",
			starts, terminals, sink.types())
	}
}
