package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-bridge/core/protocol"
	"github.com/koscakluka/ema-bridge/core/runtimes"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Sink receives the wire events produced for one turn.
type Sink interface {
	Send(protocol.Event) error
	// SendTerminal writes the terminal marker. The converter calls it exactly
	// once per turn, from finalization only.
	SendTerminal() error
}

// Capabilities describes what the transport carrying a turn can do.
type Capabilities struct {
	// ResumeInPlace is true when the transport can resume the already-open
	// generation stream with a resumption message instead of driving a second
	// request.
	ResumeInPlace bool
}

type converterState int

const (
	stateNotStarted converterState = iota
	stateStreaming
	stateFinalized
)

// Converter translates upstream generation events into downstream wire
// events for a single turn. One upstream event fans out into zero or more
// wire events; the terminal marker is emitted exactly once, from Finalize.
type Converter struct {
	mu sync.Mutex

	sink         Sink
	callMap      *CallMap
	capabilities Capabilities

	state     converterState
	messageID string

	nextBlockID int
	// Open streaming blocks, by upstream source. Plain text chunks are
	// complete units and never stay open.
	openReasoning        string
	openInputTranscript  string
	openOutputTranscript string

	// streamedReasoning accumulates reasoning text to suppress the upstream
	// artifact where the same text is replayed as a content chunk.
	streamedReasoning strings.Builder

	metadata     runtimes.TurnMetadata
	turnComplete bool

	audioFrames int
	audioBytes  int
}

func NewConverter(sink Sink, callMap *CallMap, capabilities Capabilities) *Converter {
	return &Converter{
		sink:         sink,
		callMap:      callMap,
		capabilities: capabilities,
		messageID:    uuid.NewString(),
	}
}

// MessageID is the turn-scoped message id carried by the start event.
func (c *Converter) MessageID() string { return c.messageID }

// Finalized reports whether the terminal marker has been emitted.
func (c *Converter) Finalized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateFinalized
}

// TurnComplete reports whether the upstream has signalled end of generation.
func (c *Converter) TurnComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turnComplete
}

// Convert translates one upstream chunk. It never emits the terminal marker;
// the driver finalizes once the turn is truly over.
func (c *Converter) Convert(ctx context.Context, chunk runtimes.Chunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateFinalized {
		logger.WarnContext(ctx, "dropping chunk after finalization", "message_id", c.messageID)
		return nil
	}
	if err := c.ensureStartedLocked(); err != nil {
		return err
	}

	if reason := chunk.FinishReason(); reason != nil {
		c.metadata.Merge(runtimes.TurnMetadata{FinishReason: reason})
	}

	switch chunk := chunk.(type) {
	case runtimes.ReasoningChunk:
		return c.convertReasoningLocked(chunk.Reasoning())

	case runtimes.ContentChunk:
		return c.convertContentLocked(chunk.Content())

	case runtimes.InputTranscriptChunk:
		return c.convertTranscriptLocked(&c.openInputTranscript, chunk.Transcript(), chunk.Finished())

	case runtimes.OutputTranscriptChunk:
		return c.convertTranscriptLocked(&c.openOutputTranscript, chunk.Transcript(), chunk.Finished())

	case runtimes.ToolCallChunk:
		return c.convertToolCallLocked(chunk.ToolCall())

	case runtimes.ToolResultChunk:
		return c.convertToolResultLocked(ctx, chunk.ToolResult())

	case runtimes.AudioChunk:
		return c.convertAudioLocked(chunk.Audio(), chunk.MIMEType())

	case runtimes.MetadataChunk:
		c.metadata.Merge(chunk.Metadata())
		return nil

	case runtimes.TurnCompleteChunk:
		c.turnComplete = true
		return nil

	case runtimes.ErrorChunk:
		return c.finalizeLocked(ctx, chunk.Err())

	default:
		logger.WarnContext(ctx, "ignoring unknown chunk kind", "message_id", c.messageID)
		return nil
	}
}

// Emit sends an orchestrator-produced wire event (approval requests,
// synthesized tool outputs) through the same ordered sink, opening the turn
// if needed.
func (c *Converter) Emit(event protocol.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateFinalized {
		logger.Warn("dropping event after finalization", "type", string(event.EventType()))
		return nil
	}
	if err := c.ensureStartedLocked(); err != nil {
		return err
	}
	return c.sink.Send(event)
}

// Finalize closes any open blocks, emits the finish event with the
// accumulated metadata, and writes the terminal marker. Safe to call more
// than once; only the first call emits.
func (c *Converter) Finalize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finalizeLocked(ctx, nil)
}

// FinalizeWithError surfaces an upstream error and then finalizes the turn.
func (c *Converter) FinalizeWithError(ctx context.Context, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finalizeLocked(ctx, err)
}

func (c *Converter) ensureStartedLocked() error {
	if c.state != stateNotStarted {
		return nil
	}
	c.state = stateStreaming
	return c.sink.Send(protocol.NewStart(c.messageID))
}

func (c *Converter) nextBlockIDLocked() string {
	id := strconv.Itoa(c.nextBlockID)
	c.nextBlockID++
	return id
}

func (c *Converter) convertReasoningLocked(text string) error {
	if c.openReasoning == "" {
		c.openReasoning = c.nextBlockIDLocked()
		if err := c.sink.Send(protocol.NewReasoningStart(c.openReasoning)); err != nil {
			return err
		}
	}
	c.streamedReasoning.WriteString(text)
	return c.sink.Send(protocol.NewReasoningDelta(c.openReasoning, text))
}

func (c *Converter) convertContentLocked(text string) error {
	// Known upstream duplication artifact: the full reasoning text replayed
	// as a content chunk. Rendering it twice is worse than dropping it.
	if text != "" && text == c.streamedReasoning.String() {
		return nil
	}
	if err := c.closeReasoningLocked(); err != nil {
		return err
	}

	// Non-incremental content chunks are complete units.
	id := c.nextBlockIDLocked()
	if err := c.sink.Send(protocol.NewTextStart(id)); err != nil {
		return err
	}
	if err := c.sink.Send(protocol.NewTextDelta(id, text)); err != nil {
		return err
	}
	return c.sink.Send(protocol.NewTextEnd(id))
}

func (c *Converter) convertTranscriptLocked(open *string, segment string, finished bool) error {
	if *open == "" {
		*open = c.nextBlockIDLocked()
		if err := c.sink.Send(protocol.NewTextStart(*open)); err != nil {
			return err
		}
	}
	if segment != "" {
		if err := c.sink.Send(protocol.NewTextDelta(*open, segment)); err != nil {
			return err
		}
	}
	if finished {
		id := *open
		*open = ""
		return c.sink.Send(protocol.NewTextEnd(id))
	}
	return nil
}

func (c *Converter) convertToolCallLocked(call runtimes.ToolCall) error {
	if call.Name == runtimes.ConfirmationToolName {
		// Intercepted calls are never exposed as ordinary tool-input events.
		originalID := confirmationOriginalCallID(call)
		approvalID := ApprovalID(originalID)
		c.callMap.Register(runtimes.ConfirmationToolName, approvalID)
		return c.sink.Send(protocol.NewToolApprovalRequest(originalID, approvalID))
	}

	c.callMap.Register(call.Name, call.ID)
	if err := c.sink.Send(protocol.NewToolInputStart(call.ID, call.Name)); err != nil {
		return err
	}
	input := json.RawMessage(call.Arguments)
	if call.Arguments == "" {
		input = json.RawMessage("{}")
	}
	return c.sink.Send(protocol.NewToolInputAvailable(call.ID, call.Name, input))
}

func (c *Converter) convertToolResultLocked(ctx context.Context, result runtimes.ToolResult) error {
	failed, errText, awaiting := classifyToolResult(result)
	if awaiting {
		// The confirmation orchestrator owns this transition; the sentinel
		// must never reach the wire.
		logger.DebugContext(ctx, "suppressing awaiting-confirmation result",
			"tool_call_id", result.ID, "tool", result.Name)
		return nil
	}
	if failed {
		return c.sink.Send(protocol.NewToolOutputError(result.ID, errText))
	}
	payload := result.Payload
	if payload == nil {
		payload = json.RawMessage("null")
	}
	return c.sink.Send(protocol.NewToolOutputAvailable(result.ID, payload))
}

func (c *Converter) convertAudioLocked(audio []byte, mimeType string) error {
	c.audioFrames++
	c.audioBytes += len(audio)
	data := base64.StdEncoding.EncodeToString(audio)
	if strings.HasPrefix(mimeType, "audio/pcm") || strings.HasPrefix(mimeType, "audio/l16") {
		return c.sink.Send(protocol.NewDataPCM(data, mimeType))
	}
	return c.sink.Send(protocol.NewDataAudio(data, mimeType))
}

func (c *Converter) closeReasoningLocked() error {
	if c.openReasoning == "" {
		return nil
	}
	id := c.openReasoning
	c.openReasoning = ""
	return c.sink.Send(protocol.NewReasoningEnd(id))
}

func (c *Converter) finalizeLocked(ctx context.Context, upstreamErr error) error {
	if c.state == stateFinalized {
		return nil
	}
	if err := c.ensureStartedLocked(); err != nil {
		return err
	}

	if upstreamErr != nil {
		if err := c.sink.Send(protocol.NewError(upstreamErr.Error())); err != nil {
			return err
		}
	}

	if err := c.closeReasoningLocked(); err != nil {
		return err
	}
	for _, open := range []*string{&c.openInputTranscript, &c.openOutputTranscript} {
		if *open == "" {
			continue
		}
		id := *open
		*open = ""
		if err := c.sink.Send(protocol.NewTextEnd(id)); err != nil {
			return err
		}
	}

	finishReason := "stop"
	if c.metadata.FinishReason != nil && *c.metadata.FinishReason != "" {
		finishReason = *c.metadata.FinishReason
	}
	if upstreamErr != nil {
		finishReason = "error"
	}

	var metadata *protocol.MessageMetadata
	if c.metadata.Usage != nil || c.metadata.ModelVersion != "" ||
		c.metadata.Grounding != nil || len(c.metadata.Citations) > 0 || c.audioFrames > 0 {
		metadata = &protocol.MessageMetadata{
			Usage:        c.metadata.Usage,
			ModelVersion: c.metadata.ModelVersion,
			Grounding:    c.metadata.Grounding,
			Citations:    c.metadata.Citations,
		}
		if c.audioFrames > 0 {
			metadata.Audio = &protocol.AudioStats{
				OutputFrames: c.audioFrames,
				OutputBytes:  c.audioBytes,
			}
		}
	}

	if err := c.sink.Send(protocol.NewFinish(finishReason, metadata)); err != nil {
		return err
	}

	c.state = stateFinalized
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("turn.finish_reason", finishReason))
	return c.sink.SendTerminal()
}

// confirmationOriginalCallID extracts the intercepted call's id from the
// synthetic confirmation call's arguments, falling back to the confirmation
// call's own id.
func confirmationOriginalCallID(call runtimes.ToolCall) string {
	var args struct {
		OriginalCallID string `json:"originalCallId"`
		ToolCallID     string `json:"toolCallId"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err == nil {
		if args.OriginalCallID != "" {
			return args.OriginalCallID
		}
		if args.ToolCallID != "" {
			return args.ToolCallID
		}
	}
	return call.ID
}

// classifyToolResult decides success/failure from the payload shape:
// {success: false} or an error key with no result key means failure. The
// awaiting-confirmation sentinel is reported separately so it can be
// suppressed.
func classifyToolResult(result runtimes.ToolResult) (failed bool, errText string, awaiting bool) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(result.Payload, &payload); err != nil {
		if result.IsError {
			return true, string(result.Payload), false
		}
		return false, "", false
	}

	if raw, ok := payload["error"]; ok {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			text = string(raw)
		}
		if text == runtimes.AwaitingApprovalSentinel {
			return false, "", true
		}
		if _, hasResult := payload["result"]; !hasResult {
			return true, text, false
		}
	}
	if raw, ok := payload["success"]; ok {
		var success bool
		if err := json.Unmarshal(raw, &success); err == nil && !success {
			if text, ok := payload["error"]; ok {
				var s string
				if err := json.Unmarshal(text, &s); err == nil {
					return true, s, false
				}
			}
			return true, string(result.Payload), false
		}
	}
	if result.IsError {
		return true, string(result.Payload), false
	}
	return false, "", false
}
