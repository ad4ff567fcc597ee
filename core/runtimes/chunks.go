package runtimes

// Concrete chunk implementations shared by runtime adapters and tests.
// Adapters are free to implement the chunk interfaces themselves when their
// wire format carries more than these fields.

type chunkBase struct {
	finishReason *string
}

func (c chunkBase) FinishReason() *string { return c.finishReason }

// ContentDelta is a streamed piece of response text.
type ContentDelta struct {
	chunkBase
	Text string
}

func NewContentDelta(text string) ContentDelta {
	return ContentDelta{Text: text}
}

func (c ContentDelta) Content() string { return c.Text }

// ReasoningDelta is a streamed piece of model reasoning.
type ReasoningDelta struct {
	chunkBase
	Text string
}

func NewReasoningDelta(text string) ReasoningDelta {
	return ReasoningDelta{Text: text}
}

func (c ReasoningDelta) Reasoning() string { return c.Text }

// ToolCallRequested announces a tool invocation.
type ToolCallRequested struct {
	chunkBase
	Call ToolCall
}

func NewToolCallRequested(call ToolCall) ToolCallRequested {
	return ToolCallRequested{Call: call}
}

func (c ToolCallRequested) ToolCall() ToolCall { return c.Call }

// ToolCallResolved carries a tool call's result.
type ToolCallResolved struct {
	chunkBase
	Result ToolResult
}

func NewToolCallResolved(result ToolResult) ToolCallResolved {
	return ToolCallResolved{Result: result}
}

func (c ToolCallResolved) ToolResult() ToolResult { return c.Result }

// InputTranscript is a transcription segment of user audio.
type InputTranscript struct {
	chunkBase
	Segment string
	IsFinal bool
}

func NewInputTranscript(segment string, finished bool) InputTranscript {
	return InputTranscript{Segment: segment, IsFinal: finished}
}

func (c InputTranscript) Transcript() string { return c.Segment }
func (c InputTranscript) Finished() bool     { return c.IsFinal }

// OutputTranscript is a transcription segment of generated audio.
type OutputTranscript struct {
	chunkBase
	Segment string
	IsFinal bool
}

func NewOutputTranscript(segment string, finished bool) OutputTranscript {
	return OutputTranscript{Segment: segment, IsFinal: finished}
}

func (c OutputTranscript) Transcript() string { return c.Segment }
func (c OutputTranscript) Finished() bool     { return c.IsFinal }

// AudioFrame is a frame of generated audio.
type AudioFrame struct {
	chunkBase
	Data []byte
	MIME string
}

func NewAudioFrame(data []byte, mimeType string) AudioFrame {
	return AudioFrame{Data: data, MIME: mimeType}
}

func (c AudioFrame) Audio() []byte    { return c.Data }
func (c AudioFrame) MIMEType() string { return c.MIME }

// MetadataUpdate carries turn metadata.
type MetadataUpdate struct {
	chunkBase
	TurnMetadata TurnMetadata
}

func NewMetadataUpdate(metadata TurnMetadata) MetadataUpdate {
	return MetadataUpdate{TurnMetadata: metadata}
}

func (c MetadataUpdate) Metadata() TurnMetadata { return c.TurnMetadata }

// TurnCompleted marks the end of generation for the turn.
type TurnCompleted struct {
	chunkBase
}

func NewTurnCompleted(finishReason *string) TurnCompleted {
	return TurnCompleted{chunkBase{finishReason: finishReason}}
}

func (c TurnCompleted) TurnComplete() bool { return true }

// GenerationError reports a runtime-side failure.
type GenerationError struct {
	chunkBase
	Reason error
}

func NewGenerationError(err error) GenerationError {
	return GenerationError{Reason: err}
}

func (c GenerationError) Err() error { return c.Reason }
