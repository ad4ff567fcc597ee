package runtimes

import "context"

// Stream is an ordered sequence of generation events produced by an agent
// runtime for one generation turn.
type Stream interface {
	Chunks(context.Context) func(func(Chunk, error) bool)
}

// Chunk is a single generation event. Concrete chunks additionally implement
// one of the typed chunk interfaces below.
type Chunk interface {
	FinishReason() *string
}

type ContentChunk interface {
	Chunk
	Content() string
}

type ReasoningChunk interface {
	Chunk
	Reasoning() string
}

// ToolCallChunk announces a tool invocation requested by the runtime.
type ToolCallChunk interface {
	Chunk
	ToolCall() ToolCall
}

// ToolResultChunk carries the outcome of a previously requested tool call.
type ToolResultChunk interface {
	Chunk
	ToolResult() ToolResult
}

// InputTranscriptChunk carries a transcription segment of user audio.
type InputTranscriptChunk interface {
	Chunk
	Transcript() string
	Finished() bool
}

// OutputTranscriptChunk carries a transcription segment of generated audio.
type OutputTranscriptChunk interface {
	Chunk
	Transcript() string
	Finished() bool
}

// AudioChunk carries a frame of generated audio.
type AudioChunk interface {
	Chunk
	Audio() []byte
	MIMEType() string
}

// MetadataChunk carries turn metadata. Metadata may arrive on any chunk of
// the turn, not only the final one; consumers accumulate it last-write-wins.
type MetadataChunk interface {
	Chunk
	Metadata() TurnMetadata
}

// TurnCompleteChunk marks the end of the runtime's generation for the turn.
type TurnCompleteChunk interface {
	Chunk
	TurnComplete() bool
}

// ErrorChunk reports a runtime-side failure. The turn ends after it.
type ErrorChunk interface {
	Chunk
	Err() error
}
