package runtimes

import "encoding/json"

// ToolCall is a tool invocation requested by the runtime.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolResult is the outcome of a tool call, either produced locally or sent
// back to the runtime to resume generation.
type ToolResult struct {
	ID      string
	Name    string
	Payload json.RawMessage
	IsError bool
}

// TurnMetadata is runtime-reported metadata for one generation turn. Fields
// are pointers/slices so absent values can be told apart from zero values;
// consumers merge successive metadata chunks last-write-wins per field.
type TurnMetadata struct {
	Usage        *Usage
	FinishReason *string
	ModelVersion string
	Grounding    json.RawMessage
	Citations    []Citation
}

// Citation points a span of generated text at a source document.
type Citation struct {
	URI        string `json:"uri,omitempty"`
	Title      string `json:"title,omitempty"`
	StartIndex int    `json:"startIndex,omitempty"`
	EndIndex   int    `json:"endIndex,omitempty"`
}

// Usage describes token consumption for a turn.
type Usage struct {
	// InputTokens represents the number of input tokens.
	InputTokens int `json:"inputTokens"`
	// OutputTokens represents the number of output tokens.
	OutputTokens int `json:"outputTokens"`
	// TotalTokens represents the total number of tokens used.
	TotalTokens int `json:"totalTokens"`
	// InputTokensDetails represents a detailed breakdown of the input tokens.
	InputTokensDetails *InputTokensDetails `json:"inputTokensDetails,omitempty"`
	// OutputTokensDetails represents a detailed breakdown of the output tokens.
	OutputTokensDetails *OutputTokensDetails `json:"outputTokensDetails,omitempty"`
}

// InputTokensDetails represents a detailed breakdown of the input tokens.
type InputTokensDetails struct {
	// CachedTokens represents the number of tokens that were retrieved from
	// the cache.
	CachedTokens int `json:"cachedTokens,omitempty"`
	// AudioTokens represents the number of tokens derived from input audio.
	AudioTokens int `json:"audioTokens,omitempty"`
}

// OutputTokensDetails represents a detailed breakdown of the output tokens.
type OutputTokensDetails struct {
	// ReasoningTokens represents the number of reasoning tokens.
	ReasoningTokens int `json:"reasoningTokens,omitempty"`
	// AudioTokens represents the number of tokens rendered as output audio.
	AudioTokens int `json:"audioTokens,omitempty"`
}

// Merge folds newer metadata into m, last write wins per field.
func (m *TurnMetadata) Merge(update TurnMetadata) {
	if update.Usage != nil {
		m.Usage = update.Usage
	}
	if update.FinishReason != nil {
		m.FinishReason = update.FinishReason
	}
	if update.ModelVersion != "" {
		m.ModelVersion = update.ModelVersion
	}
	if update.Grounding != nil {
		m.Grounding = update.Grounding
	}
	if update.Citations != nil {
		m.Citations = update.Citations
	}
}
