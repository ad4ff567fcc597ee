package protocol

import (
	"encoding/json"

	"github.com/koscakluka/ema-bridge/core/runtimes"
)

// Start marks the beginning of a turn.
type Start struct {
	typed
	MessageID string `json:"messageId"`
}

// NewStart creates a start event carrying the turn-scoped message id.
func NewStart(messageID string) Start {
	return Start{typed{TypeStart}, messageID}
}

// Finish marks the end of a turn.
type Finish struct {
	typed
	FinishReason    string           `json:"finishReason"`
	MessageMetadata *MessageMetadata `json:"messageMetadata,omitempty"`
}

// MessageMetadata carries accumulated turn metadata on the finish event.
type MessageMetadata struct {
	Usage        *runtimes.Usage     `json:"usage,omitempty"`
	ModelVersion string              `json:"modelVersion,omitempty"`
	Grounding    json.RawMessage     `json:"groundingMetadata,omitempty"`
	Citations    []runtimes.Citation `json:"citations,omitempty"`
	Audio        *AudioStats         `json:"audio,omitempty"`
}

// AudioStats summarizes audio emitted during the turn.
type AudioStats struct {
	OutputFrames int `json:"outputFrames"`
	OutputBytes  int `json:"outputBytes"`
}

// NewFinish creates a finish event.
func NewFinish(finishReason string, metadata *MessageMetadata) Finish {
	return Finish{typed{TypeFinish}, finishReason, metadata}
}

// Error surfaces a runtime failure to the client. The turn ends after it.
type Error struct {
	typed
	ErrorText string `json:"errorText"`
}

// NewError creates an error event.
func NewError(errorText string) Error {
	return Error{typed{TypeError}, errorText}
}
