package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedMessage marks an inbound message that fails to parse or lacks
// required fields. Such messages are dropped; they are never fatal to the
// connection.
var ErrMalformedMessage = errors.New("malformed wire message")

// UserMessage starts a new generation turn.
type UserMessage struct {
	Text string `json:"text"`
}

// ToolResultMessage resolves a client-executed tool call.
type ToolResultMessage struct {
	ToolCallID string          `json:"toolCallId"`
	Result     json.RawMessage `json:"result"`
}

// ApprovalDecision resolves a pending approval request.
type ApprovalDecision struct {
	ApprovalID string `json:"approvalId"`
	Approved   bool   `json:"approved"`
}

type inboundEnvelope struct {
	Type string `json:"type"`

	Text       string          `json:"text"`
	ToolCallID string          `json:"toolCallId"`
	Result     json.RawMessage `json:"result"`
	ApprovalID string          `json:"approvalId"`
	Approved   *bool           `json:"approved"`
}

// ParseInbound decodes one inbound client message into a UserMessage,
// ToolResultMessage, or ApprovalDecision.
func ParseInbound(data []byte) (any, error) {
	var envelope inboundEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	switch envelope.Type {
	case "message":
		if envelope.Text == "" {
			return nil, fmt.Errorf("%w: message without text", ErrMalformedMessage)
		}
		return UserMessage{Text: envelope.Text}, nil

	case "tool_result":
		if envelope.ToolCallID == "" {
			return nil, fmt.Errorf("%w: tool_result without toolCallId", ErrMalformedMessage)
		}
		return ToolResultMessage{ToolCallID: envelope.ToolCallID, Result: envelope.Result}, nil

	case "approval":
		if envelope.ApprovalID == "" {
			return nil, fmt.Errorf("%w: approval without approvalId", ErrMalformedMessage)
		}
		if envelope.Approved == nil {
			return nil, fmt.Errorf("%w: approval without approved flag", ErrMalformedMessage)
		}
		return ApprovalDecision{ApprovalID: envelope.ApprovalID, Approved: *envelope.Approved}, nil

	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, envelope.Type)
	}
}
