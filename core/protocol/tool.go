package protocol

import "encoding/json"

// ToolInputStart announces that a tool invocation has begun.
type ToolInputStart struct {
	typed
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
}

func NewToolInputStart(toolCallID, toolName string) ToolInputStart {
	return ToolInputStart{typed{TypeToolInputStart}, toolCallID, toolName}
}

// ToolInputAvailable carries the complete arguments of a tool invocation.
type ToolInputAvailable struct {
	typed
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Input      json.RawMessage `json:"input"`
}

func NewToolInputAvailable(toolCallID, toolName string, input json.RawMessage) ToolInputAvailable {
	return ToolInputAvailable{typed{TypeToolInputAvailable}, toolCallID, toolName, input}
}

// ToolOutputAvailable carries a successful tool result.
type ToolOutputAvailable struct {
	typed
	ToolCallID string          `json:"toolCallId"`
	Output     json.RawMessage `json:"output"`
}

func NewToolOutputAvailable(toolCallID string, output json.RawMessage) ToolOutputAvailable {
	return ToolOutputAvailable{typed{TypeToolOutputAvailable}, toolCallID, output}
}

// ToolOutputError carries a failed tool result.
type ToolOutputError struct {
	typed
	ToolCallID string `json:"toolCallId"`
	ErrorText  string `json:"errorText"`
}

func NewToolOutputError(toolCallID, errorText string) ToolOutputError {
	return ToolOutputError{typed{TypeToolOutputError}, toolCallID, errorText}
}

// ToolApprovalRequest asks the client for a human decision on a tool call.
// ToolCallID references the original intercepted call; ApprovalID is the
// fresh identity the decision must reference.
type ToolApprovalRequest struct {
	typed
	ToolCallID string `json:"toolCallId"`
	ApprovalID string `json:"approvalId"`
}

func NewToolApprovalRequest(toolCallID, approvalID string) ToolApprovalRequest {
	return ToolApprovalRequest{typed{TypeToolApprovalRequest}, toolCallID, approvalID}
}
