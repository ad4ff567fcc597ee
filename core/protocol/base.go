package protocol

// Type identifies a wire event.
type Type string

const (
	TypeStart  Type = "start"
	TypeFinish Type = "finish"
	TypeError  Type = "error"

	TypeTextStart Type = "text-start"
	TypeTextDelta Type = "text-delta"
	TypeTextEnd   Type = "text-end"

	TypeReasoningStart Type = "reasoning-start"
	TypeReasoningDelta Type = "reasoning-delta"
	TypeReasoningEnd   Type = "reasoning-end"

	TypeToolInputStart      Type = "tool-input-start"
	TypeToolInputAvailable  Type = "tool-input-available"
	TypeToolOutputAvailable Type = "tool-output-available"
	TypeToolOutputError     Type = "tool-output-error"
	TypeToolApprovalRequest Type = "tool-approval-request"

	TypeDataPCM   Type = "data-pcm"
	TypeDataAudio Type = "data-audio"
	TypeFile      Type = "file"
)

// TerminalMarker is the literal end-of-turn marker. It is not a JSON object
// and is emitted exactly once per turn, after every other event.
const TerminalMarker = "[DONE]"

// Event is a single outbound wire event.
type Event interface {
	EventType() Type
}

type typed struct {
	Type Type `json:"type"`
}

func (t typed) EventType() Type { return t.Type }
