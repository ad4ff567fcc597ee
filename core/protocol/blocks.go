package protocol

// TextStart opens a streamed text block.
type TextStart struct {
	typed
	ID string `json:"id"`
}

func NewTextStart(id string) TextStart {
	return TextStart{typed{TypeTextStart}, id}
}

// TextDelta appends text to an open block.
type TextDelta struct {
	typed
	ID    string `json:"id"`
	Delta string `json:"delta"`
}

func NewTextDelta(id, delta string) TextDelta {
	return TextDelta{typed{TypeTextDelta}, id, delta}
}

// TextEnd closes a streamed text block.
type TextEnd struct {
	typed
	ID string `json:"id"`
}

func NewTextEnd(id string) TextEnd {
	return TextEnd{typed{TypeTextEnd}, id}
}

// ReasoningStart opens a streamed reasoning block.
type ReasoningStart struct {
	typed
	ID string `json:"id"`
}

func NewReasoningStart(id string) ReasoningStart {
	return ReasoningStart{typed{TypeReasoningStart}, id}
}

// ReasoningDelta appends reasoning text to an open block.
type ReasoningDelta struct {
	typed
	ID    string `json:"id"`
	Delta string `json:"delta"`
}

func NewReasoningDelta(id, delta string) ReasoningDelta {
	return ReasoningDelta{typed{TypeReasoningDelta}, id, delta}
}

// ReasoningEnd closes a streamed reasoning block.
type ReasoningEnd struct {
	typed
	ID string `json:"id"`
}

func NewReasoningEnd(id string) ReasoningEnd {
	return ReasoningEnd{typed{TypeReasoningEnd}, id}
}
