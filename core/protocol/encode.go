package protocol

import (
	"encoding/json"
	"fmt"
)

// Marshal encodes an event as a single JSON object.
func Marshal(event Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", event.EventType(), err)
	}
	return data, nil
}

// SSEFrame encodes an event as an SSE data frame.
func SSEFrame(event Event) ([]byte, error) {
	data, err := Marshal(event)
	if err != nil {
		return nil, err
	}
	return fmt.Appendf(nil, "data: %s\n\n", data), nil
}

// SSETerminalFrame is the SSE frame carrying the terminal marker.
func SSETerminalFrame() []byte {
	return fmt.Appendf(nil, "data: %s\n\n", TerminalMarker)
}
