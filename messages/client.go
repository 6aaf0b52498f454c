package messages

import "encoding/json"

// ClientMessage represents a message from a frontend client
type ClientMessage struct {
	Type    string          `json:"type"` // "audio", "text", "control"
	Payload json.RawMessage `json:"payload"`
}

// AudioPayload contains audio data from the client
type AudioPayload struct {
	Data string `json:"data"` // Base64-encoded PCM audio
}

// TextPayload contains a typed user turn
type TextPayload struct {
	Text string `json:"text"`
}

// ControlPayload contains control commands
type ControlPayload struct {
	Action string `json:"action"` // "ping", "end_turn"
}
