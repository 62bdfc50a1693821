// Package protocol defines the wire protocol spoken between the Parley client
// and the remote conversational agent.
//
// The protocol runs over a single duplex WebSocket connection:
//
//   - Client → server: binary frames carrying encoded audio chunks, plus one
//     reserved text sentinel frame ([EndOfStream]) marking the end of an
//     utterance. No other client→server message kinds exist.
//   - Server → client: binary frames carrying one playable audio segment each,
//     and text frames carrying JSON control messages ([Control]).
//
// Control messages have a closed set of type values; unknown types are ignored
// by consumers rather than rejected here, so the server can add message kinds
// without breaking older clients.
package protocol

import (
	"encoding/json"
	"fmt"
)

// EndOfStream is the reserved text frame payload the client sends after the
// final audio chunk of an utterance. It lets the server detect utterance
// boundaries without relying on silence detection. It is deliberately not
// JSON so it can never be confused with a [Control] message.
const EndOfStream = "EndOfStream"

// ControlType identifies the kind of a server→client control message.
type ControlType string

const (
	// ControlStatus carries a human-readable pipeline status update
	// (e.g. "Transcribing...", "Thinking...", "Streaming audio...").
	ControlStatus ControlType = "status"

	// ControlTranscript carries the finalised transcript of the user's
	// most recent utterance.
	ControlTranscript ControlType = "transcript"

	// ControlResponseStart announces the beginning of a streamed assistant
	// response. The assistant's text follows as ControlChunk messages.
	ControlResponseStart ControlType = "llm_response_start"

	// ControlChunk carries one token-sized fragment of the in-progress
	// assistant response.
	ControlChunk ControlType = "llm_chunk"

	// ControlAudioEnd signals that all audio segments for the current
	// assistant response have been sent.
	ControlAudioEnd ControlType = "audio_end"
)

// Control is a decoded server→client control message. Which fields are
// populated depends on Type:
//
//	status             → Message
//	transcript         → Data
//	llm_response_start → (no payload)
//	llm_chunk          → Data
//	audio_end          → (no payload)
type Control struct {
	Type ControlType `json:"type"`

	// Message is the display text of a status update.
	Message string `json:"message,omitempty"`

	// Data is the text payload of transcript and llm_chunk messages.
	Data string `json:"data,omitempty"`
}

// ParseControl decodes a text frame payload into a [Control]. It returns an
// error for malformed JSON and for frames without a type field; callers are
// expected to log and discard such frames rather than abort the session.
func ParseControl(data []byte) (Control, error) {
	var c Control
	if err := json.Unmarshal(data, &c); err != nil {
		return Control{}, fmt.Errorf("protocol: malformed control frame: %w", err)
	}
	if c.Type == "" {
		return Control{}, fmt.Errorf("protocol: control frame missing type")
	}
	return c, nil
}
