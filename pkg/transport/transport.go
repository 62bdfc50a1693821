// Package transport defines the session abstraction for the single duplex
// connection between the Parley client and the remote conversational agent.
//
// A [Session] multiplexes three traffic kinds over one connection: outbound
// binary audio chunks, inbound binary audio segments, and inbound JSON control
// messages. Inbound traffic is surfaced as an ordered stream of [Event] values
// so consumers observe control and audio frames in wire arrival order.
//
// The concrete WebSocket implementation lives in transport/ws; a
// call-recording test double lives in transport/mock.
package transport

import "github.com/parley-voice/parley/pkg/protocol"

// State describes the lifecycle of a session's underlying connection.
type State int

const (
	// StateConnecting is the zero value; a session returned by a dialer is
	// already past this state.
	StateConnecting State = iota

	// StateOpen means the connection is established and sends are accepted.
	StateOpen

	// StateClosed means the connection ended cleanly (local close or a
	// normal closure from the peer).
	StateClosed

	// StateErrored means the connection terminated abnormally.
	StateErrored
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	case StateErrored:
		return "ERRORED"
	default:
		return "UNKNOWN"
	}
}

// EventKind classifies the events emitted by a [Session].
type EventKind int

const (
	// EventOpened is delivered exactly once, before any other event.
	EventOpened EventKind = iota

	// EventControl carries a decoded server control message.
	EventControl

	// EventAudio carries one playable audio segment.
	EventAudio

	// EventClosed is delivered exactly once when the connection ends
	// cleanly. No events follow it.
	EventClosed

	// EventErrored is delivered exactly once when the connection fails.
	// No events follow it.
	EventErrored
)

// Event is one item of the session's inbound event stream. Exactly one of the
// payload fields is meaningful, selected by Kind.
type Event struct {
	Kind EventKind

	// Control is set when Kind is EventControl.
	Control protocol.Control

	// Audio is set when Kind is EventAudio. The slice is owned by the
	// receiver; the session never reuses it.
	Audio []byte

	// Err is set when Kind is EventErrored.
	Err error
}

// Session is one live duplex connection to the remote agent.
//
// Implementations must be safe for concurrent use. The inbound side delivers
// events in wire arrival order on the channel returned by Events; after an
// EventClosed or EventErrored the channel is closed and no further events are
// delivered.
type Session interface {
	// SendAudioChunk transmits one captured audio chunk as a binary frame.
	// It is a silent no-op (returning nil) unless the session state is
	// StateOpen — encoder flush events can race with connection teardown,
	// and losing a trailing chunk at that point is harmless.
	SendAudioChunk(chunk []byte) error

	// SendEndOfStream transmits the utterance-end sentinel text frame.
	// Like SendAudioChunk it is a silent no-op unless the session is open.
	SendEndOfStream() error

	// Events returns the ordered inbound event stream. The same channel is
	// returned on every call. It is closed after the terminal event.
	Events() <-chan Event

	// State reports the current connection state.
	State() State

	// Close tears the connection down. It is idempotent; subsequent calls
	// return nil. A session closed locally still delivers its EventClosed.
	Close() error
}
