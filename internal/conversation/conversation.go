// Package conversation holds the session state machine: the status the user
// sees and the ordered transcript of turns, both driven by control messages
// from the remote agent and by local talk-button and socket lifecycle events.
//
// The State is deliberately not safe for concurrent use: the client applies
// every event from one goroutine, so transcript and status mutation within a
// handler is atomic with respect to every other handler.
package conversation

import (
	"log/slog"

	"github.com/parley-voice/parley/pkg/protocol"
)

// Role attributes a transcript turn.
type Role int

const (
	RoleUser Role = iota
	RoleAssistant
)

// String implements [fmt.Stringer].
func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	default:
		return "unknown"
	}
}

// Turn is one transcript entry. User turns arrive complete; Assistant turns
// are created empty and grown in place by streamed chunks until the end of
// the response audio finalizes them.
type Turn struct {
	Role    Role
	Content string
}

// Phase is the closed set of states conversation logic branches on. The
// server can additionally push arbitrary human-readable status text, carried
// by [PhaseServerStatus] without widening this set.
type Phase int

const (
	PhaseInitializing Phase = iota
	PhaseConnecting
	PhaseReady
	PhaseListening
	PhaseProcessing
	PhaseDisconnected
	PhaseConnectionError
	PhaseMicError
	PhaseServerStatus
)

// String implements [fmt.Stringer].
func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "Initializing"
	case PhaseConnecting:
		return "Connecting..."
	case PhaseReady:
		return "Ready"
	case PhaseListening:
		return "Listening..."
	case PhaseProcessing:
		return "Processing..."
	case PhaseDisconnected:
		return "Disconnected"
	case PhaseConnectionError:
		return "Connection Error"
	case PhaseMicError:
		return "Mic Error"
	case PhaseServerStatus:
		return "Server Status"
	default:
		return "unknown"
	}
}

// Status is the user-visible session state: a phase for logic gating plus the
// display text. For [PhaseServerStatus] the text is the server's message
// verbatim; for every other phase it is the phase's canonical label.
type Status struct {
	Phase   Phase
	Display string
}

// statusFor builds the canonical Status for a locally-set phase.
func statusFor(p Phase) Status {
	return Status{Phase: p, Display: p.String()}
}

// TalkAction is what a talk-button press asks the owning client to do.
type TalkAction int

const (
	// TalkNone: the press was ignored (conversation not in a togglable phase).
	TalkNone TalkAction = iota
	// TalkStart: begin a recording.
	TalkStart
	// TalkStop: finalize the active recording.
	TalkStop
)

// Option is a functional option for configuring a State.
type Option func(*State)

// WithLogger sets the logger for dropped protocol violations. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *State) { s.log = l }
}

// State is the session state machine. The zero value is not usable; call
// [New].
type State struct {
	log *slog.Logger

	status Status
	turns  []Turn

	// inProgress is the index of the Assistant turn currently being
	// streamed, or -1. Holding the index explicitly (set on response start,
	// cleared on audio end) keeps chunk routing unambiguous even if the
	// transcript grows in between.
	inProgress int
}

// New returns a State in the Initializing phase with an empty transcript.
func New(opts ...Option) *State {
	s := &State{
		log:        slog.Default(),
		status:     statusFor(PhaseInitializing),
		inProgress: -1,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Status returns the current status.
func (s *State) Status() Status { return s.status }

// Turns returns a copy of the transcript in order.
func (s *State) Turns() []Turn {
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// ─── Socket lifecycle events ──────────────────────────────────────────────────

// Connecting marks the session as dialing the remote agent.
func (s *State) Connecting() {
	s.status = statusFor(PhaseConnecting)
}

// SocketOpened marks the session ready for a conversation.
func (s *State) SocketOpened() {
	s.status = statusFor(PhaseReady)
}

// SocketErrored marks the session as failed. Terminal.
func (s *State) SocketErrored() {
	s.status = statusFor(PhaseConnectionError)
	s.inProgress = -1
}

// SocketClosed marks the session as over. Terminal.
func (s *State) SocketClosed() {
	s.status = statusFor(PhaseDisconnected)
	s.inProgress = -1
}

// MicFailed records that the microphone could not be acquired. The session
// continues; a later talk press may retry the device.
func (s *State) MicFailed() {
	s.status = statusFor(PhaseMicError)
}

// ─── Local user events ────────────────────────────────────────────────────────

// PressTalk applies one press of the talk toggle and returns the action the
// owning client must take. Presses outside a togglable phase are ignored.
//
// A press during [PhaseServerStatus] starts a new recording: some server
// failure notices (a failed transcription, a failed response) arrive as status
// text with no closing audio_end, and the user must be able to try again.
func (s *State) PressTalk() TalkAction {
	switch s.status.Phase {
	case PhaseReady, PhaseMicError, PhaseServerStatus:
		s.status = statusFor(PhaseListening)
		return TalkStart
	case PhaseListening:
		s.status = statusFor(PhaseProcessing)
		return TalkStop
	default:
		return TalkNone
	}
}

// ─── Control messages ─────────────────────────────────────────────────────────

// Apply dispatches one inbound control message. Unknown message types and
// protocol violations are dropped without mutating the transcript.
func (s *State) Apply(c protocol.Control) {
	switch c.Type {
	case protocol.ControlStatus:
		s.status = Status{Phase: PhaseServerStatus, Display: c.Message}

	case protocol.ControlTranscript:
		s.turns = append(s.turns, Turn{Role: RoleUser, Content: c.Data})

	case protocol.ControlResponseStart:
		s.turns = append(s.turns, Turn{Role: RoleAssistant})
		s.inProgress = len(s.turns) - 1

	case protocol.ControlChunk:
		if s.inProgress < 0 || s.inProgress != len(s.turns)-1 {
			// Chunk with no in-progress Assistant turn: protocol
			// violation, drop it rather than corrupt the transcript.
			s.log.Debug("conversation: dropping orphan response chunk", "data", c.Data)
			return
		}
		s.turns[s.inProgress].Content += c.Data

	case protocol.ControlAudioEnd:
		s.inProgress = -1
		s.status = statusFor(PhaseReady)

	default:
		s.log.Debug("conversation: ignoring unknown control type", "type", c.Type)
	}
}
