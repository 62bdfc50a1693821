// Package mock provides an in-memory mock implementation of the
// [transport.Session] interface for use in unit tests.
//
// The mock records every outbound call so tests can assert on order and
// payloads, and exposes helpers to inject inbound events as if they had
// arrived from the remote agent. It is safe for concurrent use.
//
// Typical usage:
//
//	sess := mock.NewSession()
//	sess.EmitControl(protocol.Control{Type: protocol.ControlStatus, Message: "Thinking..."})
//	sess.EmitClosed()
//	// ... drive the code under test, then:
//	chunks := sess.SentChunks()
package mock

import (
	"sync"

	"github.com/parley-voice/parley/pkg/protocol"
	"github.com/parley-voice/parley/pkg/transport"
)

// Compile-time assertion that Session satisfies the transport interface.
var _ transport.Session = (*Session)(nil)

// Session is a mock implementation of [transport.Session].
type Session struct {
	mu sync.Mutex

	// SendChunkError is returned by SendAudioChunk when the mock is open.
	SendChunkError error

	// SendEndError is returned by SendEndOfStream when the mock is open.
	SendEndError error

	state        transport.State
	sentChunks   [][]byte
	endOfStreams int
	closeCalls   int

	events   chan transport.Event
	termOnce sync.Once
}

// NewSession returns an open mock session with a buffered event stream.
func NewSession() *Session {
	return &Session{
		state:  transport.StateOpen,
		events: make(chan transport.Event, 64),
	}
}

// SendAudioChunk implements [transport.Session]. The chunk is recorded only
// while the session is open, mirroring the real session's silent no-op.
func (s *Session) SendAudioChunk(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != transport.StateOpen {
		return nil
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.sentChunks = append(s.sentChunks, cp)
	return s.SendChunkError
}

// SendEndOfStream implements [transport.Session].
func (s *Session) SendEndOfStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != transport.StateOpen {
		return nil
	}
	s.endOfStreams++
	return s.SendEndError
}

// Events implements [transport.Session].
func (s *Session) Events() <-chan transport.Event { return s.events }

// State implements [transport.Session].
func (s *Session) State() transport.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close implements [transport.Session]. It delivers EventClosed exactly once.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closeCalls++
	s.mu.Unlock()
	s.EmitClosed()
	return nil
}

// ─── Inbound event injection ──────────────────────────────────────────────────

// EmitOpened injects the EventOpened event.
func (s *Session) EmitOpened() {
	s.events <- transport.Event{Kind: transport.EventOpened}
}

// EmitControl injects a control message event.
func (s *Session) EmitControl(c protocol.Control) {
	s.events <- transport.Event{Kind: transport.EventControl, Control: c}
}

// EmitAudio injects an inbound audio segment event.
func (s *Session) EmitAudio(segment []byte) {
	s.events <- transport.Event{Kind: transport.EventAudio, Audio: segment}
}

// EmitClosed injects the terminal EventClosed and closes the event stream.
// Safe to call more than once; only the first call has any effect.
func (s *Session) EmitClosed() {
	s.termOnce.Do(func() {
		s.mu.Lock()
		s.state = transport.StateClosed
		s.mu.Unlock()
		s.events <- transport.Event{Kind: transport.EventClosed}
		close(s.events)
	})
}

// EmitErrored injects the terminal EventErrored and closes the event stream.
// Safe to call more than once; only the first call has any effect.
func (s *Session) EmitErrored(err error) {
	s.termOnce.Do(func() {
		s.mu.Lock()
		s.state = transport.StateErrored
		s.mu.Unlock()
		s.events <- transport.Event{Kind: transport.EventErrored, Err: err}
		close(s.events)
	})
}

// ─── Recorded calls ───────────────────────────────────────────────────────────

// SentChunks returns a copy of all chunks recorded by SendAudioChunk, in
// submission order.
func (s *Session) SentChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sentChunks))
	copy(out, s.sentChunks)
	return out
}

// EndOfStreamCalls returns how many times SendEndOfStream was recorded.
func (s *Session) EndOfStreamCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endOfStreams
}

// CloseCalls returns how many times Close was called.
func (s *Session) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}
