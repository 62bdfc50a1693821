// Package ws implements the [transport.Session] interface over a WebSocket
// connection using github.com/coder/websocket.
//
// Frame classification follows the payload kind, not a header byte: every
// binary frame is surfaced as an audio segment, every text frame is parsed as
// a JSON control message. Malformed control frames are logged and discarded —
// a single bad frame never aborts the session.
package ws

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/parley-voice/parley/pkg/protocol"
	"github.com/parley-voice/parley/pkg/transport"
)

// Compile-time assertion that Session satisfies the transport interface.
var _ transport.Session = (*Session)(nil)

// eventBuffer is the depth of the inbound event channel. Sized to absorb a
// burst of control messages and audio segments without stalling the read loop.
const eventBuffer = 64

// Option is a functional option for configuring a Session during Dial.
type Option func(*Session)

// WithLogger sets the logger used for discarded-frame and lifecycle messages.
// Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// Session is a WebSocket-backed duplex session.
type Session struct {
	conn *websocket.Conn
	log  *slog.Logger

	events chan transport.Event

	mu    sync.Mutex
	state transport.State

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	termOnce  sync.Once
}

// Dial establishes a WebSocket connection to addr (a ws:// or wss:// URL) and
// returns an open [Session]. The supplied ctx governs the connection attempt
// only; once established the session lives until [Session.Close] is called or
// the connection terminates.
//
// The returned session delivers EventOpened as its first event.
func Dial(ctx context.Context, addr string, opts ...Option) (*Session, error) {
	conn, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		return nil, err
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	s := &Session{
		conn:   conn,
		log:    slog.Default(),
		events: make(chan transport.Event, eventBuffer),
		state:  transport.StateOpen,
		ctx:    sessCtx,
		cancel: sessCancel,
	}
	for _, o := range opts {
		o(s)
	}

	s.events <- transport.Event{Kind: transport.EventOpened}
	go s.receiveLoop()

	return s, nil
}

// SendAudioChunk writes chunk as a binary frame. Unless the session is open
// it silently does nothing: capture teardown and connection teardown race,
// and a trailing chunk flushed after close is not an error.
func (s *Session) SendAudioChunk(chunk []byte) error {
	return s.send(websocket.MessageBinary, chunk)
}

// SendEndOfStream writes the utterance-end sentinel as a text frame.
// Silent no-op unless the session is open.
func (s *Session) SendEndOfStream() error {
	return s.send(websocket.MessageText, []byte(protocol.EndOfStream))
}

// send writes one frame while the session is open. A Close arriving between
// the state check and the write surfaces as a write error; the no-op contract
// still applies then, so the error is swallowed unless the session remained
// open.
func (s *Session) send(msgType websocket.MessageType, data []byte) error {
	if s.State() != transport.StateOpen {
		return nil
	}
	err := s.conn.Write(s.ctx, msgType, data)
	if err != nil && s.State() != transport.StateOpen {
		return nil
	}
	return err
}

// Events returns the inbound event stream.
func (s *Session) Events() <-chan transport.Event { return s.events }

// State reports the current connection state.
func (s *Session) State() transport.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close tears the connection down. Idempotent. The session still delivers its
// terminal EventClosed through the event stream.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.setState(transport.StateClosed)
		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// receiveLoop reads frames until the connection terminates, classifying each
// by payload kind. It owns the event channel: exactly one terminal event is
// delivered and the channel is closed when the loop exits.
func (s *Session) receiveLoop() {
	for {
		msgType, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				// Local Close: clean shutdown.
				s.terminate(nil)
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				s.terminate(nil)
			default:
				s.terminate(err)
			}
			return
		}

		switch msgType {
		case websocket.MessageBinary:
			s.events <- transport.Event{Kind: transport.EventAudio, Audio: data}
		case websocket.MessageText:
			ctrl, err := protocol.ParseControl(data)
			if err != nil {
				s.log.Warn("transport: discarding malformed control frame", "error", err)
				continue
			}
			s.events <- transport.Event{Kind: transport.EventControl, Control: ctrl}
		}
	}
}

// terminate delivers the terminal event exactly once and closes the event
// channel. A nil err means clean closure.
func (s *Session) terminate(err error) {
	s.termOnce.Do(func() {
		if err != nil {
			s.setState(transport.StateErrored)
			s.events <- transport.Event{Kind: transport.EventErrored, Err: err}
		} else {
			s.setState(transport.StateClosed)
			s.events <- transport.Event{Kind: transport.EventClosed}
		}
		close(s.events)
	})
}

func (s *Session) setState(st transport.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Closed is sticky: an errored read after a local Close stays Closed.
	if s.state == transport.StateClosed && st == transport.StateErrored {
		return
	}
	s.state = st
}
