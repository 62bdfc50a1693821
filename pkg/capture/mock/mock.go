// Package mock provides scripted in-memory implementations of
// [capture.Source] and [capture.Encoder] for unit tests.
package mock

import (
	"context"
	"sync"

	"github.com/parley-voice/parley/pkg/capture"
	"github.com/parley-voice/parley/pkg/pcm"
)

// Compile-time assertions against the capture interfaces.
var (
	_ capture.Source  = (*Source)(nil)
	_ capture.Encoder = (*Encoder)(nil)
)

// Source is a mock device lease fed by the test through [Source.Feed].
type Source struct {
	mu sync.Mutex

	// OpenError, when set, makes Open fail with it.
	OpenError error

	// SourceFormat is returned by Format. Defaults to 48 kHz mono.
	SourceFormat pcm.Format

	frames     chan []byte
	openCalls  int
	closeCalls int
}

// NewSource returns a mock source in the closed state.
func NewSource() *Source {
	return &Source{SourceFormat: pcm.Format{SampleRate: 48000, Channels: 1}}
}

// Open implements [capture.Source].
func (s *Source) Open(_ context.Context) (<-chan []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openCalls++
	if s.OpenError != nil {
		return nil, s.OpenError
	}
	s.frames = make(chan []byte, 64)
	return s.frames, nil
}

// Format implements [capture.Source].
func (s *Source) Format() pcm.Format {
	return s.SourceFormat
}

// Close implements [capture.Source]. Idempotent.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	if s.frames != nil {
		close(s.frames)
		s.frames = nil
	}
	return nil
}

// Feed delivers one PCM buffer to the open source, as the device callback
// would. It is a no-op when the source is closed.
func (s *Source) Feed(data []byte) {
	s.mu.Lock()
	frames := s.frames
	s.mu.Unlock()
	if frames != nil {
		frames <- data
	}
}

// OpenCalls returns how many times Open was called.
func (s *Source) OpenCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openCalls
}

// CloseCalls returns how many times Close was called.
func (s *Source) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// Encoder is a pass-through mock encoder: Encode returns its input verbatim
// and records it; Flush returns FlushResult once.
type Encoder struct {
	mu sync.Mutex

	// EncodeError, when set, makes every Encode fail with it.
	EncodeError error

	// FlushResult is returned by the first Flush call.
	FlushResult []byte

	encoded    [][]byte
	flushCalls int
}

// NewEncoder returns a pass-through mock encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Encode implements [capture.Encoder].
func (e *Encoder) Encode(pcmData []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.EncodeError != nil {
		return nil, e.EncodeError
	}
	buf := make([]byte, len(pcmData))
	copy(buf, pcmData)
	e.encoded = append(e.encoded, buf)
	return buf, nil
}

// Flush implements [capture.Encoder].
func (e *Encoder) Flush() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flushCalls++
	if e.flushCalls > 1 {
		return nil, nil
	}
	return e.FlushResult, nil
}

// Encoded returns every buffer passed to Encode, in order.
func (e *Encoder) Encoded() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]byte, len(e.encoded))
	copy(out, e.encoded)
	return out
}

// FlushCalls returns how many times Flush was called.
func (e *Encoder) FlushCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushCalls
}
