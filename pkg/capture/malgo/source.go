// Package malgo implements [capture.Source] on top of the gen2brain/malgo
// miniaudio bindings, leasing the system's default capture device.
package malgo

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/parley-voice/parley/pkg/capture"
	"github.com/parley-voice/parley/pkg/pcm"
)

// Compile-time assertion that Source satisfies the capture interface.
var _ capture.Source = (*Source)(nil)

const (
	defaultSampleRate = 48000
	defaultChannels   = 1

	// periodMillis is the device callback period. Small periods keep the
	// capture latency well under the chunk cadence.
	periodMillis = 20

	// frameBuffer is the channel depth between the device callback and the
	// consumer. The callback never blocks; frames beyond this depth are
	// dropped with a warning counter bump rather than stalling the device
	// thread.
	frameBuffer = 64
)

// Option is a functional option for configuring a Source.
type Option func(*Source)

// WithFormat overrides the capture format (default 48 kHz mono).
func WithFormat(f pcm.Format) Option {
	return func(s *Source) { s.format = f }
}

// Source is an exclusive lease on the default microphone. Open acquires the
// device and starts the capture thread; Close releases both. A closed Source
// can be opened again for the next recording.
type Source struct {
	format pcm.Format

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	frames  chan []byte
	dropped uint64
}

// NewSource returns an unopened Source.
func NewSource(opts ...Option) *Source {
	s := &Source{format: pcm.Format{SampleRate: defaultSampleRate, Channels: defaultChannels}}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Format implements [capture.Source].
func (s *Source) Format() pcm.Format {
	return s.format
}

// Open implements [capture.Source]. It initialises a miniaudio context and
// capture device and begins delivering PCM buffers on the returned channel.
// The device callback copies each buffer; consumers own what they receive.
func (s *Source) Open(_ context.Context) (<-chan []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device != nil {
		return nil, fmt.Errorf("malgo: source already open")
	}

	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime
	allocCtx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}

	frames := make(chan []byte, frameBuffer)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(s.format.Channels)
	deviceConfig.SampleRate = uint32(s.format.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = periodMillis

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			buf := make([]byte, len(pInputSamples))
			copy(buf, pInputSamples)
			select {
			case frames <- buf:
			default:
				s.mu.Lock()
				s.dropped++
				s.mu.Unlock()
			}
		},
	}

	device, err := malgo.InitDevice(allocCtx.Context, deviceConfig, callbacks)
	if err != nil {
		allocCtx.Uninit()
		return nil, fmt.Errorf("malgo: init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		allocCtx.Uninit()
		return nil, fmt.Errorf("malgo: start capture device: %w", err)
	}

	s.ctx = allocCtx
	s.device = device
	s.frames = frames
	return frames, nil
}

// Close implements [capture.Source]. It stops the device, releases the
// miniaudio context, and closes the frame channel. Idempotent.
func (s *Source) Close() error {
	s.mu.Lock()
	device, allocCtx, frames := s.device, s.ctx, s.frames
	s.device, s.ctx, s.frames = nil, nil, nil
	s.mu.Unlock()

	if device == nil {
		return nil
	}
	device.Stop()
	device.Uninit()
	err := allocCtx.Uninit()
	close(frames)
	if err != nil {
		return fmt.Errorf("malgo: release context: %w", err)
	}
	return nil
}

// Dropped reports how many device buffers were discarded because the consumer
// fell behind.
func (s *Source) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
