// Package capture implements the microphone capture pipeline: it leases an
// exclusive audio input device, encodes the live signal into discrete chunks
// on a fixed cadence, and forwards each chunk to the transport session.
//
// Chunking on a cadence (rather than at end-of-utterance) is what gives the
// remote agent low-latency partial audio instead of one large blob when the
// user stops talking.
//
// The device abstraction lives behind [Source] (miniaudio implementation in
// capture/malgo), encoding behind [Encoder] (Opus implementation in
// capture/opus); capture/mock provides scripted doubles for both.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parley-voice/parley/pkg/pcm"
)

// DefaultCadence is the interval at which buffered encoder output is flushed
// to the transport as one chunk.
const DefaultCadence = 250 * time.Millisecond

// Source is an exclusive lease on an audio input device.
//
// Open acquires the device and starts delivering raw PCM buffers on the
// returned channel; Format describes their layout. Close releases the device
// and closes the channel; it must be idempotent, and a closed Source may be
// opened again for a later recording.
type Source interface {
	Open(ctx context.Context) (<-chan []byte, error)
	Format() pcm.Format
	Close() error
}

// Encoder turns raw PCM into encoded chunk bytes. Encode may buffer
// sub-frame input and return only the bytes that are complete so far; Flush
// drains whatever remains at end of utterance. An Encoder is used for a
// single recording and then discarded.
type Encoder interface {
	Encode(pcmData []byte) ([]byte, error)
	Flush() ([]byte, error)
}

// Sink receives the pipeline's output. [transport.Session] satisfies it.
type Sink interface {
	SendAudioChunk(chunk []byte) error
	SendEndOfStream() error
}

// Config assembles a Pipeline.
type Config struct {
	// Source is the reusable device lease.
	Source Source

	// NewEncoder constructs a fresh encoder for each recording.
	NewEncoder func() (Encoder, error)

	// Sink receives chunks and the end-of-stream sentinel.
	Sink Sink

	// Cadence is the chunk flush interval. Defaults to [DefaultCadence].
	Cadence time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Pipeline manages recording sessions over one Source. At most one recording
// is active at a time; Start while recording is a no-op. Pipeline is safe for
// concurrent use.
type Pipeline struct {
	source     Source
	newEncoder func() (Encoder, error)
	sink       Sink
	cadence    time.Duration
	log        *slog.Logger

	mu   sync.Mutex
	sess *recording
}

// recording is the per-utterance state: the goroutine draining the device
// plus the handles needed to finalise it exactly once.
type recording struct {
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewPipeline constructs a Pipeline from cfg.
func NewPipeline(cfg Config) *Pipeline {
	p := &Pipeline{
		source:     cfg.Source,
		newEncoder: cfg.NewEncoder,
		sink:       cfg.Sink,
		cadence:    cfg.Cadence,
		log:        cfg.Logger,
	}
	if p.cadence <= 0 {
		p.cadence = DefaultCadence
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	return p
}

// Start acquires the microphone lease and begins a recording session. It
// returns an error when the device or encoder cannot be acquired — the
// caller aborts the recording attempt only; nothing else is torn down. Start
// while a recording is active is a no-op.
func (p *Pipeline) Start(ctx context.Context) error {
	sess := &recording{
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}

	// Reserve the recording slot before touching the device, so concurrent
	// Starts settle on the mutex alone and a loser never opens (or closes)
	// the shared source.
	p.mu.Lock()
	if p.sess != nil {
		p.mu.Unlock()
		return nil
	}
	p.sess = sess
	p.mu.Unlock()

	enc, err := p.newEncoder()
	if err != nil {
		p.abort(sess)
		return fmt.Errorf("capture: create encoder: %w", err)
	}
	frames, err := p.source.Open(ctx)
	if err != nil {
		p.abort(sess)
		return fmt.Errorf("capture: acquire microphone: %w", err)
	}

	go p.run(sess, frames, enc)
	return nil
}

// abort releases a reserved recording slot whose acquisition failed. Closing
// done unblocks a Stop that began waiting on the reservation in the meantime.
func (p *Pipeline) abort(sess *recording) {
	close(sess.done)
	p.mu.Lock()
	if p.sess == sess {
		p.sess = nil
	}
	p.mu.Unlock()
}

// Stop finalises the active recording: the device lease is released, the
// encoder is flushed, any final chunk is forwarded, and exactly one
// end-of-stream sentinel is sent. Stop blocks until finalisation completes.
// It is idempotent and a no-op when nothing is recording.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	sess := p.sess
	p.mu.Unlock()
	if sess == nil {
		return
	}

	sess.stopOnce.Do(func() { close(sess.stopCh) })
	<-sess.done

	p.mu.Lock()
	if p.sess == sess {
		p.sess = nil
	}
	p.mu.Unlock()
}

// Recording reports whether a recording session is active.
func (p *Pipeline) Recording() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sess != nil
}

// run drains device frames into the encoder and flushes accumulated encoder
// output as one chunk per cadence tick. On stop it releases the device,
// flushes the encoder, forwards the final chunk, and sends the sentinel.
func (p *Pipeline) run(sess *recording, frames <-chan []byte, enc Encoder) {
	defer close(sess.done)

	ticker := time.NewTicker(p.cadence)
	defer ticker.Stop()

	var chunk []byte
	flush := func() {
		// Zero-size chunks are keep-alive artifacts of the encoder, not
		// data; drop them silently.
		if len(chunk) == 0 {
			return
		}
		if err := p.sink.SendAudioChunk(chunk); err != nil {
			p.log.Warn("capture: chunk send failed", "bytes", len(chunk), "error", err)
		}
		chunk = nil
	}

	for {
		select {
		case data, ok := <-frames:
			if !ok {
				// Device went away underneath us; wait for Stop to
				// finalise so the sentinel is still sent exactly once.
				frames = nil
				continue
			}
			out, err := enc.Encode(data)
			if err != nil {
				p.log.Warn("capture: encode failed, dropping buffer", "error", err)
				continue
			}
			chunk = append(chunk, out...)

		case <-ticker.C:
			flush()

		case <-sess.stopCh:
			if err := p.source.Close(); err != nil {
				p.log.Warn("capture: device release failed", "error", err)
			}
			out, err := enc.Flush()
			if err != nil {
				p.log.Warn("capture: encoder flush failed", "error", err)
			} else {
				chunk = append(chunk, out...)
			}
			flush()
			if err := p.sink.SendEndOfStream(); err != nil {
				p.log.Warn("capture: end-of-stream send failed", "error", err)
			}
			return
		}
	}
}
