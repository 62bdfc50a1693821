// Package client wires the transport session, capture pipeline, playback
// queue, and conversation state machine into one running voice client.
//
// All session events — socket lifecycle, inbound control and audio frames,
// talk-button presses — are applied by a single event-loop goroutine, so the
// conversation state and transcript are only ever mutated from one execution
// context. The capture pipeline and playback queue run their own goroutines
// but communicate with the loop exclusively through their typed contracts.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/parley-voice/parley/internal/conversation"
	"github.com/parley-voice/parley/internal/observe"
	"github.com/parley-voice/parley/pkg/capture"
	"github.com/parley-voice/parley/pkg/playback"
	"github.com/parley-voice/parley/pkg/protocol"
	"github.com/parley-voice/parley/pkg/transport"
)

// Config assembles a Client.
type Config struct {
	// Session is the open transport session to the remote agent.
	Session transport.Session

	// Source is the microphone lease for the capture pipeline.
	Source capture.Source

	// NewEncoder constructs a fresh chunk encoder per recording.
	NewEncoder func() (capture.Encoder, error)

	// Player plays one inbound audio segment to completion.
	Player playback.Player

	// Cadence is the capture chunk flush interval. Zero selects the
	// capture package default.
	Cadence time.Duration

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// OnStatus, when set, is invoked from the event loop whenever the
	// user-visible status changes.
	OnStatus func(conversation.Status)

	// OnTranscript, when set, is invoked from the event loop whenever the
	// transcript changes, with a copy of all turns.
	OnTranscript func([]conversation.Turn)
}

// Client owns one voice conversation over one session. Create with [New],
// drive with [Client.Run], and toggle recording with [Client.PressTalk].
type Client struct {
	sess     transport.Session
	pipeline *capture.Pipeline
	queue    *playback.Queue
	conv     *conversation.State
	met      *observe.Metrics
	log      *slog.Logger

	onStatus     func(conversation.Status)
	onTranscript func([]conversation.Turn)

	// talk coalesces button presses; the loop drains it one at a time.
	talk chan struct{}

	recording bool

	// utterSpan brackets one utterance, from the talk press that starts the
	// recording to the stop that sends the sentinel.
	utterSpan trace.Span

	lastStatus   conversation.Status
	teardownOnce sync.Once
}

// New wires a Client from cfg.
func New(cfg Config) *Client {
	c := &Client{
		sess:         cfg.Session,
		met:          cfg.Metrics,
		log:          cfg.Logger,
		onStatus:     cfg.OnStatus,
		onTranscript: cfg.OnTranscript,
		talk:         make(chan struct{}, 1),
	}
	if c.met == nil {
		c.met = observe.DefaultMetrics()
	}
	if c.log == nil {
		c.log = slog.Default()
	}

	c.conv = conversation.New(conversation.WithLogger(c.log))
	c.queue = playback.New(
		&timedPlayer{inner: cfg.Player, met: c.met},
		playback.WithLogger(c.log),
		playback.WithErrorHandler(func(err error, dropped int) {
			c.met.PlaybackErrors.Add(context.Background(), 1)
			c.met.DroppedSegments.Add(context.Background(), int64(dropped))
		}),
	)
	c.pipeline = capture.NewPipeline(capture.Config{
		Source:     cfg.Source,
		NewEncoder: cfg.NewEncoder,
		Sink:       &countingSink{inner: cfg.Session, met: c.met},
		Cadence:    cfg.Cadence,
		Logger:     c.log,
	})
	return c
}

// Status returns the last status the event loop published.
func (c *Client) Status() conversation.Status {
	return c.conv.Status()
}

// PressTalk registers one press of the talk toggle. Non-blocking; presses
// arriving faster than the loop can apply them are coalesced.
func (c *Client) PressTalk() {
	select {
	case c.talk <- struct{}{}:
	default:
	}
}

// Run drives the event loop until the session ends or ctx is cancelled. It
// returns nil on a clean close, the session error on a transport failure, and
// ctx.Err() on cancellation. Capture and playback are torn down on every exit
// path; an in-flight playback is allowed to finish before Run returns.
func (c *Client) Run(ctx context.Context) error {
	defer func() {
		c.teardown()
		c.queue.Wait()
	}()

	events := c.sess.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-c.talk:
			c.handleTalk(ctx)
			c.publish()

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			done, err := c.handleEvent(ctx, ev)
			c.publish()
			if done {
				return err
			}
		}
	}
}

// handleEvent applies one session event. done reports that the session has
// reached a terminal state and the loop must exit with err.
func (c *Client) handleEvent(ctx context.Context, ev transport.Event) (done bool, err error) {
	switch ev.Kind {
	case transport.EventOpened:
		c.conv.SocketOpened()
		c.log.Info("client: session open")

	case transport.EventControl:
		c.met.RecordControlMessage(ctx, string(ev.Control.Type))
		c.applyControl(ev.Control)

	case transport.EventAudio:
		c.queue.Enqueue(ev.Audio)

	case transport.EventClosed:
		c.log.Info("client: session closed")
		c.conv.SocketClosed()
		c.teardown()
		return true, nil

	case transport.EventErrored:
		c.log.Error("client: session failed", "error", ev.Err)
		c.conv.SocketErrored()
		c.teardown()
		return true, fmt.Errorf("client: session failed: %w", ev.Err)
	}
	return false, nil
}

// applyControl routes one control message into the conversation state and
// performs its side effects on the recording flag.
func (c *Client) applyControl(ctrl protocol.Control) {
	c.conv.Apply(ctrl)

	// The agent answering means the utterance is over on the server side;
	// a recording left on by now is stale.
	if ctrl.Type == protocol.ControlAudioEnd && c.recording {
		c.stopRecording()
	}
}

// handleTalk applies one press of the talk toggle.
func (c *Client) handleTalk(ctx context.Context) {
	switch c.conv.PressTalk() {
	case conversation.TalkStart:
		if err := c.pipeline.Start(ctx); err != nil {
			c.log.Warn("client: microphone unavailable", "error", err)
			c.conv.MicFailed()
			return
		}
		sctx, span := observe.StartSpan(ctx, "utterance")
		c.utterSpan = span
		c.recording = true
		c.met.ActiveRecordings.Add(ctx, 1)
		observe.Logger(sctx).Debug("client: recording started")

	case conversation.TalkStop:
		c.stopRecording()
		c.log.Debug("client: recording stopped")
	}
}

// stopRecording finalises the capture pipeline and clears the recording flag.
func (c *Client) stopRecording() {
	if !c.recording {
		return
	}
	c.pipeline.Stop()
	c.recording = false
	c.met.ActiveRecordings.Add(context.Background(), -1)
	if c.utterSpan != nil {
		c.utterSpan.End()
		c.utterSpan = nil
	}
}

// teardown is the single idempotent exit procedure invoked from every exit
// path: stop the microphone, discard pending playback, close the socket.
func (c *Client) teardown() {
	c.teardownOnce.Do(func() {
		c.stopRecording()
		c.queue.Close()
		if err := c.sess.Close(); err != nil {
			c.log.Warn("client: session close failed", "error", err)
		}
	})
}

// publish pushes status and transcript changes to the configured observers.
func (c *Client) publish() {
	if c.onStatus != nil {
		if st := c.conv.Status(); st != c.lastStatus {
			c.lastStatus = st
			c.onStatus(st)
		}
	}
	if c.onTranscript != nil {
		c.onTranscript(c.conv.Turns())
	}
}

// ─── Instrumented wrappers ────────────────────────────────────────────────────

// countingSink forwards capture output to the session while recording chunk
// metrics.
type countingSink struct {
	inner transport.Session
	met   *observe.Metrics
}

func (s *countingSink) SendAudioChunk(chunk []byte) error {
	if err := s.inner.SendAudioChunk(chunk); err != nil {
		return err
	}
	ctx := context.Background()
	s.met.ChunksSent.Add(ctx, 1)
	s.met.ChunkBytes.Record(ctx, int64(len(chunk)))
	return nil
}

func (s *countingSink) SendEndOfStream() error {
	return s.inner.SendEndOfStream()
}

// timedPlayer measures successful segment playback time.
type timedPlayer struct {
	inner playback.Player
	met   *observe.Metrics
}

func (p *timedPlayer) Play(ctx context.Context, seg playback.Segment) error {
	ctx, span := observe.StartSpan(ctx, "playback.segment",
		trace.WithAttributes(attribute.Int64("segment.seq", int64(seg.Seq))),
	)
	defer span.End()

	start := time.Now()
	if err := p.inner.Play(ctx, seg); err != nil {
		span.RecordError(err)
		return err
	}
	p.met.SegmentsPlayed.Add(ctx, 1)
	p.met.SegmentDuration.Record(ctx, time.Since(start).Seconds())
	return nil
}
