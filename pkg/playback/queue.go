// Package playback provides the gapless sequential playback queue for audio
// segments received from the remote agent.
//
// Segments arrive at unpredictable times and with unpredictable durations,
// but must be played strictly back-to-back: in arrival order, never two at
// once, never dropped, never stuttering. The [Queue] guarantees this with a
// single ordered backlog and at most one active playback loop.
//
// A concrete MP3 segment player lives in playback/oto; a controllable test
// double lives in playback/mock.
package playback

import (
	"context"
	"log/slog"
	"sync"
)

// Segment is one indivisible unit of synthesized speech, tagged with its
// arrival order. Data is an opaque encoded blob; the [Player] decides how to
// decode it.
type Segment struct {
	Seq  uint64
	Data []byte
}

// Player plays one segment to completion. Play blocks until the segment has
// finished on natural end-of-audio, or returns an error if the segment cannot
// be decoded or played. Each call must use a fresh decodable handle: resources
// of a previous segment are released before the next one begins.
type Player interface {
	Play(ctx context.Context, seg Segment) error
}

// Option is a functional option for configuring a Queue.
type Option func(*Queue)

// WithLogger sets the logger used for playback failures. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.log = l }
}

// WithErrorHandler registers a callback invoked when a segment fails to play.
// dropped is the number of pending segments discarded along with the failure.
// The callback runs on the playback goroutine and must not block.
func WithErrorHandler(fn func(err error, dropped int)) Option {
	return func(q *Queue) { q.onError = fn }
}

// WithSegmentHandler registers a callback invoked after each segment finishes
// playing successfully. It runs on the playback goroutine and must not block.
func WithSegmentHandler(fn func(seg Segment)) Option {
	return func(q *Queue) { q.onSegment = fn }
}

// Queue is an ordered backlog of segments awaiting playback.
//
// Invariants: at most one playback loop is active at any time; the backlog is
// strictly FIFO; segments are never reordered, and never dropped except when a
// playback error clears the remaining backlog. Queue is safe for concurrent
// use.
type Queue struct {
	player    Player
	log       *slog.Logger
	onError   func(err error, dropped int)
	onSegment func(seg Segment)

	mu      sync.Mutex
	backlog []Segment
	active  bool
	closed  bool
	nextSeq uint64

	// wg tracks the playback loop goroutine so tests and Close callers can
	// synchronise with the end of the in-flight segment.
	wg sync.WaitGroup
}

// New constructs a Queue that plays segments through player.
func New(player Player, opts ...Option) *Queue {
	q := &Queue{
		player: player,
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue appends data to the tail of the backlog and triggers the playback
// loop. Segments enqueued after [Queue.Close] are discarded.
func (q *Queue) Enqueue(data []byte) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.backlog = append(q.backlog, Segment{Seq: q.nextSeq, Data: data})
	q.nextSeq++
	q.mu.Unlock()

	q.run()
}

// Len reports the number of segments currently awaiting playback.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

// Close discards all pending segments and prevents the loop from restarting.
// An in-flight segment is not interrupted: once started, a segment plays to
// completion or to error. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.backlog = nil
	q.mu.Unlock()
}

// Wait blocks until the playback loop has exited. Call after [Queue.Close] to
// synchronise with the end of the in-flight segment; primarily useful in tests.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// run is the idempotent loop trigger: it starts the playback loop unless one
// is already active.
func (q *Queue) run() {
	q.mu.Lock()
	if q.active || q.closed {
		q.mu.Unlock()
		return
	}
	q.active = true
	q.wg.Add(1)
	q.mu.Unlock()

	go q.loop()
}

// loop pops and plays segments until the backlog drains, then marks itself
// inactive and exits. The ordering of "observe empty" and "mark inactive"
// leaves a window in which Enqueue appends a segment but sees the loop as
// still active and does not start a new one; the re-check below closes that
// window. Removing it strands segments that then silently never play.
func (q *Queue) loop() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if q.closed {
			q.active = false
			q.mu.Unlock()
			return
		}
		if len(q.backlog) == 0 {
			q.active = false
			q.mu.Unlock()

			// Re-check: a segment enqueued between the emptiness check
			// and the flag flip would otherwise be stranded.
			q.mu.Lock()
			if len(q.backlog) > 0 && !q.active && !q.closed {
				q.active = true
				q.mu.Unlock()
				continue
			}
			q.mu.Unlock()
			return
		}
		seg := q.backlog[0]
		q.backlog = q.backlog[1:]
		q.mu.Unlock()

		if err := q.player.Play(context.Background(), seg); err != nil {
			// A corrupt segment is fatal to the rest of this utterance's
			// audio: discard the backlog and stop, but leave the session
			// untouched.
			q.mu.Lock()
			dropped := len(q.backlog)
			q.backlog = nil
			q.active = false
			q.mu.Unlock()

			q.log.Warn("playback: segment failed, clearing backlog",
				"seq", seg.Seq,
				"dropped", dropped,
				"error", err,
			)
			if q.onError != nil {
				q.onError(err, dropped)
			}
			return
		}

		if q.onSegment != nil {
			q.onSegment(seg)
		}
	}
}
