package client_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/parley-voice/parley/internal/client"
	"github.com/parley-voice/parley/internal/conversation"
	"github.com/parley-voice/parley/pkg/capture"
	capturemock "github.com/parley-voice/parley/pkg/capture/mock"
	playbackmock "github.com/parley-voice/parley/pkg/playback/mock"
	"github.com/parley-voice/parley/pkg/protocol"
	transportmock "github.com/parley-voice/parley/pkg/transport/mock"
)

// harness bundles a client under test with its mocks and observer state.
type harness struct {
	sess   *transportmock.Session
	source *capturemock.Source
	enc    *capturemock.Encoder
	player *playbackmock.Player
	cli    *client.Client

	mu       sync.Mutex
	statuses []conversation.Status
	turns    []conversation.Turn

	runDone chan error
}

// newHarness wires a client from mocks and starts its event loop. cadence
// controls the capture flush interval; pass a long one to keep buffered audio
// unflushed.
func newHarness(t *testing.T, cadence time.Duration) *harness {
	t.Helper()

	h := &harness{
		sess:    transportmock.NewSession(),
		source:  capturemock.NewSource(),
		enc:     capturemock.NewEncoder(),
		player:  playbackmock.NewPlayer(),
		runDone: make(chan error, 1),
	}
	h.cli = client.New(client.Config{
		Session:    h.sess,
		Source:     h.source,
		NewEncoder: func() (capture.Encoder, error) { return h.enc, nil },
		Player:     h.player,
		Cadence:    cadence,
		OnStatus: func(s conversation.Status) {
			h.mu.Lock()
			h.statuses = append(h.statuses, s)
			h.mu.Unlock()
		},
		OnTranscript: func(turns []conversation.Turn) {
			h.mu.Lock()
			h.turns = turns
			h.mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { h.runDone <- h.cli.Run(ctx) }()
	return h
}

// lastStatus returns the most recently published status.
func (h *harness) lastStatus() (conversation.Status, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.statuses) == 0 {
		return conversation.Status{}, false
	}
	return h.statuses[len(h.statuses)-1], true
}

// transcript returns the most recently published transcript.
func (h *harness) transcript() []conversation.Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.turns
}

// waitPhase polls until the published status reaches phase.
func (h *harness) waitPhase(t *testing.T, phase conversation.Phase) {
	t.Helper()
	waitFor(t, 3*time.Second, func() bool {
		st, ok := h.lastStatus()
		return ok && st.Phase == phase
	}, "status never reached "+phase.String())
}

// waitDone waits for Run to return.
func (h *harness) waitDone(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.runDone:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("Run never returned")
		return nil
	}
}

// waitFor polls cond until it returns true or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}

func TestClient_FullConversation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10*time.Millisecond)

	h.sess.EmitOpened()
	h.waitPhase(t, conversation.PhaseReady)

	// First press: recording starts, captured audio flows to the session.
	h.cli.PressTalk()
	h.waitPhase(t, conversation.PhaseListening)
	h.source.Feed([]byte{1, 2, 3})
	waitFor(t, 3*time.Second, func() bool { return len(h.sess.SentChunks()) >= 1 },
		"no chunk reached the session")

	// Second press: recording finalises with exactly one sentinel.
	h.cli.PressTalk()
	h.waitPhase(t, conversation.PhaseProcessing)
	waitFor(t, 3*time.Second, func() bool { return h.sess.EndOfStreamCalls() == 1 },
		"end-of-stream never sent")

	// The agent answers: status overrides, transcript, streamed response,
	// audio segments, and the closing audio_end.
	h.sess.EmitControl(protocol.Control{Type: protocol.ControlStatus, Message: "Thinking..."})
	h.sess.EmitControl(protocol.Control{Type: protocol.ControlTranscript, Data: "hello there"})
	h.sess.EmitControl(protocol.Control{Type: protocol.ControlResponseStart})
	h.sess.EmitControl(protocol.Control{Type: protocol.ControlChunk, Data: "Hi! How can "})
	h.sess.EmitControl(protocol.Control{Type: protocol.ControlChunk, Data: "I help?"})
	h.sess.EmitAudio([]byte{0xff, 0xfb, 0x90})
	h.sess.EmitAudio([]byte{0xff, 0xfb, 0x91})
	h.sess.EmitControl(protocol.Control{Type: protocol.ControlAudioEnd})

	h.waitPhase(t, conversation.PhaseReady)
	waitFor(t, 3*time.Second, func() bool { return len(h.player.Played()) == 2 },
		"segments never played")

	played := h.player.Played()
	if played[0].Seq != 0 || played[1].Seq != 1 {
		t.Errorf("segments played out of order: %+v", played)
	}

	turns := h.transcript()
	if len(turns) != 2 {
		t.Fatalf("transcript has %d turns, want 2", len(turns))
	}
	if turns[0].Role != conversation.RoleUser || turns[0].Content != "hello there" {
		t.Errorf("turn 0 = %+v, want the user utterance", turns[0])
	}
	if turns[1].Role != conversation.RoleAssistant || turns[1].Content != "Hi! How can I help?" {
		t.Errorf("turn 1 = %+v, want the assembled assistant turn", turns[1])
	}

	h.sess.EmitClosed()
	if err := h.waitDone(t); err != nil {
		t.Errorf("Run returned %v on clean close, want nil", err)
	}
	h.waitPhase(t, conversation.PhaseDisconnected)
}

func TestClient_SocketClosedWhileRecording(t *testing.T) {
	t.Parallel()

	// A cadence that never ticks keeps the captured audio buffered, so any
	// chunk reaching the session after close would be the teardown flush.
	h := newHarness(t, time.Hour)

	h.sess.EmitOpened()
	h.waitPhase(t, conversation.PhaseReady)

	h.cli.PressTalk()
	h.waitPhase(t, conversation.PhaseListening)
	h.source.Feed([]byte{1, 2})
	waitFor(t, 3*time.Second, func() bool { return len(h.enc.Encoded()) == 1 },
		"frame never reached the encoder")

	h.sess.EmitClosed()
	if err := h.waitDone(t); err != nil {
		t.Errorf("Run returned %v on close, want nil", err)
	}

	if got := len(h.sess.SentChunks()); got != 0 {
		t.Errorf("%d buffered chunks delivered after close, want 0", got)
	}
	if got := h.sess.EndOfStreamCalls(); got != 0 {
		t.Errorf("end-of-stream recorded %d times after close, want 0", got)
	}
	if got := h.source.CloseCalls(); got < 1 {
		t.Errorf("microphone released %d times, want at least 1", got)
	}
}

func TestClient_SessionErrorPropagates(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10*time.Millisecond)

	h.sess.EmitOpened()
	h.waitPhase(t, conversation.PhaseReady)

	sockErr := errors.New("connection reset")
	h.sess.EmitErrored(sockErr)

	err := h.waitDone(t)
	if !errors.Is(err, sockErr) {
		t.Errorf("Run returned %v, want wrapped %v", err, sockErr)
	}
	h.waitPhase(t, conversation.PhaseConnectionError)
}

func TestClient_MicErrorLeavesSessionUsable(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10*time.Millisecond)
	h.source.OpenError = errors.New("permission denied")

	h.sess.EmitOpened()
	h.waitPhase(t, conversation.PhaseReady)

	h.cli.PressTalk()
	h.waitPhase(t, conversation.PhaseMicError)

	// The session survives a device failure: once the device is back, the
	// next press records normally.
	h.source.OpenError = nil
	h.cli.PressTalk()
	h.waitPhase(t, conversation.PhaseListening)

	h.sess.EmitClosed()
	if err := h.waitDone(t); err != nil {
		t.Errorf("Run returned %v on clean close, want nil", err)
	}
}

// Not parallel: swaps the global tracer provider.
func TestClient_TracesUtteranceAndSegmentPlayback(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		_ = tp.Shutdown(context.Background())
	})

	h := newHarness(t, 10*time.Millisecond)

	h.sess.EmitOpened()
	h.waitPhase(t, conversation.PhaseReady)

	// One full utterance: press to record, press again to finalise.
	h.cli.PressTalk()
	h.waitPhase(t, conversation.PhaseListening)
	h.cli.PressTalk()
	h.waitPhase(t, conversation.PhaseProcessing)
	waitFor(t, 3*time.Second, func() bool { return h.sess.EndOfStreamCalls() == 1 },
		"end-of-stream never sent")

	// One response segment played to completion.
	h.sess.EmitAudio([]byte{0xff, 0xfb, 0x90})
	waitFor(t, 3*time.Second, func() bool { return len(h.player.Played()) == 1 },
		"segment never played")

	h.sess.EmitClosed()
	if err := h.waitDone(t); err != nil {
		t.Errorf("Run returned %v on clean close, want nil", err)
	}

	names := make(map[string]int)
	for _, s := range exp.GetSpans() {
		names[s.Name]++
	}
	if names["utterance"] != 1 {
		t.Errorf("utterance spans = %d, want 1", names["utterance"])
	}
	if names["playback.segment"] != 1 {
		t.Errorf("playback.segment spans = %d, want 1", names["playback.segment"])
	}
}

func TestClient_PlaybackErrorDoesNotEndSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10*time.Millisecond)
	h.player.FailSeqs = map[uint64]error{1: errors.New("decode failed")}

	h.sess.EmitOpened()
	h.waitPhase(t, conversation.PhaseReady)

	h.sess.EmitAudio([]byte{1})
	h.sess.EmitAudio([]byte{2}) // fails
	h.sess.EmitAudio([]byte{3}) // discarded with the backlog

	waitFor(t, 3*time.Second, func() bool { return len(h.player.Played()) == 1 },
		"first segment never played")
	time.Sleep(20 * time.Millisecond)
	if got := len(h.player.Played()); got != 1 {
		t.Errorf("%d segments played after the failure, want 1", got)
	}

	// The session itself is unaffected.
	h.sess.EmitControl(protocol.Control{Type: protocol.ControlTranscript, Data: "still here"})
	waitFor(t, 3*time.Second, func() bool { return len(h.transcript()) == 1 },
		"control messages stopped flowing after a playback error")

	h.sess.EmitClosed()
	if err := h.waitDone(t); err != nil {
		t.Errorf("Run returned %v on clean close, want nil", err)
	}
}
