package conversation_test

import (
	"testing"

	"github.com/parley-voice/parley/internal/conversation"
	"github.com/parley-voice/parley/pkg/protocol"
)

func TestState_StreamedAssistantTurnAssembles(t *testing.T) {
	t.Parallel()

	s := conversation.New()
	s.SocketOpened()

	s.Apply(protocol.Control{Type: protocol.ControlResponseStart})
	s.Apply(protocol.Control{Type: protocol.ControlChunk, Data: "Hel"})
	s.Apply(protocol.Control{Type: protocol.ControlChunk, Data: "lo"})

	turns := s.Turns()
	if len(turns) != 1 {
		t.Fatalf("transcript has %d turns, want 1", len(turns))
	}
	last := turns[len(turns)-1]
	if last.Role != conversation.RoleAssistant || last.Content != "Hello" {
		t.Errorf("last turn = {%v, %q}, want {assistant, \"Hello\"}", last.Role, last.Content)
	}
}

func TestState_UserTurnThenEmptyAssistantTurn(t *testing.T) {
	t.Parallel()

	s := conversation.New()
	s.SocketOpened()

	s.Apply(protocol.Control{Type: protocol.ControlTranscript, Data: "I have a headache"})
	s.Apply(protocol.Control{Type: protocol.ControlResponseStart})

	turns := s.Turns()
	if len(turns) != 2 {
		t.Fatalf("transcript has %d turns, want 2", len(turns))
	}
	if turns[0].Role != conversation.RoleUser || turns[0].Content != "I have a headache" {
		t.Errorf("turn 0 = {%v, %q}, want the user utterance", turns[0].Role, turns[0].Content)
	}
	if turns[1].Role != conversation.RoleAssistant || turns[1].Content != "" {
		t.Errorf("turn 1 = {%v, %q}, want an empty assistant turn", turns[1].Role, turns[1].Content)
	}
}

func TestState_OrphanChunkIsDropped(t *testing.T) {
	t.Parallel()

	s := conversation.New()
	s.SocketOpened()

	// Empty transcript.
	s.Apply(protocol.Control{Type: protocol.ControlChunk, Data: "stray"})
	if got := len(s.Turns()); got != 0 {
		t.Fatalf("chunk on empty transcript appended %d turns, want 0", got)
	}

	// Last turn is a User turn.
	s.Apply(protocol.Control{Type: protocol.ControlTranscript, Data: "hello"})
	s.Apply(protocol.Control{Type: protocol.ControlChunk, Data: "stray"})
	turns := s.Turns()
	if len(turns) != 1 || turns[0].Content != "hello" {
		t.Errorf("transcript = %+v, want only the untouched user turn", turns)
	}

	// After audio_end the assistant turn is finalized and no longer grows.
	s.Apply(protocol.Control{Type: protocol.ControlResponseStart})
	s.Apply(protocol.Control{Type: protocol.ControlChunk, Data: "done"})
	s.Apply(protocol.Control{Type: protocol.ControlAudioEnd})
	s.Apply(protocol.Control{Type: protocol.ControlChunk, Data: " more"})
	turns = s.Turns()
	if got := turns[len(turns)-1].Content; got != "done" {
		t.Errorf("finalized turn content = %q, want %q", got, "done")
	}
}

func TestState_ServerStatusOverridesDisplay(t *testing.T) {
	t.Parallel()

	s := conversation.New()
	s.SocketOpened()

	s.Apply(protocol.Control{Type: protocol.ControlStatus, Message: "Transcribing..."})
	st := s.Status()
	if st.Phase != conversation.PhaseServerStatus {
		t.Errorf("phase = %v, want PhaseServerStatus", st.Phase)
	}
	if st.Display != "Transcribing..." {
		t.Errorf("display = %q, want server text verbatim", st.Display)
	}

	// audio_end returns control to the local Ready phase.
	s.Apply(protocol.Control{Type: protocol.ControlAudioEnd})
	if got := s.Status().Phase; got != conversation.PhaseReady {
		t.Errorf("phase after audio_end = %v, want PhaseReady", got)
	}
}

func TestState_TalkToggle(t *testing.T) {
	t.Parallel()

	s := conversation.New()

	// Before the socket opens, talk presses do nothing.
	if got := s.PressTalk(); got != conversation.TalkNone {
		t.Errorf("press while initializing = %v, want TalkNone", got)
	}

	s.SocketOpened()
	if got := s.PressTalk(); got != conversation.TalkStart {
		t.Errorf("press while ready = %v, want TalkStart", got)
	}
	if got := s.Status().Phase; got != conversation.PhaseListening {
		t.Errorf("phase after start = %v, want PhaseListening", got)
	}

	if got := s.PressTalk(); got != conversation.TalkStop {
		t.Errorf("press while listening = %v, want TalkStop", got)
	}
	if got := s.Status().Phase; got != conversation.PhaseProcessing {
		t.Errorf("phase after stop = %v, want PhaseProcessing", got)
	}

	// Processing ignores further presses until the response finishes.
	if got := s.PressTalk(); got != conversation.TalkNone {
		t.Errorf("press while processing = %v, want TalkNone", got)
	}
}

func TestState_TalkRetriesAfterServerFailureStatus(t *testing.T) {
	t.Parallel()

	s := conversation.New()
	s.SocketOpened()

	// A failure notice arrives as status text with no audio_end to follow.
	s.PressTalk() // start
	s.PressTalk() // stop
	s.Apply(protocol.Control{Type: protocol.ControlStatus, Message: "Transcription failed."})
	if got := s.Status().Phase; got != conversation.PhaseServerStatus {
		t.Fatalf("phase = %v, want PhaseServerStatus", got)
	}

	// The next press must start a fresh recording rather than dead-end.
	if got := s.PressTalk(); got != conversation.TalkStart {
		t.Errorf("press after server failure status = %v, want TalkStart", got)
	}
	if got := s.Status().Phase; got != conversation.PhaseListening {
		t.Errorf("phase after retry = %v, want PhaseListening", got)
	}
}

func TestState_MicFailureIsRecoverable(t *testing.T) {
	t.Parallel()

	s := conversation.New()
	s.SocketOpened()

	if got := s.PressTalk(); got != conversation.TalkStart {
		t.Fatalf("press while ready = %v, want TalkStart", got)
	}
	s.MicFailed()
	if got := s.Status().Phase; got != conversation.PhaseMicError {
		t.Errorf("phase after mic failure = %v, want PhaseMicError", got)
	}

	// The device may come back; the next press retries.
	if got := s.PressTalk(); got != conversation.TalkStart {
		t.Errorf("press after mic failure = %v, want TalkStart", got)
	}
}

func TestState_TerminalSocketEvents(t *testing.T) {
	t.Parallel()

	s := conversation.New()
	s.SocketOpened()
	s.SocketClosed()
	if got := s.Status().Phase; got != conversation.PhaseDisconnected {
		t.Errorf("phase after close = %v, want PhaseDisconnected", got)
	}
	if got := s.PressTalk(); got != conversation.TalkNone {
		t.Errorf("press after close = %v, want TalkNone", got)
	}

	s = conversation.New()
	s.SocketOpened()
	s.SocketErrored()
	if got := s.Status().Phase; got != conversation.PhaseConnectionError {
		t.Errorf("phase after error = %v, want PhaseConnectionError", got)
	}
}
