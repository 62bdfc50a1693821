package protocol_test

import (
	"testing"

	"github.com/parley-voice/parley/pkg/protocol"
)

func TestParseControl(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		want    protocol.Control
		wantErr bool
	}{
		{
			name:    "status message",
			payload: `{"type":"status","message":"Transcribing..."}`,
			want:    protocol.Control{Type: protocol.ControlStatus, Message: "Transcribing..."},
		},
		{
			name:    "transcript",
			payload: `{"type":"transcript","data":"I have a headache"}`,
			want:    protocol.Control{Type: protocol.ControlTranscript, Data: "I have a headache"},
		},
		{
			name:    "response start has no payload",
			payload: `{"type":"llm_response_start"}`,
			want:    protocol.Control{Type: protocol.ControlResponseStart},
		},
		{
			name:    "llm chunk",
			payload: `{"type":"llm_chunk","data":"Hel"}`,
			want:    protocol.Control{Type: protocol.ControlChunk, Data: "Hel"},
		},
		{
			name:    "audio end",
			payload: `{"type":"audio_end"}`,
			want:    protocol.Control{Type: protocol.ControlAudioEnd},
		},
		{
			name:    "unknown type is preserved, not rejected",
			payload: `{"type":"server_heartbeat"}`,
			want:    protocol.Control{Type: "server_heartbeat"},
		},
		{
			name:    "malformed JSON",
			payload: `{"type":`,
			wantErr: true,
		},
		{
			name:    "missing type field",
			payload: `{"message":"hello"}`,
			wantErr: true,
		},
		{
			name:    "sentinel text is not valid JSON",
			payload: protocol.EndOfStream,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := protocol.ParseControl([]byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseControl(%q) error = nil, want error", tt.payload)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseControl(%q) error = %v", tt.payload, err)
			}
			if got != tt.want {
				t.Errorf("ParseControl(%q) = %+v, want %+v", tt.payload, got, tt.want)
			}
		})
	}
}
