// Package oto implements [playback.Player] for MPEG-audio segments using the
// ebitengine/oto/v3 output device and the hajimehoshi/go-mp3 decoder.
//
// The wire framing carries no media type, so segments are treated as MP3 on
// the playback side — the client-side re-tagging the remote agent's output
// requires. Each segment gets a fresh decoder and a fresh device player;
// nothing is double-buffered across segments.
package oto

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ebitengine/oto/v3"
	mp3 "github.com/hajimehoshi/go-mp3"

	"github.com/parley-voice/parley/pkg/pcm"
	"github.com/parley-voice/parley/pkg/playback"
)

// Compile-time assertion that Player satisfies the playback interface.
var _ playback.Player = (*Player)(nil)

const (
	// defaultSampleRate is the output device rate. Decoded segments are
	// resampled to it when they differ.
	defaultSampleRate = 44100

	// outputChannels is fixed at stereo; go-mp3 always decodes to stereo.
	outputChannels = 2

	// pollInterval is how often an in-flight playback is checked for
	// completion.
	pollInterval = 10 * time.Millisecond
)

// Option is a functional option for configuring a Player.
type Option func(*Player)

// WithSampleRate overrides the output device sample rate.
func WithSampleRate(rate int) Option {
	return func(p *Player) { p.sampleRate = rate }
}

// Player plays MP3-encoded segments through the system's default audio
// output. It owns one device context for its lifetime; individual segments
// each get their own short-lived device player.
type Player struct {
	sampleRate int
	ctx        *oto.Context
}

// NewPlayer initialises the audio output device and returns a ready Player.
// Initialisation blocks until the device is prepared.
func NewPlayer(opts ...Option) (*Player, error) {
	p := &Player{sampleRate: defaultSampleRate}
	for _, o := range opts {
		o(p)
	}

	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   p.sampleRate,
		ChannelCount: outputChannels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("playback: init audio output: %w", err)
	}
	<-ready
	p.ctx = otoCtx
	return p, nil
}

// Play decodes seg as MPEG audio and plays it to completion on the output
// device. It blocks until the segment ends naturally, fails, or ctx is
// cancelled. The device player created for the segment is closed before Play
// returns, so the next segment starts from a fresh handle.
func (p *Player) Play(ctx context.Context, seg playback.Segment) error {
	dec, err := mp3.NewDecoder(bytes.NewReader(seg.Data))
	if err != nil {
		return fmt.Errorf("playback: segment %d: decode header: %w", seg.Seq, err)
	}

	raw, err := io.ReadAll(dec)
	if err != nil {
		return fmt.Errorf("playback: segment %d: decode: %w", seg.Seq, err)
	}
	if len(raw) == 0 {
		return nil
	}

	out := pcm.Convert(raw,
		pcm.Format{SampleRate: dec.SampleRate(), Channels: outputChannels},
		pcm.Format{SampleRate: p.sampleRate, Channels: outputChannels},
	)

	player := p.ctx.NewPlayer(bytes.NewReader(out))
	defer player.Close()
	player.Play()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	if err := player.Err(); err != nil {
		return fmt.Errorf("playback: segment %d: device: %w", seg.Seq, err)
	}
	return nil
}
