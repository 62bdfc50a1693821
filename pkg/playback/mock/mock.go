// Package mock provides a controllable in-memory [playback.Player] for unit
// tests.
//
// The player records every segment it is asked to play, tracks how many
// playbacks are in flight at once (so tests can assert that playbacks never
// overlap), and can be scripted to fail on specific segments or to block
// until the test releases each playback.
package mock

import (
	"context"
	"sync"

	"github.com/parley-voice/parley/pkg/playback"
)

// Compile-time assertion that Player satisfies the playback interface.
var _ playback.Player = (*Player)(nil)

// Player is a mock implementation of [playback.Player].
type Player struct {
	mu sync.Mutex

	// FailSeqs maps segment sequence numbers to the error Play returns for
	// them. Segments not present play successfully.
	FailSeqs map[uint64]error

	// gate, when non-nil, makes each Play block until a value is received.
	gate chan struct{}

	played        []playback.Segment
	inFlight      int
	maxConcurrent int
}

// NewPlayer returns a player whose Play calls complete immediately.
func NewPlayer() *Player {
	return &Player{}
}

// NewManualPlayer returns a player whose Play calls block until
// [Player.Release] is called once per playback.
func NewManualPlayer() *Player {
	return &Player{gate: make(chan struct{})}
}

// Play implements [playback.Player].
func (p *Player) Play(ctx context.Context, seg playback.Segment) error {
	p.mu.Lock()
	p.inFlight++
	if p.inFlight > p.maxConcurrent {
		p.maxConcurrent = p.inFlight
	}
	gate := p.gate
	err := p.FailSeqs[seg.Seq]
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	p.mu.Lock()
	p.inFlight--
	if err == nil {
		p.played = append(p.played, seg)
	}
	p.mu.Unlock()
	return err
}

// Release unblocks one pending Play on a manual player.
func (p *Player) Release() {
	p.gate <- struct{}{}
}

// Played returns a copy of all successfully played segments, in play order.
func (p *Player) Played() []playback.Segment {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]playback.Segment, len(p.played))
	copy(out, p.played)
	return out
}

// MaxConcurrent returns the highest number of simultaneously in-flight
// playbacks observed. A correct queue never exceeds 1.
func (p *Player) MaxConcurrent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxConcurrent
}
