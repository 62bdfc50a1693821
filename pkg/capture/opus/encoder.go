// Package opus implements [capture.Encoder] using the gopus Opus codec.
//
// Chunk container format: each chunk is a concatenation of Opus packets, each
// packet preceded by a big-endian uint16 byte length. The consumer splits on
// the prefixes and feeds the packets to an Opus decoder in order.
package opus

import (
	"encoding/binary"
	"fmt"

	"layeh.com/gopus"

	"github.com/parley-voice/parley/pkg/capture"
	"github.com/parley-voice/parley/pkg/pcm"
)

// Compile-time assertion that Encoder satisfies the capture interface.
var _ capture.Encoder = (*Encoder)(nil)

// Voice capture uses 48 kHz mono Opus at 20 ms frame size.
const (
	opusSampleRate  = 48000
	opusChannels    = 1
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960
	// opusFrameBytes is the raw PCM size of one mono frame.
	opusFrameBytes = opusFrameSize * opusChannels * 2

	// maxPacketLen bounds a single encoded packet; Opus packets for one
	// 20 ms mono frame are far smaller in practice.
	maxPacketLen = 4000
)

// Format is the PCM layout the encoder consumes internally. Source buffers in
// other layouts are converted on the way in.
var Format = pcm.Format{SampleRate: opusSampleRate, Channels: opusChannels}

// Encoder encodes raw PCM into length-prefixed Opus packets. It buffers
// sub-frame input across Encode calls so the codec always sees whole 20 ms
// frames; Flush pads the remainder with silence to close the final frame.
// An Encoder carries codec state for a single utterance and is not safe for
// concurrent use.
type Encoder struct {
	enc *gopus.Encoder
	src pcm.Format
	buf []byte
}

// NewEncoder creates an Opus encoder consuming PCM in the src layout.
func NewEncoder(src pcm.Format) (*Encoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	return &Encoder{enc: enc, src: src}, nil
}

// Encode implements [capture.Encoder]. It converts data to the codec layout,
// appends it to the frame buffer, and returns the length-prefixed packets for
// every complete frame now available. The returned slice is empty when the
// buffered input is still shorter than one frame.
func (e *Encoder) Encode(pcmData []byte) ([]byte, error) {
	e.buf = append(e.buf, pcm.Convert(pcmData, e.src, Format)...)

	var out []byte
	for len(e.buf) >= opusFrameBytes {
		frame := pcm.BytesToInt16(e.buf[:opusFrameBytes])
		e.buf = e.buf[opusFrameBytes:]

		pkt, err := e.enc.Encode(frame, opusFrameSize, maxPacketLen)
		if err != nil {
			return nil, fmt.Errorf("opus: encode frame: %w", err)
		}
		out = appendPacket(out, pkt)
	}
	return out, nil
}

// Flush implements [capture.Encoder]. Any buffered partial frame is padded
// with silence to a whole frame and encoded as the final packet.
func (e *Encoder) Flush() ([]byte, error) {
	if len(e.buf) == 0 {
		return nil, nil
	}

	frame := make([]byte, opusFrameBytes)
	copy(frame, e.buf)
	e.buf = nil

	pkt, err := e.enc.Encode(pcm.BytesToInt16(frame), opusFrameSize, maxPacketLen)
	if err != nil {
		return nil, fmt.Errorf("opus: encode final frame: %w", err)
	}
	return appendPacket(nil, pkt), nil
}

// appendPacket appends pkt to dst with its big-endian uint16 length prefix.
func appendPacket(dst, pkt []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(pkt)))
	return append(dst, pkt...)
}
