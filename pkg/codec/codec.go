// Package codec defines the seam between the pipeline and a speech/audio
// codec. The pipeline only ever talks to four operations (initialize encoder,
// encode, initialize decoder, decode) plus their release counterparts; the
// compression itself lives behind [Encoder] and [Decoder].
//
// Implementations are provided by sub-packages (codec/opus). Every
// implementation must enforce the framing rules in this package: encode
// input and decode output are exactly [audio.Geometry.FrameSamples] long, and
// an encoded [Packet] is a right-sized copy no longer than
// [audio.Geometry.MaxEncodedBytes].
package codec

import (
	"fmt"

	"github.com/MrWong99/opusloop/pkg/audio"
)

// Packet is one encoded frame. Its length is the actual encoded size.
type Packet []byte

// Encoder compresses raw frames. An Encoder keeps adaptive state across
// calls and must only be used from one goroutine at a time.
type Encoder interface {
	// Encode compresses one raw frame. pcm must hold exactly FrameSamples
	// samples. Failures wrap [audio.ErrCodec]; calls after Release wrap
	// [audio.ErrState].
	Encode(pcm []int16) (Packet, error)

	// Usable reports whether the encoder is initialised and not released.
	Usable() bool

	// Release frees the encoder. Releasing twice is a no-op.
	Release() error
}

// Decoder expands encoded frames. A Decoder keeps adaptive state across
// calls and must only be used from one goroutine at a time.
type Decoder interface {
	// Decode expands one packet into exactly FrameSamples samples. Failures
	// wrap [audio.ErrCodec]; calls after Release wrap [audio.ErrState].
	Decode(pkt Packet) ([]int16, error)

	// Usable reports whether the decoder is initialised and not released.
	Usable() bool

	// Release frees the decoder. Releasing twice is a no-op.
	Release() error
}

// Factory initialises encoder and decoder handles bound to a geometry.
type Factory interface {
	// NewEncoder initialises an encoder. Invalid or unsupported parameters
	// wrap [audio.ErrConfig].
	NewEncoder(g audio.Geometry) (Encoder, error)

	// NewDecoder initialises a decoder. Invalid or unsupported parameters
	// wrap [audio.ErrConfig].
	NewDecoder(g audio.Geometry) (Decoder, error)
}

// CheckInput verifies that pcm is a complete raw frame for g.
func CheckInput(g audio.Geometry, pcm []int16) error {
	if len(pcm) != g.FrameSamples {
		return fmt.Errorf("%w: input frame has %d samples, want %d", audio.ErrCodec, len(pcm), g.FrameSamples)
	}
	return nil
}

// CopyPacket validates the raw codec output and returns a right-sized copy
// that shares no memory with encoded.
func CopyPacket(g audio.Geometry, encoded []byte) (Packet, error) {
	if len(encoded) <= 0 {
		return nil, fmt.Errorf("%w: encoder produced %d bytes", audio.ErrCodec, len(encoded))
	}
	if len(encoded) > g.MaxEncodedBytes {
		return nil, fmt.Errorf("%w: encoder produced %d bytes, limit %d", audio.ErrCodec, len(encoded), g.MaxEncodedBytes)
	}
	pkt := make(Packet, len(encoded))
	copy(pkt, encoded)
	return pkt, nil
}

// CheckPacket verifies that pkt is a plausible decoder input for g.
func CheckPacket(g audio.Geometry, pkt Packet) error {
	if len(pkt) == 0 {
		return fmt.Errorf("%w: empty packet", audio.ErrCodec)
	}
	if len(pkt) > g.MaxEncodedBytes {
		return fmt.Errorf("%w: packet of %d bytes exceeds limit %d", audio.ErrCodec, len(pkt), g.MaxEncodedBytes)
	}
	return nil
}

// CheckOutput verifies that the decoder produced exactly one frame.
func CheckOutput(g audio.Geometry, pcm []int16) error {
	if len(pcm) != g.FrameSamples {
		return fmt.Errorf("%w: decoded %d samples, want %d", audio.ErrCodec, len(pcm), g.FrameSamples)
	}
	return nil
}
