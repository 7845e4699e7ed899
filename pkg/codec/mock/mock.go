// Package mock provides a deterministic in-memory [codec.Factory] for unit
// tests. It enforces the same framing rules as the real codec and records
// every call.
//
// The fake "compression" stores the first sample of the frame and the frame
// length in a four-byte packet; decoding produces a frame filled with that
// sample. This keeps frames traceable end to end through the pipeline.
package mock

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/MrWong99/opusloop/pkg/audio"
	"github.com/MrWong99/opusloop/pkg/codec"
)

// Compile-time interface assertions.
var (
	_ codec.Factory = (*Factory)(nil)
	_ codec.Encoder = (*Encoder)(nil)
	_ codec.Decoder = (*Decoder)(nil)
)

// PacketSize is the length of every packet the mock encoder produces.
const PacketSize = 4

// Factory is a mock implementation of [codec.Factory].
type Factory struct {
	mu sync.Mutex

	// NewEncoderError is returned by NewEncoder when set.
	NewEncoderError error

	// NewDecoderError is returned by NewDecoder when set.
	NewDecoderError error

	// EncodeError, when set, is consulted before each encode with the
	// 1-based call number. A non-nil result fails that call.
	EncodeError func(call int) error

	// DecodeError works like EncodeError for decode calls.
	DecodeError func(call int) error

	// Encoders and Decoders hold every handle created, in order.
	Encoders []*Encoder
	Decoders []*Decoder
}

// NewEncoder implements [codec.Factory].
func (f *Factory) NewEncoder(g audio.Geometry) (codec.Encoder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NewEncoderError != nil {
		return nil, f.NewEncoderError
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("mock codec: %w", err)
	}
	e := &Encoder{geom: g, fail: f.EncodeError}
	e.MarkInitialized()
	f.Encoders = append(f.Encoders, e)
	return e, nil
}

// NewDecoder implements [codec.Factory].
func (f *Factory) NewDecoder(g audio.Geometry) (codec.Decoder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NewDecoderError != nil {
		return nil, f.NewDecoderError
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("mock codec: %w", err)
	}
	d := &Decoder{geom: g, fail: f.DecodeError}
	d.MarkInitialized()
	f.Decoders = append(f.Decoders, d)
	return d, nil
}

// LastEncoder returns the most recently created encoder, or nil.
func (f *Factory) LastEncoder() *Encoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Encoders) == 0 {
		return nil
	}
	return f.Encoders[len(f.Encoders)-1]
}

// LastDecoder returns the most recently created decoder, or nil.
func (f *Factory) LastDecoder() *Decoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Decoders) == 0 {
		return nil
	}
	return f.Decoders[len(f.Decoders)-1]
}

// ─── Encoder ──────────────────────────────────────────────────────────────────

// Encoder is a mock implementation of [codec.Encoder].
type Encoder struct {
	codec.Handle
	geom audio.Geometry
	fail func(call int) error

	mu         sync.Mutex
	inputSizes []int
	first      []int16
	releases   int
}

// Encode implements [codec.Encoder].
func (e *Encoder) Encode(pcm []int16) (codec.Packet, error) {
	if err := e.Check("encode"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.inputSizes = append(e.inputSizes, len(pcm))
	call := len(e.inputSizes)
	e.mu.Unlock()

	if err := codec.CheckInput(e.geom, pcm); err != nil {
		return nil, fmt.Errorf("mock codec: encode: %w", err)
	}
	if e.fail != nil {
		if err := e.fail(call); err != nil {
			return nil, fmt.Errorf("mock codec: encode: %w", err)
		}
	}

	var first int16
	if len(pcm) > 0 {
		first = pcm[0]
	}
	e.mu.Lock()
	e.first = append(e.first, first)
	e.mu.Unlock()

	scratch := make([]byte, e.geom.MaxEncodedBytes)
	binary.LittleEndian.PutUint16(scratch[0:], uint16(first))
	binary.LittleEndian.PutUint16(scratch[2:], uint16(len(pcm)))
	return codec.CopyPacket(e.geom, scratch[:PacketSize])
}

// Release implements [codec.Encoder].
func (e *Encoder) Release() error {
	e.mu.Lock()
	e.releases++
	e.mu.Unlock()
	e.MarkReleased()
	return nil
}

// InputSizes returns the length of every frame passed to Encode.
func (e *Encoder) InputSizes() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.inputSizes...)
}

// FirstSamples returns the first sample of every successfully encoded frame.
func (e *Encoder) FirstSamples() []int16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int16(nil), e.first...)
}

// ReleaseCount returns how many times Release was called.
func (e *Encoder) ReleaseCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.releases
}

// ─── Decoder ──────────────────────────────────────────────────────────────────

// Decoder is a mock implementation of [codec.Decoder].
type Decoder struct {
	codec.Handle
	geom audio.Geometry
	fail func(call int) error

	mu       sync.Mutex
	packets  []codec.Packet
	releases int
}

// Decode implements [codec.Decoder].
func (d *Decoder) Decode(pkt codec.Packet) ([]int16, error) {
	if err := d.Check("decode"); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.packets = append(d.packets, pkt)
	call := len(d.packets)
	d.mu.Unlock()

	if err := codec.CheckPacket(d.geom, pkt); err != nil {
		return nil, fmt.Errorf("mock codec: decode: %w", err)
	}
	if d.fail != nil {
		if err := d.fail(call); err != nil {
			return nil, fmt.Errorf("mock codec: decode: %w", err)
		}
	}
	if len(pkt) != PacketSize {
		return nil, fmt.Errorf("mock codec: decode: %w: packet of %d bytes, want %d", audio.ErrCodec, len(pkt), PacketSize)
	}

	value := int16(binary.LittleEndian.Uint16(pkt[0:]))
	n := int(binary.LittleEndian.Uint16(pkt[2:]))
	pcm := make([]int16, n)
	for i := range pcm {
		pcm[i] = value
	}
	if err := codec.CheckOutput(d.geom, pcm); err != nil {
		return nil, fmt.Errorf("mock codec: decode: %w", err)
	}
	return pcm, nil
}

// Release implements [codec.Decoder].
func (d *Decoder) Release() error {
	d.mu.Lock()
	d.releases++
	d.mu.Unlock()
	d.MarkReleased()
	return nil
}

// Packets returns every packet passed to Decode, in order.
func (d *Decoder) Packets() []codec.Packet {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]codec.Packet(nil), d.packets...)
}

// ReleaseCount returns how many times Release was called.
func (d *Decoder) ReleaseCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.releases
}
