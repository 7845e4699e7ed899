// Package opus implements [codec.Factory] on top of libopus through the
// layeh.com/gopus cgo binding.
//
// Opus accepts 8, 12, 16, 24 and 48 kHz input in frames of 2.5, 5, 10, 20, 40
// or 60 ms. Geometries outside that set are rejected at initialisation with
// [audio.ErrConfig].
package opus

import (
	"fmt"
	"slices"

	"layeh.com/gopus"

	"github.com/MrWong99/opusloop/pkg/audio"
	"github.com/MrWong99/opusloop/pkg/codec"
)

// Compile-time interface assertions.
var (
	_ codec.Factory = (*Factory)(nil)
	_ codec.Encoder = (*Encoder)(nil)
	_ codec.Decoder = (*Decoder)(nil)
)

// supportedRates lists the sample rates libopus accepts natively.
var supportedRates = []int{8000, 12000, 16000, 24000, 48000}

// supportedFrameMs lists frame durations (in whole milliseconds) libopus
// accepts. 2.5 ms frames cannot be expressed by the integer geometry.
var supportedFrameMs = []int{5, 10, 20, 40, 60}

// Application selects the libopus tuning profile.
type Application string

const (
	// VoIP favours speech intelligibility. It is the default.
	VoIP Application = "voip"

	// Audio favours fidelity for music and mixed content.
	Audio Application = "audio"

	// LowDelay disables the speech-optimised modes to minimise latency.
	LowDelay Application = "lowdelay"
)

// IsValid reports whether a is a recognised application profile.
func (a Application) IsValid() bool {
	switch a {
	case VoIP, Audio, LowDelay:
		return true
	}
	return false
}

func (a Application) gopus() gopus.Application {
	switch a {
	case Audio:
		return gopus.Audio
	case LowDelay:
		return gopus.RestrictedLowDelay
	default:
		return gopus.Voip
	}
}

// Option configures a [Factory].
type Option func(*Factory)

// WithApplication sets the encoder tuning profile. Unknown values fall back
// to [VoIP].
func WithApplication(a Application) Option {
	return func(f *Factory) {
		if a.IsValid() {
			f.app = a
		}
	}
}

// WithBitrate sets the target encoder bitrate in bits per second. Zero keeps
// the libopus default.
func WithBitrate(bps int) Option {
	return func(f *Factory) {
		if bps > 0 {
			f.bitrate = bps
		}
	}
}

// Factory creates Opus encoders and decoders.
type Factory struct {
	app     Application
	bitrate int
}

// NewFactory creates a [Factory] with the given options.
func NewFactory(opts ...Option) *Factory {
	f := &Factory{app: VoIP}
	for _, o := range opts {
		o(f)
	}
	return f
}

// checkGeometry rejects geometries libopus cannot serve.
func checkGeometry(g audio.Geometry) error {
	if err := g.Validate(); err != nil {
		return fmt.Errorf("opus: %w", err)
	}
	if !slices.Contains(supportedRates, g.SampleRate) {
		return fmt.Errorf("opus: %w: sample rate %d not supported (want one of %v)", audio.ErrConfig, g.SampleRate, supportedRates)
	}
	if !slices.Contains(supportedFrameMs, g.FrameDurationMs) {
		return fmt.Errorf("opus: %w: frame duration %dms not supported (want one of %v)", audio.ErrConfig, g.FrameDurationMs, supportedFrameMs)
	}
	return nil
}

// NewEncoder implements [codec.Factory].
func (f *Factory) NewEncoder(g audio.Geometry) (codec.Encoder, error) {
	if err := checkGeometry(g); err != nil {
		return nil, err
	}
	enc, err := gopus.NewEncoder(g.SampleRate, g.Channels, f.app.gopus())
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w: %w", audio.ErrConfig, err)
	}
	if f.bitrate > 0 {
		enc.SetBitrate(f.bitrate)
	}
	e := &Encoder{geom: g, enc: enc}
	e.MarkInitialized()
	return e, nil
}

// NewDecoder implements [codec.Factory].
func (f *Factory) NewDecoder(g audio.Geometry) (codec.Decoder, error) {
	if err := checkGeometry(g); err != nil {
		return nil, err
	}
	dec, err := gopus.NewDecoder(g.SampleRate, g.Channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w: %w", audio.ErrConfig, err)
	}
	d := &Decoder{geom: g, dec: dec}
	d.MarkInitialized()
	return d, nil
}

// Encoder wraps a gopus encoder for one stream.
type Encoder struct {
	codec.Handle
	geom audio.Geometry
	enc  *gopus.Encoder
}

// Encode implements [codec.Encoder]. The returned packet is copied out of
// the buffer gopus encodes into.
func (e *Encoder) Encode(pcm []int16) (codec.Packet, error) {
	if err := e.Check("encode"); err != nil {
		return nil, err
	}
	if err := codec.CheckInput(e.geom, pcm); err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	out, err := e.enc.Encode(pcm, e.geom.FrameSamples, e.geom.MaxEncodedBytes)
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w: %w", audio.ErrCodec, err)
	}
	pkt, err := codec.CopyPacket(e.geom, out)
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	return pkt, nil
}

// Release implements [codec.Encoder]. The libopus state is owned by the Go
// heap, so release only invalidates the handle.
func (e *Encoder) Release() error {
	e.MarkReleased()
	return nil
}

// Decoder wraps a gopus decoder for one stream.
type Decoder struct {
	codec.Handle
	geom audio.Geometry
	dec  *gopus.Decoder
}

// Decode implements [codec.Decoder].
func (d *Decoder) Decode(pkt codec.Packet) ([]int16, error) {
	if err := d.Check("decode"); err != nil {
		return nil, err
	}
	if err := codec.CheckPacket(d.geom, pkt); err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	pcm, err := d.dec.Decode(pkt, d.geom.FrameSamples, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w: %w", audio.ErrCodec, err)
	}
	if err := codec.CheckOutput(d.geom, pcm); err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return pcm, nil
}

// Release implements [codec.Decoder].
func (d *Decoder) Release() error {
	d.MarkReleased()
	return nil
}
