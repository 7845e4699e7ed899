package audio

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every stage of the pipeline. Concrete errors wrap
// one of these sentinels so callers can classify them with [errors.Is].
var (
	// ErrConfig reports an invalid or unsupported frame geometry or codec
	// parameter. It is fatal to pipeline startup and never retried.
	ErrConfig = errors.New("audio: invalid configuration")

	// ErrDevice reports that a capture or playback device is unavailable,
	// could not be opened, or refused to stream.
	ErrDevice = errors.New("audio: device error")

	// ErrCodec reports a single-frame encode or decode failure. The pipeline
	// drops the frame and keeps going.
	ErrCodec = errors.New("audio: codec error")

	// ErrState reports a lifecycle violation: using a released codec handle,
	// submitting work to an executor that is not running, and similar
	// programming errors. It is fatal to the current session.
	ErrState = errors.New("audio: invalid state")
)

// ErrNotStreaming is returned by device reads and writes issued while the
// device is not streaming.
var ErrNotStreaming = fmt.Errorf("%w: not streaming", ErrDevice)
