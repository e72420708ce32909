// Package audio provides PCM playback with precise physical-completion
// detection: bytes are submitted to a sink in bounded chunks, the sink
// reports transfer-complete events per slice it actually consumes, and a
// byte-counted handshake tells the caller when the audio has been emitted.
package audio

import "errors"

// FrameBytes is the size of one sample frame: mono, 16-bit signed PCM.
const FrameBytes = 2

// Sink errors.
var (
	ErrWriteFailed = errors.New("audio sink write failed")
	ErrSinkClosed  = errors.New("audio sink is closed")
)

// Sink is a DMA-style audio output. Writes submit PCM bytes; the sink calls
// the registered transfer function with the byte size of each slice as the
// hardware (or mixer) physically consumes it.
type Sink interface {
	// Write submits one bounded chunk of PCM bytes.
	Write(p []byte) (int, error)

	// SetTransferFunc registers the transfer-complete callback. The sink
	// may invoke it from its own audio thread; implementations of the
	// callback must not block.
	SetTransferFunc(fn func(n int))

	// Close releases the output device.
	Close() error
}

// Amplifier controls an external power amplifier in front of the speaker.
type Amplifier interface {
	// SetEnabled switches the amplifier on or off.
	SetEnabled(on bool) error
}
