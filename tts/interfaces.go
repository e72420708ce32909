// Package tts implements a streaming text-to-speech pipeline: text fragments
// arrive incrementally, are segmented into speakable sentences, synthesized
// through a remote API, and played back with physical-completion tracking.
package tts

import "context"

// Synthesizer turns one sentence of text into raw PCM audio bytes.
type Synthesizer interface {
	// Synthesize converts text to audio. If the text exceeded the backend's
	// request limit it is truncated and the truncated flag is set.
	Synthesize(ctx context.Context, text string) (pcm []byte, truncated bool, err error)
}

// Player submits PCM audio to an output device and blocks until the device
// has physically finished emitting it (or a bounded timeout elapses).
type Player interface {
	// Play writes the audio and waits for drain.
	Play(ctx context.Context, pcm []byte) error

	// IsPlaying reports whether a playback session is active.
	IsPlaying() bool

	// Close releases the underlying audio device.
	Close() error
}

// AudioCache stores synthesized audio keyed by sentence and voice parameters.
type AudioCache interface {
	Get(key string) ([]byte, bool)
	Put(key string, value []byte) error
}

// Callbacks carries the playback lifecycle notifications configured at init.
// Either field may be nil.
type Callbacks struct {
	OnPlaybackStart func()
	OnPlaybackStop  func()
}
