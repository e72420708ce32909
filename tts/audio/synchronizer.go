package audio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// state of one playback pass: Idle -> Submitting -> WaitingForDrain -> Idle.
type state int32

const (
	stateIdle state = iota
	stateSubmitting
	stateWaitingForDrain
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateSubmitting:
		return "submitting"
	case stateWaitingForDrain:
		return "waiting-for-drain"
	default:
		return "unknown"
	}
}

// Synchronizer submits PCM to a Sink and blocks until the sink has
// physically finished emitting all submitted bytes, using a byte-counted
// completion handshake fed by the sink's transfer-complete events.
type Synchronizer struct {
	sink Sink
	amp  Amplifier

	sampleRate  int
	chunkSize   int
	drainMargin time.Duration
	settleDelay time.Duration

	onStart func()
	onStop  func()

	// pending is shared with the sink's transfer callback and must only be
	// touched through atomic operations.
	pending atomic.Int64
	done    chan struct{}

	state   atomic.Int32
	playing atomic.Bool
	ampOn   bool

	// mu serializes Play; one utterance at a time.
	mu sync.Mutex
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithAmplifier attaches an external amplifier enabled before playback.
func WithAmplifier(amp Amplifier) Option {
	return func(s *Synchronizer) { s.amp = amp }
}

// WithChunkSize sets the per-write submission size in bytes.
func WithChunkSize(n int) Option {
	return func(s *Synchronizer) { s.chunkSize = n }
}

// WithDrainMargin sets the safety margin added to the computed drain wait.
func WithDrainMargin(d time.Duration) Option {
	return func(s *Synchronizer) { s.drainMargin = d }
}

// WithSettleDelay sets the pause after enabling the amplifier.
func WithSettleDelay(d time.Duration) Option {
	return func(s *Synchronizer) { s.settleDelay = d }
}

// WithCallbacks registers playback start/stop notifications.
func WithCallbacks(onStart, onStop func()) Option {
	return func(s *Synchronizer) {
		s.onStart = onStart
		s.onStop = onStop
	}
}

// NewSynchronizer creates a playback synchronizer over the given sink.
func NewSynchronizer(sink Sink, sampleRate int, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		sink:        sink,
		sampleRate:  sampleRate,
		chunkSize:   1024,
		drainMargin: 500 * time.Millisecond,
		settleDelay: 50 * time.Millisecond,
		done:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	sink.SetTransferFunc(s.onTransfer)
	return s
}

// onTransfer runs in the sink's audio-thread context. It only decrements
// the pending counter (floored at zero) and posts one non-blocking signal
// when the counter reaches zero.
func (s *Synchronizer) onTransfer(n int) {
	for {
		cur := s.pending.Load()
		if cur == 0 {
			return
		}
		next := cur - int64(n)
		if next < 0 {
			next = 0
		}
		if s.pending.CompareAndSwap(cur, next) {
			if next == 0 {
				select {
				case s.done <- struct{}{}:
				default:
				}
			}
			return
		}
	}
}

// PlaybackDuration computes how long byteCount bytes of mono 16-bit PCM
// take to play at the given sample rate.
func PlaybackDuration(byteCount, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(byteCount) * time.Second / time.Duration(sampleRate*FrameBytes)
}

// Play submits pcm to the sink in bounded chunks and blocks until the sink
// reports all bytes emitted or a bounded timeout elapses. Write failures
// degrade the pass (remaining bytes are abandoned) instead of failing it.
func (s *Synchronizer) Play(ctx context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session := uuid.NewString()[:8]
	s.state.Store(int32(stateSubmitting))

	if s.amp != nil && !s.ampOn {
		if err := s.amp.SetEnabled(true); err != nil {
			log.Warn("amplifier enable failed", "session", session, "err", err)
		} else {
			s.ampOn = true
			time.Sleep(s.settleDelay)
		}
	}

	s.playing.Store(true)
	if s.onStart != nil {
		s.onStart()
	}

	// Clear any stale completion signal from a previous pass.
	select {
	case <-s.done:
	default:
	}
	s.pending.Store(int64(len(pcm)))

	log.Debug("playback started", "session", session, "bytes", len(pcm),
		"duration", PlaybackDuration(len(pcm), s.sampleRate))

	written := 0
	var writeErr error
	for off := 0; off < len(pcm); off += s.chunkSize {
		if ctx.Err() != nil {
			break
		}
		end := off + s.chunkSize
		if end > len(pcm) {
			end = len(pcm)
		}
		n, err := s.sink.Write(pcm[off:end])
		written += n
		if err != nil {
			log.Warn("audio write failed, abandoning remainder",
				"session", session, "written", written, "err", err)
			writeErr = err
			break
		}
	}

	if written > 0 && ctx.Err() == nil {
		s.state.Store(int32(stateWaitingForDrain))

		wait := PlaybackDuration(len(pcm), s.sampleRate) + s.drainMargin
		timer := time.NewTimer(wait)
		select {
		case <-s.done:
			timer.Stop()
		case <-timer.C:
			log.Warn("playback drain timeout",
				"session", session, "waited", wait, "pendingBytes", s.pending.Load())
		case <-ctx.Done():
			timer.Stop()
		}
	}

	s.pending.Store(0)
	s.playing.Store(false)
	s.state.Store(int32(stateIdle))
	if s.onStop != nil {
		s.onStop()
	}

	log.Debug("playback finished", "session", session, "written", written)

	if writeErr != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, writeErr)
	}
	return nil
}

// IsPlaying reports whether a playback pass is in progress.
func (s *Synchronizer) IsPlaying() bool {
	return s.playing.Load()
}

// Close disables the amplifier and releases the sink.
func (s *Synchronizer) Close() error {
	if s.amp != nil && s.ampOn {
		if err := s.amp.SetEnabled(false); err != nil {
			log.Warn("amplifier disable failed", "err", err)
		}
		s.ampOn = false
	}
	return s.sink.Close()
}
