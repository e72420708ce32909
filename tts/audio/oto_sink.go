package audio

import (
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// Format is the sample format submitted to the mixer.
const Format = oto.FormatSignedInt16LE

// OtoSink plays PCM through the system mixer via oto. The mixer pulls data
// from a feed reader on its own audio thread; each pull of real bytes is
// reported as a transfer-complete event, standing in for the DMA slice
// callbacks of a hardware codec.
type OtoSink struct {
	otoCtx *oto.Context
	player *oto.Player
	feed   *transferReader

	mu     sync.Mutex
	closed bool
}

// NewOtoSink opens the system audio device for mono 16-bit output at the
// given sample rate. Volume is in [0,1].
func NewOtoSink(sampleRate int, volume float64) (*OtoSink, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       Format,
	}

	otoCtx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("create audio context: %w", err)
	}
	<-ready

	feed := newTransferReader()
	player := otoCtx.NewPlayer(feed)
	player.SetVolume(volume)

	return &OtoSink{
		otoCtx: otoCtx,
		player: player,
		feed:   feed,
	}, nil
}

// Write submits one chunk of PCM to the feed buffer and makes sure the
// mixer is pulling from it.
func (s *OtoSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrSinkClosed
	}

	s.feed.append(p)
	if !s.player.IsPlaying() {
		s.player.Play()
	}
	return len(p), nil
}

// SetTransferFunc registers the transfer-complete callback.
func (s *OtoSink) SetTransferFunc(fn func(n int)) {
	s.feed.setTransferFunc(fn)
}

// SetVolume adjusts the output volume, in [0,1].
func (s *OtoSink) SetVolume(v float64) {
	s.player.SetVolume(v)
}

// Close stops the mixer player.
func (s *OtoSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.player.Close()
}

// transferReader feeds buffered PCM to the oto mixer. When no data is
// pending it serves silence so the audio thread never blocks; only real
// bytes count toward transfer-complete events.
type transferReader struct {
	mu       sync.Mutex
	buf      []byte
	transfer func(n int)
}

func newTransferReader() *transferReader {
	return &transferReader{}
}

func (r *transferReader) append(p []byte) {
	r.mu.Lock()
	r.buf = append(r.buf, p...)
	r.mu.Unlock()
}

func (r *transferReader) setTransferFunc(fn func(n int)) {
	r.mu.Lock()
	r.transfer = fn
	r.mu.Unlock()
}

// Read runs on the mixer's audio thread.
func (r *transferReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	fn := r.transfer
	r.mu.Unlock()

	// Pad with silence to keep the stream continuous.
	for i := n; i < len(p); i++ {
		p[i] = 0
	}

	if n > 0 && fn != nil {
		fn(n)
	}
	return len(p), nil
}
