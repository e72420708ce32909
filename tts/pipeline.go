package tts

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/speakstream/tts/audio"
	"github.com/dgnsrekt/speakstream/tts/baidu"
	"github.com/dgnsrekt/speakstream/tts/cache"
	"github.com/dgnsrekt/speakstream/tts/segment"
)

// Pipeline is the streaming TTS service. Text fragments pushed by the
// transport flow through a bounded raw-text channel into the segmenter
// stage, which emits sentences into a second bounded channel consumed by
// the synthesis/playback stage. Backpressure, not parallelism, absorbs
// bursts: sentences are synthesized and played strictly in order.
type Pipeline struct {
	cfg Config

	synth  Synthesizer
	player Player
	cache  AudioCache

	seg   *segment.Segmenter
	segMu sync.Mutex

	raw       chan string
	sentences chan string

	streamEnded atomic.Bool
	processing  atomic.Bool
	closed      atomic.Bool

	callbacks Callbacks

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	ownsPlayer bool
}

// Option configures a Pipeline at construction.
type Option func(*Pipeline)

// WithSynthesizer replaces the default remote synthesis client.
func WithSynthesizer(s Synthesizer) Option {
	return func(p *Pipeline) { p.synth = s }
}

// WithPlayer replaces the default audio player. The pipeline does not close
// an injected player.
func WithPlayer(pl Player) Option {
	return func(p *Pipeline) {
		p.player = pl
		p.ownsPlayer = false
	}
}

// WithCache replaces the default audio cache.
func WithCache(c AudioCache) Option {
	return func(p *Pipeline) { p.cache = c }
}

// WithCallbacks registers playback start/stop notifications.
func WithCallbacks(cb Callbacks) Option {
	return func(p *Pipeline) { p.callbacks = cb }
}

// New validates cfg, builds the default collaborators that were not
// injected, and starts the two stage goroutines. Any partial initialization
// is unwound before an error returns.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}

	// Injected mocks carry their own credentials story; only the default
	// remote client needs real keys.
	if p.synth == nil || p.player == nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	cfg = fillDefaults(cfg)
	p.cfg = cfg

	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	if p.synth == nil {
		p.synth = baidu.NewClient(baidu.Config{
			APIKey:      cfg.APIKey,
			SecretKey:   cfg.SecretKey,
			Language:    cfg.Language,
			Speed:       cfg.Speed,
			Pitch:       cfg.Pitch,
			Volume:      cfg.Volume,
			Voice:       cfg.Voice,
			AudioFormat: cfg.AudioFormat,
			Timeout:     cfg.RequestTimeout,
		})
	}

	if p.player == nil {
		sink, err := audio.NewOtoSink(cfg.SampleRate, cfg.PlaybackVolume)
		if err != nil {
			return nil, fmt.Errorf("open audio sink: %w", err)
		}
		p.player = audio.NewSynchronizer(sink, cfg.SampleRate,
			audio.WithChunkSize(cfg.ChunkSize),
			audio.WithDrainMargin(cfg.DrainMargin),
			audio.WithCallbacks(p.callbacks.OnPlaybackStart, p.callbacks.OnPlaybackStop),
		)
		p.ownsPlayer = true
	}

	if p.cache == nil && cfg.CacheEnabled {
		c, err := cache.NewMemory(cfg.CacheCapacity)
		if err != nil {
			if p.ownsPlayer {
				_ = p.player.Close()
			}
			return nil, fmt.Errorf("create audio cache: %w", err)
		}
		p.cache = c
	}

	p.seg = segment.New(cfg.SegmentBufferSize)
	p.raw = make(chan string, cfg.RawQueueSize)
	p.sentences = make(chan string, cfg.SentenceQueueSize)
	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.wg.Add(2)
	go p.segmentLoop()
	go p.playLoop()

	log.Info("streaming TTS pipeline started",
		"rawQueue", cfg.RawQueueSize, "sentenceQueue", cfg.SentenceQueueSize)
	return p, nil
}

// PushText splits text into bounded fragments and enqueues them in order.
// Each fragment blocks up to the configured push timeout when the raw
// channel is full; on timeout the remaining fragments are abandoned and
// ErrPushTimeout is returned. Empty text is a no-op.
func (p *Pipeline) PushText(text string) error {
	if p.closed.Load() {
		return ErrNotInitialized
	}
	if text == "" {
		return nil
	}

	// New data means the stream is still going.
	p.streamEnded.Store(false)

	fragments := splitFragments(text, p.cfg.MaxFragmentLen)
	for i, frag := range fragments {
		timer := time.NewTimer(p.cfg.PushTimeout)
		select {
		case p.raw <- frag:
			timer.Stop()
		case <-timer.C:
			log.Warn("raw text queue full",
				"timeout", p.cfg.PushTimeout, "abandoned", len(fragments)-i)
			return fmt.Errorf("%d of %d fragments abandoned: %w",
				len(fragments)-i, len(fragments), ErrPushTimeout)
		case <-p.ctx.Done():
			timer.Stop()
			return ErrNotInitialized
		}
	}
	return nil
}

// EndStream marks the text stream as finished. The segmenter stage flushes
// any buffered remainder as a final sentence exactly once.
func (p *Pipeline) EndStream() error {
	if p.closed.Load() {
		return ErrNotInitialized
	}

	p.streamEnded.Store(true)
	log.Info("stream ended, segmenter will flush remaining text")
	return nil
}

// Stop clears both queues and resets the segmenter so a new stream can
// begin. The stage goroutines keep running; if playback was in progress the
// stopped notification fires.
func (p *Pipeline) Stop() error {
	if p.closed.Load() {
		return ErrNotInitialized
	}

	drained := 0
rawDrain:
	for {
		select {
		case <-p.raw:
			drained++
		default:
			break rawDrain
		}
	}
sentenceDrain:
	for {
		select {
		case <-p.sentences:
			drained++
		default:
			break sentenceDrain
		}
	}

	p.segMu.Lock()
	p.seg.Reset()
	p.segMu.Unlock()
	p.streamEnded.Store(false)

	if p.player.IsPlaying() && p.callbacks.OnPlaybackStop != nil {
		p.callbacks.OnPlaybackStop()
	}

	log.Info("pipeline stopped, ready for a new stream", "drained", drained)
	return nil
}

// IsPlaying reports whether the playback stage is inside an active session.
func (p *Pipeline) IsPlaying() bool {
	if p.closed.Load() {
		return false
	}
	return p.player.IsPlaying()
}

// Busy reports whether any stage still holds queued or in-flight work. It
// is advisory: a fragment can be between channels for one poll interval.
func (p *Pipeline) Busy() bool {
	if p.closed.Load() {
		return false
	}
	if len(p.raw) > 0 || len(p.sentences) > 0 || p.processing.Load() {
		return true
	}
	p.segMu.Lock()
	pending := p.seg.Len()
	p.segMu.Unlock()
	return pending > 0
}

// Close signals both stage goroutines to exit, waits a bounded grace
// period, and releases the audio device. The pipeline cannot be reused.
func (p *Pipeline) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrAlreadyClosed
	}

	p.cancel()

	exited := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(exited)
	}()

	select {
	case <-exited:
	case <-time.After(p.cfg.ShutdownGrace):
		log.Warn("stage tasks did not exit within grace period", "grace", p.cfg.ShutdownGrace)
	}

	var err error
	if p.ownsPlayer {
		err = p.player.Close()
	}

	log.Info("streaming TTS pipeline destroyed")
	return err
}

// segmentLoop is the segmenter stage: receive fragments with a timed wait,
// extract every resolvable sentence, and flush once per stream end.
func (p *Pipeline) segmentLoop() {
	defer p.wg.Done()

	flushed := false
	for {
		select {
		case <-p.ctx.Done():
			return

		case frag := <-p.raw:
			p.ingest(frag)
			flushed = false

		case <-time.After(p.cfg.PollInterval):
		}

		// Consume anything still queued before deciding to flush, so the
		// end-of-stream flush never races a fragment waiting in the channel.
	pending:
		for {
			select {
			case frag := <-p.raw:
				p.ingest(frag)
				flushed = false
			default:
				break pending
			}
		}

		if p.streamEnded.Load() && !flushed {
			p.segMu.Lock()
			final, ok := p.seg.Flush()
			p.segMu.Unlock()

			if ok {
				log.Info("flushing final sentence", "chars", utf8.RuneCountInString(final))
				p.sendSentence(final)
			}
			flushed = true
		}
	}
}

// ingest appends one fragment and forwards every sentence it resolves.
// Extraction happens under segMu; sends happen outside the lock so Stop
// never waits on a full sentence channel.
func (p *Pipeline) ingest(frag string) {
	p.segMu.Lock()
	p.seg.Append(frag)
	var extracted []string
	for {
		s, ok := p.seg.Next()
		if !ok {
			break
		}
		extracted = append(extracted, s)
	}
	p.segMu.Unlock()

	for _, s := range extracted {
		p.sendSentence(s)
	}
}

// sendSentence enqueues one sentence with a bounded wait. The bound is
// twice the push timeout so that sustained downstream pressure backs up
// through the raw channel and surfaces to PushText before any sentence is
// given up on; a timeout here is logged, not fatal to the stage.
func (p *Pipeline) sendSentence(s string) {
	timer := time.NewTimer(2 * p.cfg.PushTimeout)
	defer timer.Stop()

	select {
	case p.sentences <- s:
	case <-timer.C:
		log.Warn("sentence queue full, dropping sentence",
			"waited", 2*p.cfg.PushTimeout, "chars", utf8.RuneCountInString(s))
	case <-p.ctx.Done():
	}
}

// playLoop is the synthesis/playback stage: one sentence at a time,
// failures logged and skipped.
func (p *Pipeline) playLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return

		case sentence := <-p.sentences:
			p.processing.Store(true)
			p.speak(sentence)
			p.processing.Store(false)

		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// speak synthesizes one sentence (through the cache when enabled) and plays
// it to completion.
func (p *Pipeline) speak(sentence string) {
	var pcm []byte

	key := p.cacheKey(sentence)
	if p.cache != nil {
		if data, ok := p.cache.Get(key); ok {
			log.Debug("audio cache hit", "chars", utf8.RuneCountInString(sentence))
			pcm = data
		}
	}

	if pcm == nil {
		data, truncated, err := p.synth.Synthesize(p.ctx, sentence)
		if err != nil {
			log.Warn("synthesis failed, skipping sentence",
				"chars", utf8.RuneCountInString(sentence), "err", err)
			return
		}
		if truncated {
			log.Warn("sentence truncated for synthesis",
				"chars", utf8.RuneCountInString(sentence))
		}
		pcm = data

		// Truncated audio is incomplete; caching it would replay the loss.
		if p.cache != nil && !truncated {
			if err := p.cache.Put(key, pcm); err != nil {
				log.Debug("audio cache store failed", "err", err)
			}
		}
	}

	if err := p.player.Play(p.ctx, pcm); err != nil {
		log.Warn("playback degraded", "err", err)
	}
}

// cacheKey binds cached audio to the voice parameters that produced it.
func (p *Pipeline) cacheKey(sentence string) string {
	return cache.Key(sentence,
		p.cfg.Language,
		strconv.Itoa(p.cfg.Speed),
		strconv.Itoa(p.cfg.Pitch),
		strconv.Itoa(p.cfg.Volume),
		strconv.Itoa(p.cfg.Voice),
		strconv.Itoa(p.cfg.AudioFormat),
	)
}

// fillDefaults backfills zero-valued tuning knobs so a sparse Config used
// with injected collaborators still yields working queues and timers.
func fillDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.RawQueueSize <= 0 {
		cfg.RawQueueSize = def.RawQueueSize
	}
	if cfg.SentenceQueueSize <= 0 {
		cfg.SentenceQueueSize = def.SentenceQueueSize
	}
	if cfg.MaxFragmentLen <= 0 {
		cfg.MaxFragmentLen = def.MaxFragmentLen
	}
	if cfg.SegmentBufferSize <= 0 {
		cfg.SegmentBufferSize = def.SegmentBufferSize
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = def.PushTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = def.ShutdownGrace
	}
	return cfg
}

// splitFragments cuts text into chunks of at most max bytes, never
// splitting a UTF-8 code point. Concatenating the result reproduces text
// exactly.
func splitFragments(text string, max int) []string {
	if len(text) <= max {
		return []string{text}
	}

	fragments := make([]string, 0, len(text)/max+1)
	for len(text) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			// A single code point longer than max cannot occur for max >= 4;
			// fall back to a hard cut rather than looping forever.
			cut = max
		}
		fragments = append(fragments, text[:cut])
		text = text[cut:]
	}
	return append(fragments, text)
}
