package tts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

// mockSynth maps a sentence to its own bytes so played audio identifies the
// sentence that produced it.
type mockSynth struct {
	mu     sync.Mutex
	calls  []string
	failOn string
}

func (m *mockSynth) Synthesize(_ context.Context, text string) ([]byte, bool, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	fail := m.failOn != "" && text == m.failOn
	m.mu.Unlock()
	if fail {
		return nil, false, errors.New("synthesis rejected")
	}
	return []byte(text), false, nil
}

func (m *mockSynth) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockPlayer struct {
	mu      sync.Mutex
	played  []string
	block   chan struct{} // non-nil: Play waits on it
	playing bool
}

func (m *mockPlayer) Play(ctx context.Context, pcm []byte) error {
	m.mu.Lock()
	m.playing = true
	m.mu.Unlock()

	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
		}
	}

	m.mu.Lock()
	m.played = append(m.played, string(pcm))
	m.playing = false
	m.mu.Unlock()
	return nil
}

func (m *mockPlayer) IsPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

func (m *mockPlayer) Close() error { return nil }

func (m *mockPlayer) sentences() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.played...)
}

func newTestPipeline(t *testing.T, opts ...Option) (*Pipeline, *mockSynth, *mockPlayer) {
	t.Helper()

	synth := &mockSynth{}
	player := &mockPlayer{}

	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.CacheEnabled = false

	opts = append([]Option{WithSynthesizer(synth), WithPlayer(player)}, opts...)
	p, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p, synth, player
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

func TestPipelinePlaysSentencesInOrder(t *testing.T) {
	p, _, player := newTestPipeline(t)

	if err := p.PushText("你好。今天天气"); err != nil {
		t.Fatalf("PushText: %v", err)
	}
	if err := p.PushText("不错！再见"); err != nil {
		t.Fatalf("PushText: %v", err)
	}
	if err := p.EndStream(); err != nil {
		t.Fatalf("EndStream: %v", err)
	}

	waitFor(t, func() bool { return len(player.sentences()) == 3 }, "three sentences played")

	want := []string{"你好。", "今天天气不错！", "再见"}
	got := player.sentences()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPipelineFlushesRemainderOnce(t *testing.T) {
	p, synth, player := newTestPipeline(t)

	if err := p.PushText("没有标点"); err != nil {
		t.Fatalf("PushText: %v", err)
	}
	if err := p.EndStream(); err != nil {
		t.Fatalf("EndStream: %v", err)
	}

	waitFor(t, func() bool { return len(player.sentences()) == 1 }, "flushed sentence played")

	// The flush latch must not fire again on later polls.
	time.Sleep(50 * time.Millisecond)
	if n := synth.callCount(); n != 1 {
		t.Errorf("synthesize calls = %d, want 1", n)
	}
	if got := player.sentences()[0]; got != "没有标点" {
		t.Errorf("flushed sentence = %q, want %q", got, "没有标点")
	}
}

func TestPipelineSkipsFailedSentence(t *testing.T) {
	p, synth, player := newTestPipeline(t)
	synth.failOn = "第二句！"

	if err := p.PushText("第一句。第二句！第三句？"); err != nil {
		t.Fatalf("PushText: %v", err)
	}
	if err := p.EndStream(); err != nil {
		t.Fatalf("EndStream: %v", err)
	}

	waitFor(t, func() bool { return len(player.sentences()) == 2 }, "two surviving sentences")

	got := player.sentences()
	if got[0] != "第一句。" || got[1] != "第三句？" {
		t.Errorf("played = %v, want failing sentence skipped", got)
	}
}

func TestPipelinePushTimeout(t *testing.T) {
	synth := &mockSynth{}
	player := &mockPlayer{block: make(chan struct{})}

	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.PushTimeout = 50 * time.Millisecond
	cfg.RawQueueSize = 1
	cfg.SentenceQueueSize = 1
	cfg.CacheEnabled = false

	p, err := New(cfg, WithSynthesizer(synth), WithPlayer(player))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		close(player.block)
		_ = p.Close()
	}()

	// Fill the playback stage: one sentence in flight blocks forever, one
	// parked in the sentence channel, then the raw channel backs up.
	for i := 0; i < 8; i++ {
		if err := p.PushText("积压。"); err != nil {
			if !errors.Is(err, ErrPushTimeout) {
				t.Fatalf("push error = %v, want ErrPushTimeout", err)
			}
			return
		}
	}
	t.Fatal("expected ErrPushTimeout once queues filled")
}

func TestPipelineStopClearsState(t *testing.T) {
	synth := &mockSynth{}
	player := &mockPlayer{block: make(chan struct{})}

	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.CacheEnabled = false

	p, err := New(cfg, WithSynthesizer(synth), WithPlayer(player))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = p.Close() }()

	if err := p.PushText("第一句。第二句。残留文本"); err != nil {
		t.Fatalf("PushText: %v", err)
	}
	waitFor(t, func() bool { return player.IsPlaying() }, "first sentence in flight")

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	close(player.block)

	// A fresh stream after Stop must not replay or flush leftovers.
	if err := p.PushText("新的开始。"); err != nil {
		t.Fatalf("PushText after Stop: %v", err)
	}
	waitFor(t, func() bool {
		for _, s := range player.sentences() {
			if s == "新的开始。" {
				return true
			}
		}
		return false
	}, "fresh sentence after Stop")

	for _, s := range player.sentences() {
		if strings.Contains(s, "残留") {
			t.Errorf("leftover text %q survived Stop", s)
		}
	}
}

func TestPipelineUsesCache(t *testing.T) {
	cached := newFakeCache()
	synth := &mockSynth{}
	player := &mockPlayer{}

	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond

	p, err := New(cfg, WithSynthesizer(synth), WithPlayer(player), WithCache(cached))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = p.Close() }()

	if err := p.PushText("重复的句子。重复的句子。"); err != nil {
		t.Fatalf("PushText: %v", err)
	}
	waitFor(t, func() bool { return len(player.sentences()) == 2 }, "both plays done")

	if n := synth.callCount(); n != 1 {
		t.Errorf("synthesize calls = %d, want 1 (second play from cache)", n)
	}
	if got := player.sentences(); got[0] != got[1] {
		t.Errorf("cache returned different audio: %q vs %q", got[0], got[1])
	}
}

func TestPipelineCloseIsFinal(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("second Close = %v, want ErrAlreadyClosed", err)
	}
	if err := p.PushText("关闭之后"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("PushText after Close = %v, want ErrNotInitialized", err)
	}
	if p.IsPlaying() {
		t.Error("IsPlaying after Close = true")
	}
}

func TestSplitFragmentsLossless(t *testing.T) {
	cases := []struct {
		name string
		text string
		max  int
	}{
		{"ascii", strings.Repeat("abc", 100), 16},
		{"cjk", strings.Repeat("汉字流水", 50), 16},
		{"mixed", "a中b文c🎉d" + strings.Repeat("混合文本x", 40), 10},
		{"exact fit", "四字成语", 12},
		{"short", "短", 256},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frags := splitFragments(tc.text, tc.max)
			var b strings.Builder
			for _, f := range frags {
				if len(f) > tc.max {
					t.Errorf("fragment %d bytes, max %d", len(f), tc.max)
				}
				if !utf8.ValidString(f) {
					t.Errorf("fragment %q is not valid UTF-8", f)
				}
				b.WriteString(f)
			}
			if b.String() != tc.text {
				t.Error("concatenated fragments differ from input")
			}
		})
	}
}

// fakeCache is a plain map cache for pipeline tests.
type fakeCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{m: make(map[string][]byte)} }

func (c *fakeCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *fakeCache) Put(key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = append([]byte(nil), value...)
	return nil
}
