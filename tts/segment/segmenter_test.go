package segment

import (
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNextBoundarySequence(t *testing.T) {
	s := New(512)
	s.Append("你好。今天天气不错！")

	first, ok := s.Next()
	if !ok {
		t.Fatal("expected first sentence")
	}
	if first != "你好。" {
		t.Errorf("first sentence = %q, want %q", first, "你好。")
	}

	second, ok := s.Next()
	if !ok {
		t.Fatal("expected second sentence")
	}
	if second != "今天天气不错！" {
		t.Errorf("second sentence = %q, want %q", second, "今天天气不错！")
	}

	if got, ok := s.Next(); ok {
		t.Errorf("expected no third sentence, got %q", got)
	}
}

func TestNextAcrossFragments(t *testing.T) {
	s := New(512)

	// A sentence delivered in three arbitrary chunks, one of them splitting
	// a multi-byte character across appends is not possible through the
	// string API, but boundaries between characters are.
	s.Append("今天")
	if _, ok := s.Next(); ok {
		t.Fatal("no boundary yet, Next should return false")
	}

	s.Append("天气不错")
	if _, ok := s.Next(); ok {
		t.Fatal("still no boundary, Next should return false")
	}

	s.Append("。明天呢？")
	got, ok := s.Next()
	if !ok || got != "今天天气不错。" {
		t.Fatalf("Next = %q, %v; want %q, true", got, ok, "今天天气不错。")
	}
	got, ok = s.Next()
	if !ok || got != "明天呢？" {
		t.Fatalf("Next = %q, %v; want %q, true", got, ok, "明天呢？")
	}
}

func TestShortCandidateMergesForward(t *testing.T) {
	s := New(512)
	s.Append("。今天好！")

	got, ok := s.Next()
	if !ok {
		t.Fatal("expected a sentence")
	}
	if got != "。今天好！" {
		t.Errorf("sentence = %q, want the short candidate merged into %q", got, "。今天好！")
	}
}

func TestNoShortSentenceEverEmitted(t *testing.T) {
	inputs := []string{
		"。",
		"。。",
		"。！？，；：",
		"。今天好！",
		"a。b！",
		"你好。！？，",
		"，，，好的，",
	}

	for _, input := range inputs {
		s := New(512)
		s.Append(input)

		for {
			got, ok := s.Next()
			if !ok {
				break
			}
			if utf8.RuneCountInString(got) < minSentenceChars {
				t.Errorf("input %q: Next emitted %q with %d chars", input, got, utf8.RuneCountInString(got))
			}
		}

		if got, ok := s.Flush(); ok {
			if utf8.RuneCountInString(got) < minSentenceChars {
				t.Errorf("input %q: Flush emitted %q with %d chars", input, got, utf8.RuneCountInString(got))
			}
		}
	}
}

func TestFlush(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		ok       bool
	}{
		{name: "empty buffer", input: "", expected: "", ok: false},
		{name: "single char discarded", input: "好", expected: "", ok: false},
		{name: "remainder emitted", input: "没有标点的结尾", expected: "没有标点的结尾", ok: true},
		{name: "ascii remainder", input: "ok", expected: "ok", ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(512)
			s.Append(tt.input)

			got, ok := s.Flush()
			if ok != tt.ok || got != tt.expected {
				t.Errorf("Flush = %q, %v; want %q, %v", got, ok, tt.expected, tt.ok)
			}
			if s.Len() != 0 {
				t.Errorf("buffer not empty after Flush: %d bytes", s.Len())
			}
		})
	}
}

func TestAppendOverflowTruncatesAtRuneBoundary(t *testing.T) {
	s := New(10)

	// Four 3-byte characters: only three fit in 10 bytes, and the cut must
	// land on a code-point boundary (9 bytes), not at byte 10.
	dropped := s.Append("好好好好")
	if dropped != 3 {
		t.Errorf("dropped = %d, want 3", dropped)
	}
	if s.Len() != 9 {
		t.Errorf("buffered = %d bytes, want 9", s.Len())
	}

	dropped = s.Append("多")
	if dropped == 0 {
		t.Error("expected further appends to report dropped bytes")
	}

	got, ok := s.Flush()
	if !ok || got != "好好好" {
		t.Errorf("Flush = %q, %v; want %q, true", got, ok, "好好好")
	}
	if !utf8.ValidString(got) {
		t.Error("flushed remainder is not valid UTF-8 after truncation")
	}
}

func TestUTF8SafetyRandomInputs(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("今天气不错好的吗你我他abcXYZ123äöüлес日本語한국")
	marks := []rune("。！？，；：")

	for trial := 0; trial < 200; trial++ {
		var b strings.Builder
		n := 1 + rng.Intn(60)
		for i := 0; i < n; i++ {
			if rng.Intn(4) == 0 {
				b.WriteRune(marks[rng.Intn(len(marks))])
			} else {
				b.WriteRune(alphabet[rng.Intn(len(alphabet))])
			}
		}
		input := b.String()

		s := New(4096)
		// Feed in random fragment sizes measured in runes so fragments stay
		// valid UTF-8, as the pipeline guarantees.
		runes := []rune(input)
		for len(runes) > 0 {
			k := 1 + rng.Intn(8)
			if k > len(runes) {
				k = len(runes)
			}
			s.Append(string(runes[:k]))
			runes = runes[k:]

			for {
				got, ok := s.Next()
				if !ok {
					break
				}
				if !utf8.ValidString(got) {
					t.Fatalf("input %q: Next emitted invalid UTF-8 %q", input, got)
				}
			}
		}

		if got, ok := s.Flush(); ok && !utf8.ValidString(got) {
			t.Fatalf("input %q: Flush emitted invalid UTF-8 %q", input, got)
		}
	}
}

func TestReset(t *testing.T) {
	s := New(512)
	s.Append("还没说完的话")
	s.Reset()

	if s.Len() != 0 {
		t.Errorf("Len = %d after Reset, want 0", s.Len())
	}
	if _, ok := s.Flush(); ok {
		t.Error("Flush returned a sentence after Reset")
	}
}

func TestScanAdvancesWholeCharacters(t *testing.T) {
	// Mixed 1-, 2-, 3- and 4-byte characters before the boundary.
	input := "aä好\U0001F600。尾巴"
	end, ok := scan([]byte(input))
	if !ok {
		t.Fatal("expected a boundary")
	}
	want := len("aä好\U0001F600。")
	if end != want {
		t.Errorf("end = %d, want %d", end, want)
	}
	if !utf8.ValidString(input[:end]) {
		t.Error("scan produced a mid-code-point cut")
	}
}
