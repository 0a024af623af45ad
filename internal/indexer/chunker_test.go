package indexer

import (
	"errors"
	"math"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/hyperjump/kenkyu/internal/models"
)

func mustChunker(t *testing.T, size, overlap int) *Chunker {
	t.Helper()
	c, err := NewChunker(size, overlap)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestNewChunker_Config(t *testing.T) {
	tests := []struct {
		name        string
		size        int
		overlap     int
		wantOverlap int
		wantErr     bool
	}{
		{"zero size", 0, 5, 0, true},
		{"negative size", -3, 1, 0, true},
		{"overlap equals size", 10, 10, 0, true},
		{"overlap larger than size", 10, 20, 0, true},
		{"explicit overlap", 100, 20, 20, false},
		{"default overlap small", 50, -1, 10, false},
		{"default overlap mid", 500, -1, 50, false},
		{"default overlap capped", 5000, -1, 100, false},
		{"default overlap too large for size", 8, -1, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewChunker(tt.size, tt.overlap)
			if tt.wantErr {
				if !errors.Is(err, models.ErrConfiguration) {
					t.Fatalf("expected ErrConfiguration, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if c.ChunkOverlap() != tt.wantOverlap {
				t.Errorf("overlap = %d, want %d", c.ChunkOverlap(), tt.wantOverlap)
			}
		})
	}
}

func TestChunker_SentenceBoundary(t *testing.T) {
	c := mustChunker(t, 20, 5)
	segs := c.Chunk("Sentence one. Sentence two. Sentence three.", "doc1", nil)
	if len(segs) == 0 {
		t.Fatal("expected segments")
	}
	first := segs[0]
	if first.Text != "Sentence one." {
		t.Errorf("first segment text = %q", first.Text)
	}
	if first.EndOffset != 14 {
		t.Errorf("first segment end = %d, want 14", first.EndOffset)
	}
	if last := segs[len(segs)-1]; !strings.HasSuffix(last.Text, "three.") {
		t.Errorf("last segment should reach the end of the text, got %q", last.Text)
	}
}

func TestChunker_Empty(t *testing.T) {
	c := mustChunker(t, 50, 10)
	for _, text := range []string{"", "   \n\t  "} {
		if segs := c.Chunk(text, "d", nil); len(segs) != 0 {
			t.Errorf("Chunk(%q) = %d segments, want 0", text, len(segs))
		}
	}
}

func TestChunker_LongSentenceHardCut(t *testing.T) {
	c := mustChunker(t, 10, 2)
	text := strings.Repeat("a", 35)
	segs := c.Chunk(text, "d", nil)
	if len(segs) < 4 {
		t.Fatalf("expected at least 4 segments, got %d", len(segs))
	}
	if segs[0].EndOffset != 10 {
		t.Errorf("expected hard cut at 10, got %d", segs[0].EndOffset)
	}
}

func TestChunker_CountsCharacters(t *testing.T) {
	c := mustChunker(t, 10, 2)
	segs := c.Chunk(strings.Repeat("ä", 20), "d", nil)
	want := [][2]int{{0, 10}, {8, 18}, {16, 20}}
	if len(segs) != len(want) {
		t.Fatalf("got %d segments, want %d", len(segs), len(want))
	}
	for i, w := range want {
		if segs[i].StartOffset != w[0] || segs[i].EndOffset != w[1] {
			t.Errorf("segment %d = [%d,%d), want [%d,%d)", i, segs[i].StartOffset, segs[i].EndOffset, w[0], w[1])
		}
		if got := utf8.RuneCountInString(segs[i].Text); got != w[1]-w[0] {
			t.Errorf("segment %d has %d characters, want %d", i, got, w[1]-w[0])
		}
	}
}

func TestChunker_Metadata(t *testing.T) {
	c := mustChunker(t, 30, 5)
	meta := map[string]any{"title": "Doc", "year": 2024}
	segs := c.Chunk("First sentence here. Second sentence here. Third sentence here.", "src", meta)
	if len(segs) < 2 {
		t.Fatalf("expected multiple segments, got %d", len(segs))
	}
	ids := map[string]bool{}
	for i, s := range segs {
		if s.SourceID != "src" {
			t.Errorf("segment %d SourceID = %s", i, s.SourceID)
		}
		if s.Metadata["title"] != "Doc" || s.Metadata["year"] != 2024 {
			t.Errorf("segment %d lost caller metadata: %v", i, s.Metadata)
		}
		if s.Metadata[MetaChunkIndex] != i {
			t.Errorf("segment %d chunk_index = %v", i, s.Metadata[MetaChunkIndex])
		}
		if s.Metadata[MetaChunkCount] != len(segs) {
			t.Errorf("segment %d chunk_count = %v, want %d", i, s.Metadata[MetaChunkCount], len(segs))
		}
		if ids[s.SegmentID] {
			t.Errorf("duplicate segment id %s", s.SegmentID)
		}
		ids[s.SegmentID] = true
		if err := s.Validate(); err != nil {
			t.Errorf("segment %d invalid: %v", i, err)
		}
	}
	if _, ok := meta[MetaChunkIndex]; ok {
		t.Error("caller metadata map must not be mutated")
	}
}

func TestChunker_Properties(t *testing.T) {
	texts := []string{
		"The quick brown fox jumps over the lazy dog. It was not amused! Why would it be? Nobody knows.",
		strings.Repeat("Lorem ipsum dolor sit amet, consectetur adipiscing elit. ", 40),
		strings.Repeat("word ", 300),
		"No terminators at all just a long run of words that keeps going and going without a single stop",
		"Grüße aus München. Überall schöne Straßen! Ça va? Très bien. " + strings.Repeat("日本語のテキスト。", 20),
	}
	configs := [][2]int{{20, 5}, {50, 10}, {64, -1}, {200, 40}, {17, 16}}

	for _, text := range texts {
		for _, cfg := range configs {
			c := mustChunker(t, cfg[0], cfg[1])
			segs := c.Chunk(text, "p", nil)
			runes := []rune(text)
			n := len(runes)
			if len(segs) == 0 {
				t.Fatalf("no segments for %q", string(runes[:20]))
			}

			if len(segs) > n {
				t.Errorf("size=%d overlap=%d: %d segments for %d characters", c.ChunkSize(), c.ChunkOverlap(), len(segs), n)
			}

			covered := make([]bool, n)
			for i, s := range segs {
				if s.StartOffset >= s.EndOffset {
					t.Errorf("segment %d has start %d >= end %d", i, s.StartOffset, s.EndOffset)
				}
				if !utf8.ValidString(s.Text) {
					t.Errorf("segment %d split a rune", i)
				}
				if s.EndOffset-s.StartOffset > c.ChunkSize() {
					t.Errorf("segment %d spans %d characters, more than %d", i, s.EndOffset-s.StartOffset, c.ChunkSize())
				}
				if want := strings.TrimSpace(string(runes[s.StartOffset:s.EndOffset])); s.Text != want {
					t.Errorf("segment %d text %q does not match its offsets (%q)", i, s.Text, want)
				}
				for j := s.StartOffset; j < s.EndOffset; j++ {
					covered[j] = true
				}
				if i == 0 {
					continue
				}
				prev := segs[i-1]
				if s.StartOffset < prev.StartOffset {
					t.Errorf("segment %d start %d decreases", i, s.StartOffset)
				}
				if s.StartOffset > prev.EndOffset {
					t.Errorf("gap between segment %d and %d", i-1, i)
				}
				if prev.EndOffset-s.StartOffset > c.ChunkOverlap() {
					t.Errorf("overlap %d exceeds %d", prev.EndOffset-s.StartOffset, c.ChunkOverlap())
				}
			}
			for j, ok := range covered {
				if !ok {
					t.Errorf("size=%d: character %d not covered", c.ChunkSize(), j)
					break
				}
			}
		}
	}
}

func TestChunker_TerminationBound(t *testing.T) {
	texts := []string{
		strings.Repeat("word ", 300),
		"No terminators at all just a long run of words that keeps going and going without a single stop",
		"Sentence one. Sentence two. Sentence three.",
	}
	configs := [][2]int{{20, 5}, {50, 10}, {64, -1}, {17, 16}}
	for _, text := range texts {
		for _, cfg := range configs {
			c := mustChunker(t, cfg[0], cfg[1])
			segs := c.Chunk(text, "p", nil)
			bound := int(math.Ceil(float64(utf8.RuneCountInString(text))/float64(c.ChunkSize()-c.ChunkOverlap()))) + 1
			if len(segs) > bound {
				t.Errorf("size=%d overlap=%d: %d segments exceeds bound %d", c.ChunkSize(), c.ChunkOverlap(), len(segs), bound)
			}
		}
	}
}

func TestPreprocess(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  a  b  ", "a b"},
		{"line one\r\n\r\nline\ttwo", "line one line two"},
		{"\ufeffTitle", "Title"},
		{"nul\x00byte", "nulbyte"},
		{"bad\xffutf8", "badutf8"},
		{"keeps \ufffd marks", "keeps \ufffd marks"},
		{"研究  ノート", "研究 ノート"},
		{" \n\t ", ""},
	}
	for _, tt := range tests {
		if got := Preprocess(tt.in); got != tt.want {
			t.Errorf("Preprocess(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
