package embedding

import (
	"context"
	"math"
	"testing"
)

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i] * b[i])
	}
	return s
}

func TestMockEmbedder_Deterministic(t *testing.T) {
	e := NewMockEmbedder(64)
	ctx := context.Background()
	a, _ := e.Embed(ctx, "machine learning models")
	b, _ := e.Embed(ctx, "machine learning models")
	if len(a) != 64 {
		t.Fatalf("len=%d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("embedding should be deterministic")
		}
	}
	if n := math.Sqrt(dot(a, a)); math.Abs(n-1) > 1e-5 {
		t.Errorf("norm=%f, want 1", n)
	}
}

func TestMockEmbedder_SharedWordsScoreHigher(t *testing.T) {
	e := NewMockEmbedder(256)
	ctx := context.Background()
	q, _ := e.Embed(ctx, "neural network training")
	near, _ := e.Embed(ctx, "training a neural network on images")
	far, _ := e.Embed(ctx, "the history of medieval pottery")
	if dot(q, near) <= dot(q, far) {
		t.Errorf("expected overlap to score higher: near=%f far=%f", dot(q, near), dot(q, far))
	}
}

func TestMockEmbedder_Defaults(t *testing.T) {
	e := NewMockEmbedder(0)
	if e.Dimensions() != 384 {
		t.Errorf("Dimensions=%d", e.Dimensions())
	}
	if e.ModelID() != MockModelID {
		t.Errorf("ModelID=%s", e.ModelID())
	}
	v, err := e.Embed(context.Background(), "")
	if err != nil || len(v) != 384 {
		t.Errorf("empty text: %v, len %d", err, len(v))
	}
}

func TestMockEmbedder_ContextCanceled(t *testing.T) {
	e := NewMockEmbedder(8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Embed(ctx, "x"); err != context.Canceled {
		t.Errorf("Embed err = %v, want context.Canceled", err)
	}
	if _, err := e.EmbedBatch(ctx, []string{"a", "b"}); err != context.Canceled {
		t.Errorf("EmbedBatch err = %v, want context.Canceled", err)
	}
	if out, err := e.EmbedBatch(ctx, nil); err != nil || len(out) != 0 {
		t.Errorf("empty batch: %v, %v", out, err)
	}
}

func TestHashString(t *testing.T) {
	h := HashString("abc")
	if h == 0 {
		t.Error("hash should be non-zero")
	}
	if HashString("abc") != HashString("abc") {
		t.Error("hash should be deterministic")
	}
}

func TestSplitWords(t *testing.T) {
	words := SplitWords("  Hello, World!  foo-bar ")
	want := []string{"hello", "world", "foo", "bar"}
	if len(words) != len(want) {
		t.Fatalf("got %v", words)
	}
	for i := range want {
		if words[i] != want[i] {
			t.Errorf("word %d = %q, want %q", i, words[i], want[i])
		}
	}
	if len(SplitWords("")) != 0 {
		t.Error("empty string should return no words")
	}
}

func BenchmarkMockEmbedder_Embed(b *testing.B) {
	e := NewMockEmbedder(384)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Embed(ctx, "benchmark query text for embedding")
	}
}

func BenchmarkCachedEmbedder_Embed(b *testing.B) {
	c, err := NewCachedEmbedder(NewMockEmbedder(384), 128)
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Embed(ctx, "benchmark query text for embedding")
	}
}
