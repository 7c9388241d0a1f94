package engine

import (
	"context"
	"math"
	"reflect"
	"testing"
)

func embedOne(t *testing.T, e *HashingEngine, text string) []float32 {
	t.Helper()
	vecs, err := e.Embed(context.Background(), e.ModelName(), []string{text})
	if err != nil {
		t.Fatalf("Embed(%q): %v", text, err)
	}
	return vecs[0]
}

func TestTokenize(t *testing.T) {
	got := Tokenize("The Hobbit: There & Back-Again, 1937!")
	want := []string{"the", "hobbit", "there", "back", "again", "1937"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tokenize = %q, want %q", got, want)
	}
}

func TestHashingEngine_Deterministic(t *testing.T) {
	a := NewHashingEngine(128)
	b := NewHashingEngine(128)
	v1 := embedOne(t, a, "A wizard of Earthsea")
	v2 := embedOne(t, b, "A wizard of Earthsea")
	if !reflect.DeepEqual(v1, v2) {
		t.Error("same text produced different vectors")
	}
}

func TestHashingEngine_UnitLength(t *testing.T) {
	e := NewHashingEngine(256)
	v := embedOne(t, e, "fantasy dragon epic quest")
	if len(v) != 256 {
		t.Fatalf("len = %d, want 256", len(v))
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("squared norm = %v, want 1", norm)
	}
}

func TestHashingEngine_EmptyTextIsZero(t *testing.T) {
	e := NewHashingEngine(32)
	v := embedOne(t, e, "  -- ")
	for i, x := range v {
		if x != 0 {
			t.Fatalf("v[%d] = %v, want zero vector", i, x)
		}
	}
}

func TestHashingEngine_SharedTermsScoreHigher(t *testing.T) {
	e := NewHashingEngine(4096)
	query := embedOne(t, e, "fantasy")
	fantasy := embedOne(t, e, "The Wizard Ursula Le Guin fantasy wizard magic school")
	romance := embedOne(t, e, "Beach Summer Jane Doe romance beach love story")

	sf := Similarity(query, fantasy)
	sr := Similarity(query, romance)
	if sf <= sr {
		t.Errorf("Similarity(fantasy)=%v should exceed Similarity(romance)=%v", sf, sr)
	}
	if sf <= 0 {
		t.Errorf("Similarity(fantasy) = %v, want > 0", sf)
	}
}

func TestHashingEngine_RejectsOtherModel(t *testing.T) {
	e := NewHashingEngine(32)
	if _, err := e.Embed(context.Background(), "nomic-embed-text", []string{"x"}); err == nil {
		t.Error("expected error for foreign model name")
	}
}

func TestHashingEngine_ContextCancelled(t *testing.T) {
	e := NewHashingEngine(32)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Embed(ctx, "", []string{"a", "b"}); err == nil {
		t.Error("expected context error")
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 1}, []float32{-1, -1}, -1},
		{"scaled", []float32{1, 2}, []float32{2, 4}, 1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Similarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("Similarity = %v, want %v", got, tt.want)
			}
		})
	}
}
