package sample

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var negInf = float32(math.Inf(-1))

func TestGreedy(t *testing.T) {
	s := NewSampler(0, 0, 0, 0, -1)
	got, err := s.Sample([]float32{1, 3, 2, negInf})
	if err != nil {
		t.Fatal(err)
	}

	if got != 1 {
		t.Errorf("got %d, want 1", got)
	}
}

func TestMaskedTokensNeverSampled(t *testing.T) {
	logits := []float32{10, negInf, 0, negInf, 9}
	for seed := range 50 {
		s := NewSampler(1.5, 0, 1, 0, seed)
		got, err := s.Sample(logits)
		if err != nil {
			t.Fatal(err)
		}

		if got == 1 || got == 3 {
			t.Fatalf("seed %d: sampled masked token %d", seed, got)
		}
	}
}

func TestOnlyOneCandidate(t *testing.T) {
	s := NewSampler(0.8, 40, 0.9, 0.05, 7)
	got, err := s.Sample([]float32{negInf, negInf, -100, negInf})
	if err != nil {
		t.Fatal(err)
	}

	if got != 2 {
		t.Errorf("got %d, want 2", got)
	}
}

func TestNoCandidates(t *testing.T) {
	s := NewSampler(0.8, 40, 0.9, 0, 1)
	if _, err := s.Sample([]float32{negInf, negInf}); !errors.Is(err, ErrNoCandidates) {
		t.Errorf("got %v, want %v", err, ErrNoCandidates)
	}

	if _, err := s.Sample(nil); err == nil {
		t.Error("expected error for empty logits")
	}
}

func TestSeedIsDeterministic(t *testing.T) {
	logits := []float32{1, 1, 1, 1, 1, 1, 1, 1}

	draw := func() []int32 {
		s := NewSampler(1, 0, 1, 0, 42)
		var ids []int32
		for range 20 {
			id, err := s.Sample(logits)
			if err != nil {
				t.Fatal(err)
			}
			ids = append(ids, id)
		}
		return ids
	}

	if diff := cmp.Diff(draw(), draw()); diff != "" {
		t.Errorf("seeded draws differ (-first +second):\n%s", diff)
	}
}

func TestTopK(t *testing.T) {
	ts := []token{{0, 1}, {1, 4}, {2, 3}, {3, 2}}
	got := topK(ts, 2)

	want := []token{{1, 4}, {2, 3}}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(token{})); diff != "" {
		t.Errorf("topK mismatch (-want +got):\n%s", diff)
	}

	if got := topK([]token{{0, 1}, {1, 2}}, 0); len(got) != 2 {
		t.Errorf("topK(0) kept %d tokens, want 2", len(got))
	}
}

func TestTopP(t *testing.T) {
	ts := []token{{0, 0.5}, {1, 0.3}, {2, 0.15}, {3, 0.05}}
	if got := topP(ts, 0.75); len(got) != 2 {
		t.Errorf("topP kept %d tokens, want 2", len(got))
	}

	if got := topP(ts, 1); len(got) != 4 {
		t.Errorf("topP(1) kept %d tokens, want 4", len(got))
	}
}

func TestMinP(t *testing.T) {
	ts := []token{{0, 0.6}, {1, 0.3}, {2, 0.08}, {3, 0.02}}
	got := minP(ts, 0.2)

	want := []token{{0, 0.6}, {1, 0.3}}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(token{})); diff != "" {
		t.Errorf("minP mismatch (-want +got):\n%s", diff)
	}
}

func TestSoftmax(t *testing.T) {
	ts := []token{{0, 0}, {1, 0}}
	softmax(ts)

	for _, tk := range ts {
		if tk.value != 0.5 {
			t.Errorf("got %v, want 0.5", tk.value)
		}
	}
}
