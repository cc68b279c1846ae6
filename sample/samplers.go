package sample

import (
	"errors"
	"math"
	"math/rand/v2"
	"slices"
)

var ErrNoCandidates = errors.New("sample: every token is masked")

// token is a candidate during sampling
type token struct {
	id    int32
	value float32 // logit, later probability
}

type Sampler struct {
	rng         *rand.Rand
	topK        int
	topP        float32
	minP        float32
	temperature float32
}

// NewSampler returns a sampler. A seed of -1 draws from the global source.
func NewSampler(temperature float32, topK int, topP float32, minP float32, seed int) Sampler {
	var rng *rand.Rand
	if seed != -1 {
		sequence := uint64(seed)
		rng = rand.New(rand.NewPCG(sequence, sequence^0x9E3779B9))
	}

	return Sampler{
		rng:         rng,
		topK:        topK,
		topP:        clamp(topP),
		minP:        clamp(minP),
		temperature: max(temperature, 0),
	}
}

func clamp(f float32) float32 {
	return min(max(f, 0), 1)
}

// Sample picks a token id from logits. Tokens scored -Inf are never
// picked.
func (s *Sampler) Sample(logits []float32) (int32, error) {
	if len(logits) == 0 {
		return -1, errors.New("sample: no logits provided to sample")
	}

	tokens := make([]token, 0, len(logits))
	for i, logit := range logits {
		if math.IsInf(float64(logit), -1) {
			continue
		}
		tokens = append(tokens, token{id: int32(i), value: logit})
	}

	if len(tokens) == 0 {
		return -1, ErrNoCandidates
	}

	t, err := s.sample(tokens)
	if err != nil {
		return -1, err
	}

	return t.id, nil
}

// sample modifies tokens in place.
func (s *Sampler) sample(tokens []token) (token, error) {
	if s.temperature == 0 {
		return greedy(tokens), nil
	}

	// topK also sorts the tokens in descending order of logits
	tokens = topK(tokens, s.topK)

	temperature(tokens, s.temperature)
	softmax(tokens)

	tokens = topP(tokens, s.topP)
	tokens = minP(tokens, s.minP)

	var r float32
	if s.rng != nil {
		r = s.rng.Float32()
	} else {
		r = rand.Float32()
	}

	var sum float32
	for i := range tokens {
		sum += tokens[i].value
		tokens[i].value = sum
	}

	if math.IsNaN(float64(sum)) {
		return token{}, errors.New("sample: logits sum to NaN, check model output")
	}

	r *= sum
	idx, _ := slices.BinarySearchFunc(tokens, r, func(t token, target float32) int {
		if t.value < target {
			return -1
		}
		return 1
	})

	return tokens[min(idx, len(tokens)-1)], nil
}

func greedy(tokens []token) token {
	best := tokens[0]
	for _, t := range tokens[1:] {
		if t.value > best.value {
			best = t
		}
	}

	return best
}
