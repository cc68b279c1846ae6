package sample

import (
	"cmp"
	"math"
	"slices"
)

// temperature scales logits relative to the largest one
func temperature(ts []token, temp float32) {
	t := max(temp, 1e-7)

	maxLogit := float32(math.Inf(-1))
	for _, tk := range ts {
		maxLogit = max(maxLogit, tk.value)
	}

	for i := range ts {
		ts[i].value = (ts[i].value - maxLogit) / t
	}
}

// softmax turns shifted logits into probabilities
func softmax(ts []token) {
	var sum float32
	for i, tk := range ts {
		ts[i].value = float32(math.Exp(float64(tk.value)))
		sum += ts[i].value
	}

	for i := range ts {
		ts[i].value /= sum
	}
}

// topK sorts ts in descending order and keeps the first k. k <= 0 keeps
// all tokens.
func topK(ts []token, k int) []token {
	slices.SortStableFunc(ts, func(a, b token) int {
		return cmp.Compare(b.value, a.value)
	})

	if k > 0 && k < len(ts) {
		ts = ts[:k]
	}

	return ts
}

// topP keeps the smallest prefix of sorted probabilities reaching p.
func topP(ts []token, p float32) []token {
	if p >= 1 {
		return ts
	}

	var sum float32
	for i, tk := range ts {
		sum += tk.value
		if sum >= p {
			return ts[:i+1]
		}
	}

	return ts
}

// minP drops tokens less likely than p times the most likely one.
func minP(ts []token, p float32) []token {
	if p <= 0 {
		return ts
	}

	var maxProb float32
	for _, tk := range ts {
		maxProb = max(maxProb, tk.value)
	}

	threshold := maxProb * p
	kept := ts[:0]
	for _, tk := range ts {
		if tk.value >= threshold {
			kept = append(kept, tk)
		}
	}

	return kept
}
