package constrain

import (
	"fmt"
	"math"

	"github.com/ollama/replagent/logutil"
	"github.com/ollama/replagent/turn"
	"github.com/ollama/replagent/vocab"
)

var negInf = float32(math.Inf(-1))

// Enforcer masks the scores of each decoding step so the generated text
// follows the turn markup. An Enforcer keeps the state of one generation and
// must not be reused for another.
type Enforcer struct {
	vocab   *vocab.Index
	machine *Machine

	// admissible token ids by remaining literal
	cache map[string][]int32
}

func NewEnforcer(v *vocab.Index, m turn.Markup) *Enforcer {
	return &Enforcer{
		vocab:   v,
		machine: NewMachine(m),
		cache:   make(map[string][]int32),
	}
}

func (e *Enforcer) Phase() Phase {
	return e.machine.Phase()
}

// Apply is called once per decoding step with every token generated so far
// and the scores over the vocabulary for the next token. It sets the score of
// each token that would break the turn markup to -Inf and returns scores.
// Apply is idempotent for equal inputs.
//
// Apply panics when no token can continue an outstanding literal, which
// means the vocabulary cannot express the markup.
func (e *Enforcer) Apply(generated []int32, scores []float32) []float32 {
	target := e.machine.Advance(e.vocab.DecodeAll(generated))
	remaining := target.Remaining()

	logutil.Trace("constrain", "step", len(generated), "phase", target.Phase, "remaining", remaining)

	eos := e.vocab.EOS()
	if remaining == "" {
		if target.Phase == PhaseDone {
			return only(scores, eos)
		}

		scores[eos] = negInf
		return scores
	}

	allowed := e.admissible(remaining)
	if len(allowed) == 0 {
		if target.Phase == PhaseDone {
			return only(scores, eos)
		}
		panic(fmt.Sprintf("constrain: no token continues %q in phase %s", remaining, target.Phase))
	}

	masked := make([]float32, len(scores))
	for i := range masked {
		masked[i] = negInf
	}
	for _, id := range allowed {
		masked[id] = scores[id]
	}
	copy(scores, masked)
	return scores
}

// admissible returns the tokens that are a prefix of remaining or, if there
// are none, the tokens that remaining is a prefix of.
func (e *Enforcer) admissible(remaining string) []int32 {
	if ids, ok := e.cache[remaining]; ok {
		return ids
	}

	ids := e.vocab.PrefixesOf(remaining)
	if len(ids) == 0 {
		ids = e.vocab.Extending(remaining)
	}

	e.cache[remaining] = ids
	return ids
}

// only forces id: its score is 0 and every other score -Inf.
func only(scores []float32, id int32) []float32 {
	for i := range scores {
		scores[i] = negInf
	}
	scores[id] = 0
	return scores
}
