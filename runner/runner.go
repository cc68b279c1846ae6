// Package runner drives constrained generation of one assistant turn.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ollama/replagent/api"
	"github.com/ollama/replagent/constrain"
	"github.com/ollama/replagent/sample"
	"github.com/ollama/replagent/turn"
	"github.com/ollama/replagent/vocab"
)

// ErrLimitReached is returned with the partial text when a generation runs
// out of tokens before the end-of-sequence token.
var ErrLimitReached = errors.New("runner: token limit reached")

// Model scores the next token of a completion. Implementations wrap an
// inference backend outside this module; a Runner built on one is the
// agent.Generator that agent.Agent.Step drives.
type Model interface {
	// Logits returns one score per vocabulary entry for the token following
	// generated, conditioned on messages.
	Logits(ctx context.Context, messages []api.Message, generated []int32) ([]float32, error)
}

type Runner struct {
	model  Model
	vocab  *vocab.Index
	markup turn.Markup
	opts   api.Options
}

func New(model Model, v *vocab.Index, markup turn.Markup, opts api.Options) *Runner {
	return &Runner{
		model:  model,
		vocab:  v,
		markup: markup,
		opts:   opts,
	}
}

// Generate samples one assistant turn following messages. The returned text
// always follows the turn markup up to where generation stopped.
func (r *Runner) Generate(ctx context.Context, messages []api.Message) (string, error) {
	enforcer := constrain.NewEnforcer(r.vocab, r.markup)
	sampler := sample.NewSampler(r.opts.Temperature, r.opts.TopK, r.opts.TopP, r.opts.MinP, r.opts.Seed)

	start := time.Now()
	var generated []int32
	for r.opts.NumPredict <= 0 || len(generated) < r.opts.NumPredict {
		if err := ctx.Err(); err != nil {
			return r.vocab.DecodeAll(generated), err
		}

		logits, err := r.model.Logits(ctx, messages, generated)
		if err != nil {
			return r.vocab.DecodeAll(generated), fmt.Errorf("model: %w", err)
		}

		if len(logits) != r.vocab.Len() {
			return r.vocab.DecodeAll(generated), fmt.Errorf("model returned %d logits for a vocabulary of %d", len(logits), r.vocab.Len())
		}

		id, err := sampler.Sample(enforcer.Apply(generated, logits))
		if err != nil {
			return r.vocab.DecodeAll(generated), err
		}

		if id == r.vocab.EOS() {
			text := r.vocab.DecodeAll(generated)
			slog.Debug("generated turn", "tokens", len(generated), "bytes", len(text), "duration", time.Since(start))
			return text, nil
		}

		generated = append(generated, id)
	}

	text := r.vocab.DecodeAll(generated)
	slog.Warn("generation stopped at limit", "tokens", len(generated), "phase", enforcer.Phase(), "tail", tail(text))
	return text, ErrLimitReached
}

func tail(s string) string {
	const n = 40
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return strings.ReplaceAll(s, "\n", `\n`)
}
