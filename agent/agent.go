// Package agent runs the loop of an assistant working through a session:
// generate a turn, record it, run its code, record the result.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ollama/replagent/api"
	"github.com/ollama/replagent/history"
	"github.com/ollama/replagent/repl"
	"github.com/ollama/replagent/session"
	"github.com/ollama/replagent/turn"
)

// Generator writes the next assistant turn for a conversation.
type Generator interface {
	Generate(ctx context.Context, messages []api.Message) (string, error)
}

type Agent struct {
	gen  Generator
	exec repl.Executor
	opts history.Options
}

// New returns an agent. exec may be nil, in which case generated code is
// recorded but never run.
func New(gen Generator, exec repl.Executor, opts history.Options) *Agent {
	return &Agent{gen: gen, exec: exec, opts: opts}
}

// Step returns a copy of s extended by one generated turn and, when the
// agent has an executor, the result of running the turn's code. s itself is
// not modified.
func (a *Agent) Step(ctx context.Context, s *session.Session) (*session.Session, error) {
	next := s.Clone()

	msgs, err := history.Flatten(next, a.opts)
	if err != nil {
		return nil, err
	}

	text, err := a.gen.Generate(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	bodies, err := turn.Parse(text)
	if err != nil {
		return nil, err
	}

	var code string
	for _, body := range bodies {
		if c, ok := body.(session.CodeFragment); ok {
			code = c.Code
		}

		if _, err := next.Append("", body); err != nil {
			return nil, err
		}
	}

	if a.exec == nil {
		return next, nil
	}

	out, err := a.exec.Execute(ctx, code)
	if err != nil {
		return next, fmt.Errorf("execute: %w", err)
	}

	result := repl.Format(out)
	if _, err := next.Append("", result); err != nil {
		return nil, err
	}

	slog.Info("agent step", "events", len(next.Events), "success", result.Success)
	return next, nil
}

// Reply appends a message from the human to s.
func Reply(s *session.Session, text string) (session.Event, error) {
	return s.Append("", session.HumanMsg{Text: text})
}
