// Package history projects a session's event log onto the alternating
// message list a chat model consumes.
package history

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ollama/replagent/api"
	"github.com/ollama/replagent/session"
	"github.com/ollama/replagent/turn"
)

var ErrRoleAlternation = errors.New("history: consecutive messages with the same role")

// ValidationError is returned when an assistant message rebuilt from turn
// events is not a valid turn, which means the log was corrupted upstream.
type ValidationError struct {
	Index   int
	Message api.Message
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("history: assistant message %d failed validation: %v", e.Index, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

type Options struct {
	// System is sent as a leading system message when not empty.
	System string

	Markup turn.Markup
}

// Flatten resumes s in place and renders its events as messages. Events of
// the same role are joined with a newline into one message.
func Flatten(s *session.Session, opts Options) ([]api.Message, error) {
	if opts.Markup.Language == "" {
		opts.Markup = turn.DefaultMarkup
	}

	s.Resume()

	var msgs []api.Message
	// turns[i] is set when msgs[i] holds thought, action or code events
	var turns []bool
	if opts.System != "" {
		msgs = append(msgs, api.Message{Role: api.RoleSystem, Content: opts.System})
		turns = append(turns, false)
	}

	r := renderer{markup: opts.Markup}
	for _, e := range s.Events {
		role := session.Visit[api.Role](e.Body, roles{})
		content := session.Visit[string](e.Body, r)
		isTurn := isTurnEvent(e.Body)

		if n := len(msgs); n > 0 && msgs[n-1].Role == role {
			msgs[n-1].Content += "\n" + content
			turns[n-1] = turns[n-1] || isTurn
			continue
		}

		msgs = append(msgs, api.Message{Role: role, Content: content})
		turns = append(turns, isTurn)
	}

	for i := 1; i < len(msgs); i++ {
		if msgs[i].Role == msgs[i-1].Role {
			return nil, fmt.Errorf("%w: %s at %d and %d", ErrRoleAlternation, msgs[i].Role, i-1, i)
		}
	}

	for i, msg := range msgs {
		// plain assistant_msg replies are free text and not turns
		if msg.Role != api.RoleAssistant || !turns[i] {
			continue
		}

		if _, err := turn.Parse(msg.Content); err != nil {
			return nil, &ValidationError{Index: i, Message: msg, Err: err}
		}
	}

	return msgs, nil
}

func isTurnEvent(body session.EventBody) bool {
	switch body.(type) {
	case session.AssistantThought, session.AssistantAction, session.CodeFragment:
		return true
	default:
		return false
	}
}

type roles struct{}

func (roles) HumanMsg(session.HumanMsg) api.Role                 { return api.RoleUser }
func (roles) AssistantThought(session.AssistantThought) api.Role { return api.RoleAssistant }
func (roles) AssistantAction(session.AssistantAction) api.Role   { return api.RoleAssistant }
func (roles) CodeFragment(session.CodeFragment) api.Role         { return api.RoleAssistant }
func (roles) AssistantMsg(session.AssistantMsg) api.Role         { return api.RoleAssistant }
func (roles) ExecutionResult(session.ExecutionResult) api.Role   { return api.RoleUser }

func (roles) ResumeFrom(r session.ResumeFrom) api.Role {
	panic(fmt.Sprintf("history: resume_from %q survived resumption", r.TargetEventID))
}

type renderer struct {
	markup turn.Markup
}

func (renderer) HumanMsg(b session.HumanMsg) string { return b.Text }

func (renderer) AssistantMsg(b session.AssistantMsg) string { return b.Text }

func (renderer) AssistantThought(b session.AssistantThought) string {
	return turn.ThoughtOpen + b.Text + turn.ThoughtClose
}

func (renderer) AssistantAction(b session.AssistantAction) string {
	return turn.ActionOpen + b.Text + turn.ActionClose
}

func (r renderer) CodeFragment(b session.CodeFragment) string {
	return "\n" + r.markup.FenceOpen() + b.Code + "\n" + turn.Fence + "\n"
}

func (renderer) ExecutionResult(b session.ExecutionResult) string {
	var sb strings.Builder
	sb.WriteString("<output>")
	sb.WriteString(b.Output)
	sb.WriteString("</output>")
	if !b.Success && b.Error != "" {
		sb.WriteString("\n<error>")
		sb.WriteString(b.Error)
		sb.WriteString("</error>")
	}
	return sb.String()
}

func (renderer) ResumeFrom(r session.ResumeFrom) string {
	panic(fmt.Sprintf("history: resume_from %q survived resumption", r.TargetEventID))
}
