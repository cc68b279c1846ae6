package api

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/ollama/replagent/session"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a flattened conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Event types on the wire. They match the tags of the XML event tree.
const (
	EventHumanMsg        = "human_msg"
	EventThought         = "thought"
	EventAction          = "action"
	EventCode            = "code"
	EventAssistantMsg    = "assistant_msg"
	EventExecutionResult = "result"
	EventResumeFrom      = "resume_from"
)

// Event is the JSON form of a session event.
type Event struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type"`

	// Text of messages, thoughts and actions
	Text string `json:"text,omitempty"`
	Code string `json:"code,omitempty"`

	Output  string `json:"output,omitempty"`
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`

	// Target is the event id a resume_from rewinds to.
	Target string `json:"target,omitempty"`
}

// EventFrom converts a session event to its wire form.
func EventFrom(e session.Event) Event {
	event := session.Visit[Event](e.Body, wireEncoder{})
	event.ID = e.ID
	return event
}

func EventsFrom(events []session.Event) []Event {
	out := make([]Event, len(events))
	for i, e := range events {
		out[i] = EventFrom(e)
	}
	return out
}

// Body converts e back to a session event body.
func (e Event) Body() (session.EventBody, error) {
	switch e.Type {
	case EventHumanMsg:
		return session.HumanMsg{Text: e.Text}, nil
	case EventThought:
		return session.AssistantThought{Text: e.Text}, nil
	case EventAction:
		return session.AssistantAction{Text: e.Text}, nil
	case EventCode:
		return session.CodeFragment{Code: e.Code}, nil
	case EventAssistantMsg:
		return session.AssistantMsg{Text: e.Text}, nil
	case EventExecutionResult:
		success := true
		if e.Success != nil {
			success = *e.Success
		}
		return session.ExecutionResult{Output: e.Output, Success: success, Error: e.Error}, nil
	case EventResumeFrom:
		if e.Target == "" {
			return nil, fmt.Errorf("resume_from event %q has no target", e.ID)
		}
		return session.ResumeFrom{TargetEventID: e.Target}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}

// NewSession builds a session from wire events. Missing ids are generated.
func NewSession(events []Event) (*session.Session, error) {
	var s session.Session
	for _, e := range events {
		body, err := e.Body()
		if err != nil {
			return nil, err
		}

		if _, err := s.Append(e.ID, body); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

type wireEncoder struct{}

func (wireEncoder) HumanMsg(b session.HumanMsg) Event {
	return Event{Type: EventHumanMsg, Text: b.Text}
}

func (wireEncoder) AssistantThought(b session.AssistantThought) Event {
	return Event{Type: EventThought, Text: b.Text}
}

func (wireEncoder) AssistantAction(b session.AssistantAction) Event {
	return Event{Type: EventAction, Text: b.Text}
}

func (wireEncoder) CodeFragment(b session.CodeFragment) Event {
	return Event{Type: EventCode, Code: b.Code}
}

func (wireEncoder) AssistantMsg(b session.AssistantMsg) Event {
	return Event{Type: EventAssistantMsg, Text: b.Text}
}

func (wireEncoder) ExecutionResult(b session.ExecutionResult) Event {
	return Event{Type: EventExecutionResult, Output: b.Output, Success: &b.Success, Error: b.Error}
}

func (wireEncoder) ResumeFrom(b session.ResumeFrom) Event {
	return Event{Type: EventResumeFrom, Target: b.TargetEventID}
}

// ParseRequest is the request passed to [Client.Parse].
type ParseRequest struct {
	Text string `json:"text"`
}

// ParseResponse holds the thought, action and code events of a turn.
type ParseResponse struct {
	Events []Event `json:"events"`
}

// FlattenRequest is the request passed to [Client.Flatten]. Exactly one of
// Events and XML is used; XML wins when both are set.
type FlattenRequest struct {
	Events []Event `json:"events,omitempty"`
	XML    string  `json:"xml,omitempty"`

	// System replaces the default system prompt. NoSystem drops it.
	System   string `json:"system,omitempty"`
	NoSystem bool   `json:"no_system,omitempty"`

	Language string `json:"language,omitempty"`
}

type FlattenResponse struct {
	Messages []Message `json:"messages"`
}

type CreateSessionRequest struct {
	Events []Event `json:"events,omitempty"`
	XML    string  `json:"xml,omitempty"`
}

type AppendRequest struct {
	Events []Event `json:"events"`
}

type ResumeRequest struct {
	EventID string `json:"event_id"`
}

type SessionResponse struct {
	ID     string  `json:"id"`
	Events []Event `json:"events"`
}

type SessionInfo struct {
	ID         string    `json:"id"`
	Events     int       `json:"events"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

type ListResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

// Options controls sampling and the length of a generation.
type Options struct {
	Temperature float32 `json:"temperature,omitempty" mapstructure:"temperature"`
	TopK        int     `json:"top_k,omitempty" mapstructure:"top_k"`
	TopP        float32 `json:"top_p,omitempty" mapstructure:"top_p"`
	MinP        float32 `json:"min_p,omitempty" mapstructure:"min_p"`
	Seed        int     `json:"seed,omitempty" mapstructure:"seed"`
	NumPredict  int     `json:"num_predict,omitempty" mapstructure:"num_predict"`
}

// DefaultOptions is the default set of options for a generation.
func DefaultOptions() Options {
	return Options{
		Temperature: 0.8,
		TopK:        40,
		TopP:        0.9,
		MinP:        0.0,
		Seed:        -1,
		NumPredict:  512,
	}
}

// FromMap overrides the options present in m. Values may be given as
// strings, as they are on the command line.
func (opts *Options) FromMap(m map[string]any) error {
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           opts,
		Metadata:         &md,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}

	if err := decoder.Decode(m); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}

	if len(md.Unused) > 0 {
		return fmt.Errorf("invalid options: unknown %v", md.Unused)
	}

	return nil
}
