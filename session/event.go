package session

import "fmt"

// EventBody is the payload of a session event. The set of implementations is
// closed; use Visit to dispatch over it.
type EventBody interface {
	isEventBody()
}

// HumanMsg is a message from the user: the initial request, a clarification,
// advice, a question.
type HumanMsg struct {
	Text string
}

// AssistantThought is reasoning scaffolding. It never addresses the user and
// is always followed by more scaffolding or a decisive event.
type AssistantThought struct {
	Text string
}

// AssistantAction states in a few words what the next code fragment does.
type AssistantAction struct {
	Text string
}

// CodeFragment is source the assistant submits to the REPL.
type CodeFragment struct {
	Code string
}

// AssistantMsg addresses the user directly: a final answer or a request for
// more information.
type AssistantMsg struct {
	Text string
}

// ExecutionResult is the outcome of running a CodeFragment. It is fed back
// from the user side of the conversation.
type ExecutionResult struct {
	Output  string
	Success bool
	Error   string
}

// ResumeFrom rewinds history to immediately after the event TargetEventID.
type ResumeFrom struct {
	TargetEventID string
}

func (HumanMsg) isEventBody()         {}
func (AssistantThought) isEventBody() {}
func (AssistantAction) isEventBody()  {}
func (CodeFragment) isEventBody()     {}
func (AssistantMsg) isEventBody()     {}
func (ExecutionResult) isEventBody()  {}
func (ResumeFrom) isEventBody()       {}

// Visitor has one method per event variant. Every consumer that needs to
// handle all variants implements it, so adding a variant is a compile error
// until each consumer handles it.
type Visitor[T any] interface {
	HumanMsg(HumanMsg) T
	AssistantThought(AssistantThought) T
	AssistantAction(AssistantAction) T
	CodeFragment(CodeFragment) T
	AssistantMsg(AssistantMsg) T
	ExecutionResult(ExecutionResult) T
	ResumeFrom(ResumeFrom) T
}

// Visit calls the method of v matching the variant of body.
func Visit[T any](body EventBody, v Visitor[T]) T {
	switch b := body.(type) {
	case HumanMsg:
		return v.HumanMsg(b)
	case AssistantThought:
		return v.AssistantThought(b)
	case AssistantAction:
		return v.AssistantAction(b)
	case CodeFragment:
		return v.CodeFragment(b)
	case AssistantMsg:
		return v.AssistantMsg(b)
	case ExecutionResult:
		return v.ExecutionResult(b)
	case ResumeFrom:
		return v.ResumeFrom(b)
	default:
		panic(fmt.Sprintf("session: unreachable event body %T", body))
	}
}

// Kind names the variant of body, e.g. for logs and metrics labels.
func Kind(body EventBody) string {
	return Visit[string](body, kindVisitor{})
}

type kindVisitor struct{}

func (kindVisitor) HumanMsg(HumanMsg) string                 { return "human_msg" }
func (kindVisitor) AssistantThought(AssistantThought) string { return "assistant_thought" }
func (kindVisitor) AssistantAction(AssistantAction) string   { return "assistant_action" }
func (kindVisitor) CodeFragment(CodeFragment) string         { return "code_fragment" }
func (kindVisitor) AssistantMsg(AssistantMsg) string         { return "assistant_msg" }
func (kindVisitor) ExecutionResult(ExecutionResult) string   { return "execution_result" }
func (kindVisitor) ResumeFrom(ResumeFrom) string             { return "resume_from" }
