package constrain

// Phase is the structural part of a turn being generated. Phases only move
// forward.
type Phase int

const (
	PhaseStart Phase = iota
	// the opening thought tag is forced, then reasoning is free until the
	// closing tag
	PhaseReasoningBody
	// the opening action tag is forced
	PhaseActionOpen
	PhaseActionBody
	// the code fence is forced
	PhaseCodeFenceOpen
	PhaseCodeBody
	// only a trailing newline and the end of sequence remain
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "Start"
	case PhaseReasoningBody:
		return "ReasoningBody"
	case PhaseActionOpen:
		return "ActionOpen"
	case PhaseActionBody:
		return "ActionBody"
	case PhaseCodeFenceOpen:
		return "CodeFenceOpen"
	case PhaseCodeBody:
		return "CodeBody"
	case PhaseDone:
		return "Done"
	default:
		return "Unknown"
	}
}
