package constrain

import (
	"strings"

	"github.com/ollama/replagent/turn"
)

// Target is what the machine expects next.
type Target struct {
	Phase Phase

	// Literal must be generated next. It is empty while generation is free.
	Literal string

	// Matched is the length of the longest suffix of the text since Literal
	// was set that is also a prefix of Literal.
	Matched int
}

// Remaining is the part of Literal still to be generated.
func (t Target) Remaining() string {
	return t.Literal[t.Matched:]
}

// Machine tracks the phase of one turn from the text generated so far.
// Transitions are driven by searching the decoded text, not by token
// boundaries, since a token may straddle a marker.
type Machine struct {
	markup turn.Markup

	phase Phase

	// start is the offset where the markers of the current phase are
	// searched from, just past the previous marker
	start int

	literal   string
	literalAt int
}

func NewMachine(m turn.Markup) *Machine {
	return &Machine{markup: m}
}

func (m *Machine) Phase() Phase {
	return m.phase
}

// Advance moves through every transition text supports and returns the
// outstanding target. text must extend the text of the previous call.
// Calling Advance again with the same text returns the same target.
func (m *Machine) Advance(text string) Target {
	for m.step(text) {
	}

	if m.literal != "" && strings.Contains(text[m.literalAt:], m.literal) {
		m.literal = ""
	}

	return Target{
		Phase:   m.phase,
		Literal: m.literal,
		Matched: overlap(text[m.literalAt:], m.literal),
	}
}

// step applies at most one transition and reports whether it did
func (m *Machine) step(text string) bool {
	switch m.phase {
	case PhaseStart:
		m.transition(PhaseReasoningBody, 0, turn.ThoughtOpen)
	case PhaseReasoningBody:
		i := strings.Index(text[m.start:], turn.ThoughtOpen)
		if i < 0 {
			return false
		}

		open := m.start + i + len(turn.ThoughtOpen)
		j := strings.Index(text[open:], turn.ThoughtClose)
		if j < 0 {
			return false
		}

		m.transition(PhaseActionOpen, open+j+len(turn.ThoughtClose), "\n"+turn.ActionOpen)
	case PhaseActionOpen:
		i := strings.Index(text[m.start:], turn.ActionOpen)
		if i < 0 {
			return false
		}

		m.transition(PhaseActionBody, m.start+i+len(turn.ActionOpen), "")
	case PhaseActionBody:
		i := strings.Index(text[m.start:], turn.ActionClose)
		if i < 0 {
			return false
		}

		m.transition(PhaseCodeFenceOpen, m.start+i+len(turn.ActionClose), "\n"+m.markup.FenceOpen())
	case PhaseCodeFenceOpen:
		if fenceOpenIndex(text[m.start:], m.markup.FenceOpen()) < 0 {
			return false
		}

		// the block is scanned from the same offset, starting at the fence
		m.transition(PhaseCodeBody, m.start, "")
	case PhaseCodeBody:
		if !codeBlockClosed(text[m.start:], m.markup.FenceOpen()) {
			return false
		}

		literal := "\n"
		if strings.HasSuffix(text, "\n") {
			literal = ""
		}
		m.transition(PhaseDone, len(text), literal)
	default:
		return false
	}

	return true
}

func (m *Machine) transition(phase Phase, start int, literal string) {
	m.phase = phase
	m.start = start
	m.literal = literal
	m.literalAt = start
}

// codeBlockClosed reports whether s holds a code block that is legally
// closed: the first fence-close line after the first fence opening is
// preceded by at least one line with content. An empty block is not closed
// by its first fence-close line, and later lines are not considered.
func codeBlockClosed(s, fenceOpen string) bool {
	i := fenceOpenIndex(s, fenceOpen)
	if i < 0 {
		return false
	}

	content := false
	for line := range strings.SplitSeq(s[i+len(fenceOpen):], "\n") {
		if turn.IsFenceClose(line) {
			return content
		}

		if strings.TrimSpace(line) != "" {
			content = true
		}
	}

	return false
}

// fenceOpenIndex returns the offset of the first fenceOpen in s that starts a
// line, or -1. The start of s counts as the start of a line.
func fenceOpenIndex(s, fenceOpen string) int {
	for i := 0; ; {
		j := strings.Index(s[i:], fenceOpen)
		if j < 0 {
			return -1
		}

		if at := i + j; at == 0 || s[at-1] == '\n' {
			return at
		}
		i += j + 1
	}
}

// overlap returns the length of the longest suffix of s that is a proper
// prefix of literal
func overlap(s, literal string) int {
	for i := min(len(literal)-1, len(s)); i > 0; i-- {
		if strings.HasSuffix(s, literal[:i]) {
			return i
		}
	}
	return 0
}
