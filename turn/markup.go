package turn

import (
	"strings"
)

const (
	ThoughtOpen  = "<thought>"
	ThoughtClose = "</thought>"
	ActionOpen   = "<action>"
	ActionClose  = "</action>"

	Fence = "```"
)

// Markup holds the literals of one assistant turn:
//
//	<thought>...</thought>
//	<action>...</action>
//	```python
//	...
//	```
type Markup struct {
	// Language is the info string of the code fence.
	Language string
}

var DefaultMarkup = Markup{Language: "python"}

// FenceOpen returns the marker that opens the code block, including its
// trailing newline.
func (m Markup) FenceOpen() string {
	return Fence + m.Language + "\n"
}

// IsFenceClose reports whether line closes a fenced code block: up to three
// spaces of indentation, at least three backticks and nothing but whitespace
// after them.
func IsFenceClose(line string) bool {
	line = strings.TrimRight(line, " \t\r\n")

	indent := len(line) - len(strings.TrimLeft(line, " "))
	if indent > 3 {
		return false
	}

	line = line[indent:]
	return len(line) >= len(Fence) && strings.Trim(line, "`") == ""
}

// Format renders a canonical turn, the text a constrained generation of the
// same parts produces.
func Format(thought, action, code string, m Markup) string {
	var sb strings.Builder
	sb.WriteString(ThoughtOpen)
	sb.WriteString(thought)
	sb.WriteString(ThoughtClose)
	sb.WriteString("\n")
	sb.WriteString(ActionOpen)
	sb.WriteString(action)
	sb.WriteString(ActionClose)
	sb.WriteString("\n")
	sb.WriteString(m.FenceOpen())
	sb.WriteString(code)
	if !strings.HasSuffix(code, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString(Fence)
	sb.WriteString("\n")
	return sb.String()
}
