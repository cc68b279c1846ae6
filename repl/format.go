// Package repl turns the raw output of running a code fragment into the
// execution result recorded in a session.
package repl

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ollama/replagent/session"
)

// Output is the raw outcome of running one code fragment.
type Output struct {
	Stdout string
	Stderr string

	// Result is the representation of the value of the last expression,
	// empty when there is none.
	Result string
	// Display is rich output rendered as text, if any.
	Display string

	Success bool

	ErrorType    string
	ErrorMessage string
	Traceback    string
}

// Executor runs code fragments in a sandbox. Failures of the code itself are
// reported in Output; the error is for failures of the sandbox.
type Executor interface {
	Execute(ctx context.Context, code string) (Output, error)
}

var ansiEscape = regexp.MustCompile(`\x1b(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~])`)

// CleanText strips terminal escapes, normalizes line endings and trailing
// whitespace, and ends non-empty text with exactly one newline.
func CleanText(s string) string {
	if s == "" {
		return ""
	}

	s = ansiEscape.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\v\f")
	}

	s = strings.TrimRight(strings.Join(lines, "\n"), " \t\n\v\f")
	if s == "" {
		return ""
	}
	return s + "\n"
}

// Format returns the execution result for out. The output is the first of
// display, result, stdout and stderr that is set.
func Format(out Output) session.ExecutionResult {
	var output string
	switch {
	case out.Display != "":
		output = CleanText(out.Display)
	case out.Result != "":
		output = CleanText(out.Result)
	case out.Stdout != "":
		output = CleanText(out.Stdout)
	case out.Stderr != "":
		output = CleanText(out.Stderr)
	}

	result := session.ExecutionResult{Output: output, Success: out.Success}
	if !out.Success {
		result.Error = formatError(out)
	}
	return result
}

func formatError(out Output) string {
	var header string
	if out.ErrorType != "" {
		header = fmt.Sprintf("%s: %s\n", out.ErrorType, out.ErrorMessage)
	}

	tb := CleanText(out.Traceback)
	if strings.TrimSpace(tb) == "" {
		return header
	}
	return header + tb
}
