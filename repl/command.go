package repl

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Command runs every fragment in a new process that reads the code from
// standard input, such as "python3 -".
type Command struct {
	Name string
	Args []string

	// Timeout bounds a single run. Zero means no limit other than the
	// context.
	Timeout time.Duration
}

// NewCommand parses a command line like "python3 -".
func NewCommand(line string, timeout time.Duration) (*Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, errors.New("repl: empty command")
	}

	return &Command{Name: fields[0], Args: fields[1:], Timeout: timeout}, nil
}

func (c *Command) Execute(ctx context.Context, code string) (Output, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Stdin = strings.NewReader(code)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	slog.Debug("executed code", "command", c.Name, "bytes", len(code), "duration", time.Since(start), "error", err)

	out := Output{
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
		Success: err == nil,
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		out.ErrorType = "TimeoutError"
		out.ErrorMessage = "execution timed out after " + c.Timeout.String()
	case errors.As(err, &exitErr):
		out.ErrorType = "ExitError"
		out.ErrorMessage = exitErr.Error()
		out.Traceback = out.Stderr
	default:
		// the process could not run at all
		return Output{}, err
	}

	return out, nil
}
