package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollama/replagent/api"
	"github.com/ollama/replagent/envconfig"
	"github.com/ollama/replagent/session"
	"github.com/ollama/replagent/turn"
)

// isolate keeps the user's environment and configuration file out of a test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, k := range []string{"REPLAGENT_LANGUAGE", "REPLAGENT_SYSTEM_PROMPT", "REPLAGENT_DEBUG", "REPLAGENT_LOG_FILE"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	envconfig.ReloadConfig()
	t.Cleanup(envconfig.ReloadConfig)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cli := NewCLI()
	cli.SetArgs(args)
	cli.SetOut(&out)
	cli.SetErr(io.Discard)
	err := cli.ExecuteContext(t.Context())
	return out.String(), err
}

func writeSession(t *testing.T, dir string) string {
	t.Helper()

	s := &session.Session{}
	for _, e := range []session.Event{
		{ID: "u1", Body: session.HumanMsg{Text: "list the files"}},
		{ID: "t1", Body: session.AssistantThought{Text: "use os"}},
		{ID: "a1", Body: session.AssistantAction{Text: "list"}},
		{ID: "c1", Body: session.CodeFragment{Code: "print(os.listdir())"}},
		{ID: "r1", Body: session.ExecutionResult{Output: "['a.txt']\n", Success: true}},
	} {
		_, err := s.Append(e.ID, e.Body)
		require.NoError(t, err)
	}

	path := filepath.Join(dir, "session.xml")
	require.NoError(t, session.WriteFile(path, s))
	return path
}

func TestParse(t *testing.T) {
	isolate(t)

	path := filepath.Join(t.TempDir(), "turn.txt")
	text := turn.Format("look around", "list files", "print(1)", turn.DefaultMarkup)
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))

	out, err := run(t, "parse", path)
	require.NoError(t, err)

	var resp api.ParseResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Events, 3)
	assert.Equal(t, api.Event{Type: api.EventThought, Text: "look around"}, resp.Events[0])
	assert.Equal(t, api.Event{Type: api.EventAction, Text: "list files"}, resp.Events[1])
	assert.Equal(t, api.EventCode, resp.Events[2].Type)
	assert.Equal(t, "print(1)", strings.TrimSpace(resp.Events[2].Code))
}

func TestParseInvalid(t *testing.T) {
	isolate(t)

	path := filepath.Join(t.TempDir(), "turn.txt")
	require.NoError(t, os.WriteFile(path, []byte("just talking"), 0o644))

	_, err := run(t, "parse", path)
	var perr *turn.ParseError
	assert.True(t, errors.As(err, &perr), "got %v", err)
}

func TestShow(t *testing.T) {
	isolate(t)

	out, err := run(t, "show", writeSession(t, t.TempDir()))
	require.NoError(t, err)

	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "CONTENT")
	for _, s := range []string{"u1", "human_msg", "list the files", "c1", "print(os.listdir())", "result"} {
		assert.Contains(t, out, s)
	}
}

func TestFlatten(t *testing.T) {
	isolate(t)

	out, err := run(t, "flatten", "--no-system", writeSession(t, t.TempDir()))
	require.NoError(t, err)

	var resp api.FlattenResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Messages, 3)
	assert.Equal(t, api.Message{Role: api.RoleUser, Content: "list the files"}, resp.Messages[0])
	assert.Equal(t, api.RoleAssistant, resp.Messages[1].Role)
	assert.Contains(t, resp.Messages[1].Content, "```python\n")
	assert.Equal(t, api.Message{Role: api.RoleUser, Content: "<output>['a.txt']\n</output>"}, resp.Messages[2])
}

func TestFlattenSystem(t *testing.T) {
	isolate(t)

	dir := t.TempDir()
	prompt := filepath.Join(dir, "prompt.txt")
	require.NoError(t, os.WriteFile(prompt, []byte("be brief"), 0o644))

	out, err := run(t, "flatten", "--system", prompt, "--language", "py", writeSession(t, dir))
	require.NoError(t, err)

	var resp api.FlattenResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Messages, 4)
	assert.Equal(t, api.Message{Role: api.RoleSystem, Content: "be brief"}, resp.Messages[0])
	assert.Contains(t, resp.Messages[2].Content, "```py\n")
}

func TestResume(t *testing.T) {
	isolate(t)

	t.Run("record", func(t *testing.T) {
		path := writeSession(t, t.TempDir())

		_, err := run(t, "resume", path, "u1")
		require.NoError(t, err)

		s, err := session.ReadFile(path)
		require.NoError(t, err)
		require.Len(t, s.Events, 6)
		assert.Equal(t, session.ResumeFrom{TargetEventID: "u1"}, s.Events[5].Body)
	})

	t.Run("apply", func(t *testing.T) {
		dir := t.TempDir()
		path := writeSession(t, dir)
		out := filepath.Join(dir, "out.xml")

		_, err := run(t, "resume", "--apply", "-o", out, path, "t1")
		require.NoError(t, err)

		s, err := session.ReadFile(out)
		require.NoError(t, err)
		require.Len(t, s.Events, 2)
		assert.Equal(t, "t1", s.Events[1].ID)

		// the input is left alone
		orig, err := session.ReadFile(path)
		require.NoError(t, err)
		assert.Len(t, orig.Events, 5)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := run(t, "resume", writeSession(t, t.TempDir()), "nope")
		assert.ErrorContains(t, err, `"nope" not found`)
	})
}

func TestDataset(t *testing.T) {
	isolate(t)

	dir := t.TempDir()
	writeSession(t, dir)
	out := filepath.Join(t.TempDir(), "data.jsonl")

	_, err := run(t, "dataset", "--no-system", "-o", out, dir)
	require.NoError(t, err)

	bts, err := os.ReadFile(out)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(bts)), "\n")
	require.Len(t, lines, 1)

	var record struct {
		File          string        `json:"file"`
		Conversations []api.Message `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	assert.Len(t, record.Conversations, 3)
}

func TestConfig(t *testing.T) {
	isolate(t)

	out, err := run(t, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "[server]")
	assert.Contains(t, out, "[sessions]")

	t.Setenv("REPLAGENT_LANGUAGE", "ruby")
	out, err = run(t, "config", "--env")
	require.NoError(t, err)
	assert.Contains(t, out, "REPLAGENT_HOST")
	assert.Contains(t, out, "ruby")
}

func TestArgs(t *testing.T) {
	isolate(t)

	_, err := run(t, "show")
	assert.Error(t, err)

	_, err = run(t, "resume", "only-one")
	assert.Error(t, err)
}
