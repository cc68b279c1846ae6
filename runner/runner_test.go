package runner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ollama/replagent/api"
	"github.com/ollama/replagent/session"
	"github.com/ollama/replagent/turn"
	"github.com/ollama/replagent/vocab"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testVocab(t *testing.T) *vocab.Index {
	t.Helper()

	values := []string{
		"<eos>",
		"<", ">", "/", "\n", " ", "`", "(", ")", "1",
		"<thought>", "</thought>", "<action>", "</action>",
		"```", "```python\n", "print",
	}
	for c := 'a'; c <= 'z'; c++ {
		values = append(values, string(c))
	}

	v, err := vocab.New(values, 0)
	require.NoError(t, err)
	return v
}

// intentModel scores highest the longest token continuing intent and the
// end-of-sequence token once intent is written.
type intentModel struct {
	v      *vocab.Index
	intent string
	calls  int
	err    error
}

func (m *intentModel) Logits(ctx context.Context, messages []api.Message, generated []int32) ([]float32, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}

	logits := make([]float32, m.v.Len())
	rest, ok := strings.CutPrefix(m.intent, m.v.DecodeAll(generated))
	if !ok {
		return logits, nil
	}

	if rest == "" {
		logits[m.v.EOS()] = 200
		return logits, nil
	}

	for i := range logits {
		if s := m.v.Decode(int32(i)); s != "" && strings.HasPrefix(rest, s) {
			logits[i] = 100 + float32(len(s))
		}
	}
	return logits, nil
}

func greedy() api.Options {
	opts := api.DefaultOptions()
	opts.Temperature = 0
	return opts
}

func TestGenerate(t *testing.T) {
	v := testVocab(t)
	intent := turn.Format("hi", "do it", "print(1)", turn.DefaultMarkup)
	model := &intentModel{v: v, intent: intent}

	r := New(model, v, turn.DefaultMarkup, greedy())
	text, err := r.Generate(t.Context(), []api.Message{{Role: api.RoleUser, Content: "print one"}})
	require.NoError(t, err)
	assert.Equal(t, intent, text)

	events, err := turn.Parse(text)
	require.NoError(t, err)
	assert.Equal(t, []session.EventBody{
		session.AssistantThought{Text: "hi"},
		session.AssistantAction{Text: "do it"},
		session.CodeFragment{Code: "print(1)"},
	}, events)
}

func TestGenerateMasksModel(t *testing.T) {
	v := testVocab(t)
	// the model wants to stop right away, the markup does not allow it
	model := &intentModel{v: v, intent: ""}

	opts := greedy()
	opts.NumPredict = 1
	r := New(model, v, turn.DefaultMarkup, opts)

	text, err := r.Generate(t.Context(), nil)
	require.ErrorIs(t, err, ErrLimitReached)
	assert.True(t, strings.HasPrefix("<thought>", text), text)
	assert.NotEmpty(t, text)
}

func TestGenerateLimit(t *testing.T) {
	v := testVocab(t)
	model := &intentModel{v: v, intent: turn.Format("hi", "a", "b", turn.DefaultMarkup)}

	opts := greedy()
	opts.NumPredict = 3
	r := New(model, v, turn.DefaultMarkup, opts)

	text, err := r.Generate(t.Context(), nil)
	require.ErrorIs(t, err, ErrLimitReached)
	assert.Equal(t, "<thought>hi", text)
	assert.Equal(t, 3, model.calls)
}

func TestGenerateCanceled(t *testing.T) {
	v := testVocab(t)
	model := &intentModel{v: v, intent: "<thought>x"}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := New(model, v, turn.DefaultMarkup, greedy()).Generate(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, model.calls)
}

func TestGenerateModelError(t *testing.T) {
	v := testVocab(t)
	boom := errors.New("boom")
	model := &intentModel{v: v, err: boom}

	_, err := New(model, v, turn.DefaultMarkup, greedy()).Generate(t.Context(), nil)
	require.ErrorIs(t, err, boom)
}

type shortModel struct{}

func (shortModel) Logits(context.Context, []api.Message, []int32) ([]float32, error) {
	return []float32{0}, nil
}

func TestGenerateLogitsLength(t *testing.T) {
	v := testVocab(t)
	_, err := New(shortModel{}, v, turn.DefaultMarkup, greedy()).Generate(t.Context(), nil)
	require.ErrorContains(t, err, "logits")
}

func TestGenerateSampled(t *testing.T) {
	v := testVocab(t)
	intent := turn.Format("ok", "go", "print(1)", turn.DefaultMarkup)

	opts := api.DefaultOptions()
	opts.Seed = 3
	opts.NumPredict = 0
	model := &intentModel{v: v, intent: intent}

	text, err := New(model, v, turn.DefaultMarkup, opts).Generate(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, intent, text)
}
