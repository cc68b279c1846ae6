package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollama/replagent/api"
	"github.com/ollama/replagent/history"
	"github.com/ollama/replagent/store"
	"github.com/ollama/replagent/turn"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewMemory()
	t.Cleanup(func() { st.Close() })

	s := NewServer(st, history.Options{System: "sys"})
	return s, s.GenerateRoutes()
}

func request(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != nil {
		bts, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(bts)
	}

	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), w.Body.String())
	return v
}

func ptr[T any](v T) *T {
	return &v
}

func TestRoot(t *testing.T) {
	_, h := newTestServer(t)

	w := request(t, h, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "replagent is running", w.Body.String())
}

func TestParseHandler(t *testing.T) {
	_, h := newTestServer(t)

	t.Run("ok", func(t *testing.T) {
		w := request(t, h, http.MethodPost, "/api/parse", api.ParseRequest{
			Text: turn.Format("think", "act", "print(1)", turn.DefaultMarkup),
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		resp := decode[api.ParseResponse](t, w)
		want := []api.Event{
			{Type: api.EventThought, Text: "think"},
			{Type: api.EventAction, Text: "act"},
			{Type: api.EventCode, Code: "print(1)"},
		}
		if diff := cmp.Diff(want, resp.Events); diff != "" {
			t.Errorf("events mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("no code", func(t *testing.T) {
		text := "<thought>t</thought>\n<action>a</action>\nnothing"
		w := request(t, h, http.MethodPost, "/api/parse", api.ParseRequest{Text: text})
		require.Equal(t, http.StatusBadRequest, w.Code)

		resp := decode[api.ErrorResponse](t, w)
		assert.Equal(t, turn.ErrNoCodeBlock.Error(), resp.Message)
		assert.Equal(t, text, resp.Text)
	})

	t.Run("bad json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/parse", strings.NewReader("{"))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestFlattenHandler(t *testing.T) {
	_, h := newTestServer(t)

	xml := `<session><events>
  <msg id="1" from="user">hi</msg>
  <msg id="2" from="assistant">hello</msg>
</events></session>`

	cases := []struct {
		name string
		req  api.FlattenRequest
		want []api.Message
	}{
		{
			name: "server default system",
			req:  api.FlattenRequest{XML: xml},
			want: []api.Message{
				{Role: api.RoleSystem, Content: "sys"},
				{Role: api.RoleUser, Content: "hi"},
				{Role: api.RoleAssistant, Content: "hello"},
			},
		},
		{
			name: "no system",
			req:  api.FlattenRequest{XML: xml, NoSystem: true},
			want: []api.Message{
				{Role: api.RoleUser, Content: "hi"},
				{Role: api.RoleAssistant, Content: "hello"},
			},
		},
		{
			name: "events with custom system",
			req: api.FlattenRequest{
				System: "custom",
				Events: []api.Event{
					{Type: api.EventHumanMsg, Text: "run"},
					{Type: api.EventThought, Text: "t"},
					{Type: api.EventAction, Text: "a"},
					{Type: api.EventCode, Code: "x"},
					{Type: api.EventExecutionResult, Output: "1\n", Success: ptr(true)},
				},
			},
			want: []api.Message{
				{Role: api.RoleSystem, Content: "custom"},
				{Role: api.RoleUser, Content: "run"},
				{Role: api.RoleAssistant, Content: "<thought>t</thought>\n<action>a</action>\n\n```python\nx\n```\n"},
				{Role: api.RoleUser, Content: "<output>1\n</output>"},
			},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			w := request(t, h, http.MethodPost, "/api/flatten", tt.req)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			resp := decode[api.FlattenResponse](t, w)
			if diff := cmp.Diff(tt.want, resp.Messages); diff != "" {
				t.Errorf("messages mismatch (-want +got):\n%s", diff)
			}
		})
	}

	t.Run("invalid turn", func(t *testing.T) {
		w := request(t, h, http.MethodPost, "/api/flatten", api.FlattenRequest{Events: []api.Event{
			{Type: api.EventHumanMsg, Text: "run"},
			{Type: api.EventThought, Text: "t"},
		}})
		require.Equal(t, http.StatusBadRequest, w.Code)

		resp := decode[api.ErrorResponse](t, w)
		assert.Contains(t, resp.Message, "no code block found")
		assert.Equal(t, "<thought>t</thought>", resp.Text)
	})

	t.Run("bad xml", func(t *testing.T) {
		w := request(t, h, http.MethodPost, "/api/flatten", api.FlattenRequest{XML: "<session><oops/></session>"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSessionLifecycle(t *testing.T) {
	_, h := newTestServer(t)

	w := request(t, h, http.MethodPost, "/api/sessions", api.CreateSessionRequest{Events: []api.Event{
		{ID: "u1", Type: api.EventHumanMsg, Text: "first"},
		{ID: "a1", Type: api.EventAssistantMsg, Text: "reply"},
	}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[api.SessionResponse](t, w)
	require.NotEmpty(t, created.ID)
	require.Len(t, created.Events, 2)

	base := "/api/sessions/" + created.ID

	w = request(t, h, http.MethodPost, base+"/events", api.AppendRequest{Events: []api.Event{
		{ID: "u2", Type: api.EventHumanMsg, Text: "second"},
		{ID: "a2", Type: api.EventAssistantMsg, Text: "again"},
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, decode[api.SessionResponse](t, w).Events, 4)

	w = request(t, h, http.MethodPost, base+"/events", api.AppendRequest{Events: []api.Event{
		{ID: "u1", Type: api.EventHumanMsg, Text: "dup"},
	}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = request(t, h, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[api.ListResponse](t, w)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, 4, list.Sessions[0].Events)

	w = request(t, h, http.MethodPost, base+"/resume", api.ResumeRequest{EventID: "a1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resumed := decode[api.SessionResponse](t, w)
	assert.Equal(t, created.Events, resumed.Events)

	w = request(t, h, http.MethodPost, base+"/resume", api.ResumeRequest{EventID: "zz"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = request(t, h, http.MethodGet, base+"/messages", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []api.Message{
		{Role: api.RoleSystem, Content: "sys"},
		{Role: api.RoleUser, Content: "first"},
		{Role: api.RoleAssistant, Content: "reply"},
	}, decode[api.FlattenResponse](t, w).Messages)

	w = request(t, h, http.MethodGet, base+"/xml", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/xml")
	assert.Contains(t, w.Body.String(), `<msg from="user" id="u1">first</msg>`)

	w = request(t, h, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.Events, decode[api.SessionResponse](t, w).Events)

	w = request(t, h, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = request(t, h, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = request(t, h, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateFromXML(t *testing.T) {
	_, h := newTestServer(t)

	w := request(t, h, http.MethodPost, "/api/sessions", api.CreateSessionRequest{
		XML: `<events><msg from="user">hi</msg><code>x = 1</code></events>`,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode[api.SessionResponse](t, w)
	require.Len(t, resp.Events, 2)
	assert.Equal(t, api.EventCode, resp.Events[1].Type)
	assert.Equal(t, "x = 1", resp.Events[1].Code)
}

func TestMetrics(t *testing.T) {
	_, h := newTestServer(t)

	request(t, h, http.MethodPost, "/api/parse", api.ParseRequest{Text: "no markup"})
	request(t, h, http.MethodPost, "/api/parse", api.ParseRequest{
		Text: turn.Format("t", "a", "c", turn.DefaultMarkup),
	})

	w := request(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, `replagent_parses_total{result="error"} 1`)
	assert.Contains(t, body, `replagent_parses_total{result="ok"} 1`)
	assert.Contains(t, body, `replagent_http_request_duration_seconds_count{method="POST",path="/api/parse",status_code="200"} 1`)
}

func TestCORS(t *testing.T) {
	_, h := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/parse", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCORSOrigins(t *testing.T) {
	got := corsOrigins([]string{"http://a", "app://b", "*", "chrome-extension://c", "file://d"})
	assert.Equal(t, []string{"http://a", "*", "chrome-extension://c"}, got)
}
