package echoapi_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/aichat"
)

type scriptedStream struct {
	parts []string
}

func (s *scriptedStream) Recv() (aichat.Chunk, error) {
	if len(s.parts) == 0 {
		return aichat.Chunk{}, io.EOF
	}
	p := s.parts[0]
	s.parts = s.parts[1:]
	return aichat.Chunk{Text: p}, nil
}

func (s *scriptedStream) Close() error { return nil }

type scriptedProvider struct {
	name  string
	parts []string
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Stream(context.Context, aichat.Request) (aichat.Stream, error) {
	return &scriptedStream{parts: append([]string(nil), p.parts...)}, nil
}

func (p *scriptedProvider) Health(context.Context) error { return nil }

func (p *scriptedProvider) Models(context.Context) ([]string, error) {
	return []string{p.name + "-small"}, nil
}

type sseEvent struct {
	event string
	data  string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var (
		events []sseEvent
		cur    sseEvent
	)
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "" && cur.event != "":
			events = append(events, cur)
			cur = sseEvent{}
		}
	}
	require.NoError(t, sc.Err())
	return events
}

func Test_aichatApi_chat(t *testing.T) {
	a := newApp(t, &scriptedProvider{name: aichat.ProviderGemini, parts: []string{"Goroutines ", "are ", "cheap."}})
	student := a.Student(t, "bob")
	token := a.token(t, student)

	rec := a.do(http.MethodPost, "/v1/ai/chat", token, marchallObj(t, aichat.ChatRequest{Message: "What is a goroutine?"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := parseSSE(t, rec.Body.String())
	require.Len(t, events, 5)
	assert.Equal(t, aichat.EventSession, events[0].event)
	var tokens []string
	for _, ev := range events[1:4] {
		assert.Equal(t, aichat.EventToken, ev.event)
		var s string
		require.NoError(t, json.Unmarshal([]byte(ev.data), &s))
		tokens = append(tokens, s)
	}
	assert.Equal(t, "Goroutines are cheap.", strings.Join(tokens, ""))
	assert.Equal(t, aichat.EventDone, events[4].event)

	var m aichat.Metrics
	require.NoError(t, json.Unmarshal([]byte(events[4].data), &m))
	assert.Equal(t, aichat.ProviderGemini, m.Provider)
	assert.Equal(t, 3, m.CompletionTokens)

	var sess aichat.Session
	require.NoError(t, json.Unmarshal([]byte(events[0].data), &sess))
	path := "/v1/ai/sessions/" + sess.ID

	rec = a.do(http.MethodGet, path, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "What is a goroutine?", field(rec, "title").String())
	assert.Equal(t, aichat.StatusComplete, field(rec, "status").String())
	assert.Equal(t, int64(2), field(rec, "messages.#").Int())
	assert.Equal(t, "Goroutines are cheap.", field(rec, "messages.1.content").String())

	// follow up in the same session
	rec = a.do(http.MethodPost, "/v1/ai/chat", token, marchallObj(t, aichat.ChatRequest{SessionID: sess.ID, Message: "And channels?"}))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(http.MethodGet, path, token)
	assert.Equal(t, int64(4), field(rec, "messages.#").Int())

	other := a.token(t, a.Student(t, "eve"))
	a.run(t, []httpTest{
		{name: "empty message", method: http.MethodPost, path: "/v1/ai/chat", token: token, body: marchallObj(t, aichat.ChatRequest{}), wantCode: http.StatusBadRequest},
		{name: "list", path: "/v1/ai/sessions", token: token},
		{name: "others cannot read", path: path, token: other, wantCode: http.StatusNotFound},
		{name: "others cannot continue", method: http.MethodPost, path: "/v1/ai/chat", token: other,
			body: marchallObj(t, aichat.ChatRequest{SessionID: sess.ID, Message: "hi"}), wantCode: http.StatusNotFound},
		{name: "others cannot delete", method: http.MethodDelete, path: path, token: other, wantCode: http.StatusNotFound},
		{name: "delete", method: http.MethodDelete, path: path, token: token, wantCode: http.StatusNoContent},
		{name: "deleted", path: path, token: token, wantCode: http.StatusNotFound},
		{name: "health", path: "/v1/ai/health", token: token},
		{name: "models", path: "/v1/ai/models", token: token, wantData: []byte(`{"gemini":["gemini-small"]}`)},
		{name: "settings are admin only", path: "/v1/ai/settings", token: token, wantCode: http.StatusForbidden},
	})
}

func Test_aichatApi_noProvider(t *testing.T) {
	a := newApp(t)
	token := a.token(t, a.Student(t, "bob"))

	rec := a.do(http.MethodPost, "/v1/ai/chat", token, marchallObj(t, aichat.ChatRequest{Message: "hello?"}))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json; charset=UTF-8", rec.Header().Get("Content-Type"))
}

func Test_aichatApi_rateLimit(t *testing.T) {
	a := newAppWithConf(t, func(conf *core.Config) { conf.AI.RatePerMinute = 2 },
		&scriptedProvider{name: aichat.ProviderOllama, parts: []string{"ok"}})
	bob, eve := a.token(t, a.Student(t, "bob")), a.token(t, a.Student(t, "eve"))
	body := marchallObj(t, aichat.ChatRequest{Message: "hi"})

	a.run(t, []httpTest{
		{name: "1st", method: http.MethodPost, path: "/v1/ai/chat", token: bob, body: body},
		{name: "2nd", method: http.MethodPost, path: "/v1/ai/chat", token: bob, body: body},
		{name: "3rd is limited", method: http.MethodPost, path: "/v1/ai/chat", token: bob, body: body, wantCode: http.StatusTooManyRequests},
		{name: "limits are per user", method: http.MethodPost, path: "/v1/ai/chat", token: eve, body: body},
	})
}

func Test_aichatApi_settings(t *testing.T) {
	a := newApp(t)
	admin := a.Admin(t, "ada")
	token := a.token(t, admin)

	rec := a.do(http.MethodGet, "/v1/ai/settings", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, a.Conf.AI.GeminiModel, field(rec, "gemini_model").String())

	provider := aichat.ProviderOllama
	rec = a.do(http.MethodPut, "/v1/ai/settings", token, marchallObj(t, aichat.UpdateSettings{Provider: &provider}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, provider, field(rec, "provider").String())
	assert.Equal(t, admin.ID, field(rec, "updated_by").String())

	bad := "openai"
	rec = a.do(http.MethodPut, "/v1/ai/settings", token, marchallObj(t, aichat.UpdateSettings{Provider: &bad}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
