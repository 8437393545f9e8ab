package gemini

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/luxaar/luxaar/core/aichat"
	"github.com/luxaar/luxaar/services/ai/httpx"
)

var fastRetry = httpx.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

func TestProvider_Stream(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-1.5-flash:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		assert.Equal(t, "k", r.Header.Get("x-goog-api-key"))
		body, _ = io.ReadAll(r.Body)

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprint(w, `data: {"candidates":[{"content":{"parts":[{"text":"Go"},{"text":"routines"}],"role":"model"}}]}`+"\n\n")
		_, _ = fmt.Fprint(w, ": keep-alive\n\n")
		_, _ = fmt.Fprint(w, `data: {"candidates":[{"content":{"parts":[{"text":" are cheap."}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":12,"candidatesTokenCount":5}}`+"\n\n")
	}))
	defer srv.Close()

	p := NewWithClient(srv.URL, "k", srv.Client(), fastRetry)
	s, err := p.Stream(context.Background(), aichat.Request{
		Model:        "gemini-1.5-flash",
		SystemPrompt: "be brief",
		Temperature:  0.2,
		Messages: []aichat.ChatMessage{
			{Role: aichat.RoleUser, Content: "hi"},
			{Role: aichat.RoleAssistant, Content: "hello"},
			{Role: aichat.RoleUser, Content: "goroutines?"},
		},
	})
	require.NoError(t, err)
	defer s.Close()

	c, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "Goroutines", c.Text)

	c, err = s.Recv()
	require.NoError(t, err)
	assert.Equal(t, " are cheap.", c.Text)
	assert.Equal(t, 12, c.PromptTokens)
	assert.Equal(t, 5, c.CompletionTokens)

	_, err = s.Recv()
	assert.Equal(t, io.EOF, err)

	assert.Equal(t, "be brief", gjson.GetBytes(body, "systemInstruction.parts.0.text").String())
	assert.Equal(t, "model", gjson.GetBytes(body, "contents.1.role").String())
	assert.Equal(t, "goroutines?", gjson.GetBytes(body, "contents.2.parts.0.text").String())
	assert.Equal(t, 0.2, gjson.GetBytes(body, "generationConfig.temperature").Float())
}

func TestProvider_StreamErrors(t *testing.T) {
	_, err := NewWithClient("http://unused", "", http.DefaultClient, fastRetry).Stream(context.Background(), aichat.Request{})
	assert.Equal(t, ErrNoAPIKey, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `data: {"error":{"code":429,"message":"quota exceeded"}}`+"\n\n")
	}))
	defer srv.Close()

	s, err := NewWithClient(srv.URL, "k", srv.Client(), fastRetry).Stream(context.Background(), aichat.Request{Model: "m"})
	require.NoError(t, err)
	_, err = s.Recv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestProvider_Models(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models", r.URL.Path)
		_, _ = fmt.Fprint(w, `{"models":[
			{"name":"models/gemini-1.5-flash","supportedGenerationMethods":["generateContent","countTokens"]},
			{"name":"models/text-embedding-004","supportedGenerationMethods":["embedContent"]}
		]}`)
	}))
	defer srv.Close()

	p := NewWithClient(srv.URL, "k", srv.Client(), fastRetry)
	models, err := p.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gemini-1.5-flash"}, models)
	assert.NoError(t, p.Health(context.Background()))
}
