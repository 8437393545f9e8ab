package ollama

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
		assert.Equal(t, "/api/chat", r.URL.Path)
		body, _ = io.ReadAll(r.Body)
		_, _ = fmt.Fprintln(w, `{"model":"llama3.2","message":{"role":"assistant","content":"Chan"},"done":false}`)
		_, _ = fmt.Fprintln(w, `{"model":"llama3.2","message":{"role":"assistant","content":"nels"},"done":false}`)
		_, _ = fmt.Fprintln(w, `{"model":"llama3.2","message":{"role":"assistant","content":""},"done":true,"prompt_eval_count":9,"eval_count":2}`)
	}))
	defer srv.Close()

	p := NewWithClient(srv.URL, srv.Client(), fastRetry)
	s, err := p.Stream(context.Background(), aichat.Request{
		Model:        "llama3.2",
		SystemPrompt: "tutor",
		Messages:     []aichat.ChatMessage{{Role: aichat.RoleUser, Content: "channels?"}},
	})
	require.NoError(t, err)
	defer s.Close()

	var text string
	var last aichat.Chunk
	for {
		c, err := s.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		text += c.Text
		last = c
	}
	assert.Equal(t, "Channels", text)
	assert.Equal(t, 9, last.PromptTokens)
	assert.Equal(t, 2, last.CompletionTokens)

	assert.True(t, gjson.GetBytes(body, "stream").Bool())
	assert.Equal(t, "system", gjson.GetBytes(body, "messages.0.role").String())
	assert.Equal(t, "channels?", gjson.GetBytes(body, "messages.1.content").String())
}

func TestProvider_StreamTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintln(w, `{"message":{"content":"partial"},"done":false}`)
	}))
	defer srv.Close()

	s, err := NewWithClient(srv.URL, srv.Client(), fastRetry).Stream(context.Background(), aichat.Request{Model: "m"})
	require.NoError(t, err)
	c, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "partial", c.Text)
	_, err = s.Recv()
	assert.Equal(t, io.ErrUnexpectedEOF, err)
}

func TestProvider_StreamModelMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = fmt.Fprint(w, `{"error":"model \"m\" not found, try pulling it first"}`)
	}))
	defer srv.Close()

	_, err := NewWithClient(srv.URL, srv.Client(), fastRetry).Stream(context.Background(), aichat.Request{Model: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestProvider_HealthAndModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/version":
			_, _ = fmt.Fprint(w, `{"version":"0.3.12"}`)
		case "/api/tags":
			_, _ = fmt.Fprint(w, `{"models":[{"name":"llama3.2:latest"},{"name":"qwen2.5:7b"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewWithClient(srv.URL, srv.Client(), fastRetry)
	assert.NoError(t, p.Health(context.Background()))
	models, err := p.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3.2:latest", "qwen2.5:7b"}, models)

	srv.Close()
	assert.Error(t, p.Health(context.Background()))
}
