// Package ollama streams answers from a local Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/aichat"
	"github.com/luxaar/luxaar/services/ai/httpx"
)

type Provider struct {
	baseURL string
	client  *http.Client
	retry   httpx.RetryConfig
}

var _ aichat.Provider = (*Provider)(nil)

func New(conf *core.Config) *Provider {
	return &Provider{
		baseURL: conf.AI.OllamaBaseURL,
		client:  httpx.NewClient(conf.AI.RequestTimeout),
		retry:   httpx.DefaultRetryConfig(),
	}
}

func NewWithClient(baseURL string, client *http.Client, retry httpx.RetryConfig) *Provider {
	return &Provider{baseURL: strings.TrimRight(baseURL, "/"), client: client, retry: retry}
}

func (p *Provider) Name() string { return aichat.ProviderOllama }

type (
	message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	chatRequest struct {
		Model    string                 `json:"model"`
		Messages []message              `json:"messages"`
		Stream   bool                   `json:"stream"`
		Options  map[string]interface{} `json:"options,omitempty"`
	}
)

func buildBody(req aichat.Request) ([]byte, error) {
	cr := chatRequest{
		Model:    req.Model,
		Messages: make([]message, 0, len(req.Messages)+1),
		Stream:   true,
		Options:  map[string]interface{}{"temperature": req.Temperature},
	}
	if req.SystemPrompt != "" {
		cr.Messages = append(cr.Messages, message{Role: "system", Content: req.SystemPrompt})
	}
	for _, msg := range req.Messages {
		cr.Messages = append(cr.Messages, message{Role: msg.Role, Content: msg.Content})
	}
	return json.Marshal(cr)
}

func (p *Provider) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (p *Provider) Stream(ctx context.Context, req aichat.Request) (aichat.Stream, error) {
	body, err := buildBody(req)
	if err != nil {
		return nil, errors.Wrap(err, "encoding ollama request")
	}
	resp, err := httpx.Open(ctx, p.client, func(ctx context.Context) (*http.Request, error) {
		return p.newRequest(ctx, http.MethodPost, "/api/chat", body)
	}, p.retry)
	if err != nil {
		return nil, err
	}
	return &stream{lines: httpx.NewLineReader(resp.Body)}, nil
}

// stream decodes newline delimited JSON objects until one reports done.
type stream struct {
	lines *httpx.LineReader
	done  bool
}

func (s *stream) Recv() (aichat.Chunk, error) {
	if s.done {
		return aichat.Chunk{}, io.EOF
	}
	line, err := s.lines.Next()
	if err == io.EOF {
		return aichat.Chunk{}, io.ErrUnexpectedEOF
	}
	if err != nil {
		return aichat.Chunk{}, err
	}
	if !gjson.ValidBytes(line) {
		return aichat.Chunk{}, errors.Errorf("ollama: malformed line %q", line)
	}

	res := gjson.ParseBytes(line)
	if msg := res.Get("error"); msg.Exists() {
		return aichat.Chunk{}, errors.New("ollama: " + msg.String())
	}
	c := aichat.Chunk{Text: res.Get("message.content").String()}
	if res.Get("done").Bool() {
		s.done = true
		c.PromptTokens = int(res.Get("prompt_eval_count").Int())
		c.CompletionTokens = int(res.Get("eval_count").Int())
	}
	return c, nil
}

func (s *stream) Close() error {
	return s.lines.Close()
}

func (p *Provider) get(ctx context.Context, path string) ([]byte, error) {
	return httpx.Do(ctx, p.client, func(ctx context.Context) (*http.Request, error) {
		return p.newRequest(ctx, http.MethodGet, path, nil)
	}, p.retry)
}

func (p *Provider) Health(ctx context.Context) error {
	body, err := p.get(ctx, "/api/version")
	if err != nil {
		return err
	}
	if !gjson.GetBytes(body, "version").Exists() {
		return errors.New("ollama: unexpected version response")
	}
	return nil
}

// Models lists the locally pulled models.
func (p *Provider) Models(ctx context.Context) ([]string, error) {
	body, err := p.get(ctx, "/api/tags")
	if err != nil {
		return nil, err
	}
	names := gjson.GetBytes(body, "models.#.name").Array()
	models := make([]string, 0, len(names))
	for _, n := range names {
		models = append(models, n.String())
	}
	return models, nil
}
