// Package gemini streams answers from the Google Gemini REST API.
package gemini

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

var ErrNoAPIKey = errors.New("gemini api key is not configured")

type Provider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	retry   httpx.RetryConfig
}

var _ aichat.Provider = (*Provider)(nil)

func New(conf *core.Config) *Provider {
	return &Provider{
		baseURL: conf.AI.GeminiBaseURL,
		apiKey:  conf.AI.GeminiAPIKey,
		client:  httpx.NewClient(conf.AI.RequestTimeout),
		retry:   httpx.DefaultRetryConfig(),
	}
}

// NewWithClient is New against an explicit endpoint and client.
func NewWithClient(baseURL, apiKey string, client *http.Client, retry httpx.RetryConfig) *Provider {
	return &Provider{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: client, retry: retry}
}

func (p *Provider) Name() string { return aichat.ProviderGemini }

type (
	part struct {
		Text string `json:"text"`
	}

	content struct {
		Role  string `json:"role,omitempty"`
		Parts []part `json:"parts"`
	}

	generateRequest struct {
		Contents          []content        `json:"contents"`
		SystemInstruction *content         `json:"systemInstruction,omitempty"`
		GenerationConfig  generationConfig `json:"generationConfig"`
	}

	generationConfig struct {
		Temperature float64 `json:"temperature"`
	}
)

func buildBody(req aichat.Request) ([]byte, error) {
	gr := generateRequest{
		Contents:         make([]content, 0, len(req.Messages)),
		GenerationConfig: generationConfig{Temperature: req.Temperature},
	}
	if req.SystemPrompt != "" {
		gr.SystemInstruction = &content{Parts: []part{{Text: req.SystemPrompt}}}
	}
	for _, msg := range req.Messages {
		role := "user"
		if msg.Role == aichat.RoleAssistant {
			role = "model"
		}
		gr.Contents = append(gr.Contents, content{Role: role, Parts: []part{{Text: msg.Content}}})
	}
	return json.Marshal(gr)
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
	req.Header.Set("x-goog-api-key", p.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (p *Provider) Stream(ctx context.Context, req aichat.Request) (aichat.Stream, error) {
	if p.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	body, err := buildBody(req)
	if err != nil {
		return nil, errors.Wrap(err, "encoding gemini request")
	}
	path := "/v1beta/models/" + req.Model + ":streamGenerateContent?alt=sse"
	resp, err := httpx.Open(ctx, p.client, func(ctx context.Context) (*http.Request, error) {
		return p.newRequest(ctx, http.MethodPost, path, body)
	}, p.retry)
	if err != nil {
		return nil, err
	}
	return &stream{lines: httpx.NewLineReader(resp.Body)}, nil
}

// stream decodes server-sent events: each `data:` line holds one GenerateContentResponse.
type stream struct {
	lines *httpx.LineReader
}

func (s *stream) Recv() (aichat.Chunk, error) {
	for {
		line, err := s.lines.Next()
		if err != nil {
			return aichat.Chunk{}, err
		}
		data, ok := bytes.CutPrefix(line, []byte("data:"))
		if !ok {
			continue // event names, comments, ids
		}
		data = bytes.TrimSpace(data)
		if len(data) == 0 || string(data) == "[DONE]" {
			continue
		}
		return parseEvent(data)
	}
}

func (s *stream) Close() error {
	return s.lines.Close()
}

func parseEvent(data []byte) (aichat.Chunk, error) {
	if !gjson.ValidBytes(data) {
		return aichat.Chunk{}, errors.Errorf("gemini: malformed event %q", data)
	}
	res := gjson.ParseBytes(data)
	if msg := res.Get("error.message"); msg.Exists() {
		return aichat.Chunk{}, errors.New("gemini: " + msg.String())
	}
	if reason := res.Get("promptFeedback.blockReason"); reason.Exists() {
		return aichat.Chunk{}, errors.New("gemini: prompt blocked: " + reason.String())
	}

	var text strings.Builder
	for _, t := range res.Get("candidates.0.content.parts.#.text").Array() {
		text.WriteString(t.String())
	}
	return aichat.Chunk{
		Text:             text.String(),
		PromptTokens:     int(res.Get("usageMetadata.promptTokenCount").Int()),
		CompletionTokens: int(res.Get("usageMetadata.candidatesTokenCount").Int()),
	}, nil
}

func (p *Provider) listModels(ctx context.Context) ([]byte, error) {
	if p.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return httpx.Do(ctx, p.client, func(ctx context.Context) (*http.Request, error) {
		return p.newRequest(ctx, http.MethodGet, "/v1beta/models?pageSize=100", nil)
	}, p.retry)
}

func (p *Provider) Health(ctx context.Context) error {
	_, err := p.listModels(ctx)
	return err
}

// Models lists the models that support streaming generation.
func (p *Provider) Models(ctx context.Context) ([]string, error) {
	body, err := p.listModels(ctx)
	if err != nil {
		return nil, err
	}
	names := gjson.GetBytes(body, `models.#(supportedGenerationMethods.#(=="generateContent"))#.name`).Array()
	models := make([]string, 0, len(names))
	for _, n := range names {
		models = append(models, strings.TrimPrefix(n.String(), "models/"))
	}
	return models, nil
}
