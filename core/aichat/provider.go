package aichat

import (
	"context"
	"io"

	"github.com/pkg/errors"
)

var (
	ErrNoProvider      = errors.New("no AI provider available")
	ErrUnknownProvider = errors.New("unknown AI provider")
)

type (
	// Request is a provider-agnostic completion request.
	Request struct {
		Model        string
		SystemPrompt string
		Temperature  float64
		Messages     []ChatMessage
	}

	// Chunk is one streamed piece of an answer. Token counts are set when the provider reports them.
	Chunk struct {
		Text             string
		PromptTokens     int
		CompletionTokens int
	}

	// Stream yields chunks until Recv returns io.EOF. Cancelling the context that opened it aborts it.
	Stream interface {
		Recv() (Chunk, error)
		Close() error
	}

	Provider interface {
		Name() string
		Stream(ctx context.Context, req Request) (Stream, error)
		Health(ctx context.Context) error
		Models(ctx context.Context) ([]string, error)
	}

	// StreamObserver receives stream metrics (prometheus in production).
	StreamObserver interface {
		ObserveStream(status string, m Metrics)
		ObserveFallback(from, to string, err error)
	}
)

// Router picks providers by setting and falls back to the next one while nothing has been emitted yet.
type Router struct {
	providers map[string]Provider
	observer  StreamObserver
}

func NewRouter(observer StreamObserver, providers ...Provider) *Router {
	r := &Router{providers: make(map[string]Provider, len(providers)), observer: observer}
	for _, p := range providers {
		if p != nil {
			r.providers[p.Name()] = p
		}
	}
	return r
}

func (r *Router) Provider(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Names lists the registered providers in fallback order.
func (r *Router) Names() []string {
	names := make([]string, 0, len(r.providers))
	for _, name := range []string{ProviderGemini, ProviderOllama} {
		if _, ok := r.providers[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// order returns the providers to try for a setting: auto means gemini then ollama.
func (r *Router) order(setting string) ([]Provider, error) {
	var names []string
	switch setting {
	case ProviderAuto, "":
		names = []string{ProviderGemini, ProviderOllama}
	case ProviderGemini, ProviderOllama:
		names = []string{setting}
	default:
		return nil, errors.Wrap(ErrUnknownProvider, setting)
	}

	ps := make([]Provider, 0, len(names))
	for _, name := range names {
		if p, ok := r.providers[name]; ok {
			ps = append(ps, p)
		}
	}
	if len(ps) == 0 {
		return nil, ErrNoProvider
	}
	return ps, nil
}

// RoutedStream is a Stream opened on a concrete provider. The first chunk was read during routing.
type RoutedStream struct {
	Stream
	Provider string
	Model    string
	FellBack bool

	first    *Chunk
	firstErr error
}

func (s *RoutedStream) Recv() (Chunk, error) {
	if s.first != nil {
		c := *s.first
		s.first = nil
		return c, nil
	}
	if s.firstErr != nil {
		err := s.firstErr
		s.firstErr = nil
		return Chunk{}, err
	}
	return s.Stream.Recv()
}

// Open starts a stream following settings. A provider that fails to open, or fails before its first
// text chunk, is skipped in favor of the next one. Once text is available no other provider is tried.
func (r *Router) Open(ctx context.Context, settings Settings, req Request) (*RoutedStream, error) {
	ps, err := r.order(settings.Provider)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for i, p := range ps {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if i > 0 && r.observer != nil {
			r.observer.ObserveFallback(ps[i-1].Name(), p.Name(), lastErr)
		}

		preq := req
		preq.Model = settings.ModelFor(p.Name())
		stream, err := p.Stream(ctx, preq)
		if err != nil {
			lastErr = errors.Wrapf(err, "opening %s stream", p.Name())
			continue
		}

		rs := &RoutedStream{Stream: stream, Provider: p.Name(), Model: preq.Model, FellBack: i > 0}
		first, err := firstText(stream)
		switch {
		case err == nil:
			rs.first = &first
			return rs, nil
		case err == io.EOF:
			// an empty answer is still an answer
			rs.firstErr = io.EOF
			return rs, nil
		case ctx.Err() != nil:
			_ = stream.Close()
			return nil, ctx.Err()
		default:
			_ = stream.Close()
			lastErr = errors.Wrapf(err, "reading %s stream", p.Name())
		}
	}
	return nil, errors.Wrap(ErrNoProvider, lastErr.Error())
}

// firstText reads until a chunk carrying text, keeping usage-only chunks' counts.
func firstText(stream Stream) (Chunk, error) {
	var acc Chunk
	for {
		c, err := stream.Recv()
		if err != nil {
			return Chunk{}, err
		}
		if c.PromptTokens > 0 {
			acc.PromptTokens = c.PromptTokens
		}
		if c.CompletionTokens > 0 {
			acc.CompletionTokens = c.CompletionTokens
		}
		if c.Text != "" {
			acc.Text = c.Text
			return acc, nil
		}
	}
}
