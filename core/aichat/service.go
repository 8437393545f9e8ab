package aichat

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/luxaar/luxaar/core"
)

var (
	ErrNotFound         = core.NewNotFoundError("chat session not found")
	ErrSettingsNotFound = core.NewNotFoundError("ai settings not found")
)

type (
	Repository interface {
		// SaveSession upserts the whole session document.
		SaveSession(ctx context.Context, s Session) (Session, error)
		GetSession(ctx context.Context, id string) (Session, error)
		// QuerySessions lists a user's sessions, most recently updated first, without their messages.
		QuerySessions(ctx context.Context, userID string, limit int) ([]Session, error)
		DeleteSession(ctx context.Context, userID, id string) error
	}

	SettingsRepository interface {
		// GetSettings returns ErrSettingsNotFound until settings are saved once.
		GetSettings(ctx context.Context) (Settings, error)
		SaveSettings(ctx context.Context, s Settings) (Settings, error)
	}

	// EmitFunc delivers an event to the client; an error means the client is gone.
	EmitFunc func(Event) error

	ServiceInterface interface {
		// Chat streams an assistant answer to emit and persists the session.
		Chat(ctx context.Context, userID string, cr ChatRequest, emit EmitFunc) (Session, Metrics, error)
		Sessions(ctx context.Context, userID string, limit int) ([]Session, error)
		Session(ctx context.Context, userID, id string) (Session, error)
		DeleteSession(ctx context.Context, userID, id string) error
		Health(ctx context.Context) []ProviderHealth
		Models(ctx context.Context) (map[string][]string, error)
		Settings(ctx context.Context) (Settings, error)
		UpdateSettings(ctx context.Context, adminID string, us UpdateSettings) (Settings, error)
	}

	service struct {
		conf         *core.Config
		repo         Repository
		settingsRepo SettingsRepository
		router       *Router
		observer     StreamObserver
		validate     *validator.Validate
		logger       core.Logger
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(
	conf *core.Config,
	repo Repository,
	settingsRepo SettingsRepository,
	router *Router,
	observer StreamObserver,
	validate *validator.Validate,
	logger core.Logger,
) ServiceInterface {
	return &service{
		conf:         conf,
		repo:         repo,
		settingsRepo: settingsRepo,
		router:       router,
		observer:     observer,
		validate:     validate,
		logger:       logger,
	}
}

func (svc *service) Settings(ctx context.Context) (Settings, error) {
	s, err := svc.settingsRepo.GetSettings(ctx)
	if err != nil {
		if errors.Cause(err) == ErrSettingsNotFound {
			return DefaultSettings(svc.conf), nil
		}
		return Settings{}, errors.Wrap(err, "getting ai settings")
	}
	return s, nil
}

func (svc *service) UpdateSettings(ctx context.Context, adminID string, us UpdateSettings) (Settings, error) {
	if err := us.Validate(svc.validate); err != nil {
		return Settings{}, err
	}
	s, err := svc.Settings(ctx)
	if err != nil {
		return Settings{}, err
	}
	us.apply(&s)
	s.UpdatedBy = adminID
	s.UpdatedAt = core.UTCNow()
	return svc.settingsRepo.SaveSettings(ctx, s)
}

func (svc *service) Sessions(ctx context.Context, userID string, limit int) ([]Session, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return svc.repo.QuerySessions(ctx, userID, limit)
}

func (svc *service) Session(ctx context.Context, userID, id string) (Session, error) {
	s, err := svc.repo.GetSession(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if s.UserID != userID {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (svc *service) DeleteSession(ctx context.Context, userID, id string) error {
	return svc.repo.DeleteSession(ctx, userID, id)
}

func (svc *service) Health(ctx context.Context) []ProviderHealth {
	names := svc.router.Names()
	res := make([]ProviderHealth, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			p, _ := svc.router.Provider(name)
			hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			start := time.Now()
			err := p.Health(hctx)
			res[i] = ProviderHealth{Provider: name, OK: err == nil, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				res[i].Error = err.Error()
			}
		}(i, name)
	}
	wg.Wait()
	return res
}

func (svc *service) Models(ctx context.Context) (map[string][]string, error) {
	models := make(map[string][]string)
	var errs []string
	for _, name := range svc.router.Names() {
		p, _ := svc.router.Provider(name)
		ms, err := p.Models(ctx)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		models[name] = ms
	}
	if len(models) == 0 && len(errs) > 0 {
		return nil, errors.Wrap(ErrNoProvider, strings.Join(errs, "; "))
	}
	return models, nil
}

// loadSession returns the user's session or a new one titled after the first message.
func (svc *service) loadSession(ctx context.Context, userID string, cr ChatRequest, now time.Time) (Session, error) {
	if cr.SessionID != "" {
		return svc.Session(ctx, userID, cr.SessionID)
	}
	return Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     core.Truncate(cr.Message, titleLength),
		CreatedAt: now,
	}, nil
}

func (svc *service) Chat(ctx context.Context, userID string, cr ChatRequest, emit EmitFunc) (Session, Metrics, error) {
	if err := cr.Validate(svc.validate); err != nil {
		return Session{}, Metrics{}, err
	}
	start := core.NowFunc()
	now := core.UTCNow()

	sess, err := svc.loadSession(ctx, userID, cr, now)
	if err != nil {
		return Session{}, Metrics{}, err
	}
	settings, err := svc.Settings(ctx)
	if err != nil {
		return Session{}, Metrics{}, err
	}
	sess.Messages = append(sess.Messages, ChatMessage{Role: RoleUser, Content: cr.Message, CreatedAt: now})

	history := sess.Messages
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	stream, err := svc.router.Open(ctx, settings, Request{
		SystemPrompt: settings.SystemPrompt,
		Temperature:  settings.Temperature,
		Messages:     history,
	})
	if err != nil {
		status := StatusFailed
		if ctx.Err() != nil {
			status = StatusAborted
		}
		sess.Status = status
		svc.persist(sess)
		svc.observe(status, Metrics{Provider: settings.Provider})
		return sess, Metrics{}, err
	}
	//goland:noinspection GoUnhandledErrorResult
	defer stream.Close()

	sess.Provider = stream.Provider
	sess.Model = stream.Model
	m := Metrics{Provider: stream.Provider, Model: stream.Model, FellBack: stream.FellBack}

	if err := emit(Event{Type: EventSession, Data: Session{
		ID:        sess.ID,
		UserID:    sess.UserID,
		Title:     sess.Title,
		Provider:  sess.Provider,
		Model:     sess.Model,
		CreatedAt: sess.CreatedAt,
	}}); err != nil {
		return svc.finish(sess, m, "", StatusAborted, start, 0, errors.Wrap(err, "emitting session"))
	}

	var (
		answer    strings.Builder
		chunks    int
		firstAt   time.Time
		streamErr error
		status    = StatusComplete
	)
	for {
		c, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				status = StatusAborted
			} else {
				status = StatusFailed
				streamErr = errors.Wrapf(err, "streaming from %s", stream.Provider)
			}
			break
		}
		if c.PromptTokens > 0 {
			m.PromptTokens = c.PromptTokens
		}
		if c.CompletionTokens > 0 {
			m.CompletionTokens = c.CompletionTokens
		}
		if c.Text == "" {
			continue
		}
		if firstAt.IsZero() {
			firstAt = core.NowFunc()
			m.TimeToFirstToken = firstAt.Sub(start).Milliseconds()
		}
		chunks++
		answer.WriteString(c.Text)
		if err := emit(Event{Type: EventToken, Data: c.Text}); err != nil {
			status = StatusAborted
			break
		}
	}
	if streamErr != nil {
		_ = emit(Event{Type: EventError, Data: streamErr.Error()})
	}
	return svc.finish(sess, m, answer.String(), status, start, chunks, streamErr, emit)
}

// finish computes metrics, saves the (possibly partial) answer and reports the outcome.
func (svc *service) finish(
	sess Session,
	m Metrics,
	answer, status string,
	start time.Time,
	chunks int,
	streamErr error,
	emit ...EmitFunc,
) (Session, Metrics, error) {
	end := core.NowFunc()
	m.Duration = end.Sub(start).Milliseconds()
	if m.CompletionTokens == 0 {
		m.CompletionTokens = chunks
	}
	if secs := end.Sub(start).Seconds(); secs > 0 {
		m.TokensPerSecond = float64(m.CompletionTokens) / secs
	}

	if answer != "" {
		sess.Messages = append(sess.Messages, ChatMessage{Role: RoleAssistant, Content: answer, CreatedAt: end.UTC()})
	}
	sess.PromptTokens += m.PromptTokens
	sess.CompletionTokens += m.CompletionTokens
	sess.Status = status
	sess = svc.persist(sess)
	svc.observe(status, m)

	if status == StatusComplete && len(emit) > 0 {
		_ = emit[0](Event{Type: EventDone, Data: m})
	}
	return sess, m, streamErr
}

// persist saves the session on a context detached from the request, which may be cancelled already.
func (svc *service) persist(sess Session) Session {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess.UpdatedAt = core.UTCNow()
	saved, err := svc.repo.SaveSession(ctx, sess)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("saving chat session %s: %v", sess.ID, err), err)
		return sess
	}
	return saved
}

func (svc *service) observe(status string, m Metrics) {
	if svc.observer != nil {
		svc.observer.ObserveStream(status, m)
	}
}
