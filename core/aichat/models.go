package aichat

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/luxaar/luxaar/core"
)

// Providers
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderAuto   = "auto"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session statuses
const (
	StatusComplete = "complete"
	StatusAborted  = "aborted"
	StatusFailed   = "failed"
)

const (
	titleLength = 60
	maxHistory  = 40
)

type ChatMessage struct {
	Role      string    `json:"role" bson:"role"`
	Content   string    `json:"content" bson:"content"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Session is one tutoring conversation, persisted as a single document.
type Session struct {
	ID               string        `json:"id" bson:"_id"`
	UserID           string        `json:"user_id" bson:"user_id"`
	Title            string        `json:"title" bson:"title"`
	Provider         string        `json:"provider" bson:"provider"`
	Model            string        `json:"model" bson:"model"`
	Messages         []ChatMessage `json:"messages,omitempty" bson:"messages"`
	PromptTokens     int           `json:"prompt_tokens" bson:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens" bson:"completion_tokens"`
	Status           string        `json:"status" bson:"status"`
	CreatedAt        time.Time     `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at" bson:"updated_at"`
}

// Settings is the admin managed AI configuration.
type Settings struct {
	Provider     string    `json:"provider"`
	GeminiModel  string    `json:"gemini_model"`
	OllamaModel  string    `json:"ollama_model"`
	SystemPrompt string    `json:"system_prompt"`
	Temperature  float64   `json:"temperature"`
	UpdatedBy    string    `json:"updated_by"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DefaultSettings are used until an admin saves settings.
func DefaultSettings(conf *core.Config) Settings {
	provider := conf.AI.Provider
	switch provider {
	case ProviderGemini, ProviderOllama, ProviderAuto:
	default:
		provider = ProviderAuto
	}
	return Settings{
		Provider:     provider,
		GeminiModel:  conf.AI.GeminiModel,
		OllamaModel:  conf.AI.OllamaModel,
		SystemPrompt: conf.AI.SystemPrompt,
		Temperature:  conf.AI.Temperature,
	}
}

// ModelFor returns the configured model of the named provider.
func (s Settings) ModelFor(provider string) string {
	switch provider {
	case ProviderGemini:
		return s.GeminiModel
	case ProviderOllama:
		return s.OllamaModel
	}
	return ""
}

type UpdateSettings struct {
	Provider     *string  `json:"provider" validate:"omitempty,oneof=gemini ollama auto"`
	GeminiModel  *string  `json:"gemini_model" validate:"omitempty,max=100"`
	OllamaModel  *string  `json:"ollama_model" validate:"omitempty,max=100"`
	SystemPrompt *string  `json:"system_prompt" validate:"omitempty,max=4000"`
	Temperature  *float64 `json:"temperature" validate:"omitempty,gte=0,lte=2"`
}

func (us *UpdateSettings) Validate(validate *validator.Validate) error {
	for _, s := range []*string{us.Provider, us.GeminiModel, us.OllamaModel, us.SystemPrompt} {
		if s != nil {
			*s = core.CleanString(*s)
		}
	}
	return validate.Struct(us)
}

func (us UpdateSettings) apply(s *Settings) {
	if us.Provider != nil && *us.Provider != "" {
		s.Provider = *us.Provider
	}
	if us.GeminiModel != nil && *us.GeminiModel != "" {
		s.GeminiModel = *us.GeminiModel
	}
	if us.OllamaModel != nil && *us.OllamaModel != "" {
		s.OllamaModel = *us.OllamaModel
	}
	if us.SystemPrompt != nil {
		s.SystemPrompt = *us.SystemPrompt
	}
	if us.Temperature != nil {
		s.Temperature = *us.Temperature
	}
}

type ChatRequest struct {
	SessionID string `json:"session_id" validate:"omitempty,uuid"`
	Message   string `json:"message" validate:"required,max=8000"`
}

func (cr *ChatRequest) Validate(validate *validator.Validate) error {
	cr.SessionID = core.CleanString(cr.SessionID, true /* lower */)
	cr.Message = core.CleanString(cr.Message)
	return validate.Struct(cr)
}

// Metrics describe one streamed answer.
type Metrics struct {
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	TimeToFirstToken int64   `json:"time_to_first_token_ms"`
	Duration         int64   `json:"duration_ms"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TokensPerSecond  float64 `json:"tokens_per_second"`
	FellBack         bool    `json:"fell_back"`
}

// Event types streamed to the client.
const (
	EventSession = "session"
	EventToken   = "token"
	EventDone    = "done"
	EventError   = "error"
)

type Event struct {
	Type string
	Data interface{}
}

type ProviderHealth struct {
	Provider  string `json:"provider"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}
