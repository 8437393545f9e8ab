package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"

	"github.com/luxaar/luxaar/core/aichat"
)

const chatColumns = "id, user_id, title, provider, model, messages, prompt_tokens, completion_tokens, status, created_at, updated_at"

type chatRow struct {
	ID               string         `db:"id"`
	UserID           string         `db:"user_id"`
	Title            string         `db:"title"`
	Provider         string         `db:"provider"`
	Model            string         `db:"model"`
	Messages         types.JSONText `db:"messages"`
	PromptTokens     int            `db:"prompt_tokens"`
	CompletionTokens int            `db:"completion_tokens"`
	Status           string         `db:"status"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func (row chatRow) unpack() (aichat.Session, error) {
	s := aichat.Session{
		ID:               row.ID,
		UserID:           row.UserID,
		Title:            row.Title,
		Provider:         row.Provider,
		Model:            row.Model,
		PromptTokens:     row.PromptTokens,
		CompletionTokens: row.CompletionTokens,
		Status:           row.Status,
		CreatedAt:        row.CreatedAt.UTC(),
		UpdatedAt:        row.UpdatedAt.UTC(),
	}
	if len(row.Messages) > 0 {
		if err := row.Messages.Unmarshal(&s.Messages); err != nil {
			return aichat.Session{}, errors.Wrap(err, "decoding chat messages")
		}
	}
	return s, nil
}

// chatRepository keeps AI chat sessions in postgres when no mongo database is configured.
type chatRepository struct {
	repo
}

var (
	_ aichat.Repository         = (*chatRepository)(nil)
	_ aichat.SettingsRepository = (*chatRepository)(nil)
)

func NewChatRepository(db *sqlx.DB) *chatRepository {
	return &chatRepository{repo{db: db}}
}

func (r chatRepository) SaveSession(ctx context.Context, s aichat.Session) (aichat.Session, error) {
	msgs := s.Messages
	if msgs == nil {
		msgs = []aichat.ChatMessage{}
	}
	raw, err := json.Marshal(msgs)
	if err != nil {
		return aichat.Session{}, errors.Wrap(err, "encoding chat messages")
	}
	q := `INSERT INTO ai_chats (` + chatColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title, provider = EXCLUDED.provider, model = EXCLUDED.model,
			messages = EXCLUDED.messages, prompt_tokens = EXCLUDED.prompt_tokens,
			completion_tokens = EXCLUDED.completion_tokens, status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`
	if _, err = r.db.ExecContext(ctx, q,
		s.ID, s.UserID, s.Title, s.Provider, s.Model, types.JSONText(raw),
		s.PromptTokens, s.CompletionTokens, s.Status, s.CreatedAt.UTC(), s.UpdatedAt.UTC()); err != nil {
		return aichat.Session{}, errors.Wrap(err, "saving chat session")
	}
	return s, nil
}

func (r chatRepository) GetSession(ctx context.Context, id string) (aichat.Session, error) {
	if !validID(id) {
		return aichat.Session{}, aichat.ErrNotFound
	}
	var row chatRow
	if err := r.db.GetContext(ctx, &row, "SELECT "+chatColumns+" FROM ai_chats WHERE id = $1", id); err != nil {
		return aichat.Session{}, trapNoRowsErr(err, aichat.ErrNotFound, "finding chat session")
	}
	return row.unpack()
}

func (r chatRepository) QuerySessions(ctx context.Context, userID string, limit int) ([]aichat.Session, error) {
	var rows []chatRow
	q := `SELECT id, user_id, title, provider, model, '[]'::jsonb AS messages, prompt_tokens, completion_tokens,
		status, created_at, updated_at FROM ai_chats WHERE user_id = $1 ORDER BY updated_at DESC LIMIT $2`
	if err := r.db.SelectContext(ctx, &rows, q, userID, limit); err != nil {
		return nil, errors.Wrap(err, "querying chat sessions")
	}
	sessions := make([]aichat.Session, 0, len(rows))
	for _, row := range rows {
		s, err := row.unpack()
		if err != nil {
			return nil, err
		}
		s.Messages = nil
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func (r chatRepository) DeleteSession(ctx context.Context, userID, id string) error {
	if !validID(id) {
		return aichat.ErrNotFound
	}
	res, err := r.db.ExecContext(ctx, "DELETE FROM ai_chats WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return errors.Wrap(err, "deleting chat session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return aichat.ErrNotFound
	}
	return nil
}

type settingsRow struct {
	Provider     string         `db:"provider"`
	GeminiModel  string         `db:"gemini_model"`
	OllamaModel  string         `db:"ollama_model"`
	SystemPrompt string         `db:"system_prompt"`
	Temperature  float64        `db:"temperature"`
	UpdatedBy    sql.NullString `db:"updated_by"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (r chatRepository) GetSettings(ctx context.Context) (aichat.Settings, error) {
	var row settingsRow
	q := "SELECT provider, gemini_model, ollama_model, system_prompt, temperature, updated_by, updated_at FROM ai_settings WHERE id = 1"
	if err := r.db.GetContext(ctx, &row, q); err != nil {
		return aichat.Settings{}, trapNoRowsErr(err, aichat.ErrSettingsNotFound, "getting ai settings")
	}
	return aichat.Settings{
		Provider:     row.Provider,
		GeminiModel:  row.GeminiModel,
		OllamaModel:  row.OllamaModel,
		SystemPrompt: row.SystemPrompt,
		Temperature:  row.Temperature,
		UpdatedBy:    row.UpdatedBy.String,
		UpdatedAt:    row.UpdatedAt.UTC(),
	}, nil
}

func (r chatRepository) SaveSettings(ctx context.Context, s aichat.Settings) (aichat.Settings, error) {
	q := `INSERT INTO ai_settings (id, provider, gemini_model, ollama_model, system_prompt, temperature, updated_by, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			provider = EXCLUDED.provider, gemini_model = EXCLUDED.gemini_model, ollama_model = EXCLUDED.ollama_model,
			system_prompt = EXCLUDED.system_prompt, temperature = EXCLUDED.temperature,
			updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, q,
		s.Provider, s.GeminiModel, s.OllamaModel, s.SystemPrompt, s.Temperature, nullUUID(s.UpdatedBy), s.UpdatedAt.UTC()); err != nil {
		return aichat.Settings{}, errors.Wrap(err, "saving ai settings")
	}
	return s, nil
}
