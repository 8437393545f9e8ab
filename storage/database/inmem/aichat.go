package inmemdb

import (
	"context"
	"sort"

	"github.com/luxaar/luxaar/core/aichat"
)

type chatRepository struct {
	db *chatTable
}

var (
	_ aichat.Repository         = (*chatRepository)(nil)
	_ aichat.SettingsRepository = (*chatRepository)(nil)
)

func NewChatRepository(db *DB) *chatRepository {
	return &chatRepository{db: db.chat}
}

func (repo *chatRepository) SaveSession(_ context.Context, s aichat.Session) (aichat.Session, error) {
	repo.db.Lock()
	defer repo.db.Unlock()
	s.Messages = append([]aichat.ChatMessage(nil), s.Messages...)
	repo.db.sessions[s.ID] = &s
	return s, nil
}

func (repo *chatRepository) GetSession(_ context.Context, id string) (aichat.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	s, ok := repo.db.sessions[id]
	if !ok {
		return aichat.Session{}, aichat.ErrNotFound
	}
	out := *s
	out.Messages = append([]aichat.ChatMessage(nil), s.Messages...)
	return out, nil
}

func (repo *chatRepository) QuerySessions(_ context.Context, userID string, limit int) ([]aichat.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	sessions := make([]aichat.Session, 0)
	for _, s := range repo.db.sessions {
		if s.UserID == userID {
			out := *s
			out.Messages = nil
			sessions = append(sessions, out)
		}
	}
	sort.SliceStable(sessions, func(i, j int) bool { return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt) })
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

func (repo *chatRepository) DeleteSession(_ context.Context, userID, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	s, ok := repo.db.sessions[id]
	if !ok || s.UserID != userID {
		return aichat.ErrNotFound
	}
	delete(repo.db.sessions, id)
	return nil
}

func (repo *chatRepository) GetSettings(context.Context) (aichat.Settings, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	if repo.db.settings == nil {
		return aichat.Settings{}, aichat.ErrSettingsNotFound
	}
	return *repo.db.settings, nil
}

func (repo *chatRepository) SaveSettings(_ context.Context, s aichat.Settings) (aichat.Settings, error) {
	repo.db.Lock()
	defer repo.db.Unlock()
	repo.db.settings = &s
	return s, nil
}
