package inmemdb

import (
	"context"
	"sort"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/support"
)

type supportRepository struct {
	db *supportTable
}

var _ support.Repository = (*supportRepository)(nil)

func NewSupportRepository(db *DB) support.Repository {
	return &supportRepository{db: db.support}
}

func (repo *supportRepository) CreateMessage(_ context.Context, m support.Message, _ ...core.DBExecutor) (support.Message, error) {
	repo.db.Lock()
	defer repo.db.Unlock()
	repo.db.table[m.ID] = &m
	return m, nil
}

func (repo *supportRepository) GetMessage(_ context.Context, id string, _ ...core.DBExecutor) (support.Message, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	if m, ok := repo.db.table[id]; ok {
		return *m, nil
	}
	return support.Message{}, support.ErrNotFound
}

func (repo *supportRepository) QueryMessages(_ context.Context, filter support.QueryFilter, _ ...core.DBExecutor) ([]support.Message, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	msgs := make([]support.Message, 0)
	for _, m := range repo.db.table {
		if (filter.UserID == "" || m.UserID == filter.UserID) && (filter.Status == "" || m.Status == filter.Status) {
			msgs = append(msgs, *m)
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.After(msgs[j].CreatedAt) })
	return msgs, nil
}

func (repo *supportRepository) CountMessages(ctx context.Context, filter support.QueryFilter, _ ...core.DBExecutor) (int, error) {
	msgs, err := repo.QueryMessages(ctx, filter)
	return len(msgs), err
}

func (repo *supportRepository) UpdateMessage(_ context.Context, m support.Message, _ ...core.DBExecutor) (support.Message, error) {
	repo.db.Lock()
	defer repo.db.Unlock()
	if _, ok := repo.db.table[m.ID]; !ok {
		return support.Message{}, support.ErrNotFound
	}
	repo.db.table[m.ID] = &m
	return m, nil
}
