package inmemdb

import (
	"context"
	"math"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/progress"
)

type progressRepository struct {
	db *progressTable
}

var _ progress.Repository = (*progressRepository)(nil)

func NewProgressRepository(db *DB) progress.Repository {
	return &progressRepository{db: db.progress}
}

func (repo *progressRepository) QueryProgress(_ context.Context, userID, courseID string, _ ...core.DBExecutor) ([]progress.LessonProgress, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	ps := make([]progress.LessonProgress, 0)
	for key, p := range repo.db.table {
		if key.userID == userID && p.CourseID == courseID {
			ps = append(ps, *p)
		}
	}
	return ps, nil
}

func (repo *progressRepository) SaveProgress(_ context.Context, p progress.LessonProgress, _ ...core.DBExecutor) (progress.LessonProgress, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	key := progressKey{userID: p.UserID, lessonID: p.LessonID}
	if stored, ok := repo.db.table[key]; ok {
		p.MaxWatched = math.Max(p.MaxWatched, stored.MaxWatched)
		if stored.Completed {
			p.Completed = true
			p.CompletedAt = stored.CompletedAt
		}
	}
	repo.db.table[key] = &p
	return p, nil
}
