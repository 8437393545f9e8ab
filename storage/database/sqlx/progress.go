package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/progress"
)

const progressColumns = "user_id, lesson_id, course_id, max_watched, last_position, duration, completed, completed_at, updated_at"

type progressRow struct {
	UserID       string    `db:"user_id"`
	LessonID     string    `db:"lesson_id"`
	CourseID     string    `db:"course_id"`
	MaxWatched   float64   `db:"max_watched"`
	LastPosition float64   `db:"last_position"`
	Duration     float64   `db:"duration"`
	Completed    bool      `db:"completed"`
	CompletedAt  null.Time `db:"completed_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (row progressRow) unpack() progress.LessonProgress {
	p := progress.LessonProgress{
		UserID:       row.UserID,
		LessonID:     row.LessonID,
		CourseID:     row.CourseID,
		MaxWatched:   row.MaxWatched,
		LastPosition: row.LastPosition,
		Duration:     row.Duration,
		Completed:    row.Completed,
		CompletedAt:  row.CompletedAt,
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
	if p.CompletedAt.Valid {
		p.CompletedAt.Time = p.CompletedAt.Time.UTC()
	}
	return p
}

type progressRepository struct {
	repo
}

var _ progress.Repository = (*progressRepository)(nil)

func NewProgressRepository(db *sqlx.DB) progress.Repository {
	return &progressRepository{repo{db: db}}
}

func (r progressRepository) QueryProgress(ctx context.Context, userID, courseID string, exec ...core.DBExecutor) ([]progress.LessonProgress, error) {
	var rows []progressRow
	q := "SELECT " + progressColumns + " FROM lesson_progress WHERE user_id = $1 AND course_id = $2"
	if err := sqlx.SelectContext(ctx, r.getExec(exec), &rows, q, userID, courseID); err != nil {
		return nil, errors.Wrap(err, "querying lesson progress")
	}
	ps := make([]progress.LessonProgress, 0, len(rows))
	for _, row := range rows {
		ps = append(ps, row.unpack())
	}
	return ps, nil
}

// SaveProgress upserts the record; max_watched and completion only move forward even under concurrent reports.
func (r progressRepository) SaveProgress(ctx context.Context, p progress.LessonProgress, exec ...core.DBExecutor) (progress.LessonProgress, error) {
	q := `INSERT INTO lesson_progress (` + progressColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, lesson_id) DO UPDATE SET
			max_watched = GREATEST(lesson_progress.max_watched, EXCLUDED.max_watched),
			last_position = EXCLUDED.last_position,
			duration = EXCLUDED.duration,
			completed = lesson_progress.completed OR EXCLUDED.completed,
			completed_at = COALESCE(lesson_progress.completed_at, EXCLUDED.completed_at),
			updated_at = EXCLUDED.updated_at
		RETURNING ` + progressColumns

	var row progressRow
	err := sqlx.GetContext(ctx, r.getExec(exec), &row, q,
		p.UserID, p.LessonID, p.CourseID, p.MaxWatched, p.LastPosition, p.Duration,
		p.Completed, p.CompletedAt, p.UpdatedAt.UTC())
	if err != nil {
		return progress.LessonProgress{}, errors.Wrap(err, "saving lesson progress")
	}
	return row.unpack(), nil
}
