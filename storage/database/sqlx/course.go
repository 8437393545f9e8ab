package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/course"
)

const (
	courseColumns = "id, title, description, category, level, thumbnail_url, instructor, is_published, created_by, created_at, updated_at"
	moduleColumns = "id, course_id, title, description, position, created_at, updated_at"
	lessonColumns = "id, course_id, module_id, title, description, content_type, video_url, content, duration_seconds, position, created_at, updated_at"
)

var courseOrderings = map[string]string{
	"title":      "title",
	"category":   "category",
	"level":      "level",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

type courseRow struct {
	ID           string         `db:"id"`
	Title        string         `db:"title"`
	Description  string         `db:"description"`
	Category     string         `db:"category"`
	Level        string         `db:"level"`
	ThumbnailURL string         `db:"thumbnail_url"`
	Instructor   string         `db:"instructor"`
	IsPublished  bool           `db:"is_published"`
	CreatedBy    sql.NullString `db:"created_by"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func packCourse(c course.Course) courseRow {
	return courseRow{
		ID:           c.ID,
		Title:        c.Title,
		Description:  c.Description,
		Category:     c.Category,
		Level:        c.Level,
		ThumbnailURL: c.ThumbnailURL,
		Instructor:   c.Instructor,
		IsPublished:  c.IsPublished,
		CreatedBy:    nullUUID(c.CreatedBy),
		CreatedAt:    c.CreatedAt.UTC(),
		UpdatedAt:    c.UpdatedAt.UTC(),
	}
}

func (row courseRow) unpack() course.Course {
	return course.Course{
		ID:           row.ID,
		Title:        row.Title,
		Description:  row.Description,
		Category:     row.Category,
		Level:        row.Level,
		ThumbnailURL: row.ThumbnailURL,
		Instructor:   row.Instructor,
		IsPublished:  row.IsPublished,
		CreatedBy:    row.CreatedBy.String,
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
}

type moduleRow struct {
	ID          string    `db:"id"`
	CourseID    string    `db:"course_id"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	Position    int       `db:"position"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (row moduleRow) unpack() course.Module {
	return course.Module{
		ID:          row.ID,
		CourseID:    row.CourseID,
		Title:       row.Title,
		Description: row.Description,
		Position:    row.Position,
		CreatedAt:   row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
	}
}

type lessonRow struct {
	ID              string    `db:"id"`
	CourseID        string    `db:"course_id"`
	ModuleID        string    `db:"module_id"`
	Title           string    `db:"title"`
	Description     string    `db:"description"`
	ContentType     string    `db:"content_type"`
	VideoURL        string    `db:"video_url"`
	Content         string    `db:"content"`
	DurationSeconds float64   `db:"duration_seconds"`
	Position        int       `db:"position"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (row lessonRow) unpack() course.Lesson {
	return course.Lesson{
		ID:              row.ID,
		CourseID:        row.CourseID,
		ModuleID:        row.ModuleID,
		Title:           row.Title,
		Description:     row.Description,
		ContentType:     row.ContentType,
		VideoURL:        row.VideoURL,
		Content:         row.Content,
		DurationSeconds: row.DurationSeconds,
		Position:        row.Position,
		CreatedAt:       row.CreatedAt.UTC(),
		UpdatedAt:       row.UpdatedAt.UTC(),
	}
}

type courseRepository struct {
	repo
}

var _ course.Repository = (*courseRepository)(nil)

func NewCourseRepository(db *sqlx.DB) course.Repository {
	return &courseRepository{repo{db: db}}
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (r courseRepository) CreateCourse(ctx context.Context, c course.Course, exec ...core.DBExecutor) (course.Course, error) {
	q := `INSERT INTO courses (` + courseColumns + `) VALUES
		(:id, :title, :description, :category, :level, :thumbnail_url, :instructor, :is_published, :created_by, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.getExec(exec), q, packCourse(c)); err != nil {
		return course.Course{}, errors.Wrap(err, "inserting course")
	}
	return c, nil
}

func (r courseRepository) GetCourse(ctx context.Context, id string, exec ...core.DBExecutor) (course.Course, error) {
	if !validID(id) {
		return course.Course{}, course.ErrNotFound
	}
	var row courseRow
	if err := sqlx.GetContext(ctx, r.getExec(exec), &row, "SELECT "+courseColumns+" FROM courses WHERE id = $1", id); err != nil {
		return course.Course{}, trapNoRowsErr(err, course.ErrNotFound, "finding course")
	}
	return row.unpack(), nil
}

func courseFilter(filter *course.QueryFilter) *where {
	w := &where{}
	if filter == nil {
		return w
	}
	if filter.Search != "" {
		val := "%" + filter.Search + "%"
		w.add("(title ILIKE ? OR description ILIKE ? OR instructor ILIKE ?)", val, val, val)
	}
	if filter.Category != "" {
		w.add("LOWER(category) = LOWER(?)", filter.Category)
	}
	if filter.Level != "" {
		w.add("level = ?", filter.Level)
	}
	if filter.PublishedOnly {
		w.add("is_published")
	}
	return w
}

func (r courseRepository) QueryCourses(ctx context.Context, filter *course.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]course.Course, error) {
	w := courseFilter(filter)
	q := "SELECT " + courseColumns + " FROM courses" + w.String() + orderBy(ordering, courseOrderings, "created_at DESC")

	var rows []courseRow
	e := r.getExec(exec)
	if err := sqlx.SelectContext(ctx, e, &rows, e.Rebind(q), w.args...); err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}
	courses := make([]course.Course, 0, len(rows))
	for _, row := range rows {
		courses = append(courses, row.unpack())
	}
	return courses, nil
}

func (r courseRepository) CountCourses(ctx context.Context, filter *course.QueryFilter, exec ...core.DBExecutor) (int, error) {
	w := courseFilter(filter)
	var n int
	e := r.getExec(exec)
	if err := sqlx.GetContext(ctx, e, &n, e.Rebind("SELECT COUNT(*) FROM courses"+w.String()), w.args...); err != nil {
		return 0, errors.Wrap(err, "counting courses")
	}
	return n, nil
}

func (r courseRepository) UpdateCourse(ctx context.Context, c course.Course, exec ...core.DBExecutor) (course.Course, error) {
	q := `UPDATE courses SET title = :title, description = :description, category = :category, level = :level,
		thumbnail_url = :thumbnail_url, instructor = :instructor, is_published = :is_published, updated_at = :updated_at
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, r.getExec(exec), q, packCourse(c))
	if err != nil {
		return course.Course{}, errors.Wrap(err, "updating course")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return course.Course{}, course.ErrNotFound
	}
	return c, nil
}

// deleteByID deletes one row; the schema cascades to children.
func (r courseRepository) deleteByID(ctx context.Context, table, id string, notFound error, exec []core.DBExecutor) error {
	if !validID(id) {
		return notFound
	}
	res, err := r.getExec(exec).ExecContext(ctx, "DELETE FROM "+table+" WHERE id = $1", id)
	if err != nil {
		return errors.Wrapf(err, "deleting from %s", table)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound
	}
	return nil
}

func (r courseRepository) DeleteCourse(ctx context.Context, id string, exec ...core.DBExecutor) error {
	return r.deleteByID(ctx, "courses", id, course.ErrNotFound, exec)
}

func (r courseRepository) CreateModule(ctx context.Context, m course.Module, exec ...core.DBExecutor) (course.Module, error) {
	q := `INSERT INTO modules (` + moduleColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := r.getExec(exec).ExecContext(ctx, q,
		m.ID, m.CourseID, m.Title, m.Description, m.Position, m.CreatedAt.UTC(), m.UpdatedAt.UTC()); err != nil {
		return course.Module{}, errors.Wrap(err, "inserting module")
	}
	return m, nil
}

func (r courseRepository) GetModule(ctx context.Context, id string, exec ...core.DBExecutor) (course.Module, error) {
	if !validID(id) {
		return course.Module{}, course.ErrModuleNotFound
	}
	var row moduleRow
	if err := sqlx.GetContext(ctx, r.getExec(exec), &row, "SELECT "+moduleColumns+" FROM modules WHERE id = $1", id); err != nil {
		return course.Module{}, trapNoRowsErr(err, course.ErrModuleNotFound, "finding module")
	}
	return row.unpack(), nil
}

func (r courseRepository) QueryModules(ctx context.Context, courseID string, exec ...core.DBExecutor) ([]course.Module, error) {
	if !validID(courseID) {
		return nil, nil
	}
	var rows []moduleRow
	q := "SELECT " + moduleColumns + " FROM modules WHERE course_id = $1 ORDER BY position, created_at"
	if err := sqlx.SelectContext(ctx, r.getExec(exec), &rows, q, courseID); err != nil {
		return nil, errors.Wrap(err, "querying modules")
	}
	modules := make([]course.Module, 0, len(rows))
	for _, row := range rows {
		modules = append(modules, row.unpack())
	}
	return modules, nil
}

func (r courseRepository) UpdateModule(ctx context.Context, m course.Module, exec ...core.DBExecutor) (course.Module, error) {
	res, err := r.getExec(exec).ExecContext(ctx,
		"UPDATE modules SET title = $1, description = $2, updated_at = $3 WHERE id = $4",
		m.Title, m.Description, m.UpdatedAt.UTC(), m.ID)
	if err != nil {
		return course.Module{}, errors.Wrap(err, "updating module")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return course.Module{}, course.ErrModuleNotFound
	}
	return m, nil
}

func (r courseRepository) DeleteModule(ctx context.Context, id string, exec ...core.DBExecutor) error {
	return r.deleteByID(ctx, "modules", id, course.ErrModuleNotFound, exec)
}

// setPositions sets each row's position to its index in ids.
func (r courseRepository) setPositions(ctx context.Context, table, parentCol, parentID string, ids []string, exec []core.DBExecutor) error {
	q := `UPDATE ` + table + ` AS t SET position = v.ord - 1, updated_at = $3
		FROM UNNEST($1::uuid[]) WITH ORDINALITY AS v(id, ord)
		WHERE t.id = v.id AND t.` + parentCol + ` = $2`
	if _, err := r.getExec(exec).ExecContext(ctx, q, pq.Array(ids), parentID, core.UTCNow()); err != nil {
		return errors.Wrapf(err, "reordering %s", table)
	}
	return nil
}

func (r courseRepository) SetModulePositions(ctx context.Context, courseID string, ids []string, exec ...core.DBExecutor) error {
	return r.setPositions(ctx, "modules", "course_id", courseID, ids, exec)
}

func (r courseRepository) CreateLesson(ctx context.Context, l course.Lesson, exec ...core.DBExecutor) (course.Lesson, error) {
	q := `INSERT INTO lessons (` + lessonColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	if _, err := r.getExec(exec).ExecContext(ctx, q,
		l.ID, l.CourseID, l.ModuleID, l.Title, l.Description, l.ContentType, l.VideoURL, l.Content,
		l.DurationSeconds, l.Position, l.CreatedAt.UTC(), l.UpdatedAt.UTC()); err != nil {
		return course.Lesson{}, errors.Wrap(err, "inserting lesson")
	}
	return l, nil
}

func (r courseRepository) GetLesson(ctx context.Context, id string, exec ...core.DBExecutor) (course.Lesson, error) {
	if !validID(id) {
		return course.Lesson{}, course.ErrLessonNotFound
	}
	var row lessonRow
	if err := sqlx.GetContext(ctx, r.getExec(exec), &row, "SELECT "+lessonColumns+" FROM lessons WHERE id = $1", id); err != nil {
		return course.Lesson{}, trapNoRowsErr(err, course.ErrLessonNotFound, "finding lesson")
	}
	return row.unpack(), nil
}

func (r courseRepository) QueryLessons(ctx context.Context, courseID string, exec ...core.DBExecutor) ([]course.Lesson, error) {
	if !validID(courseID) {
		return nil, nil
	}
	var rows []lessonRow
	q := "SELECT " + lessonColumns + " FROM lessons WHERE course_id = $1 ORDER BY position, created_at"
	if err := sqlx.SelectContext(ctx, r.getExec(exec), &rows, q, courseID); err != nil {
		return nil, errors.Wrap(err, "querying lessons")
	}
	lessons := make([]course.Lesson, 0, len(rows))
	for _, row := range rows {
		lessons = append(lessons, row.unpack())
	}
	return lessons, nil
}

func (r courseRepository) UpdateLesson(ctx context.Context, l course.Lesson, exec ...core.DBExecutor) (course.Lesson, error) {
	q := `UPDATE lessons SET title = $1, description = $2, content_type = $3, video_url = $4, content = $5,
		duration_seconds = $6, updated_at = $7 WHERE id = $8`
	res, err := r.getExec(exec).ExecContext(ctx, q,
		l.Title, l.Description, l.ContentType, l.VideoURL, l.Content, l.DurationSeconds, l.UpdatedAt.UTC(), l.ID)
	if err != nil {
		return course.Lesson{}, errors.Wrap(err, "updating lesson")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return course.Lesson{}, course.ErrLessonNotFound
	}
	return l, nil
}

func (r courseRepository) DeleteLesson(ctx context.Context, id string, exec ...core.DBExecutor) error {
	return r.deleteByID(ctx, "lessons", id, course.ErrLessonNotFound, exec)
}

func (r courseRepository) SetLessonPositions(ctx context.Context, moduleID string, ids []string, exec ...core.DBExecutor) error {
	return r.setPositions(ctx, "lessons", "module_id", moduleID, ids, exec)
}
