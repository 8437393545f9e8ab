package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/enrollment"
)

const (
	enrollmentColumns = "id, user_id, course_id, progress, status, last_lesson_id, enrolled_at, completed_at"
	requestColumns    = "id, user_id, course_id, message, status, reviewed_by, review_note, reviewed_at, created_at"
)

type enrollmentRow struct {
	ID           string         `db:"id"`
	UserID       string         `db:"user_id"`
	CourseID     string         `db:"course_id"`
	Progress     float64        `db:"progress"`
	Status       string         `db:"status"`
	LastLessonID sql.NullString `db:"last_lesson_id"`
	EnrolledAt   time.Time      `db:"enrolled_at"`
	CompletedAt  null.Time      `db:"completed_at"`
}

func packEnrollment(e enrollment.Enrollment) enrollmentRow {
	return enrollmentRow{
		ID:           e.ID,
		UserID:       e.UserID,
		CourseID:     e.CourseID,
		Progress:     e.Progress,
		Status:       e.Status,
		LastLessonID: nullUUID(e.LastLessonID),
		EnrolledAt:   e.EnrolledAt.UTC(),
		CompletedAt:  e.CompletedAt,
	}
}

func (row enrollmentRow) unpack() enrollment.Enrollment {
	e := enrollment.Enrollment{
		ID:           row.ID,
		UserID:       row.UserID,
		CourseID:     row.CourseID,
		Progress:     row.Progress,
		Status:       row.Status,
		LastLessonID: row.LastLessonID.String,
		EnrolledAt:   row.EnrolledAt.UTC(),
		CompletedAt:  row.CompletedAt,
	}
	if e.CompletedAt.Valid {
		e.CompletedAt.Time = e.CompletedAt.Time.UTC()
	}
	return e
}

type requestRow struct {
	ID         string         `db:"id"`
	UserID     string         `db:"user_id"`
	CourseID   string         `db:"course_id"`
	Message    string         `db:"message"`
	Status     string         `db:"status"`
	ReviewedBy sql.NullString `db:"reviewed_by"`
	ReviewNote string         `db:"review_note"`
	ReviewedAt null.Time      `db:"reviewed_at"`
	CreatedAt  time.Time      `db:"created_at"`
}

func packRequest(r enrollment.AccessRequest) requestRow {
	return requestRow{
		ID:         r.ID,
		UserID:     r.UserID,
		CourseID:   r.CourseID,
		Message:    r.Message,
		Status:     r.Status,
		ReviewedBy: nullUUID(r.ReviewedBy),
		ReviewNote: r.ReviewNote,
		ReviewedAt: r.ReviewedAt,
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

func (row requestRow) unpack() enrollment.AccessRequest {
	r := enrollment.AccessRequest{
		ID:         row.ID,
		UserID:     row.UserID,
		CourseID:   row.CourseID,
		Message:    row.Message,
		Status:     row.Status,
		ReviewedBy: row.ReviewedBy.String,
		ReviewNote: row.ReviewNote,
		ReviewedAt: row.ReviewedAt,
		CreatedAt:  row.CreatedAt.UTC(),
	}
	if r.ReviewedAt.Valid {
		r.ReviewedAt.Time = r.ReviewedAt.Time.UTC()
	}
	return r
}

type enrollmentRepository struct {
	repo
}

var _ enrollment.Repository = (*enrollmentRepository)(nil)

func NewEnrollmentRepository(db *sqlx.DB) enrollment.Repository {
	return &enrollmentRepository{repo{db: db}}
}

func (r enrollmentRepository) CreateEnrollment(ctx context.Context, e enrollment.Enrollment, exec ...core.DBExecutor) (enrollment.Enrollment, bool, error) {
	ex := r.getExec(exec)
	q := `INSERT INTO enrollments (` + enrollmentColumns + `) VALUES
		(:id, :user_id, :course_id, :progress, :status, :last_lesson_id, :enrolled_at, :completed_at)
		ON CONFLICT (user_id, course_id) DO NOTHING`
	res, err := sqlx.NamedExecContext(ctx, ex, q, packEnrollment(e))
	if err != nil {
		return enrollment.Enrollment{}, false, errors.Wrap(err, "inserting enrollment")
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return e, true, nil
	}
	existing, err := r.GetEnrollment(ctx, e.UserID, e.CourseID, exec...)
	return existing, false, err
}

func (r enrollmentRepository) GetEnrollment(ctx context.Context, userID, courseID string, exec ...core.DBExecutor) (enrollment.Enrollment, error) {
	if !validID(userID) || !validID(courseID) {
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}
	var row enrollmentRow
	q := "SELECT " + enrollmentColumns + " FROM enrollments WHERE user_id = $1 AND course_id = $2"
	if err := sqlx.GetContext(ctx, r.getExec(exec), &row, q, userID, courseID); err != nil {
		return enrollment.Enrollment{}, trapNoRowsErr(err, enrollment.ErrNotFound, "finding enrollment")
	}
	return row.unpack(), nil
}

func (r enrollmentRepository) GetEnrollmentByID(ctx context.Context, id string, exec ...core.DBExecutor) (enrollment.Enrollment, error) {
	if !validID(id) {
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}
	var row enrollmentRow
	if err := sqlx.GetContext(ctx, r.getExec(exec), &row, "SELECT "+enrollmentColumns+" FROM enrollments WHERE id = $1", id); err != nil {
		return enrollment.Enrollment{}, trapNoRowsErr(err, enrollment.ErrNotFound, "finding enrollment")
	}
	return row.unpack(), nil
}

func enrollmentFilter(filter enrollment.QueryFilter) *where {
	w := &where{}
	if filter.UserID != "" {
		w.add("user_id = ?", filter.UserID)
	}
	if filter.CourseID != "" {
		w.add("course_id = ?", filter.CourseID)
	}
	if filter.Status != "" {
		w.add("status = ?", filter.Status)
	}
	return w
}

func (r enrollmentRepository) QueryEnrollments(ctx context.Context, filter enrollment.QueryFilter, exec ...core.DBExecutor) ([]enrollment.Enrollment, error) {
	w := enrollmentFilter(filter)
	var rows []enrollmentRow
	e := r.getExec(exec)
	q := "SELECT " + enrollmentColumns + " FROM enrollments" + w.String() + " ORDER BY enrolled_at DESC"
	if err := sqlx.SelectContext(ctx, e, &rows, e.Rebind(q), w.args...); err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	enrs := make([]enrollment.Enrollment, 0, len(rows))
	for _, row := range rows {
		enrs = append(enrs, row.unpack())
	}
	return enrs, nil
}

func (r enrollmentRepository) CountEnrollments(ctx context.Context, filter enrollment.QueryFilter, exec ...core.DBExecutor) (int, error) {
	w := enrollmentFilter(filter)
	var n int
	e := r.getExec(exec)
	if err := sqlx.GetContext(ctx, e, &n, e.Rebind("SELECT COUNT(*) FROM enrollments"+w.String()), w.args...); err != nil {
		return 0, errors.Wrap(err, "counting enrollments")
	}
	return n, nil
}

func (r enrollmentRepository) UpdateEnrollment(ctx context.Context, e enrollment.Enrollment, exec ...core.DBExecutor) (enrollment.Enrollment, error) {
	q := `UPDATE enrollments SET progress = :progress, status = :status, last_lesson_id = :last_lesson_id,
		completed_at = :completed_at WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, r.getExec(exec), q, packEnrollment(e))
	if err != nil {
		return enrollment.Enrollment{}, errors.Wrap(err, "updating enrollment")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}
	return e, nil
}

func (r enrollmentRepository) CompleteEnrollment(ctx context.Context, e enrollment.Enrollment, exec ...core.DBExecutor) (enrollment.Enrollment, error) {
	e.Status = enrollment.StatusCompleted
	q := `UPDATE enrollments SET progress = :progress, status = :status, last_lesson_id = :last_lesson_id,
		completed_at = :completed_at WHERE id = :id AND status <> 'completed'`
	res, err := sqlx.NamedExecContext(ctx, r.getExec(exec), q, packEnrollment(e))
	if err != nil {
		return enrollment.Enrollment{}, errors.Wrap(err, "completing enrollment")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return enrollment.Enrollment{}, enrollment.ErrAlreadyDone
	}
	return e, nil
}

func (r enrollmentRepository) DeleteEnrollment(ctx context.Context, id string, exec ...core.DBExecutor) error {
	if !validID(id) {
		return enrollment.ErrNotFound
	}
	res, err := r.getExec(exec).ExecContext(ctx, "DELETE FROM enrollments WHERE id = $1", id)
	if err != nil {
		return errors.Wrap(err, "deleting enrollment")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return enrollment.ErrNotFound
	}
	return nil
}

func (r enrollmentRepository) CreateAccessRequest(ctx context.Context, req enrollment.AccessRequest, exec ...core.DBExecutor) (enrollment.AccessRequest, error) {
	q := `INSERT INTO course_access_requests (` + requestColumns + `) VALUES
		(:id, :user_id, :course_id, :message, :status, :reviewed_by, :review_note, :reviewed_at, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.getExec(exec), q, packRequest(req)); err != nil {
		if isUniqueViolation(err, "course_access_requests_pending_key") {
			return enrollment.AccessRequest{}, enrollment.ErrPendingExists
		}
		return enrollment.AccessRequest{}, errors.Wrap(err, "inserting access request")
	}
	return req, nil
}

func (r enrollmentRepository) GetAccessRequest(ctx context.Context, id string, exec ...core.DBExecutor) (enrollment.AccessRequest, error) {
	if !validID(id) {
		return enrollment.AccessRequest{}, enrollment.ErrRequestNotFound
	}
	var row requestRow
	q := "SELECT " + requestColumns + " FROM course_access_requests WHERE id = $1"
	if err := sqlx.GetContext(ctx, r.getExec(exec), &row, q, id); err != nil {
		return enrollment.AccessRequest{}, trapNoRowsErr(err, enrollment.ErrRequestNotFound, "finding access request")
	}
	return row.unpack(), nil
}

func requestFilter(filter enrollment.RequestFilter) *where {
	w := &where{}
	if filter.UserID != "" {
		w.add("user_id = ?", filter.UserID)
	}
	if filter.CourseID != "" {
		w.add("course_id = ?", filter.CourseID)
	}
	if filter.Status != "" {
		w.add("status = ?", filter.Status)
	}
	if !filter.CreatedBefore.IsZero() {
		w.add("created_at < ?", filter.CreatedBefore.UTC())
	}
	return w
}

func (r enrollmentRepository) QueryAccessRequests(ctx context.Context, filter enrollment.RequestFilter, exec ...core.DBExecutor) ([]enrollment.AccessRequest, error) {
	w := requestFilter(filter)
	var rows []requestRow
	e := r.getExec(exec)
	q := "SELECT " + requestColumns + " FROM course_access_requests" + w.String() + " ORDER BY created_at DESC"
	if err := sqlx.SelectContext(ctx, e, &rows, e.Rebind(q), w.args...); err != nil {
		return nil, errors.Wrap(err, "querying access requests")
	}
	reqs := make([]enrollment.AccessRequest, 0, len(rows))
	for _, row := range rows {
		reqs = append(reqs, row.unpack())
	}
	return reqs, nil
}

func (r enrollmentRepository) CountAccessRequests(ctx context.Context, filter enrollment.RequestFilter, exec ...core.DBExecutor) (int, error) {
	w := requestFilter(filter)
	var n int
	e := r.getExec(exec)
	if err := sqlx.GetContext(ctx, e, &n, e.Rebind("SELECT COUNT(*) FROM course_access_requests"+w.String()), w.args...); err != nil {
		return 0, errors.Wrap(err, "counting access requests")
	}
	return n, nil
}

func (r enrollmentRepository) ReviewAccessRequest(ctx context.Context, req enrollment.AccessRequest, exec ...core.DBExecutor) (enrollment.AccessRequest, error) {
	q := `UPDATE course_access_requests
		SET status = :status, reviewed_by = :reviewed_by, review_note = :review_note, reviewed_at = :reviewed_at
		WHERE id = :id AND status = 'pending'`
	res, err := sqlx.NamedExecContext(ctx, r.getExec(exec), q, packRequest(req))
	if err != nil {
		return enrollment.AccessRequest{}, errors.Wrap(err, "reviewing access request")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return enrollment.AccessRequest{}, enrollment.ErrNotPending
	}
	return req, nil
}
