package inmemdb

import (
	"context"
	"sort"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/enrollment"
)

type enrollmentRepository struct {
	db *enrollmentTable
}

var _ enrollment.Repository = (*enrollmentRepository)(nil)

func NewEnrollmentRepository(db *DB) enrollment.Repository {
	return &enrollmentRepository{db: db.enrollment}
}

func (repo *enrollmentRepository) find(userID, courseID string) *enrollment.Enrollment {
	for _, e := range repo.db.enrollments {
		if e.UserID == userID && e.CourseID == courseID {
			return e
		}
	}
	return nil
}

func (repo *enrollmentRepository) CreateEnrollment(_ context.Context, e enrollment.Enrollment, _ ...core.DBExecutor) (enrollment.Enrollment, bool, error) {
	repo.db.Lock()
	defer repo.db.Unlock()
	if existing := repo.find(e.UserID, e.CourseID); existing != nil {
		return *existing, false, nil
	}
	repo.db.enrollments[e.ID] = &e
	return e, true, nil
}

func (repo *enrollmentRepository) GetEnrollment(_ context.Context, userID, courseID string, _ ...core.DBExecutor) (enrollment.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	if e := repo.find(userID, courseID); e != nil {
		return *e, nil
	}
	return enrollment.Enrollment{}, enrollment.ErrNotFound
}

func (repo *enrollmentRepository) GetEnrollmentByID(_ context.Context, id string, _ ...core.DBExecutor) (enrollment.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	if e, ok := repo.db.enrollments[id]; ok {
		return *e, nil
	}
	return enrollment.Enrollment{}, enrollment.ErrNotFound
}

func (repo *enrollmentRepository) QueryEnrollments(_ context.Context, filter enrollment.QueryFilter, _ ...core.DBExecutor) ([]enrollment.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	enrs := make([]enrollment.Enrollment, 0)
	for _, e := range repo.db.enrollments {
		if (filter.UserID == "" || e.UserID == filter.UserID) &&
			(filter.CourseID == "" || e.CourseID == filter.CourseID) &&
			(filter.Status == "" || e.Status == filter.Status) {
			enrs = append(enrs, *e)
		}
	}
	sort.SliceStable(enrs, func(i, j int) bool { return enrs[i].EnrolledAt.After(enrs[j].EnrolledAt) })
	return enrs, nil
}

func (repo *enrollmentRepository) CountEnrollments(ctx context.Context, filter enrollment.QueryFilter, _ ...core.DBExecutor) (int, error) {
	enrs, err := repo.QueryEnrollments(ctx, filter)
	return len(enrs), err
}

func (repo *enrollmentRepository) UpdateEnrollment(_ context.Context, e enrollment.Enrollment, _ ...core.DBExecutor) (enrollment.Enrollment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()
	stored, ok := repo.db.enrollments[e.ID]
	if !ok {
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}
	stored.Progress = e.Progress
	stored.Status = e.Status
	stored.LastLessonID = e.LastLessonID
	stored.CompletedAt = e.CompletedAt
	return *stored, nil
}

func (repo *enrollmentRepository) CompleteEnrollment(_ context.Context, e enrollment.Enrollment, _ ...core.DBExecutor) (enrollment.Enrollment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()
	stored, ok := repo.db.enrollments[e.ID]
	if !ok {
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}
	if stored.IsCompleted() {
		return enrollment.Enrollment{}, enrollment.ErrAlreadyDone
	}
	stored.Progress = e.Progress
	stored.Status = enrollment.StatusCompleted
	stored.LastLessonID = e.LastLessonID
	stored.CompletedAt = e.CompletedAt
	return *stored, nil
}

func (repo *enrollmentRepository) DeleteEnrollment(_ context.Context, id string, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	if _, ok := repo.db.enrollments[id]; !ok {
		return enrollment.ErrNotFound
	}
	delete(repo.db.enrollments, id)
	return nil
}

func (repo *enrollmentRepository) CreateAccessRequest(_ context.Context, r enrollment.AccessRequest, _ ...core.DBExecutor) (enrollment.AccessRequest, error) {
	repo.db.Lock()
	defer repo.db.Unlock()
	for _, req := range repo.db.requests {
		if req.UserID == r.UserID && req.CourseID == r.CourseID && req.IsPending() {
			return enrollment.AccessRequest{}, enrollment.ErrPendingExists
		}
	}
	repo.db.requests[r.ID] = &r
	return r, nil
}

func (repo *enrollmentRepository) GetAccessRequest(_ context.Context, id string, _ ...core.DBExecutor) (enrollment.AccessRequest, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	if r, ok := repo.db.requests[id]; ok {
		return *r, nil
	}
	return enrollment.AccessRequest{}, enrollment.ErrRequestNotFound
}

func (repo *enrollmentRepository) QueryAccessRequests(_ context.Context, filter enrollment.RequestFilter, _ ...core.DBExecutor) ([]enrollment.AccessRequest, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	reqs := make([]enrollment.AccessRequest, 0)
	for _, r := range repo.db.requests {
		if (filter.UserID == "" || r.UserID == filter.UserID) &&
			(filter.CourseID == "" || r.CourseID == filter.CourseID) &&
			(filter.Status == "" || r.Status == filter.Status) &&
			(filter.CreatedBefore.IsZero() || r.CreatedAt.Before(filter.CreatedBefore)) {
			reqs = append(reqs, *r)
		}
	}
	sort.SliceStable(reqs, func(i, j int) bool { return reqs[i].CreatedAt.After(reqs[j].CreatedAt) })
	return reqs, nil
}

func (repo *enrollmentRepository) CountAccessRequests(ctx context.Context, filter enrollment.RequestFilter, _ ...core.DBExecutor) (int, error) {
	reqs, err := repo.QueryAccessRequests(ctx, filter)
	return len(reqs), err
}

func (repo *enrollmentRepository) ReviewAccessRequest(_ context.Context, r enrollment.AccessRequest, _ ...core.DBExecutor) (enrollment.AccessRequest, error) {
	repo.db.Lock()
	defer repo.db.Unlock()
	stored, ok := repo.db.requests[r.ID]
	if !ok {
		return enrollment.AccessRequest{}, enrollment.ErrRequestNotFound
	}
	if !stored.IsPending() {
		return enrollment.AccessRequest{}, enrollment.ErrNotPending
	}
	stored.Status = r.Status
	stored.ReviewedBy = r.ReviewedBy
	stored.ReviewNote = r.ReviewNote
	stored.ReviewedAt = r.ReviewedAt
	return *stored, nil
}
