package enrollment_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/course"
	"github.com/luxaar/luxaar/core/enrollment"
	"github.com/luxaar/luxaar/core/notification"
	"github.com/luxaar/luxaar/services/email"
	"github.com/luxaar/luxaar/tests"
)

func validationCause(t *testing.T, err error) error {
	t.Helper()
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	return verr.Err
}

func notificationTypes(t *testing.T, env *testutil.Env, userID string) []string {
	t.Helper()
	ns, err := env.NotifSvc.List(context.Background(), notification.QueryFilter{UserID: userID})
	require.NoError(t, err)
	types := make([]string, 0, len(ns))
	for _, n := range ns {
		types = append(types, n.Type)
	}
	return types
}

func TestService_RequestAccess(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	admin := env.Admin(t, "admin1")
	student := env.Student(t, "student")
	c, _ := env.CourseWithLessons(t, admin.ID, 0, 1)
	draft, err := env.CourseSvc.Create(ctx, course.NewCourse{Title: "Draft"}, admin.ID)
	require.NoError(t, err)

	_, err = env.EnrollSvc.RequestAccess(ctx, student, draft.ID, enrollment.NewAccessRequest{})
	assert.Equal(t, course.ErrNotFound, errors.Cause(err))

	req, err := env.EnrollSvc.RequestAccess(ctx, student, c.ID, enrollment.NewAccessRequest{Message: "  please  "})
	require.NoError(t, err)
	assert.Equal(t, enrollment.RequestPending, req.Status)
	assert.Equal(t, "please", req.Message)
	assert.Equal(t, []string{notification.TypeAccessRequested}, notificationTypes(t, env, admin.ID))

	_, err = env.EnrollSvc.RequestAccess(ctx, student, c.ID, enrollment.NewAccessRequest{})
	assert.Equal(t, enrollment.ErrPendingExists, validationCause(t, err))

	n, err := env.EnrollSvc.CountAccessRequests(ctx, enrollment.RequestFilter{Status: enrollment.RequestPending})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// once enrolled, asking again is pointless
	_, _, err = env.EnrollSvc.Approve(ctx, admin, req.ID, enrollment.Review{})
	require.NoError(t, err)
	_, err = env.EnrollSvc.RequestAccess(ctx, student, c.ID, enrollment.NewAccessRequest{})
	assert.Equal(t, enrollment.ErrAlreadyEnrolled, validationCause(t, err))
}

func TestService_Approve(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	admin := env.Admin(t, "admin1")
	student := env.Student(t, "student")
	c, _ := env.CourseWithLessons(t, admin.ID, 0, 1)

	req, err := env.EnrollSvc.RequestAccess(ctx, student, c.ID, enrollment.NewAccessRequest{})
	require.NoError(t, err)

	reviewed, enr, err := env.EnrollSvc.Approve(ctx, admin, req.ID, enrollment.Review{Note: "Welcome"})
	require.NoError(t, err)
	assert.Equal(t, enrollment.RequestApproved, reviewed.Status)
	assert.Equal(t, admin.ID, reviewed.ReviewedBy)
	assert.Equal(t, "Welcome", reviewed.ReviewNote)
	assert.True(t, reviewed.ReviewedAt.Valid)
	assert.Equal(t, student.ID, enr.UserID)
	assert.Equal(t, enrollment.StatusActive, enr.Status)
	assert.Zero(t, enr.Progress)

	stored, err := env.EnrollSvc.Get(ctx, student.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, enr.ID, stored.ID)

	assert.Equal(t, []string{notification.TypeAccessApproved}, notificationTypes(t, env, student.ID))
	sent := emailsvc.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "access_approved", sent[0].TemplateName)

	// a decided request stays decided
	_, err = env.EnrollSvc.Reject(ctx, admin, req.ID, enrollment.Review{})
	assert.Equal(t, enrollment.ErrNotPending, validationCause(t, err))

	_, _, err = env.EnrollSvc.Approve(ctx, admin, "missing", enrollment.Review{})
	assert.True(t, core.IsNotFound(err))
}

var errCommit = errors.New("commit failed")

// commitFails runs fn like the in-memory runner, then reports a failed commit.
type commitFails struct{}

func (commitFails) RunInTx(_ context.Context, fn func(exec core.DBExecutor) error) error {
	if err := fn(nil); err != nil {
		return err
	}
	return errCommit
}

func TestService_PublishesAfterCommit(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	admin := env.Admin(t, "admin1")
	student := env.Student(t, "student")
	c1, _ := env.CourseWithLessons(t, admin.ID, 0, 1)
	c2, _ := env.CourseWithLessons(t, admin.ID, 0, 1)
	c3, _ := env.CourseWithLessons(t, admin.ID, 0, 1)

	live, cancel, err := env.NotifSvc.Subscribe(ctx, student.ID)
	require.NoError(t, err)
	defer cancel()

	failing := enrollment.NewService(env.EnrollRepo, commitFails{}, env.CourseSvc, env.UserSvc, env.NotifSvc, env.MailSvc, env.Validate)
	req, err := env.EnrollSvc.RequestAccess(ctx, student, c1.ID, enrollment.NewAccessRequest{})
	require.NoError(t, err)
	_, _, err = failing.Approve(ctx, admin, req.ID, enrollment.Review{})
	assert.Equal(t, errCommit, errors.Cause(err))
	_, err = failing.Enroll(ctx, enrollment.NewEnrollment{UserID: student.ID, CourseID: c2.ID})
	assert.Equal(t, errCommit, errors.Cause(err))

	select {
	case n := <-live:
		t.Fatalf("published %q although the transaction failed", n.Type)
	case <-time.After(50 * time.Millisecond):
	}

	req, err = env.EnrollSvc.RequestAccess(ctx, student, c3.ID, enrollment.NewAccessRequest{})
	require.NoError(t, err)
	_, _, err = env.EnrollSvc.Approve(ctx, admin, req.ID, enrollment.Review{})
	require.NoError(t, err)

	select {
	case n := <-live:
		assert.Equal(t, notification.TypeAccessApproved, n.Type)
	case <-time.After(time.Second):
		t.Fatal("approval was not published")
	}
}

func TestService_ConcurrentApprovals(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	admins := []string{"admin1", "admin2", "admin3", "admin4", "admin5"}
	student := env.Student(t, "student")
	c, _ := env.CourseWithLessons(t, env.Admin(t, "author").ID, 0, 1)

	req, err := env.EnrollSvc.RequestAccess(ctx, student, c.ID, enrollment.NewAccessRequest{})
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		approved int
		refused  int
	)
	for _, uname := range admins {
		admin := env.Admin(t, uname)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := env.EnrollSvc.Approve(ctx, admin, req.ID, enrollment.Review{})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				approved++
			} else if verr := new(core.ValidationError); errors.As(err, &verr) && verr.Err == enrollment.ErrNotPending {
				refused++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, approved)
	assert.Equal(t, len(admins)-1, refused)

	n, err := env.EnrollSvc.Count(ctx, enrollment.QueryFilter{UserID: student.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{notification.TypeAccessApproved}, notificationTypes(t, env, student.ID))
}

func TestService_Reject(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	admin := env.Admin(t, "admin1")
	student := env.Student(t, "student")
	c, _ := env.CourseWithLessons(t, admin.ID, 0, 1)

	req, err := env.EnrollSvc.RequestAccess(ctx, student, c.ID, enrollment.NewAccessRequest{})
	require.NoError(t, err)

	rejected, err := env.EnrollSvc.Reject(ctx, admin, req.ID, enrollment.Review{Note: "Cohort is full."})
	require.NoError(t, err)
	assert.Equal(t, enrollment.RequestRejected, rejected.Status)

	ns, err := env.NotifSvc.List(ctx, notification.QueryFilter{UserID: student.ID})
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, notification.TypeAccessRejected, ns[0].Type)
	assert.Contains(t, ns[0].Message, "Cohort is full.")

	_, err = env.EnrollSvc.Get(ctx, student.ID, c.ID)
	assert.Equal(t, enrollment.ErrNotFound, errors.Cause(err))

	// a rejected student may ask again
	_, err = env.EnrollSvc.RequestAccess(ctx, student, c.ID, enrollment.NewAccessRequest{})
	assert.NoError(t, err)
}

func TestService_Enroll(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	admin := env.Admin(t, "admin1")
	student := env.Student(t, "student")
	c, _ := env.CourseWithLessons(t, admin.ID, 0, 1)

	tests := []struct {
		name      string
		ne        enrollment.NewEnrollment
		wantField string
	}{
		{name: "unknown user", ne: enrollment.NewEnrollment{UserID: "4f7c4b52-8e0e-4d57-a2c5-7a3b7f0a1d11", CourseID: c.ID}, wantField: "user_id"},
		{name: "unknown course", ne: enrollment.NewEnrollment{UserID: student.ID, CourseID: "4f7c4b52-8e0e-4d57-a2c5-7a3b7f0a1d11"}, wantField: "course_id"},
		{name: "ok", ne: enrollment.NewEnrollment{UserID: student.ID, CourseID: c.ID}},
		{name: "idempotent", ne: enrollment.NewEnrollment{UserID: student.ID, CourseID: c.ID}},
	}
	var firstID string
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enr, err := env.EnrollSvc.Enroll(ctx, tt.ne)
			if tt.wantField != "" {
				var verr *core.ValidationError
				require.True(t, errors.As(err, &verr), "got %v", err)
				assert.Equal(t, tt.wantField, verr.Fields[0].Field)
				return
			}
			require.NoError(t, err)
			if firstID == "" {
				firstID = enr.ID
			}
			assert.Equal(t, firstID, enr.ID)
		})
	}

	// only the first enrollment notifies
	assert.Equal(t, []string{notification.TypeEnrolled}, notificationTypes(t, env, student.ID))

	require.NoError(t, env.EnrollSvc.Unenroll(ctx, firstID))
	_, err := env.EnrollSvc.GetByID(ctx, firstID)
	assert.True(t, core.IsNotFound(err))
	assert.True(t, core.IsNotFound(env.EnrollSvc.Unenroll(ctx, firstID)))
}
