package progress_test

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/enrollment"
	"github.com/luxaar/luxaar/core/notification"
	"github.com/luxaar/luxaar/core/progress"
	"github.com/luxaar/luxaar/tests"
)

func watch(t *testing.T, env *testutil.Env, userID, lessonID string, positions ...float64) progress.PlaybackResult {
	t.Helper()
	var res progress.PlaybackResult
	for _, pos := range positions {
		var err error
		res, err = env.ProgressSvc.ReportPlayback(context.Background(), userID, lessonID, progress.Playback{Position: pos, Duration: 10})
		require.NoError(t, err)
		require.False(t, res.Violation, "position %v rejected", pos)
	}
	return res
}

func TestService_SequentialVideo(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	admin := env.Admin(t, "admin1")
	student := env.Student(t, "student")
	c, lessons := env.CourseWithLessons(t, admin.ID, 10, 2, 1)
	enr := env.Enroll(t, student, c.ID)

	cp, err := env.ProgressSvc.CourseProgress(ctx, student.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, enr.ID, cp.EnrollmentID)
	assert.Equal(t, 3, cp.TotalLessons)
	assert.Equal(t, lessons[0].ID, cp.ResumeLessonID)
	assert.Equal(t, progress.StateUnlocked, cp.Lessons[0].State)
	assert.Equal(t, progress.StateLocked, cp.Lessons[1].State)
	assert.Equal(t, progress.StateLocked, cp.Lessons[2].State)

	_, err = env.ProgressSvc.Lesson(ctx, student.ID, lessons[1].ID)
	assert.Equal(t, progress.ErrLessonLocked, errors.Cause(err))
	_, err = env.ProgressSvc.ReportPlayback(ctx, student.ID, lessons[1].ID, progress.Playback{Position: 1})
	assert.True(t, core.IsForbidden(err))

	t.Run("skipping ahead is refused", func(t *testing.T) {
		res := watch(t, env, student.ID, lessons[0].ID, 1.5, 3.5)
		assert.Equal(t, progress.StateInProgress, res.State)

		res, err := env.ProgressSvc.ReportPlayback(ctx, student.ID, lessons[0].ID, progress.Playback{Position: 8, Duration: 10})
		require.NoError(t, err)
		assert.True(t, res.Violation)
		require.NotNil(t, res.SeekTo)
		assert.Equal(t, 3.5, *res.SeekTo)
		assert.Equal(t, 3.5, res.Progress.MaxWatched)

		// ended counts as the end of the video
		res, err = env.ProgressSvc.ReportPlayback(ctx, student.ID, lessons[0].ID, progress.Playback{Ended: true})
		require.NoError(t, err)
		assert.True(t, res.Violation)

		// rewinding is always fine and keeps the high-water mark
		res = watch(t, env, student.ID, lessons[0].ID, 1)
		assert.Equal(t, 1.0, res.Progress.LastPosition)
		assert.Equal(t, 3.5, res.Progress.MaxWatched)
	})

	t.Run("watching to 95% completes the lesson", func(t *testing.T) {
		res := watch(t, env, student.ID, lessons[0].ID, 5, 7, 9)
		assert.False(t, res.JustCompleted)

		res = watch(t, env, student.ID, lessons[0].ID, 9.6)
		assert.True(t, res.JustCompleted)
		assert.Equal(t, progress.StateCompleted, res.State)
		assert.Equal(t, lessons[1].ID, res.NextLessonID)
		assert.Equal(t, 33.0, res.CoursePercent)
		assert.False(t, res.CourseCompleted)

		// completed lessons may be seeked freely
		res = watch(t, env, student.ID, lessons[0].ID, 0, 9.9)
		assert.False(t, res.JustCompleted)
	})

	view, err := env.ProgressSvc.Lesson(ctx, student.ID, lessons[1].ID)
	require.NoError(t, err)
	assert.Equal(t, progress.StateUnlocked, view.State)

	watch(t, env, student.ID, lessons[1].ID, 2, 4)
	cp, err = env.ProgressSvc.CourseProgress(ctx, student.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, lessons[1].ID, cp.ResumeLessonID)
	assert.Equal(t, 1, cp.CompletedLessons)

	t.Run("finishing the last lesson completes the course", func(t *testing.T) {
		watch(t, env, student.ID, lessons[1].ID, 6, 8, 10)
		res := watch(t, env, student.ID, lessons[2].ID, 2, 4, 6, 8)
		assert.False(t, res.CourseCompleted)

		res, err := env.ProgressSvc.ReportPlayback(ctx, student.ID, lessons[2].ID, progress.Playback{Position: 8.5, Ended: true})
		require.NoError(t, err)
		assert.False(t, res.Violation)
		assert.True(t, res.JustCompleted)
		assert.True(t, res.CourseCompleted)
		assert.Equal(t, 100.0, res.CoursePercent)
		assert.Empty(t, res.NextLessonID)

		stored, err := env.EnrollSvc.Get(ctx, student.ID, c.ID)
		require.NoError(t, err)
		assert.Equal(t, enrollment.StatusCompleted, stored.Status)
		assert.True(t, stored.CompletedAt.Valid)
		assert.Equal(t, 100.0, stored.Progress)
		assert.Equal(t, lessons[2].ID, stored.LastLessonID)

		ns, err := env.NotifSvc.List(ctx, notification.QueryFilter{UserID: student.ID, UnreadOnly: true})
		require.NoError(t, err)
		var completed int
		for _, n := range ns {
			if n.Type == notification.TypeCourseCompleted {
				completed++
			}
		}
		assert.Equal(t, 1, completed)
	})
}

func TestService_ConcurrentCompletion(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	admin := env.Admin(t, "admin1")
	student := env.Student(t, "student")
	c, lessons := env.CourseWithLessons(t, admin.ID, 10, 1)
	env.Enroll(t, student, c.ID)
	watch(t, env, student.ID, lessons[0].ID, 2, 4, 6, 8)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.ProgressSvc.ReportPlayback(ctx, student.ID, lessons[0].ID, progress.Playback{Position: 10, Duration: 10})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	stored, err := env.EnrollSvc.Get(ctx, student.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusCompleted, stored.Status)
	assert.Equal(t, 100.0, stored.Progress)

	ns, err := env.NotifSvc.List(ctx, notification.QueryFilter{UserID: student.ID})
	require.NoError(t, err)
	var completed int
	for _, n := range ns {
		if n.Type == notification.TypeCourseCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
}

func TestService_TextLessons(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	admin := env.Admin(t, "admin1")
	student := env.Student(t, "student")
	c, lessons := env.CourseWithLessons(t, admin.ID, 0, 2)
	env.Enroll(t, student, c.ID)

	_, err := env.ProgressSvc.ReportPlayback(ctx, student.ID, lessons[0].ID, progress.Playback{Position: 1})
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, progress.ErrNotVideo, verr.Err)

	_, err = env.ProgressSvc.CompleteText(ctx, student.ID, lessons[1].ID)
	assert.Equal(t, progress.ErrLessonLocked, errors.Cause(err))

	res, err := env.ProgressSvc.CompleteText(ctx, student.ID, lessons[0].ID)
	require.NoError(t, err)
	assert.True(t, res.JustCompleted)
	assert.Equal(t, 50.0, res.CoursePercent)
	assert.Equal(t, lessons[1].ID, res.NextLessonID)

	// completing twice is harmless
	res, err = env.ProgressSvc.CompleteText(ctx, student.ID, lessons[0].ID)
	require.NoError(t, err)
	assert.False(t, res.JustCompleted)

	res, err = env.ProgressSvc.CompleteText(ctx, student.ID, lessons[1].ID)
	require.NoError(t, err)
	assert.True(t, res.CourseCompleted)

	cp, err := env.ProgressSvc.CourseProgress(ctx, student.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusCompleted, cp.Status)
	assert.Equal(t, 100.0, cp.Percent)
}

func TestService_NotEnrolled(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	admin := env.Admin(t, "admin1")
	outsider := env.Student(t, "outsider")
	c, lessons := env.CourseWithLessons(t, admin.ID, 10, 1)

	_, err := env.ProgressSvc.CourseProgress(ctx, outsider.ID, c.ID)
	assert.Equal(t, progress.ErrNotEnrolled, errors.Cause(err))
	_, err = env.ProgressSvc.Lesson(ctx, outsider.ID, lessons[0].ID)
	assert.Equal(t, progress.ErrNotEnrolled, errors.Cause(err))

	env.Enroll(t, outsider, c.ID)
	_, err = env.ProgressSvc.CompleteText(ctx, outsider.ID, lessons[0].ID)
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, progress.ErrNotText, verr.Err)

	_, err = env.ProgressSvc.CourseProgress(ctx, outsider.ID, "missing")
	assert.True(t, core.IsNotFound(err))
}
