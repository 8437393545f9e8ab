package progress

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/course"
	"github.com/luxaar/luxaar/core/enrollment"
	"github.com/luxaar/luxaar/core/notification"
)

var (
	ErrNotEnrolled  = core.NewForbiddenError("not enrolled in this course")
	ErrLessonLocked = core.NewForbiddenError("lesson is locked")
	ErrNotVideo     = errors.New("only video lessons report playback")
	ErrNotText      = errors.New("video lessons are completed by watching them")
)

type (
	Repository interface {
		// QueryProgress returns the user's progress records for a course.
		QueryProgress(ctx context.Context, userID, courseID string, exec ...core.DBExecutor) ([]LessonProgress, error)
		// SaveProgress upserts p. Stored MaxWatched and Completed never go backwards.
		SaveProgress(ctx context.Context, p LessonProgress, exec ...core.DBExecutor) (LessonProgress, error)
	}

	ServiceInterface interface {
		CourseProgress(ctx context.Context, userID, courseID string) (CourseProgress, error)
		// Lesson serves an unlocked lesson to an enrolled student.
		Lesson(ctx context.Context, userID, lessonID string) (LessonView, error)
		ReportPlayback(ctx context.Context, userID, lessonID string, pb Playback) (PlaybackResult, error)
		CompleteText(ctx context.Context, userID, lessonID string) (PlaybackResult, error)
	}

	service struct {
		repo      Repository
		tx        core.TxRunner
		courseSvc course.ServiceInterface
		enrollSvc enrollment.ServiceInterface
		notifSvc  notification.ServiceInterface
		validate  *validator.Validate
	}

	// lessonCtx bundles what every lesson operation loads.
	lessonCtx struct {
		lesson course.Lesson
		enr    enrollment.Enrollment
		gate   *Gate
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(
	repo Repository,
	tx core.TxRunner,
	courseSvc course.ServiceInterface,
	enrollSvc enrollment.ServiceInterface,
	notifSvc notification.ServiceInterface,
	validate *validator.Validate,
) ServiceInterface {
	return &service{
		repo:      repo,
		tx:        tx,
		courseSvc: courseSvc,
		enrollSvc: enrollSvc,
		notifSvc:  notifSvc,
		validate:  validate,
	}
}

func (svc *service) loadGate(ctx context.Context, userID, courseID string) (enrollment.Enrollment, *Gate, error) {
	enr, err := svc.enrollSvc.Get(ctx, userID, courseID)
	if err != nil {
		if errors.Cause(err) == enrollment.ErrNotFound {
			return enrollment.Enrollment{}, nil, ErrNotEnrolled
		}
		return enrollment.Enrollment{}, nil, errors.Wrap(err, "finding enrollment")
	}
	lessons, err := svc.courseSvc.PlayOrder(ctx, courseID)
	if err != nil {
		return enrollment.Enrollment{}, nil, errors.Wrap(err, "loading play order")
	}
	records, err := svc.repo.QueryProgress(ctx, userID, courseID)
	if err != nil {
		return enrollment.Enrollment{}, nil, errors.Wrap(err, "querying progress")
	}
	return enr, NewGate(lessons, records), nil
}

func (svc *service) loadLesson(ctx context.Context, userID, lessonID string) (lessonCtx, error) {
	lesson, err := svc.courseSvc.GetLesson(ctx, lessonID)
	if err != nil {
		return lessonCtx{}, err
	}
	enr, gate, err := svc.loadGate(ctx, userID, lesson.CourseID)
	if err != nil {
		return lessonCtx{}, err
	}
	if !gate.IsUnlocked(lesson.ID) {
		return lessonCtx{}, ErrLessonLocked
	}
	return lessonCtx{lesson: lesson, enr: enr, gate: gate}, nil
}

func (svc *service) CourseProgress(ctx context.Context, userID, courseID string) (CourseProgress, error) {
	if _, err := svc.courseSvc.Get(ctx, courseID); err != nil {
		return CourseProgress{}, err
	}
	enr, gate, err := svc.loadGate(ctx, userID, courseID)
	if err != nil {
		return CourseProgress{}, err
	}
	resume := enr.LastLessonID
	if resume == "" || !gate.Contains(resume) || gate.IsCompleted(resume) {
		resume = gate.Resume()
	}
	return CourseProgress{
		CourseID:         courseID,
		EnrollmentID:     enr.ID,
		Status:           enr.Status,
		Percent:          gate.Percent(),
		CompletedLessons: gate.CompletedCount(),
		TotalLessons:     gate.Total(),
		ResumeLessonID:   resume,
		Lessons:          gate.States(),
	}, nil
}

func (svc *service) Lesson(ctx context.Context, userID, lessonID string) (LessonView, error) {
	lc, err := svc.loadLesson(ctx, userID, lessonID)
	if err != nil {
		return LessonView{}, err
	}
	p, ok := lc.gate.Progress(lessonID)
	if !ok {
		p = LessonProgress{UserID: userID, LessonID: lessonID, CourseID: lc.lesson.CourseID}
	}
	return LessonView{Lesson: lc.lesson, State: lc.gate.State(lessonID), Progress: p}, nil
}

// ReportPlayback applies a video player report, enforcing the anti-skip rule.
func (svc *service) ReportPlayback(ctx context.Context, userID, lessonID string, pb Playback) (PlaybackResult, error) {
	if err := svc.validate.Struct(pb); err != nil {
		return PlaybackResult{}, err
	}
	lc, err := svc.loadLesson(ctx, userID, lessonID)
	if err != nil {
		return PlaybackResult{}, err
	}
	if !lc.lesson.IsVideo() {
		return PlaybackResult{}, core.NewValidationError(ErrNotVideo)
	}

	p, ok := lc.gate.Progress(lessonID)
	if !ok {
		p = LessonProgress{UserID: userID, LessonID: lessonID, CourseID: lc.lesson.CourseID}
	}

	next, accepted, justCompleted := ApplyPlayback(p, lc.lesson.DurationSeconds, pb)
	if !accepted {
		seekTo := p.MaxWatched
		return PlaybackResult{
			Violation:     true,
			SeekTo:        &seekTo,
			Progress:      p,
			State:         lc.gate.State(lessonID),
			CoursePercent: lc.gate.Percent(),
		}, nil
	}
	return svc.save(ctx, lc, next, justCompleted)
}

// CompleteText marks a text lesson as done.
func (svc *service) CompleteText(ctx context.Context, userID, lessonID string) (PlaybackResult, error) {
	lc, err := svc.loadLesson(ctx, userID, lessonID)
	if err != nil {
		return PlaybackResult{}, err
	}
	if lc.lesson.IsVideo() {
		return PlaybackResult{}, core.NewValidationError(ErrNotText)
	}

	p, ok := lc.gate.Progress(lessonID)
	if !ok {
		p = LessonProgress{UserID: userID, LessonID: lessonID, CourseID: lc.lesson.CourseID}
	}
	justCompleted := !p.Completed
	p.Completed = true
	return svc.save(ctx, lc, p, justCompleted)
}

// save persists the lesson progress and, on completion, cascades to the enrollment.
func (svc *service) save(ctx context.Context, lc lessonCtx, p LessonProgress, justCompleted bool) (PlaybackResult, error) {
	now := core.UTCNow()
	p.UpdatedAt = now
	if justCompleted {
		p.CompletedAt.SetValid(now)
	}

	var (
		res     PlaybackResult
		pending []notification.Notification
	)
	err := svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		saved, err := svc.repo.SaveProgress(ctx, p, core.Execs(exec)...)
		if err != nil {
			return errors.Wrap(err, "saving progress")
		}
		lc.gate.Record(saved)

		enr := lc.enr
		enrChanged := enr.LastLessonID != lc.lesson.ID
		enr.LastLessonID = lc.lesson.ID
		if next, ok := lc.gate.Next(lc.lesson.ID); ok && saved.Completed {
			res.NextLessonID = next.ID
		}

		completing := false
		if justCompleted {
			percent := lc.gate.Percent()
			if enr.Progress != percent {
				enr.Progress = percent
				enrChanged = true
			}
			completing = percent >= 100 && !enr.IsCompleted()
		}

		courseCompleted := false
		switch {
		case completing:
			enr.CompletedAt.SetValid(now)
			completed, err := svc.enrollSvc.Complete(ctx, enr, core.Execs(exec)...)
			switch errors.Cause(err) {
			case nil:
				enr = completed
				courseCompleted = true
			case enrollment.ErrAlreadyDone:
				// a concurrent report completed the course
				enr.Status = enrollment.StatusCompleted
			default:
				return errors.Wrap(err, "completing enrollment")
			}
		case enrChanged:
			if _, err := svc.enrollSvc.Save(ctx, enr, core.Execs(exec)...); err != nil {
				return errors.Wrap(err, "updating enrollment")
			}
		}

		if courseCompleted {
			c, err := svc.courseSvc.Get(ctx, lc.lesson.CourseID)
			if err != nil {
				return errors.Wrap(err, "finding course")
			}
			n, err := svc.notifSvc.Create(ctx, notification.NewNotification{
				UserID:  enr.UserID,
				Type:    notification.TypeCourseCompleted,
				Title:   "Course completed",
				Message: fmt.Sprintf("Congratulations! You completed %q.", c.Title),
				Link:    "/courses/" + c.ID,
			}, core.Execs(exec)...)
			if err != nil {
				return errors.Wrap(err, "notifying student")
			}
			pending = append(pending, n)
		}

		res.Progress = saved
		res.State = lc.gate.State(lc.lesson.ID)
		res.JustCompleted = justCompleted
		res.CoursePercent = lc.gate.Percent()
		res.CourseCompleted = enr.IsCompleted()
		return nil
	})
	if err != nil {
		return PlaybackResult{}, err
	}

	svc.notifSvc.Publish(ctx, pending...)
	return res, nil
}
