package enrollment

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/course"
	"github.com/luxaar/luxaar/core/notification"
	"github.com/luxaar/luxaar/core/user"
)

var (
	ErrNotFound        = core.NewNotFoundError("enrollment not found")
	ErrRequestNotFound = core.NewNotFoundError("access request not found")
	ErrNotPending      = errors.New("request is not pending")
	ErrPendingExists   = errors.New("an access request for this course is already pending")
	ErrAlreadyEnrolled = errors.New("already enrolled in this course")
	ErrAlreadyDone     = errors.New("enrollment is already completed")
)

type (
	Repository interface {
		// CreateEnrollment is idempotent on (user, course): an existing enrollment is returned with created=false.
		CreateEnrollment(ctx context.Context, e Enrollment, exec ...core.DBExecutor) (enr Enrollment, created bool, err error)
		GetEnrollment(ctx context.Context, userID, courseID string, exec ...core.DBExecutor) (Enrollment, error)
		GetEnrollmentByID(ctx context.Context, id string, exec ...core.DBExecutor) (Enrollment, error)
		QueryEnrollments(ctx context.Context, filter QueryFilter, exec ...core.DBExecutor) ([]Enrollment, error)
		CountEnrollments(ctx context.Context, filter QueryFilter, exec ...core.DBExecutor) (int, error)
		UpdateEnrollment(ctx context.Context, e Enrollment, exec ...core.DBExecutor) (Enrollment, error)
		// CompleteEnrollment stores e as completed. It returns ErrAlreadyDone when the stored
		// enrollment is completed already, so only one of two concurrent completions wins.
		CompleteEnrollment(ctx context.Context, e Enrollment, exec ...core.DBExecutor) (Enrollment, error)
		DeleteEnrollment(ctx context.Context, id string, exec ...core.DBExecutor) error

		// CreateAccessRequest returns ErrPendingExists when the user already has a pending request for the course.
		CreateAccessRequest(ctx context.Context, r AccessRequest, exec ...core.DBExecutor) (AccessRequest, error)
		GetAccessRequest(ctx context.Context, id string, exec ...core.DBExecutor) (AccessRequest, error)
		QueryAccessRequests(ctx context.Context, filter RequestFilter, exec ...core.DBExecutor) ([]AccessRequest, error)
		CountAccessRequests(ctx context.Context, filter RequestFilter, exec ...core.DBExecutor) (int, error)
		// ReviewAccessRequest moves a pending request to r.Status. It returns ErrNotPending when the
		// stored request is no longer pending, so the first of two concurrent reviews wins.
		ReviewAccessRequest(ctx context.Context, r AccessRequest, exec ...core.DBExecutor) (AccessRequest, error)
	}

	ServiceInterface interface {
		RequestAccess(ctx context.Context, usr user.User, courseID string, nr NewAccessRequest) (AccessRequest, error)
		GetAccessRequest(ctx context.Context, id string) (AccessRequest, error)
		QueryAccessRequests(ctx context.Context, filter RequestFilter) ([]AccessRequest, error)
		CountAccessRequests(ctx context.Context, filter RequestFilter) (int, error)
		Approve(ctx context.Context, reviewer user.User, requestID string, rv Review) (AccessRequest, Enrollment, error)
		Reject(ctx context.Context, reviewer user.User, requestID string, rv Review) (AccessRequest, error)

		Enroll(ctx context.Context, ne NewEnrollment) (Enrollment, error)
		Unenroll(ctx context.Context, id string) error
		Get(ctx context.Context, userID, courseID string, exec ...core.DBExecutor) (Enrollment, error)
		GetByID(ctx context.Context, id string) (Enrollment, error)
		Query(ctx context.Context, filter QueryFilter) ([]Enrollment, error)
		Count(ctx context.Context, filter QueryFilter) (int, error)
		Save(ctx context.Context, e Enrollment, exec ...core.DBExecutor) (Enrollment, error)
		Complete(ctx context.Context, e Enrollment, exec ...core.DBExecutor) (Enrollment, error)
	}

	service struct {
		repo      Repository
		tx        core.TxRunner
		courseSvc course.ServiceInterface
		userSvc   user.ServiceInterface
		notifSvc  notification.ServiceInterface
		mailSvc   core.EmailService
		validate  *validator.Validate
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(
	repo Repository,
	tx core.TxRunner,
	courseSvc course.ServiceInterface,
	userSvc user.ServiceInterface,
	notifSvc notification.ServiceInterface,
	mailSvc core.EmailService,
	validate *validator.Validate,
) ServiceInterface {
	return &service{
		repo:      repo,
		tx:        tx,
		courseSvc: courseSvc,
		userSvc:   userSvc,
		notifSvc:  notifSvc,
		mailSvc:   mailSvc,
		validate:  validate,
	}
}

// RequestAccess files a pending request for a published course and notifies the admins.
func (svc *service) RequestAccess(ctx context.Context, usr user.User, courseID string, nr NewAccessRequest) (AccessRequest, error) {
	if err := nr.Validate(svc.validate); err != nil {
		return AccessRequest{}, err
	}
	c, err := svc.courseSvc.GetVisible(ctx, courseID, false)
	if err != nil {
		return AccessRequest{}, err
	}

	if _, err := svc.repo.GetEnrollment(ctx, usr.ID, c.ID); err == nil {
		return AccessRequest{}, core.NewValidationError(ErrAlreadyEnrolled)
	} else if errors.Cause(err) != ErrNotFound {
		return AccessRequest{}, errors.Wrap(err, "finding enrollment")
	}

	var (
		req     AccessRequest
		pending []notification.Notification
	)
	err = svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		var err error
		req, err = svc.repo.CreateAccessRequest(ctx, AccessRequest{
			ID:        uuid.NewString(),
			UserID:    usr.ID,
			CourseID:  c.ID,
			Message:   nr.Message,
			Status:    RequestPending,
			CreatedAt: core.UTCNow(),
		}, core.Execs(exec)...)
		if err != nil {
			if errors.Cause(err) == ErrPendingExists {
				return core.NewValidationError(ErrPendingExists)
			}
			return errors.Wrap(err, "creating access request")
		}
		pending, err = svc.notifSvc.CreateForAdmins(ctx, notification.NewNotification{
			Type:    notification.TypeAccessRequested,
			Title:   "New course access request",
			Message: fmt.Sprintf("%s requested access to %q.", usr.DisplayName(), c.Title),
			Link:    "/admin/access-requests?status=pending",
		}, core.Execs(exec)...)
		return errors.Wrap(err, "notifying admins")
	})
	if err != nil {
		return AccessRequest{}, err
	}

	svc.notifSvc.Publish(ctx, pending...)
	return req, nil
}

func (svc *service) GetAccessRequest(ctx context.Context, id string) (AccessRequest, error) {
	return svc.repo.GetAccessRequest(ctx, id)
}

func (svc *service) QueryAccessRequests(ctx context.Context, filter RequestFilter) ([]AccessRequest, error) {
	return svc.repo.QueryAccessRequests(ctx, filter)
}

func (svc *service) CountAccessRequests(ctx context.Context, filter RequestFilter) (int, error) {
	return svc.repo.CountAccessRequests(ctx, filter)
}

// Approve moves the request out of pending, creates the enrollment and notifies the student, atomically.
func (svc *service) Approve(ctx context.Context, reviewer user.User, requestID string, rv Review) (AccessRequest, Enrollment, error) {
	if err := rv.Validate(svc.validate); err != nil {
		return AccessRequest{}, Enrollment{}, err
	}

	var (
		req AccessRequest
		enr Enrollment
		c   course.Course
		n   notification.Notification
	)
	err := svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if req, err = svc.review(ctx, reviewer, requestID, RequestApproved, rv.Note, exec); err != nil {
			return err
		}
		if c, err = svc.courseSvc.Get(ctx, req.CourseID); err != nil {
			return errors.Wrap(err, "finding course")
		}
		if enr, _, err = svc.repo.CreateEnrollment(ctx, newEnrollment(req.UserID, req.CourseID), core.Execs(exec)...); err != nil {
			return errors.Wrap(err, "creating enrollment")
		}
		n, err = svc.notifSvc.Create(ctx, notification.NewNotification{
			UserID:  req.UserID,
			Type:    notification.TypeAccessApproved,
			Title:   "Course access approved",
			Message: fmt.Sprintf("You now have access to %q.", c.Title),
			Link:    "/courses/" + c.ID,
		}, core.Execs(exec)...)
		return errors.Wrap(err, "notifying student")
	})
	if err != nil {
		return AccessRequest{}, Enrollment{}, err
	}

	svc.notifSvc.Publish(ctx, n)
	svc.sendAccessMail(ctx, req.UserID, c, true, rv.Note)
	return req, enr, nil
}

func (svc *service) Reject(ctx context.Context, reviewer user.User, requestID string, rv Review) (AccessRequest, error) {
	if err := rv.Validate(svc.validate); err != nil {
		return AccessRequest{}, err
	}

	var (
		req AccessRequest
		c   course.Course
		n   notification.Notification
	)
	err := svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if req, err = svc.review(ctx, reviewer, requestID, RequestRejected, rv.Note, exec); err != nil {
			return err
		}
		if c, err = svc.courseSvc.Get(ctx, req.CourseID); err != nil {
			return errors.Wrap(err, "finding course")
		}
		msg := fmt.Sprintf("Your request to join %q was declined.", c.Title)
		if rv.Note != "" {
			msg += " " + rv.Note
		}
		n, err = svc.notifSvc.Create(ctx, notification.NewNotification{
			UserID:  req.UserID,
			Type:    notification.TypeAccessRejected,
			Title:   "Course access declined",
			Message: msg,
			Link:    "/courses/" + c.ID,
		}, core.Execs(exec)...)
		return errors.Wrap(err, "notifying student")
	})
	if err != nil {
		return AccessRequest{}, err
	}

	svc.notifSvc.Publish(ctx, n)
	svc.sendAccessMail(ctx, req.UserID, c, false, rv.Note)
	return req, nil
}

func (svc *service) review(ctx context.Context, reviewer user.User, requestID, status, note string, exec core.DBExecutor) (AccessRequest, error) {
	req, err := svc.repo.GetAccessRequest(ctx, requestID, core.Execs(exec)...)
	if err != nil {
		return AccessRequest{}, err
	}
	if !req.IsPending() {
		return AccessRequest{}, core.NewValidationError(ErrNotPending)
	}
	req.Status = status
	req.ReviewedBy = reviewer.ID
	req.ReviewNote = note
	req.ReviewedAt.SetValid(core.UTCNow())

	req, err = svc.repo.ReviewAccessRequest(ctx, req, core.Execs(exec)...)
	if err != nil {
		if errors.Cause(err) == ErrNotPending {
			return AccessRequest{}, core.NewValidationError(ErrNotPending)
		}
		return AccessRequest{}, errors.Wrap(err, "reviewing access request")
	}
	return req, nil
}

// Enroll adds a student to a course directly, bypassing the request flow.
func (svc *service) Enroll(ctx context.Context, ne NewEnrollment) (Enrollment, error) {
	if err := ne.Validate(svc.validate); err != nil {
		return Enrollment{}, err
	}
	usr, err := svc.userSvc.GetByID(ctx, ne.UserID)
	if err != nil {
		if core.IsNotFound(err) {
			return Enrollment{}, core.NewValidationError(err, core.FieldError{Field: "user_id", Error: err.Error()})
		}
		return Enrollment{}, errors.Wrap(err, "finding user")
	}
	c, err := svc.courseSvc.Get(ctx, ne.CourseID)
	if err != nil {
		if core.IsNotFound(err) {
			return Enrollment{}, core.NewValidationError(err, core.FieldError{Field: "course_id", Error: err.Error()})
		}
		return Enrollment{}, errors.Wrap(err, "finding course")
	}

	var (
		enr     Enrollment
		pending []notification.Notification
	)
	err = svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		var created bool
		var err error
		if enr, created, err = svc.repo.CreateEnrollment(ctx, newEnrollment(usr.ID, c.ID), core.Execs(exec)...); err != nil {
			return errors.Wrap(err, "creating enrollment")
		}
		if !created {
			return nil
		}
		n, err := svc.notifSvc.Create(ctx, notification.NewNotification{
			UserID:  usr.ID,
			Type:    notification.TypeEnrolled,
			Title:   "You were enrolled in a course",
			Message: fmt.Sprintf("You now have access to %q.", c.Title),
			Link:    "/courses/" + c.ID,
		}, core.Execs(exec)...)
		if err != nil {
			return errors.Wrap(err, "notifying student")
		}
		pending = append(pending, n)
		return nil
	})
	if err != nil {
		return Enrollment{}, err
	}

	svc.notifSvc.Publish(ctx, pending...)
	return enr, nil
}

func (svc *service) Unenroll(ctx context.Context, id string) error {
	return svc.repo.DeleteEnrollment(ctx, id)
}

func (svc *service) Get(ctx context.Context, userID, courseID string, exec ...core.DBExecutor) (Enrollment, error) {
	return svc.repo.GetEnrollment(ctx, userID, courseID, exec...)
}

func (svc *service) GetByID(ctx context.Context, id string) (Enrollment, error) {
	return svc.repo.GetEnrollmentByID(ctx, id)
}

func (svc *service) Query(ctx context.Context, filter QueryFilter) ([]Enrollment, error) {
	return svc.repo.QueryEnrollments(ctx, filter)
}

func (svc *service) Count(ctx context.Context, filter QueryFilter) (int, error) {
	return svc.repo.CountEnrollments(ctx, filter)
}

func (svc *service) Save(ctx context.Context, e Enrollment, exec ...core.DBExecutor) (Enrollment, error) {
	return svc.repo.UpdateEnrollment(ctx, e, exec...)
}

// Complete marks e completed now. It returns ErrAlreadyDone if another completion got there first.
func (svc *service) Complete(ctx context.Context, e Enrollment, exec ...core.DBExecutor) (Enrollment, error) {
	e.Status = StatusCompleted
	if !e.CompletedAt.Valid {
		e.CompletedAt.SetValid(core.UTCNow())
	}
	return svc.repo.CompleteEnrollment(ctx, e, exec...)
}

func (svc *service) sendAccessMail(ctx context.Context, userID string, c course.Course, approved bool, note string) {
	usr, err := svc.userSvc.GetByID(ctx, userID)
	if err != nil || usr.Email == "" {
		return
	}
	tmpl, subject := "access_rejected", "Course access declined"
	if approved {
		tmpl, subject = "access_approved", "Course access approved"
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.DisplayName(), Address: usr.Email}},
		Subject:      subject,
		TemplateName: tmpl,
		TemplateData: map[string]interface{}{
			"Name":        usr.DisplayName(),
			"CourseTitle": c.Title,
			"Path":        "/courses/" + c.ID,
			"Note":        note,
		},
	})
}

func newEnrollment(userID, courseID string) Enrollment {
	return Enrollment{
		ID:         uuid.NewString(),
		UserID:     userID,
		CourseID:   courseID,
		Status:     StatusActive,
		EnrolledAt: core.UTCNow(),
	}
}
