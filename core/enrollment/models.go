package enrollment

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/luxaar/luxaar/core"
)

// Enrollment statuses
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
)

// Access request statuses
const (
	RequestPending  = "pending"
	RequestApproved = "approved"
	RequestRejected = "rejected"
)

// Enrollment grants a student access to a course. Unique per (user, course).
type Enrollment struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	CourseID     string    `json:"course_id"`
	Progress     float64   `json:"progress"` // 0 - 100
	Status       string    `json:"status"`
	LastLessonID string    `json:"last_lesson_id"`
	EnrolledAt   time.Time `json:"enrolled_at"`  // UTC
	CompletedAt  null.Time `json:"completed_at"` // UTC
}

func (e Enrollment) IsCompleted() bool { return e.Status == StatusCompleted }

// AccessRequest is a student's request to join a course. At most one is pending per (user, course).
type AccessRequest struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	CourseID   string    `json:"course_id"`
	Message    string    `json:"message"`
	Status     string    `json:"status"`
	ReviewedBy string    `json:"reviewed_by"`
	ReviewNote string    `json:"review_note"`
	ReviewedAt null.Time `json:"reviewed_at"` // UTC
	CreatedAt  time.Time `json:"created_at"`  // UTC
}

func (r AccessRequest) IsPending() bool { return r.Status == RequestPending }

type NewAccessRequest struct {
	Message string `json:"message" validate:"max=1000"`
}

func (nr *NewAccessRequest) Validate(validate *validator.Validate) error {
	nr.Message = core.CleanString(nr.Message)
	return validate.Struct(nr)
}

type Review struct {
	Note string `json:"note" validate:"max=1000"`
}

func (rv *Review) Validate(validate *validator.Validate) error {
	rv.Note = core.CleanString(rv.Note)
	return validate.Struct(rv)
}

// NewEnrollment is an admin's direct enrollment.
type NewEnrollment struct {
	UserID   string `json:"user_id" validate:"required,uuid"`
	CourseID string `json:"course_id" validate:"required,uuid"`
}

func (ne *NewEnrollment) Validate(validate *validator.Validate) error {
	ne.UserID = core.CleanString(ne.UserID, true /* lower */)
	ne.CourseID = core.CleanString(ne.CourseID, true /* lower */)
	return validate.Struct(ne)
}

type QueryFilter struct {
	UserID   string
	CourseID string
	Status   string
}

type RequestFilter struct {
	UserID        string
	CourseID      string
	Status        string
	CreatedBefore time.Time
}
