package notification

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/luxaar/luxaar/core"
)

// Notification types
const (
	TypeSignupPending   = "signup_pending"
	TypeAccountApproved = "account_approved"
	TypeAccessRequested = "access_requested"
	TypeAccessApproved  = "access_approved"
	TypeAccessRejected  = "access_rejected"
	TypeEnrolled        = "enrolled"
	TypeCourseCompleted = "course_completed"
	TypeSupportMessage  = "support_message"
	TypeSupportReply    = "support_reply"
	TypePendingReminder = "pending_reminder"
)

const DefaultLimit = 50

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Link      string    `json:"link"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"` // UTC
}

// NewNotification is what a producer hands over; UserID is ignored when fanning out to admins.
type NewNotification struct {
	UserID  string `json:"user_id"`
	Type    string `json:"type" validate:"required"`
	Title   string `json:"title" validate:"required,max=200"`
	Message string `json:"message" validate:"max=2000"`
	Link    string `json:"link" validate:"omitempty,max=500"`
}

func (nn *NewNotification) Validate(validate *validator.Validate) error {
	nn.Title = core.CleanString(nn.Title)
	nn.Message = core.CleanString(nn.Message)
	nn.Link = core.CleanString(nn.Link)
	return validate.Struct(nn)
}

type QueryFilter struct {
	UserID     string
	UnreadOnly bool
	Limit      int
}

func (qf *QueryFilter) Clean() {
	if qf.Limit <= 0 || qf.Limit > 200 {
		qf.Limit = DefaultLimit
	}
}
