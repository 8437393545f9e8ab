package support

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/luxaar/luxaar/core"
)

// Message statuses
const (
	StatusOpen     = "open"
	StatusReplied  = "replied"
	StatusResolved = "resolved"
)

type Message struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Subject    string    `json:"subject"`
	Message    string    `json:"message"`
	Status     string    `json:"status"`
	AdminReply string    `json:"admin_reply"`
	RepliedBy  string    `json:"replied_by"`
	RepliedAt  null.Time `json:"replied_at"` // UTC
	CreatedAt  time.Time `json:"created_at"` // UTC
	UpdatedAt  time.Time `json:"updated_at"` // UTC
}

type NewMessage struct {
	Subject string `json:"subject" validate:"required,max=200"`
	Message string `json:"message" validate:"required,max=5000"`
}

func (nm *NewMessage) Validate(validate *validator.Validate) error {
	nm.Subject = core.CleanString(nm.Subject)
	nm.Message = core.CleanString(nm.Message)
	return validate.Struct(nm)
}

type Reply struct {
	Reply string `json:"reply" validate:"required,max=5000"`
}

func (r *Reply) Validate(validate *validator.Validate) error {
	r.Reply = core.CleanString(r.Reply)
	return validate.Struct(r)
}

type QueryFilter struct {
	UserID string
	Status string
}
