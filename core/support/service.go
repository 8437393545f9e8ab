package support

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/notification"
	"github.com/luxaar/luxaar/core/user"
)

var (
	ErrNotFound        = core.NewNotFoundError("support message not found")
	ErrAlreadyResolved = errors.New("message is already resolved")
)

type (
	Repository interface {
		CreateMessage(ctx context.Context, m Message, exec ...core.DBExecutor) (Message, error)
		GetMessage(ctx context.Context, id string, exec ...core.DBExecutor) (Message, error)
		// QueryMessages returns the newest messages first.
		QueryMessages(ctx context.Context, filter QueryFilter, exec ...core.DBExecutor) ([]Message, error)
		CountMessages(ctx context.Context, filter QueryFilter, exec ...core.DBExecutor) (int, error)
		UpdateMessage(ctx context.Context, m Message, exec ...core.DBExecutor) (Message, error)
	}

	ServiceInterface interface {
		Create(ctx context.Context, usr user.User, nm NewMessage) (Message, error)
		Get(ctx context.Context, id string) (Message, error)
		Query(ctx context.Context, filter QueryFilter) ([]Message, error)
		Count(ctx context.Context, filter QueryFilter) (int, error)
		Reply(ctx context.Context, admin user.User, id string, r Reply) (Message, error)
		Resolve(ctx context.Context, id string) (Message, error)
	}

	service struct {
		repo     Repository
		tx       core.TxRunner
		userSvc  user.ServiceInterface
		notifSvc notification.ServiceInterface
		mailSvc  core.EmailService
		validate *validator.Validate
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(
	repo Repository,
	tx core.TxRunner,
	userSvc user.ServiceInterface,
	notifSvc notification.ServiceInterface,
	mailSvc core.EmailService,
	validate *validator.Validate,
) ServiceInterface {
	return &service{
		repo:     repo,
		tx:       tx,
		userSvc:  userSvc,
		notifSvc: notifSvc,
		mailSvc:  mailSvc,
		validate: validate,
	}
}

func (svc *service) Create(ctx context.Context, usr user.User, nm NewMessage) (Message, error) {
	if err := nm.Validate(svc.validate); err != nil {
		return Message{}, err
	}

	var (
		msg     Message
		pending []notification.Notification
	)
	err := svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		now := core.UTCNow()
		var err error
		msg, err = svc.repo.CreateMessage(ctx, Message{
			ID:        uuid.NewString(),
			UserID:    usr.ID,
			Subject:   nm.Subject,
			Message:   nm.Message,
			Status:    StatusOpen,
			CreatedAt: now,
			UpdatedAt: now,
		}, core.Execs(exec)...)
		if err != nil {
			return errors.Wrap(err, "creating support message")
		}
		pending, err = svc.notifSvc.CreateForAdmins(ctx, notification.NewNotification{
			Type:    notification.TypeSupportMessage,
			Title:   "New support message",
			Message: fmt.Sprintf("%s: %s", usr.DisplayName(), core.Truncate(msg.Subject, 120)),
			Link:    "/admin/support/" + msg.ID,
		}, core.Execs(exec)...)
		return errors.Wrap(err, "notifying admins")
	})
	if err != nil {
		return Message{}, err
	}

	svc.notifSvc.Publish(ctx, pending...)
	return msg, nil
}

func (svc *service) Get(ctx context.Context, id string) (Message, error) {
	return svc.repo.GetMessage(ctx, id)
}

func (svc *service) Query(ctx context.Context, filter QueryFilter) ([]Message, error) {
	return svc.repo.QueryMessages(ctx, filter)
}

func (svc *service) Count(ctx context.Context, filter QueryFilter) (int, error) {
	return svc.repo.CountMessages(ctx, filter)
}

// Reply answers a message and notifies its author.
func (svc *service) Reply(ctx context.Context, admin user.User, id string, r Reply) (Message, error) {
	if err := r.Validate(svc.validate); err != nil {
		return Message{}, err
	}

	var (
		msg Message
		n   notification.Notification
	)
	err := svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if msg, err = svc.repo.GetMessage(ctx, id, core.Execs(exec)...); err != nil {
			return err
		}
		if msg.Status == StatusResolved {
			return core.NewValidationError(ErrAlreadyResolved)
		}
		now := core.UTCNow()
		msg.Status = StatusReplied
		msg.AdminReply = r.Reply
		msg.RepliedBy = admin.ID
		msg.RepliedAt.SetValid(now)
		msg.UpdatedAt = now
		if msg, err = svc.repo.UpdateMessage(ctx, msg, core.Execs(exec)...); err != nil {
			return errors.Wrap(err, "updating support message")
		}
		n, err = svc.notifSvc.Create(ctx, notification.NewNotification{
			UserID:  msg.UserID,
			Type:    notification.TypeSupportReply,
			Title:   "Support replied to your message",
			Message: core.Truncate(msg.Subject, 120),
			Link:    "/support/" + msg.ID,
		}, core.Execs(exec)...)
		return errors.Wrap(err, "notifying user")
	})
	if err != nil {
		return Message{}, err
	}

	svc.notifSvc.Publish(ctx, n)
	svc.sendReplyMail(ctx, msg)
	return msg, nil
}

func (svc *service) Resolve(ctx context.Context, id string) (Message, error) {
	msg, err := svc.repo.GetMessage(ctx, id)
	if err != nil {
		return Message{}, err
	}
	if msg.Status == StatusResolved {
		return msg, nil
	}
	msg.Status = StatusResolved
	msg.UpdatedAt = core.UTCNow()
	return svc.repo.UpdateMessage(ctx, msg)
}

func (svc *service) sendReplyMail(ctx context.Context, msg Message) {
	usr, err := svc.userSvc.GetByID(ctx, msg.UserID)
	if err != nil || usr.Email == "" {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.DisplayName(), Address: usr.Email}},
		Subject:      "Re: " + msg.Subject,
		TemplateName: "support_reply",
		TemplateData: map[string]interface{}{
			"Name":    usr.DisplayName(),
			"Subject": msg.Subject,
			"Reply":   msg.AdminReply,
			"Path":    "/support/" + msg.ID,
		},
	})
}
