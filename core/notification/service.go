package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/luxaar/luxaar/core"
)

var ErrNotFound = core.NewNotFoundError("notification not found")

type (
	Repository interface {
		CreateNotifications(ctx context.Context, ns []Notification, exec ...core.DBExecutor) error
		QueryNotifications(ctx context.Context, filter QueryFilter, exec ...core.DBExecutor) ([]Notification, error)
		CountUnread(ctx context.Context, userID string, exec ...core.DBExecutor) (int, error)
		// MarkRead returns ErrNotFound when no notification with id belongs to userID.
		MarkRead(ctx context.Context, userID, id string, exec ...core.DBExecutor) error
		MarkAllRead(ctx context.Context, userID string, exec ...core.DBExecutor) (int64, error)
		DeleteNotification(ctx context.Context, userID, id string, exec ...core.DBExecutor) error
		// PurgeRead deletes read notifications created before the given time.
		PurgeRead(ctx context.Context, before time.Time, exec ...core.DBExecutor) (int64, error)
	}

	// Broker fans created notifications out to live subscribers (websocket clients).
	Broker interface {
		Publish(ctx context.Context, n Notification) error
		// Subscribe returns a channel of the user's notifications, closed once cancel is called or ctx is done.
		Subscribe(ctx context.Context, userID string) (ch <-chan Notification, cancel func(), err error)
	}

	// AdminDirectory lists the accounts that receive admin fan-out notifications.
	AdminDirectory interface {
		AdminIDs(ctx context.Context, exec ...core.DBExecutor) ([]string, error)
	}

	ServiceInterface interface {
		// Notify stores and publishes a notification. Inside a transaction use Create and Publish after commit.
		Notify(ctx context.Context, nn NewNotification) (Notification, error)
		NotifyAdmins(ctx context.Context, nn NewNotification) error
		// Create and CreateForAdmins store without publishing.
		Create(ctx context.Context, nn NewNotification, exec ...core.DBExecutor) (Notification, error)
		CreateForAdmins(ctx context.Context, nn NewNotification, exec ...core.DBExecutor) ([]Notification, error)
		// Publish delivers stored notifications to live subscribers, best effort.
		Publish(ctx context.Context, ns ...Notification)
		List(ctx context.Context, filter QueryFilter) ([]Notification, error)
		UnreadCount(ctx context.Context, userID string) (int, error)
		MarkRead(ctx context.Context, userID, id string) error
		MarkAllRead(ctx context.Context, userID string) (int64, error)
		Delete(ctx context.Context, userID, id string) error
		Subscribe(ctx context.Context, userID string) (<-chan Notification, func(), error)
		PurgeRead(ctx context.Context, olderThan time.Duration) (int64, error)
	}

	service struct {
		repo     Repository
		broker   Broker
		admins   AdminDirectory
		validate *validator.Validate
		logger   core.Logger
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(
	repo Repository,
	broker Broker,
	admins AdminDirectory,
	validate *validator.Validate,
	logger core.Logger,
) ServiceInterface {
	return &service{
		repo:     repo,
		broker:   broker,
		admins:   admins,
		validate: validate,
		logger:   logger,
	}
}

func newNotification(userID string, nn NewNotification, now time.Time) Notification {
	return Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      nn.Type,
		Title:     nn.Title,
		Message:   nn.Message,
		Link:      nn.Link,
		CreatedAt: now,
	}
}

func (svc *service) Publish(ctx context.Context, ns ...Notification) {
	for _, n := range ns {
		if err := svc.broker.Publish(ctx, n); err != nil {
			// the notification is stored; live delivery is best effort
			svc.logger.Warn(fmt.Sprintf("publishing notification %s: %v", n.ID, err), err)
		}
	}
}

func (svc *service) Create(ctx context.Context, nn NewNotification, exec ...core.DBExecutor) (Notification, error) {
	if err := nn.Validate(svc.validate); err != nil {
		return Notification{}, err
	}
	if nn.UserID == "" {
		return Notification{}, core.NewValidationError(nil, core.FieldError{Field: "user_id", Error: "this field is required"})
	}
	n := newNotification(nn.UserID, nn, core.UTCNow())
	if err := svc.repo.CreateNotifications(ctx, []Notification{n}, exec...); err != nil {
		return Notification{}, errors.Wrap(err, "creating notification")
	}
	return n, nil
}

func (svc *service) CreateForAdmins(ctx context.Context, nn NewNotification, exec ...core.DBExecutor) ([]Notification, error) {
	if err := nn.Validate(svc.validate); err != nil {
		return nil, err
	}
	ids, err := svc.admins.AdminIDs(ctx, exec...)
	if err != nil {
		return nil, errors.Wrap(err, "listing admins")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	now := core.UTCNow()
	ns := make([]Notification, 0, len(ids))
	for _, id := range ids {
		ns = append(ns, newNotification(id, nn, now))
	}
	if err := svc.repo.CreateNotifications(ctx, ns, exec...); err != nil {
		return nil, errors.Wrap(err, "creating notifications")
	}
	return ns, nil
}

func (svc *service) Notify(ctx context.Context, nn NewNotification) (Notification, error) {
	n, err := svc.Create(ctx, nn)
	if err != nil {
		return Notification{}, err
	}
	svc.Publish(ctx, n)
	return n, nil
}

func (svc *service) NotifyAdmins(ctx context.Context, nn NewNotification) error {
	ns, err := svc.CreateForAdmins(ctx, nn)
	if err != nil {
		return err
	}
	svc.Publish(ctx, ns...)
	return nil
}

func (svc *service) List(ctx context.Context, filter QueryFilter) ([]Notification, error) {
	filter.Clean()
	return svc.repo.QueryNotifications(ctx, filter)
}

func (svc *service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return svc.repo.CountUnread(ctx, userID)
}

func (svc *service) MarkRead(ctx context.Context, userID, id string) error {
	return svc.repo.MarkRead(ctx, userID, id)
}

func (svc *service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return svc.repo.MarkAllRead(ctx, userID)
}

func (svc *service) Delete(ctx context.Context, userID, id string) error {
	return svc.repo.DeleteNotification(ctx, userID, id)
}

func (svc *service) Subscribe(ctx context.Context, userID string) (<-chan Notification, func(), error) {
	return svc.broker.Subscribe(ctx, userID)
}

func (svc *service) PurgeRead(ctx context.Context, olderThan time.Duration) (int64, error) {
	return svc.repo.PurgeRead(ctx, core.UTCNow().Add(-olderThan))
}
