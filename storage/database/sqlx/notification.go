package sqlxrepos

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/notification"
)

const notificationColumns = "id, user_id, type, title, message, link, is_read, created_at"

type notificationRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Type      string    `db:"type"`
	Title     string    `db:"title"`
	Message   string    `db:"message"`
	Link      string    `db:"link"`
	IsRead    bool      `db:"is_read"`
	CreatedAt time.Time `db:"created_at"`
}

func (row notificationRow) unpack() notification.Notification {
	return notification.Notification{
		ID:        row.ID,
		UserID:    row.UserID,
		Type:      row.Type,
		Title:     row.Title,
		Message:   row.Message,
		Link:      row.Link,
		IsRead:    row.IsRead,
		CreatedAt: row.CreatedAt.UTC(),
	}
}

type notificationRepository struct {
	repo
}

var _ notification.Repository = (*notificationRepository)(nil)

func NewNotificationRepository(db *sqlx.DB) notification.Repository {
	return &notificationRepository{repo{db: db}}
}

func (r notificationRepository) CreateNotifications(ctx context.Context, ns []notification.Notification, exec ...core.DBExecutor) error {
	if len(ns) == 0 {
		return nil
	}
	values := make([]string, 0, len(ns))
	args := make([]interface{}, 0, len(ns)*8)
	for _, n := range ns {
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, n.ID, n.UserID, n.Type, n.Title, n.Message, n.Link, n.IsRead, n.CreatedAt.UTC())
	}
	e := r.getExec(exec)
	q := "INSERT INTO notifications (" + notificationColumns + ") VALUES " + strings.Join(values, ", ")
	if _, err := e.ExecContext(ctx, e.Rebind(q), args...); err != nil {
		return errors.Wrap(err, "inserting notifications")
	}
	return nil
}

func (r notificationRepository) QueryNotifications(ctx context.Context, filter notification.QueryFilter, exec ...core.DBExecutor) ([]notification.Notification, error) {
	filter.Clean()
	w := &where{}
	w.add("user_id = ?", filter.UserID)
	if filter.UnreadOnly {
		w.add("NOT is_read")
	}

	var rows []notificationRow
	e := r.getExec(exec)
	q := "SELECT " + notificationColumns + " FROM notifications" + w.String() + " ORDER BY created_at DESC LIMIT ?"
	if err := sqlx.SelectContext(ctx, e, &rows, e.Rebind(q), append(w.args, filter.Limit)...); err != nil {
		return nil, errors.Wrap(err, "querying notifications")
	}
	ns := make([]notification.Notification, 0, len(rows))
	for _, row := range rows {
		ns = append(ns, row.unpack())
	}
	return ns, nil
}

func (r notificationRepository) CountUnread(ctx context.Context, userID string, exec ...core.DBExecutor) (int, error) {
	var n int
	q := "SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT is_read"
	if err := sqlx.GetContext(ctx, r.getExec(exec), &n, q, userID); err != nil {
		return 0, errors.Wrap(err, "counting unread notifications")
	}
	return n, nil
}

func (r notificationRepository) MarkRead(ctx context.Context, userID, id string, exec ...core.DBExecutor) error {
	if !validID(id) {
		return notification.ErrNotFound
	}
	res, err := r.getExec(exec).ExecContext(ctx,
		"UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return errors.Wrap(err, "marking notification read")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notification.ErrNotFound
	}
	return nil
}

func (r notificationRepository) MarkAllRead(ctx context.Context, userID string, exec ...core.DBExecutor) (int64, error) {
	res, err := r.getExec(exec).ExecContext(ctx,
		"UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND NOT is_read", userID)
	if err != nil {
		return 0, errors.Wrap(err, "marking notifications read")
	}
	return res.RowsAffected()
}

func (r notificationRepository) DeleteNotification(ctx context.Context, userID, id string, exec ...core.DBExecutor) error {
	if !validID(id) {
		return notification.ErrNotFound
	}
	res, err := r.getExec(exec).ExecContext(ctx, "DELETE FROM notifications WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return errors.Wrap(err, "deleting notification")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notification.ErrNotFound
	}
	return nil
}

func (r notificationRepository) PurgeRead(ctx context.Context, before time.Time, exec ...core.DBExecutor) (int64, error) {
	res, err := r.getExec(exec).ExecContext(ctx, "DELETE FROM notifications WHERE is_read AND created_at < $1", before.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "purging notifications")
	}
	return res.RowsAffected()
}
