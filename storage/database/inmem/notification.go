package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/notification"
)

type notificationRepository struct {
	db *notificationTable
}

var _ notification.Repository = (*notificationRepository)(nil)

func NewNotificationRepository(db *DB) notification.Repository {
	return &notificationRepository{db: db.notification}
}

func (repo *notificationRepository) CreateNotifications(_ context.Context, ns []notification.Notification, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	for i := range ns {
		n := ns[i]
		repo.db.table[n.ID] = &n
	}
	return nil
}

func (repo *notificationRepository) QueryNotifications(_ context.Context, filter notification.QueryFilter, _ ...core.DBExecutor) ([]notification.Notification, error) {
	filter.Clean()
	repo.db.RLock()
	defer repo.db.RUnlock()

	ns := make([]notification.Notification, 0)
	for _, n := range repo.db.table {
		if n.UserID == filter.UserID && (!filter.UnreadOnly || !n.IsRead) {
			ns = append(ns, *n)
		}
	}
	sort.SliceStable(ns, func(i, j int) bool { return ns[i].CreatedAt.After(ns[j].CreatedAt) })
	if len(ns) > filter.Limit {
		ns = ns[:filter.Limit]
	}
	return ns, nil
}

func (repo *notificationRepository) CountUnread(_ context.Context, userID string, _ ...core.DBExecutor) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	var cnt int
	for _, n := range repo.db.table {
		if n.UserID == userID && !n.IsRead {
			cnt++
		}
	}
	return cnt, nil
}

func (repo *notificationRepository) MarkRead(_ context.Context, userID, id string, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	n, ok := repo.db.table[id]
	if !ok || n.UserID != userID {
		return notification.ErrNotFound
	}
	n.IsRead = true
	return nil
}

func (repo *notificationRepository) MarkAllRead(_ context.Context, userID string, _ ...core.DBExecutor) (int64, error) {
	repo.db.Lock()
	defer repo.db.Unlock()
	var cnt int64
	for _, n := range repo.db.table {
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			cnt++
		}
	}
	return cnt, nil
}

func (repo *notificationRepository) DeleteNotification(_ context.Context, userID, id string, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	n, ok := repo.db.table[id]
	if !ok || n.UserID != userID {
		return notification.ErrNotFound
	}
	delete(repo.db.table, id)
	return nil
}

func (repo *notificationRepository) PurgeRead(_ context.Context, before time.Time, _ ...core.DBExecutor) (int64, error) {
	repo.db.Lock()
	defer repo.db.Unlock()
	var cnt int64
	for id, n := range repo.db.table {
		if n.IsRead && n.CreatedAt.Before(before) {
			delete(repo.db.table, id)
			cnt++
		}
	}
	return cnt, nil
}
