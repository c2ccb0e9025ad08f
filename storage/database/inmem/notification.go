package inmemdb

import (
	"context"
	"sort"

	"github.com/relieflab/dms/core/notification"
)

type notificationRepository struct {
	db *DB
}

func NewNotificationRepository(db *DB) notification.Repository {
	return &notificationRepository{db: db}
}

func (repo *notificationRepository) CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	repo.db.notifications[n.ID] = &n
	return n, nil
}

func (repo *notificationRepository) QueryNotificationsForUser(ctx context.Context, userID string, unreadOnly bool) ([]notification.Notification, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var ns []notification.Notification
	for _, n := range repo.db.notifications {
		if n.UserID != userID {
			continue
		}
		if unreadOnly && n.Read {
			continue
		}
		ns = append(ns, *n)
	}
	sort.Slice(ns, func(i, j int) bool { return ns[i].CreatedAt.After(ns[j].CreatedAt) })
	return ns, nil
}

func (repo *notificationRepository) GetNotificationByID(ctx context.Context, id string) (notification.Notification, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if n, ok := repo.db.notifications[id]; ok {
		return *n, nil
	}
	return notification.Notification{}, notification.ErrNotFound
}

func (repo *notificationRepository) UpdateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.notifications[n.ID]; !ok {
		return notification.Notification{}, notification.ErrNotFound
	}
	repo.db.notifications[n.ID] = &n
	return n, nil
}
