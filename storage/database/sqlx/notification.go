package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/relieflab/dms/core/notification"
)

type notificationRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Kind      string    `db:"kind"`
	Subject   string    `db:"subject"`
	Body      string    `db:"body"`
	Read      bool      `db:"read"`
	ReadAt    null.Time `db:"read_at"`
	CreatedAt time.Time `db:"created_at"`
}

func (row notificationRow) toNotification() notification.Notification {
	n := notification.Notification{
		ID:        row.ID,
		UserID:    row.UserID,
		Kind:      row.Kind,
		Subject:   row.Subject,
		Body:      row.Body,
		Read:      row.Read,
		CreatedAt: row.CreatedAt.UTC(),
	}
	if row.ReadAt.Valid {
		t := row.ReadAt.Time.UTC()
		n.ReadAt = &t
	}
	return n
}

const notificationColumns = `id, user_id, kind, subject, body, read, read_at, created_at`

type notificationRepository struct {
	db *sqlx.DB
}

func NewNotificationRepository(db *sqlx.DB) notification.Repository {
	return &notificationRepository{db: db}
}

func (repo *notificationRepository) CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	_, err := repo.db.ExecContext(ctx,
		`INSERT INTO notification (`+notificationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.UserID, n.Kind, n.Subject, n.Body, n.Read, null.TimeFromPtr(n.ReadAt), n.CreatedAt)
	if err != nil {
		return notification.Notification{}, errors.Wrap(err, "creating notification")
	}
	return n, nil
}

func (repo *notificationRepository) QueryNotificationsForUser(ctx context.Context, userID string, unreadOnly bool) ([]notification.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notification WHERE user_id = $1`
	if unreadOnly {
		query += ` AND read = FALSE`
	}
	query += ` ORDER BY created_at DESC`

	var rows []notificationRow
	if err := repo.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, errors.Wrap(err, "querying notifications")
	}
	ns := make([]notification.Notification, 0, len(rows))
	for _, row := range rows {
		ns = append(ns, row.toNotification())
	}
	return ns, nil
}

func (repo *notificationRepository) GetNotificationByID(ctx context.Context, id string) (notification.Notification, error) {
	var row notificationRow
	err := repo.db.GetContext(ctx, &row, `SELECT `+notificationColumns+` FROM notification WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return notification.Notification{}, notification.ErrNotFound
	} else if err != nil {
		return notification.Notification{}, errors.Wrap(err, "getting notification")
	}
	return row.toNotification(), nil
}

func (repo *notificationRepository) UpdateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	res, err := repo.db.ExecContext(ctx,
		`UPDATE notification SET read = $1, read_at = $2 WHERE id = $3`,
		n.Read, null.TimeFromPtr(n.ReadAt), n.ID)
	if err != nil {
		return notification.Notification{}, errors.Wrap(err, "updating notification")
	}
	if cnt, _ := res.RowsAffected(); cnt == 0 {
		return notification.Notification{}, notification.ErrNotFound
	}
	return n, nil
}
