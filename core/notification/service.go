package notification

import (
	"context"
	"net/mail"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/user"
)

var (
	ErrNotFound = errors.New("notification not found")
)

type (
	Repository interface {
		CreateNotification(ctx context.Context, n Notification) (Notification, error)
		QueryNotificationsForUser(ctx context.Context, userID string, unreadOnly bool) ([]Notification, error)
		GetNotificationByID(ctx context.Context, id string) (Notification, error)
		UpdateNotification(ctx context.Context, n Notification) (Notification, error)
	}

	Service struct {
		repo    Repository
		userSvc *user.Service
		mailSvc core.EmailService
	}
)

func NewService(repo Repository, userSvc *user.Service, mailSvc core.EmailService) *Service {
	return &Service{repo: repo, userSvc: userSvc, mailSvc: mailSvc}
}

// NotifyUser records an in-app notification and mirrors it to email.
func (svc *Service) NotifyUser(ctx context.Context, userID, kind, subject, body string) error {
	n := Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Kind:      kind,
		Subject:   subject,
		Body:      body,
		CreatedAt: core.UTCNow(),
	}
	if _, err := svc.repo.CreateNotification(ctx, n); err != nil {
		return errors.Wrap(err, "creating notification")
	}

	usr, err := svc.userSvc.GetByID(ctx, userID)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return nil // record kept, nothing to email
		}
		return err
	}
	if usr.Email != "" {
		svc.mailSvc.SendMessages(&core.EmailMessage{
			To:      []mail.Address{{Name: usr.Name, Address: usr.Email}},
			Subject: subject,
			BodyStr: body,
		})
	}
	return nil
}

// NotifyRole fans out to every active user holding the role prefix.
func (svc *Service) NotifyRole(ctx context.Context, rolePrefix, kind, subject, body string) error {
	users, err := svc.userSvc.Query(ctx, &user.QueryFilter{Roles: []string{rolePrefix}}, nil)
	if err != nil {
		return errors.Wrap(err, "querying role members")
	}
	for _, usr := range users {
		if usr.IsActive != nil && !*usr.IsActive {
			continue
		}
		if err := svc.NotifyUser(ctx, usr.ID, kind, subject, body); err != nil {
			return err
		}
	}
	return nil
}

func (svc *Service) For(ctx context.Context, userID string, unreadOnly bool) ([]Notification, error) {
	return svc.repo.QueryNotificationsForUser(ctx, userID, unreadOnly)
}

// MarkRead flips the read flag; only the target user may do so.
func (svc *Service) MarkRead(ctx context.Context, id, userID string) (Notification, error) {
	n, err := svc.repo.GetNotificationByID(ctx, id)
	if err != nil {
		return Notification{}, err
	}
	if n.UserID != userID {
		return Notification{}, ErrNotFound
	}
	if n.Read {
		return n, nil
	}
	now := core.UTCNow()
	n.Read = true
	n.ReadAt = &now
	return svc.repo.UpdateNotification(ctx, n)
}
