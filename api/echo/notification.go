package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/relieflab/dms/core/notification"
)

type notificationApi struct {
	svc *notification.Service
}

func registerNotificationAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *notification.Service) {
	api := notificationApi{svc: svc}

	ng := g.Group("/notifications", jwt)
	ng.GET("", api.list)
	ng.POST("/:id/read", api.markRead)
}

func (api *notificationApi) list(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	unreadOnly := ctx.QueryParam("unread") == "true"
	ns, err := api.svc.For(ctx.Request().Context(), claims.Subject, unreadOnly)
	if err != nil {
		return errors.Wrap(err, "listing notifications")
	}
	if ns == nil {
		ns = []notification.Notification{}
	}
	return respondOK(ctx, ns)
}

func (api *notificationApi) markRead(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	n, err := api.svc.MarkRead(ctx.Request().Context(), ctx.Param("id"), claims.Subject)
	if err != nil {
		if errors.Cause(err) == notification.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "marking notification read")
	}
	return respondOK(ctx, n)
}
