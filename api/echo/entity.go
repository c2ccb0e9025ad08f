package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/relieflab/dms/core/entity"
)

type entityApi struct {
	svc *entity.Service
}

func registerEntityAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *entity.Service) {
	api := entityApi{svc: svc}

	eg := g.Group("/entities", jwt)
	eg.POST("", api.create, anyOfMiddleware(isAdmin, isCoordinator, isAssessor))
	eg.GET("", api.query)
	eg.GET("/:id", api.retrieve)
	eg.PUT("/:id", api.update, anyOfMiddleware(isAdmin, isCoordinator, isAssessor))
}

func (api *entityApi) create(ctx echo.Context) error {
	var data entity.NewEntity
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewEntity")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	ent, err := api.svc.Create(ctx.Request().Context(), claims.Subject, data)
	if err != nil {
		return errors.Wrap(err, "creating entity")
	}
	return respond(ctx, http.StatusCreated, ent)
}

func (api *entityApi) query(ctx echo.Context) error {
	filter := new(entity.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return respondOK(ctx, []entity.AffectedEntity{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	ents, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying entities")
	}
	if ents == nil {
		ents = []entity.AffectedEntity{}
	}
	return respondOK(ctx, ents)
}

func (api *entityApi) retrieve(ctx echo.Context) error {
	ent, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == entity.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "getting entity")
	}
	return respondOK(ctx, ent)
}

func (api *entityApi) update(ctx echo.Context) error {
	var data entity.UpdateEntity
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateEntity")
	}

	ent, err := api.svc.Update(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		if errors.Cause(err) == entity.ErrNotFound {
			return errHttpNotFound
		}
		return err
	}
	return respondOK(ctx, ent)
}
