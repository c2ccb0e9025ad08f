package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/incident"
)

type incidentApi struct {
	svc *incident.Service
}

func registerIncidentAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *incident.Service) {
	api := incidentApi{svc: svc}

	ig := g.Group("/incidents", jwt)
	ig.POST("", api.create, verifierMiddleware())
	ig.GET("", api.query)
	ig.GET("/:id", api.retrieve)
	ig.POST("/:id/status", api.changeStatus, verifierMiddleware())
	ig.POST("/:id/notes", api.addNote, verifierMiddleware())
	ig.POST("/:id/entities", api.linkEntity, verifierMiddleware())
}

func (api *incidentApi) create(ctx echo.Context) error {
	var data incident.NewIncident
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewIncident")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	inc, err := api.svc.Create(ctx.Request().Context(), claims.Subject, data)
	if err != nil {
		return errors.Wrap(err, "creating incident")
	}
	return respond(ctx, http.StatusCreated, inc)
}

func (api *incidentApi) query(ctx echo.Context) error {
	filter := new(incident.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return respondOK(ctx, []incident.Incident{})
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	incs, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying incidents")
	}
	if incs == nil {
		incs = []incident.Incident{}
	}
	return respondOK(ctx, incs)
}

func (api *incidentApi) retrieve(ctx echo.Context) error {
	inc, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == incident.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "getting incident")
	}
	return respondOK(ctx, inc)
}

func (api *incidentApi) changeStatus(ctx echo.Context) error {
	var data incident.StatusChange
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StatusChange")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	inc, err := api.svc.ChangeStatus(ctx.Request().Context(), ctx.Param("id"), claims.Subject, data)
	if err != nil {
		if errors.Cause(err) == incident.ErrNotFound {
			return errHttpNotFound
		}
		return err
	}
	return respondOK(ctx, inc)
}

type noteRequest struct {
	Note string `json:"note" validate:"required"`
}

func (api *incidentApi) addNote(ctx echo.Context) error {
	var data noteRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to noteRequest")
	}
	data.Note = core.CleanString(data.Note)
	if err := core.Validate.Struct(&data); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	inc, err := api.svc.AddNote(ctx.Request().Context(), ctx.Param("id"), claims.Subject, data.Note)
	if err != nil {
		if errors.Cause(err) == incident.ErrNotFound {
			return errHttpNotFound
		}
		return err
	}
	return respondOK(ctx, inc)
}

type linkEntityRequest struct {
	EntityID string `json:"entity_id" validate:"required"`
}

func (api *incidentApi) linkEntity(ctx echo.Context) error {
	var data linkEntityRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to linkEntityRequest")
	}
	if err := core.Validate.Struct(&data); err != nil {
		return err
	}

	inc, err := api.svc.LinkEntity(ctx.Request().Context(), ctx.Param("id"), data.EntityID)
	if err != nil {
		if errors.Cause(err) == incident.ErrNotFound {
			return errHttpNotFound
		}
		return err
	}
	return respondOK(ctx, inc)
}
