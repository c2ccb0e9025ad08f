package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/response"
)

type responseApi struct {
	svc *response.Service
}

func registerResponseAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *response.Service) {
	api := responseApi{svc: svc}

	rg := g.Group("/responses", jwt)
	rg.POST("", api.create, anyOfMiddleware(isAdmin, isCoordinator, isResponder))
	rg.GET("", api.query)
	rg.GET("/:id", api.retrieve)
	rg.PUT("/:id", api.update, anyOfMiddleware(isAdmin, isCoordinator, isResponder))
	rg.POST("/:id/start", api.start, anyOfMiddleware(isAdmin, isCoordinator, isResponder))
	rg.POST("/:id/deliver", api.deliver, anyOfMiddleware(isAdmin, isCoordinator, isResponder))
	rg.POST("/:id/verify", api.verify, verifierMiddleware())
	rg.POST("/:id/reject", api.reject, verifierMiddleware())
}

func (api *responseApi) create(ctx echo.Context) error {
	var data response.NewResponse
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewResponse")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	rr, err := api.svc.Create(ctx.Request().Context(), claims.Subject, data)
	if err != nil {
		return err
	}
	return respond(ctx, http.StatusCreated, rr)
}

func (api *responseApi) query(ctx echo.Context) error {
	filter := new(response.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return respondOK(ctx, []response.RapidResponse{})
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	rrs, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying responses")
	}
	if rrs == nil {
		rrs = []response.RapidResponse{}
	}
	return respondOK(ctx, rrs)
}

func (api *responseApi) retrieve(ctx echo.Context) error {
	rr, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == response.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "getting response")
	}
	return respondOK(ctx, rr)
}

func (api *responseApi) update(ctx echo.Context) error {
	var data response.UpdateResponse
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateResponse")
	}

	rr, err := api.svc.Update(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		if errors.Cause(err) == response.ErrNotFound {
			return errHttpNotFound
		}
		return err
	}
	return respondOK(ctx, rr)
}

func (api *responseApi) start(ctx echo.Context) error {
	rr, err := api.svc.Start(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == response.ErrNotFound {
			return errHttpNotFound
		}
		return err
	}
	return respondOK(ctx, rr)
}

func (api *responseApi) deliver(ctx echo.Context) error {
	var data response.Delivery
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Delivery")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	rr, err := api.svc.Deliver(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		if errors.Cause(err) == response.ErrNotFound {
			return errHttpNotFound
		}
		return err
	}
	return respondOK(ctx, rr)
}

func (api *responseApi) verify(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	rr, err := api.svc.Verify(ctx.Request().Context(), ctx.Param("id"), claims.Subject)
	if err != nil {
		if errors.Cause(err) == response.ErrNotFound {
			return errHttpNotFound
		}
		return err
	}
	return respondOK(ctx, rr)
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (api *responseApi) reject(ctx echo.Context) error {
	var data rejectRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to rejectRequest")
	}
	data.Reason = core.CleanString(data.Reason)
	if err := core.Validate.Struct(&data); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	rr, err := api.svc.Reject(ctx.Request().Context(), ctx.Param("id"), claims.Subject, data.Reason)
	if err != nil {
		if errors.Cause(err) == response.ErrNotFound {
			return errHttpNotFound
		}
		return err
	}
	return respondOK(ctx, rr)
}
