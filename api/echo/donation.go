package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/relieflab/dms/core/donation"
	"github.com/relieflab/dms/core/user"
)

type donationApi struct {
	svc     *donation.Service
	userSvc *user.Service
}

func registerDonationAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *donation.Service, userSvc *user.Service) {
	api := donationApi{svc: svc, userSvc: userSvc}

	dg := g.Group("/donations", jwt)
	dg.POST("", api.commit, anyOfMiddleware(isAdmin, isDonor))
	dg.GET("", api.query)
	dg.GET("/leaderboard", api.leaderboard)
	dg.GET("/:id", api.retrieve)
	dg.POST("/:id/status", api.changeStatus)
	dg.GET("/metrics/:donorID", api.metrics)
}

func (api *donationApi) commit(ctx echo.Context) error {
	var data donation.NewCommitment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCommitment")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	c, err := api.svc.Commit(ctx.Request().Context(), claims.Subject, data)
	if err != nil {
		return errors.Wrap(err, "creating commitment")
	}
	return respond(ctx, http.StatusCreated, c)
}

func (api *donationApi) query(ctx echo.Context) error {
	filter := new(donation.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return respondOK(ctx, []donation.Commitment{})
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	// donors only see their own pledges
	if !claims.CanVerify() {
		filter.DonorID = claims.Subject
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	cs, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying commitments")
	}
	if cs == nil {
		cs = []donation.Commitment{}
	}
	return respondOK(ctx, cs)
}

func (api *donationApi) retrieve(ctx echo.Context) error {
	c, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == donation.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "getting commitment")
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	if !claims.CanVerify() && c.DonorID != claims.Subject {
		return errHttpForbidden
	}
	return respondOK(ctx, c)
}

func (api *donationApi) changeStatus(ctx echo.Context) error {
	var data donation.StatusChange
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StatusChange")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	c, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == donation.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "getting commitment")
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	if !claims.CanVerify() && c.DonorID != claims.Subject {
		return errHttpForbidden
	}

	c, err = api.svc.ChangeStatus(ctx.Request().Context(), c.ID, data)
	if err != nil {
		return err
	}
	return respondOK(ctx, c)
}

func (api *donationApi) metrics(ctx echo.Context) error {
	m, err := api.svc.MetricsFor(ctx.Request().Context(), ctx.Param("donorID"))
	if err != nil {
		return errors.Wrap(err, "computing donor metrics")
	}
	return respondOK(ctx, m)
}

func (api *donationApi) leaderboard(ctx echo.Context) error {
	limit := 10
	if raw := ctx.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	board, err := api.svc.Leaderboard(ctx.Request().Context(), limit)
	if err != nil {
		return errors.Wrap(err, "computing leaderboard")
	}
	// resolve donor names for display
	for i := range board {
		if usr, err := api.userSvc.GetByID(ctx.Request().Context(), board[i].DonorID); err == nil {
			board[i].DonorName = usr.Name
		}
	}
	return respondOK(ctx, board)
}
