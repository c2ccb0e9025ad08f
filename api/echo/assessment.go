package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/relieflab/dms/core/assessment"
)

type assessmentApi struct {
	svc *assessment.Service
}

func registerAssessmentAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *assessment.Service) {
	api := assessmentApi{svc: svc}

	ag := g.Group("/assessments", jwt)
	ag.POST("", api.create, anyOfMiddleware(isAdmin, isCoordinator, isAssessor))
	ag.GET("", api.query)
	ag.GET("/:id", api.retrieve)
	ag.PUT("/:id", api.update, anyOfMiddleware(isAdmin, isCoordinator, isAssessor))
	ag.GET("/:id/feedback", api.feedback)
	ag.POST("/:id/verify", api.verify, verifierMiddleware())
	ag.POST("/:id/reject", api.reject, verifierMiddleware())
}

func (api *assessmentApi) create(ctx echo.Context) error {
	var data assessment.NewAssessment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAssessment")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	ra, err := api.svc.Create(ctx.Request().Context(), claims.Subject, data)
	if err != nil {
		return err
	}
	return respond(ctx, http.StatusCreated, ra)
}

func (api *assessmentApi) query(ctx echo.Context) error {
	filter := new(assessment.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return respondOK(ctx, []assessment.RapidAssessment{})
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	ras, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying assessments")
	}
	if ras == nil {
		ras = []assessment.RapidAssessment{}
	}
	return respondOK(ctx, ras)
}

func (api *assessmentApi) retrieve(ctx echo.Context) error {
	ra, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == assessment.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "getting assessment")
	}
	return respondOK(ctx, ra)
}

func (api *assessmentApi) update(ctx echo.Context) error {
	var data assessment.UpdateAssessment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateAssessment")
	}

	ra, err := api.svc.Update(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		if errors.Cause(err) == assessment.ErrNotFound {
			return errHttpNotFound
		}
		return err
	}
	return respondOK(ctx, ra)
}

func (api *assessmentApi) feedback(ctx echo.Context) error {
	fbs, err := api.svc.FeedbackFor(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying feedback")
	}
	if fbs == nil {
		fbs = []assessment.Feedback{}
	}
	return respondOK(ctx, fbs)
}

func (api *assessmentApi) verify(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	ra, err := api.svc.Verify(ctx.Request().Context(), ctx.Param("id"), claims.Subject)
	if err != nil {
		if errors.Cause(err) == assessment.ErrNotFound {
			return errHttpNotFound
		}
		return err
	}
	return respondOK(ctx, ra)
}

func (api *assessmentApi) reject(ctx echo.Context) error {
	var data assessment.RejectionFeedback
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RejectionFeedback")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	ra, err := api.svc.Reject(ctx.Request().Context(), ctx.Param("id"), claims.Subject, data)
	if err != nil {
		if errors.Cause(err) == assessment.ErrNotFound {
			return errHttpNotFound
		}
		return err
	}
	return respondOK(ctx, ra)
}
