package echoapi

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/assessment"
	"github.com/relieflab/dms/core/entity"
	"github.com/relieflab/dms/core/media"
	"github.com/relieflab/dms/core/response"
)

type syncServices struct {
	entitySvc     *entity.Service
	assessmentSvc *assessment.Service
	responseSvc   *response.Service
	mediaSvc      *media.Service
}

type syncApi struct {
	svcs syncServices
}

func registerSyncAPI(g *echo.Group, jwt echo.MiddlewareFunc, svcs syncServices) {
	api := syncApi{svcs: svcs}

	sg := g.Group("/sync", jwt)
	sg.POST("/push", api.push)
	sg.GET("/changes", api.changes)
}

// push replays a batch of deferred agent writes. Operations are settled
// independently so one bad record never blocks the rest of the batch.
func (api *syncApi) push(ctx echo.Context) error {
	var req core.SyncPushRequest
	if err := ctx.Bind(&req); err != nil {
		return errors.Wrap(err, "binding to SyncPushRequest")
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	results := make([]core.SyncItemResult, 0, len(req.Operations))
	for _, op := range req.Operations {
		results = append(results, api.apply(ctx.Request().Context(), claims, op))
	}
	return respondOK(ctx, echo.Map{"results": results})
}

func (api *syncApi) apply(ctx context.Context, claims Claims, op core.SyncOperation) core.SyncItemResult {
	serverID, err := api.dispatch(ctx, claims, op)
	if err != nil {
		return settleError(op, err)
	}
	return core.SyncItemResult{ID: op.ID, Status: core.SyncResultOK, ServerID: serverID}
}

func (api *syncApi) dispatch(ctx context.Context, claims Claims, op core.SyncOperation) (string, error) {
	switch op.Kind {
	case core.SyncKindEntity:
		return api.applyEntity(ctx, claims, op)
	case core.SyncKindAssessment:
		return api.applyAssessment(ctx, claims, op)
	case core.SyncKindResponse:
		return api.applyResponse(ctx, claims, op)
	case core.SyncKindMedia:
		return api.applyMedia(ctx, claims, op)
	}
	return "", core.NewValidationError(errors.Errorf("unsupported kind %q", op.Kind))
}

func (api *syncApi) applyEntity(ctx context.Context, claims Claims, op core.SyncOperation) (string, error) {
	switch op.Action {
	case core.SyncActionCreate:
		var ne entity.NewEntity
		if err := json.Unmarshal(op.Payload, &ne); err != nil {
			return "", core.NewValidationError(errors.Wrap(err, "malformed payload"))
		}
		if err := ne.Validate(); err != nil {
			return "", err
		}
		e, err := api.svcs.entitySvc.Create(ctx, claims.Subject, ne)
		if err != nil {
			return "", err
		}
		return e.ID, nil
	case core.SyncActionUpdate:
		var ue entity.UpdateEntity
		if err := json.Unmarshal(op.Payload, &ue); err != nil {
			return "", core.NewValidationError(errors.Wrap(err, "malformed payload"))
		}
		e, err := api.svcs.entitySvc.Update(ctx, op.TargetID, ue)
		if err != nil {
			return "", err
		}
		return e.ID, nil
	}
	return "", core.NewValidationError(errors.Errorf("unsupported action %q", op.Action))
}

func (api *syncApi) applyAssessment(ctx context.Context, claims Claims, op core.SyncOperation) (string, error) {
	switch op.Action {
	case core.SyncActionCreate:
		var na assessment.NewAssessment
		if err := json.Unmarshal(op.Payload, &na); err != nil {
			return "", core.NewValidationError(errors.Wrap(err, "malformed payload"))
		}
		if err := na.Validate(); err != nil {
			return "", err
		}
		ra, err := api.svcs.assessmentSvc.Create(ctx, claims.Subject, na)
		if err != nil {
			return "", err
		}
		return ra.ID, nil
	case core.SyncActionUpdate:
		var ua assessment.UpdateAssessment
		if err := json.Unmarshal(op.Payload, &ua); err != nil {
			return "", core.NewValidationError(errors.Wrap(err, "malformed payload"))
		}
		ra, err := api.svcs.assessmentSvc.Update(ctx, op.TargetID, ua)
		if err != nil {
			return "", err
		}
		return ra.ID, nil
	}
	return "", core.NewValidationError(errors.Errorf("unsupported action %q", op.Action))
}

func (api *syncApi) applyResponse(ctx context.Context, claims Claims, op core.SyncOperation) (string, error) {
	switch op.Action {
	case core.SyncActionCreate:
		var nr response.NewResponse
		if err := json.Unmarshal(op.Payload, &nr); err != nil {
			return "", core.NewValidationError(errors.Wrap(err, "malformed payload"))
		}
		if err := nr.Validate(); err != nil {
			return "", err
		}
		rr, err := api.svcs.responseSvc.Create(ctx, claims.Subject, nr)
		if err != nil {
			return "", err
		}
		return rr.ID, nil
	case core.SyncActionUpdate:
		var ur response.UpdateResponse
		if err := json.Unmarshal(op.Payload, &ur); err != nil {
			return "", core.NewValidationError(errors.Wrap(err, "malformed payload"))
		}
		rr, err := api.svcs.responseSvc.Update(ctx, op.TargetID, ur)
		if err != nil {
			return "", err
		}
		return rr.ID, nil
	}
	return "", core.NewValidationError(errors.Errorf("unsupported action %q", op.Action))
}

// mediaOperation is a NewMedia plus the file bytes, base64-encoded so the
// whole operation travels as one JSON payload.
type mediaOperation struct {
	media.NewMedia
	Data string `json:"data"`
}

func (api *syncApi) applyMedia(ctx context.Context, claims Claims, op core.SyncOperation) (string, error) {
	if op.Action != core.SyncActionCreate {
		return "", core.NewValidationError(errors.Errorf("unsupported action %q", op.Action))
	}
	var mo mediaOperation
	if err := json.Unmarshal(op.Payload, &mo); err != nil {
		return "", core.NewValidationError(errors.Wrap(err, "malformed payload"))
	}
	if err := mo.NewMedia.Validate(); err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(mo.Data)
	if err != nil {
		return "", core.NewValidationError(errors.Wrap(err, "malformed file data"))
	}
	if max := core.Conf.Media.MaxUploadSize; int64(len(raw)) > max {
		return "", core.NewValidationError(nil, core.FieldError{Field: "data", Error: "file too large"})
	}
	m, err := api.svcs.mediaSvc.Store(ctx, claims.Subject, mo.NewMedia, raw)
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

func settleError(op core.SyncOperation, err error) core.SyncItemResult {
	res := core.SyncItemResult{ID: op.ID}
	switch origErr := errors.Cause(err).(type) {
	case validator.ValidationErrors:
		fldErrs := make(map[string]string, len(origErr))
		for _, vErr := range origErr {
			fldErrs[vErr.Field()] = vErr.Translate(core.Translator)
		}
		res.Status = core.SyncResultInvalid
		res.Message = "validation failed"
		res.Errors = fldErrs
	case *core.ValidationError:
		res.Status = core.SyncResultInvalid
		res.Message = origErr.Error()
		if origErr.Fields != nil {
			fldErrs := make(map[string]string, len(origErr.Fields))
			for _, fErr := range origErr.Fields {
				fldErrs[fErr.Field] = fErr.Error
			}
			res.Errors = fldErrs
		}
	case *core.ConflictError:
		res.Status = core.SyncResultConflict
		res.Message = origErr.Error()
		res.Remote = origErr.Remote
	default:
		res.Status = core.SyncResultError
		res.Message = err.Error()
	}
	return res
}

// changes returns verification status updates since the given watermark so
// agents can reconcile their local copies.
func (api *syncApi) changes(ctx echo.Context) error {
	var since int64
	if raw := ctx.QueryParam("since"); raw != "" {
		if err := echo.QueryParamsBinder(ctx).Int64("since", &since).BindError(); err != nil {
			return core.NewValidationError(nil, core.FieldError{Field: "since", Error: "must be a unix timestamp"})
		}
	}

	set := core.ChangeSet{Changes: []core.Change{}, Watermark: core.UTCNow().Unix()}

	ras, err := api.svcs.assessmentSvc.StatusChangesSince(ctx.Request().Context(), since)
	if err != nil {
		return errors.Wrap(err, "querying assessment changes")
	}
	for _, ra := range ras {
		set.Changes = append(set.Changes, core.Change{
			Kind:      core.SyncKindAssessment,
			ID:        ra.ID,
			OfflineID: ra.OfflineID,
			Status:    ra.VerificationStatus,
			ChangedAt: ra.UpdatedAt.Unix(),
		})
	}

	rrs, err := api.svcs.responseSvc.StatusChangesSince(ctx.Request().Context(), since)
	if err != nil {
		return errors.Wrap(err, "querying response changes")
	}
	for _, rr := range rrs {
		set.Changes = append(set.Changes, core.Change{
			Kind:      core.SyncKindResponse,
			ID:        rr.ID,
			OfflineID: rr.OfflineID,
			Status:    rr.VerificationStatus,
			ChangedAt: rr.UpdatedAt.Unix(),
		})
	}

	return respondOK(ctx, set)
}
