package echoapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/entity"
	"github.com/relieflab/dms/core/media"
)

type mediaApi struct {
	svc *media.Service
}

func registerMediaAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *media.Service) {
	api := mediaApi{svc: svc}

	mg := g.Group("/media", jwt)
	mg.POST("", api.upload)
	mg.GET("", api.queryByOwner)
	mg.GET("/:id", api.retrieve)
	mg.GET("/:id/content", api.content)
	mg.GET("/:id/thumbnail", api.thumbnail)
}

func (api *mediaApi) upload(ctx echo.Context) error {
	fh, err := ctx.FormFile("file")
	if err != nil {
		return core.NewValidationError(nil, core.FieldError{Field: "file", Error: "file is required"})
	}
	if max := core.Conf.Media.MaxUploadSize; fh.Size > max {
		return core.NewValidationError(nil, core.FieldError{Field: "file", Error: "file too large"})
	}

	nm := media.NewMedia{
		OwnerType: media.OwnerType(ctx.FormValue("owner_type")),
		OwnerID:   ctx.FormValue("owner_id"),
		Filename:  ctx.FormValue("filename"),
		OfflineID: ctx.FormValue("offline_id"),
	}
	if nm.Filename == "" {
		nm.Filename = fh.Filename
	}
	if raw := ctx.FormValue("coordinates"); raw != "" {
		coords := new(entity.GPSCoordinates)
		if err := json.Unmarshal([]byte(raw), coords); err != nil {
			return core.NewValidationError(nil, core.FieldError{Field: "coordinates", Error: "malformed coordinates"})
		}
		nm.Coordinates = coords
	}
	if err := nm.Validate(); err != nil {
		return err
	}

	src, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening upload")
	}
	defer src.Close()
	raw, err := io.ReadAll(src)
	if err != nil {
		return errors.Wrap(err, "reading upload")
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	m, err := api.svc.Store(ctx.Request().Context(), claims.Subject, nm, raw)
	if err != nil {
		return err
	}
	return respond(ctx, http.StatusCreated, m)
}

func (api *mediaApi) queryByOwner(ctx echo.Context) error {
	ownerType := media.OwnerType(ctx.QueryParam("owner_type"))
	ownerID := ctx.QueryParam("owner_id")
	if !ownerType.Valid() || ownerID == "" {
		return core.NewValidationError(nil,
			core.FieldError{Field: "owner_type", Error: "owner_type and owner_id are required"})
	}

	ms, err := api.svc.QueryByOwner(ctx.Request().Context(), ownerType, ownerID)
	if err != nil {
		return errors.Wrap(err, "querying media")
	}
	if ms == nil {
		ms = []media.MediaAttachment{}
	}
	return respondOK(ctx, ms)
}

func (api *mediaApi) retrieve(ctx echo.Context) error {
	m, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == media.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "getting media")
	}
	return respondOK(ctx, m)
}

func (api *mediaApi) content(ctx echo.Context) error {
	return api.serveBlob(ctx, false)
}

func (api *mediaApi) thumbnail(ctx echo.Context) error {
	return api.serveBlob(ctx, true)
}

func (api *mediaApi) serveBlob(ctx echo.Context, thumbnail bool) error {
	m, raw, err := api.svc.Content(ctx.Request().Context(), ctx.Param("id"), thumbnail)
	if err != nil {
		if errors.Cause(err) == media.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "reading media content")
	}
	return ctx.Blob(http.StatusOK, m.MimeType, raw)
}
