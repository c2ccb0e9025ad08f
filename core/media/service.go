package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/relieflab/dms/core"
)

var (
	ErrNotFound = errors.New("media not found")
)

type (
	Repository interface {
		CreateMedia(ctx context.Context, m MediaAttachment) (MediaAttachment, error)
		GetMediaByID(ctx context.Context, id string) (MediaAttachment, error)
		GetMediaByOfflineID(ctx context.Context, offlineID string) (MediaAttachment, error)
		QueryMediaByOwner(ctx context.Context, ownerType OwnerType, ownerID string) ([]MediaAttachment, error)
	}

	Service struct {
		repo Repository
		dir  string
		opts PipelineOptions
	}
)

func NewService(repo Repository, conf core.MediaConfig) *Service {
	return &Service{
		repo: repo,
		dir:  conf.Dir,
		opts: PipelineOptions{
			MaxUploadSize: conf.MaxUploadSize,
			MaxImageEdge:  conf.MaxImageEdge,
			ThumbEdge:     conf.ThumbEdge,
			JPEGQuality:   conf.JPEGQuality,
		},
	}
}

// Store runs the pipeline on raw bytes, writes the artifacts under the media
// dir and persists the attachment record.
func (svc *Service) Store(ctx context.Context, uploadedBy string, nm NewMedia, raw []byte) (MediaAttachment, error) {
	if nm.OfflineID != "" {
		if existing, err := svc.repo.GetMediaByOfflineID(ctx, nm.OfflineID); err == nil {
			return existing, nil
		} else if errors.Cause(err) != ErrNotFound {
			return MediaAttachment{}, err
		}
	}

	processed, err := Process(raw, svc.opts)
	if err != nil {
		if errors.Cause(err) == ErrTooLarge || errors.Cause(err) == ErrUnsupported {
			return MediaAttachment{}, core.NewValidationError(err, core.FieldError{Field: "file", Error: err.Error()})
		}
		return MediaAttachment{}, err
	}

	id := uuid.New().String()
	subdir := filepath.Join(svc.dir, id[:2])
	if err := os.MkdirAll(subdir, 0o755); err != nil {
		return MediaAttachment{}, errors.Wrap(err, "creating media dir")
	}

	storagePath := filepath.Join(subdir, id)
	if err := os.WriteFile(storagePath, processed.Data, 0o644); err != nil {
		return MediaAttachment{}, errors.Wrap(err, "writing media file")
	}
	var thumbPath string
	if processed.Thumb != nil {
		thumbPath = filepath.Join(subdir, id+".thumb")
		if err := os.WriteFile(thumbPath, processed.Thumb, 0o644); err != nil {
			return MediaAttachment{}, errors.Wrap(err, "writing thumbnail")
		}
	}

	m := MediaAttachment{
		ID:            id,
		OwnerType:     nm.OwnerType,
		OwnerID:       nm.OwnerID,
		Filename:      nm.Filename,
		MimeType:      processed.MimeType,
		Size:          processed.Size,
		Checksum:      processed.Checksum,
		Width:         processed.Width,
		Height:        processed.Height,
		Coordinates:   nm.Coordinates,
		StoragePath:   storagePath,
		ThumbnailPath: thumbPath,
		URL:           fmt.Sprintf("/v1/media/%s/content", id),
		OfflineID:     nm.OfflineID,
		SyncStatus:    core.SyncSynced,
		UploadedBy:    uploadedBy,
		CreatedAt:     core.UTCNow(),
	}
	if thumbPath != "" {
		m.ThumbnailURL = fmt.Sprintf("/v1/media/%s/thumbnail", id)
	}
	return svc.repo.CreateMedia(ctx, m)
}

func (svc *Service) GetByID(ctx context.Context, id string) (MediaAttachment, error) {
	return svc.repo.GetMediaByID(ctx, id)
}

func (svc *Service) QueryByOwner(ctx context.Context, ownerType OwnerType, ownerID string) ([]MediaAttachment, error) {
	return svc.repo.QueryMediaByOwner(ctx, ownerType, ownerID)
}

// Content returns the stored bytes for download endpoints.
func (svc *Service) Content(ctx context.Context, id string, thumbnail bool) (MediaAttachment, []byte, error) {
	m, err := svc.repo.GetMediaByID(ctx, id)
	if err != nil {
		return MediaAttachment{}, nil, err
	}
	path := m.StoragePath
	if thumbnail {
		if m.ThumbnailPath == "" {
			return MediaAttachment{}, nil, ErrNotFound
		}
		path = m.ThumbnailPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return MediaAttachment{}, nil, errors.Wrap(err, "reading media file")
	}
	return m, data, nil
}
