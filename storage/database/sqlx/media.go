package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/entity"
	"github.com/relieflab/dms/core/media"
)

type mediaRow struct {
	ID            string      `db:"id"`
	OwnerType     string      `db:"owner_type"`
	OwnerID       string      `db:"owner_id"`
	Filename      string      `db:"filename"`
	MimeType      string      `db:"mime_type"`
	Size          int64       `db:"size"`
	Checksum      string      `db:"checksum"`
	Width         int         `db:"width"`
	Height        int         `db:"height"`
	Coordinates   []byte      `db:"coordinates"`
	StoragePath   string      `db:"storage_path"`
	ThumbnailPath string      `db:"thumbnail_path"`
	URL           string      `db:"url"`
	ThumbnailURL  string      `db:"thumbnail_url"`
	OfflineID     null.String `db:"offline_id"`
	SyncStatus    string      `db:"sync_status"`
	UploadedBy    string      `db:"uploaded_by"`
	CreatedAt     time.Time   `db:"created_at"`
}

func (row mediaRow) toMedia() (media.MediaAttachment, error) {
	m := media.MediaAttachment{
		ID:            row.ID,
		OwnerType:     media.OwnerType(row.OwnerType),
		OwnerID:       row.OwnerID,
		Filename:      row.Filename,
		MimeType:      row.MimeType,
		Size:          row.Size,
		Checksum:      row.Checksum,
		Width:         row.Width,
		Height:        row.Height,
		StoragePath:   row.StoragePath,
		ThumbnailPath: row.ThumbnailPath,
		URL:           row.URL,
		ThumbnailURL:  row.ThumbnailURL,
		OfflineID:     row.OfflineID.String,
		SyncStatus:    core.SyncStatus(row.SyncStatus),
		UploadedBy:    row.UploadedBy,
		CreatedAt:     row.CreatedAt.UTC(),
	}
	if len(row.Coordinates) > 0 {
		m.Coordinates = &entity.GPSCoordinates{}
		if err := fromJSONColumn(row.Coordinates, m.Coordinates); err != nil {
			return m, err
		}
	}
	return m, nil
}

const mediaColumns = `id, owner_type, owner_id, filename, mime_type, size, checksum, width, height, coordinates,
	storage_path, thumbnail_path, url, thumbnail_url, offline_id, sync_status, uploaded_by, created_at`

type mediaRepository struct {
	db *sqlx.DB
}

func NewMediaRepository(db *sqlx.DB) media.Repository {
	return &mediaRepository{db: db}
}

func (repo *mediaRepository) CreateMedia(ctx context.Context, m media.MediaAttachment) (media.MediaAttachment, error) {
	coords, err := jsonColumn(orNil(m.Coordinates))
	if err != nil {
		return media.MediaAttachment{}, err
	}

	_, err = repo.db.ExecContext(ctx,
		`INSERT INTO media_attachment (`+mediaColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		m.ID, string(m.OwnerType), m.OwnerID, m.Filename, m.MimeType, m.Size, m.Checksum,
		m.Width, m.Height, coords, m.StoragePath, m.ThumbnailPath, m.URL, m.ThumbnailURL,
		null.NewString(m.OfflineID, m.OfflineID != ""), string(m.SyncStatus), m.UploadedBy, m.CreatedAt)
	if err != nil {
		return media.MediaAttachment{}, errors.Wrap(err, "creating media")
	}
	return m, nil
}

func (repo *mediaRepository) getBy(ctx context.Context, cond string, args ...interface{}) (media.MediaAttachment, error) {
	var row mediaRow
	err := repo.db.GetContext(ctx, &row, `SELECT `+mediaColumns+` FROM media_attachment WHERE `+cond, args...)
	if err == sql.ErrNoRows {
		return media.MediaAttachment{}, media.ErrNotFound
	} else if err != nil {
		return media.MediaAttachment{}, errors.Wrap(err, "getting media")
	}
	return row.toMedia()
}

func (repo *mediaRepository) GetMediaByID(ctx context.Context, id string) (media.MediaAttachment, error) {
	return repo.getBy(ctx, `id = $1`, id)
}

func (repo *mediaRepository) GetMediaByOfflineID(ctx context.Context, offlineID string) (media.MediaAttachment, error) {
	return repo.getBy(ctx, `offline_id = $1`, offlineID)
}

func (repo *mediaRepository) QueryMediaByOwner(ctx context.Context, ownerType media.OwnerType, ownerID string) ([]media.MediaAttachment, error) {
	var rows []mediaRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT `+mediaColumns+` FROM media_attachment
		 WHERE owner_type = $1 AND owner_id = $2 ORDER BY created_at ASC`,
		string(ownerType), ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "querying media")
	}
	ms := make([]media.MediaAttachment, 0, len(rows))
	for _, row := range rows {
		m, err := row.toMedia()
		if err != nil {
			return nil, err
		}
		ms = append(ms, m)
	}
	return ms, nil
}
