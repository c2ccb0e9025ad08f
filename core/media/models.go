package media

import (
	"time"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/entity"
)

type OwnerType string

const (
	OwnerAssessment OwnerType = "ASSESSMENT"
	OwnerResponse   OwnerType = "RESPONSE"
	OwnerEntity     OwnerType = "ENTITY"
)

func (o OwnerType) Valid() bool {
	switch o {
	case OwnerAssessment, OwnerResponse, OwnerEntity:
		return true
	}
	return false
}

// MediaAttachment is a photo or document captured as evidence in the field.
type MediaAttachment struct {
	ID        string    `json:"id"`
	OwnerType OwnerType `json:"owner_type"`
	OwnerID   string    `json:"owner_id"`

	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"` // sha256, hex
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`

	Coordinates *entity.GPSCoordinates `json:"coordinates,omitempty"`

	StoragePath   string `json:"-"`
	ThumbnailPath string `json:"-"`
	URL           string `json:"url,omitempty"`
	ThumbnailURL  string `json:"thumbnail_url,omitempty"`

	OfflineID  string          `json:"offline_id,omitempty"`
	SyncStatus core.SyncStatus `json:"sync_status,omitempty"`
	UploadedBy string          `json:"uploaded_by"`
	CreatedAt  time.Time       `json:"created_at"` // UTC
}

// NewMedia carries upload metadata; the bytes travel separately.
type NewMedia struct {
	OwnerType   OwnerType              `json:"owner_type" validate:"required,oneof=ASSESSMENT RESPONSE ENTITY"`
	OwnerID     string                 `json:"owner_id" validate:"required"`
	Filename    string                 `json:"filename" validate:"required"`
	Coordinates *entity.GPSCoordinates `json:"coordinates,omitempty"`
	OfflineID   string                 `json:"offline_id,omitempty"`
}

func (nm *NewMedia) Validate() error {
	nm.Filename = core.CleanString(nm.Filename)
	return core.Validate.Struct(nm)
}
