package entity

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/relieflab/dms/core"
)

type EntityType string

const (
	TypeCamp      EntityType = "CAMP"
	TypeCommunity EntityType = "COMMUNITY"
)

type CampStatus string

const (
	CampOpen   CampStatus = "OPEN"
	CampClosed CampStatus = "CLOSED"
)

// GPSCoordinates carries the capture metadata alongside the fix so a
// coordinator can judge how trustworthy a field location is.
type GPSCoordinates struct {
	Latitude   float64   `json:"latitude" validate:"latitude"`
	Longitude  float64   `json:"longitude" validate:"longitude"`
	Accuracy   *float64  `json:"accuracy,omitempty"` // meters
	CapturedAt time.Time `json:"captured_at"`
	CapturedBy string    `json:"captured_by,omitempty"` // GPS | MANUAL | MAP_SELECT
}

type CampDetails struct {
	CoordinatorName  string     `json:"coordinator_name" validate:"required"`
	CoordinatorPhone string     `json:"coordinator_phone" validate:"required,min=7"`
	Status           CampStatus `json:"status" validate:"required,oneof=OPEN CLOSED"`
	SuperviserName   string     `json:"superviser_name"`
	SuperviserOrg    string     `json:"superviser_org"`
}

type CommunityDetails struct {
	ContactName  string `json:"contact_name" validate:"required"`
	ContactPhone string `json:"contact_phone" validate:"required,min=7"`
}

// AffectedEntity is a camp or community tracked by the system. Exactly one of
// Camp or Community is set, matching Type.
type AffectedEntity struct {
	ID          string            `json:"id"`
	Type        EntityType        `json:"type"`
	Name        string            `json:"name"`
	LGA         string            `json:"lga"`
	Ward        string            `json:"ward"`
	Coordinates *GPSCoordinates   `json:"coordinates,omitempty"`
	Camp        *CampDetails      `json:"camp_details,omitempty"`
	Community   *CommunityDetails `json:"community_details,omitempty"`
	OfflineID   string            `json:"offline_id,omitempty"`
	SyncStatus  core.SyncStatus   `json:"sync_status,omitempty"`
	CreatedBy   string            `json:"created_by"`
	CreatedAt   time.Time         `json:"created_at"` // UTC
	UpdatedAt   time.Time         `json:"updated_at"` // UTC
}

// NewEntity contains information needed to register a new AffectedEntity.
type NewEntity struct {
	Type        EntityType        `json:"type" validate:"required,oneof=CAMP COMMUNITY"`
	Name        string            `json:"name" validate:"required"`
	LGA         string            `json:"lga" validate:"required"`
	Ward        string            `json:"ward"`
	Coordinates *GPSCoordinates   `json:"coordinates,omitempty"`
	Camp        *CampDetails      `json:"camp_details,omitempty"`
	Community   *CommunityDetails `json:"community_details,omitempty"`
	OfflineID   string            `json:"offline_id,omitempty"`
}

func (ne *NewEntity) Validate() error {
	ne.Name = core.CleanString(ne.Name)
	ne.LGA = core.CleanString(ne.LGA)
	ne.Ward = core.CleanString(ne.Ward)
	return core.Validate.Struct(ne)
}

// UpdateEntity defines what may be modified on an existing AffectedEntity.
// BaseUpdatedAt is the UpdatedAt the caller last saw; a newer server-side
// record triggers a conflict unless Force is set.
type UpdateEntity struct {
	Name          string            `json:"name"`
	LGA           string            `json:"lga"`
	Ward          string            `json:"ward"`
	Coordinates   *GPSCoordinates   `json:"coordinates,omitempty"`
	Camp          *CampDetails      `json:"camp_details,omitempty"`
	Community     *CommunityDetails `json:"community_details,omitempty"`
	BaseUpdatedAt time.Time         `json:"base_updated_at,omitempty"`
	Force         bool              `json:"force,omitempty"`
}

func (ue *UpdateEntity) Validate(orig AffectedEntity) error {
	if name := core.CleanString(ue.Name); name != "" {
		ue.Name = name
	} else {
		ue.Name = orig.Name
	}
	if lga := core.CleanString(ue.LGA); lga != "" {
		ue.LGA = lga
	} else {
		ue.LGA = orig.LGA
	}
	ue.Ward = core.CleanString(ue.Ward)
	return core.Validate.Struct(ue)
}

type QueryFilter struct {
	Search string     `query:"search"`
	Type   EntityType `query:"type"`
	LGA    string     `query:"lga"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Type == "" && qf.LGA == ""
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.LGA = core.CleanString(qf.LGA)
}

var (
	detailMissingTag  = "entitydetail"
	detailMissingText = "detail block must be present and match the entity type"
)

func init() {
	core.Validate.RegisterStructValidation(entityStructValidation, NewEntity{})
	core.RegisterCustomTranslation(detailMissingTag, detailMissingText)
}

// entityStructValidation enforces the one-detail-block-per-type invariant.
func entityStructValidation(sl validator.StructLevel) {
	ne, ok := sl.Current().Interface().(NewEntity)
	if !ok {
		return
	}
	switch ne.Type {
	case TypeCamp:
		if ne.Camp == nil || ne.Community != nil {
			sl.ReportError(ne.Camp, "camp_details", "Camp", detailMissingTag, "")
		}
	case TypeCommunity:
		if ne.Community == nil || ne.Camp != nil {
			sl.ReportError(ne.Community, "community_details", "Community", detailMissingTag, "")
		}
	}
}
