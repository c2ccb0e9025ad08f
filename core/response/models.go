package response

import (
	"time"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/assessment"
	"github.com/relieflab/dms/core/entity"
)

// ResponseType mirrors the assessment domains.
type ResponseType = assessment.AssessmentType

type Status string

const (
	StatusPlanned    Status = "PLANNED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDelivered  Status = "DELIVERED"
)

// CanTransition enforces the plan -> deliver lifecycle.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPlanned:
		return next == StatusInProgress || next == StatusDelivered
	case StatusInProgress:
		return next == StatusDelivered
	default:
		return false
	}
}

// Item is a planned or delivered relief item line.
type Item struct {
	Name     string  `json:"name" validate:"required"`
	Unit     string  `json:"unit" validate:"required"`
	Quantity float64 `json:"quantity" validate:"gt=0"`
}

type RapidResponse struct {
	ID           string       `json:"id"`
	Type         ResponseType `json:"type"`
	EntityID     string       `json:"entity_id"`
	ResponderID  string       `json:"responder_id"`
	AssessmentID string       `json:"assessment_id,omitempty"`
	DonorID      string       `json:"donor_id,omitempty"`

	Status         Status                 `json:"status"`
	PlannedItems   []Item                 `json:"planned_items"`
	DeliveredItems []Item                 `json:"delivered_items,omitempty"`
	PlannedDate    time.Time              `json:"planned_date"` // UTC
	DeliveredAt    *time.Time             `json:"delivered_at,omitempty"`
	Coordinates    *entity.GPSCoordinates `json:"coordinates,omitempty"`

	// partial delivery accounting
	DeliveryPercent  float64  `json:"delivery_percent"` // 0..100, delivered vs planned quantities
	ReasonCodes      []string `json:"reason_codes,omitempty"`
	EvidenceMediaIDs []string `json:"evidence_media_ids,omitempty"`

	VerificationStatus core.VerificationStatus `json:"verification_status"`
	VerifiedBy         string                  `json:"verified_by,omitempty"`
	VerifiedAt         *time.Time              `json:"verified_at,omitempty"`

	OfflineID  string          `json:"offline_id,omitempty"`
	SyncStatus core.SyncStatus `json:"sync_status,omitempty"`
	CreatedAt  time.Time       `json:"created_at"` // UTC
	UpdatedAt  time.Time       `json:"updated_at"` // UTC
}

// PercentDelivered compares delivered against planned quantities, item by
// item; over-delivery of one item does not make up for shortfall in another.
// Each planned line draws from a shared per-name pool, so a plan listing the
// same name twice cannot be credited twice from one delivery.
func PercentDelivered(planned, delivered []Item) float64 {
	if len(planned) == 0 {
		return 0
	}
	pool := make(map[string]float64, len(delivered))
	for _, it := range delivered {
		pool[it.Name] += it.Quantity
	}
	var plannedTotal, creditedTotal float64
	for _, it := range planned {
		plannedTotal += it.Quantity
		got := pool[it.Name]
		if got > it.Quantity {
			got = it.Quantity
		}
		pool[it.Name] -= got
		creditedTotal += got
	}
	if plannedTotal == 0 {
		return 0
	}
	return creditedTotal / plannedTotal * 100
}

// NewResponse contains information needed to plan a RapidResponse.
type NewResponse struct {
	Type         ResponseType           `json:"type" validate:"required"`
	EntityID     string                 `json:"entity_id" validate:"required"`
	AssessmentID string                 `json:"assessment_id"`
	DonorID      string                 `json:"donor_id"`
	PlannedItems []Item                 `json:"planned_items" validate:"required,min=1,dive"`
	PlannedDate  time.Time              `json:"planned_date"`
	Coordinates  *entity.GPSCoordinates `json:"coordinates,omitempty"`
	OfflineID    string                 `json:"offline_id,omitempty"`
}

func (nr *NewResponse) Validate() error {
	if err := core.Validate.Struct(nr); err != nil {
		return err
	}
	if !nr.Type.Valid() {
		return core.NewValidationError(nil, core.FieldError{Field: "type", Error: "invalid response type"})
	}
	return nil
}

// UpdateResponse edits a plan before delivery starts. BaseUpdatedAt is the
// UpdatedAt the caller last saw; a newer server-side record triggers a
// conflict unless Force is set.
type UpdateResponse struct {
	PlannedItems  []Item                 `json:"planned_items" validate:"omitempty,min=1,dive"`
	PlannedDate   *time.Time             `json:"planned_date,omitempty"`
	DonorID       string                 `json:"donor_id,omitempty"`
	Coordinates   *entity.GPSCoordinates `json:"coordinates,omitempty"`
	BaseUpdatedAt time.Time              `json:"base_updated_at,omitempty"`
	Force         bool                   `json:"force,omitempty"`
}

func (ur *UpdateResponse) Validate() error { return core.Validate.Struct(ur) }

// Delivery converts a plan into an actual delivery. Items default to the
// planned items when the delivery went out exactly as planned.
type Delivery struct {
	Items            []Item     `json:"items" validate:"omitempty,min=1,dive"`
	DeliveredAt      *time.Time `json:"delivered_at,omitempty"`
	ReasonCodes      []string   `json:"reason_codes,omitempty"` // required when partial
	EvidenceMediaIDs []string   `json:"evidence_media_ids,omitempty"`
	Notes            string     `json:"notes,omitempty"`
}

func (d *Delivery) Validate() error { return core.Validate.Struct(d) }

type QueryFilter struct {
	Type         ResponseType            `query:"type"`
	EntityID     string                  `query:"entity_id"`
	ResponderID  string                  `query:"responder_id"`
	DonorID      string                  `query:"donor_id"`
	Status       Status                  `query:"status"`
	Verification core.VerificationStatus `query:"verification_status"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Type == "" && qf.EntityID == "" && qf.ResponderID == "" && qf.DonorID == "" &&
		qf.Status == "" && qf.Verification == ""
}
