package donation

import (
	"time"

	"github.com/relieflab/dms/core"
)

type CommitmentStatus string

const (
	StatusPlanned    CommitmentStatus = "PLANNED"
	StatusInProgress CommitmentStatus = "IN_PROGRESS"
	StatusDelivered  CommitmentStatus = "DELIVERED"
	StatusCancelled  CommitmentStatus = "CANCELLED"
)

// CanTransition: PLANNED -> IN_PROGRESS -> DELIVERED; anything not yet
// delivered may be cancelled.
func (s CommitmentStatus) CanTransition(next CommitmentStatus) bool {
	switch s {
	case StatusPlanned:
		return next == StatusInProgress || next == StatusDelivered || next == StatusCancelled
	case StatusInProgress:
		return next == StatusDelivered || next == StatusCancelled
	default:
		return false
	}
}

// Commitment is a donor's pledge of relief items.
type Commitment struct {
	ID         string           `json:"id"`
	DonorID    string           `json:"donor_id"`
	ItemName   string           `json:"item_name"`
	Unit       string           `json:"unit"`
	Quantity   float64          `json:"quantity"`
	TargetDate time.Time        `json:"target_date"` // UTC
	Status     CommitmentStatus `json:"status"`
	ResponseID string           `json:"response_id,omitempty"` // once wired into a response
	DeliveredAt *time.Time      `json:"delivered_at,omitempty"`
	CreatedAt  time.Time        `json:"created_at"` // UTC
	UpdatedAt  time.Time        `json:"updated_at"` // UTC
}

// NewCommitment contains information needed to register a pledge.
type NewCommitment struct {
	ItemName   string    `json:"item_name" validate:"required"`
	Unit       string    `json:"unit" validate:"required"`
	Quantity   float64   `json:"quantity" validate:"gt=0"`
	TargetDate time.Time `json:"target_date" validate:"required"`
}

func (nc *NewCommitment) Validate() error {
	nc.ItemName = core.CleanString(nc.ItemName)
	nc.Unit = core.CleanString(nc.Unit)
	return core.Validate.Struct(nc)
}

// StatusChange is the input to a commitment transition.
type StatusChange struct {
	Status     CommitmentStatus `json:"status" validate:"required,oneof=PLANNED IN_PROGRESS DELIVERED CANCELLED"`
	ResponseID string           `json:"response_id"`
}

func (sc *StatusChange) Validate() error { return core.Validate.Struct(sc) }

// DonorMetrics is the per-donor performance summary behind the leaderboard.
type DonorMetrics struct {
	DonorID          string  `json:"donor_id"`
	DonorName        string  `json:"donor_name,omitempty"`
	TotalCommitments int     `json:"total_commitments"`
	Delivered        int     `json:"delivered"`
	Cancelled        int     `json:"cancelled"`
	DeliveryRate     float64 `json:"delivery_rate"` // delivered / (total - cancelled)
	OnTimeRate       float64 `json:"on_time_rate"`  // delivered by target date / delivered
}

type QueryFilter struct {
	DonorID string           `query:"donor_id"`
	Status  CommitmentStatus `query:"status"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.DonorID == "" && qf.Status == ""
}
