package incident

import (
	"time"

	"github.com/relieflab/dms/core"
)

type IncidentType string

const (
	TypeFlood     IncidentType = "FLOOD"
	TypeFire      IncidentType = "FIRE"
	TypeLandslide IncidentType = "LANDSLIDE"
	TypeCyclone   IncidentType = "CYCLONE"
	TypeConflict  IncidentType = "CONFLICT"
	TypeEpidemic  IncidentType = "EPIDEMIC"
	TypeOther     IncidentType = "OTHER"
)

type Severity string

const (
	SeverityMinor    Severity = "MINOR"
	SeverityModerate Severity = "MODERATE"
	SeveritySevere   Severity = "SEVERE"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusContained Status = "CONTAINED"
	StatusResolved  Status = "RESOLVED"
)

// CanTransition: ACTIVE -> CONTAINED -> RESOLVED, with a direct
// ACTIVE -> RESOLVED shortcut. RESOLVED is terminal.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusActive:
		return next == StatusContained || next == StatusResolved
	case StatusContained:
		return next == StatusResolved
	default:
		return false
	}
}

// TimelineEntry records a status change or coordination note.
type TimelineEntry struct {
	At     time.Time `json:"at"` // UTC
	Status Status    `json:"status"`
	Note   string    `json:"note,omitempty"`
	By     string    `json:"by"`
}

type Incident struct {
	ID          string       `json:"id"`
	Type        IncidentType `json:"type"`
	Severity    Severity     `json:"severity"`
	Status      Status       `json:"status"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`

	AffectedPersons    int `json:"affected_persons"`
	AffectedHouseholds int `json:"affected_households"`

	EntityIDs     []string        `json:"entity_ids,omitempty"`
	AssessmentIDs []string        `json:"assessment_ids,omitempty"`
	Timeline      []TimelineEntry `json:"timeline"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

// NewIncident contains information needed to open an Incident by hand
// (flagged assessments open them automatically).
type NewIncident struct {
	Type        IncidentType `json:"type" validate:"required,oneof=FLOOD FIRE LANDSLIDE CYCLONE CONFLICT EPIDEMIC OTHER"`
	Severity    Severity     `json:"severity" validate:"required,oneof=MINOR MODERATE SEVERE"`
	Name        string       `json:"name" validate:"required"`
	Description string       `json:"description"`

	AffectedPersons    int      `json:"affected_persons" validate:"min=0"`
	AffectedHouseholds int      `json:"affected_households" validate:"min=0"`
	EntityIDs          []string `json:"entity_ids,omitempty"`
}

func (ni *NewIncident) Validate() error {
	ni.Name = core.CleanString(ni.Name)
	ni.Description = core.CleanString(ni.Description)
	return core.Validate.Struct(ni)
}

// StatusChange is the input to a status transition.
type StatusChange struct {
	Status Status `json:"status" validate:"required,oneof=ACTIVE CONTAINED RESOLVED"`
	Note   string `json:"note"`
}

func (sc *StatusChange) Validate() error {
	sc.Note = core.CleanString(sc.Note)
	return core.Validate.Struct(sc)
}

type QueryFilter struct {
	Type     IncidentType `query:"type"`
	Severity Severity     `query:"severity"`
	Status   Status       `query:"status"`
	EntityID string       `query:"entity_id"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Type == "" && qf.Severity == "" && qf.Status == "" && qf.EntityID == ""
}
