package assessment

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/entity"
)

type AssessmentType string

const (
	TypeHealth     AssessmentType = "HEALTH"
	TypeWASH       AssessmentType = "WASH"
	TypeShelter    AssessmentType = "SHELTER"
	TypeFood       AssessmentType = "FOOD"
	TypeSecurity   AssessmentType = "SECURITY"
	TypePopulation AssessmentType = "POPULATION"
)

var AllTypes = []AssessmentType{TypeHealth, TypeWASH, TypeShelter, TypeFood, TypeSecurity, TypePopulation}

func (t AssessmentType) Valid() bool {
	for _, at := range AllTypes {
		if t == at {
			return true
		}
	}
	return false
}

// Type-specific data blocks. The wire format carries one of these as the
// assessment's `data` field, matching its `type`.
type (
	HealthData struct {
		HasFunctionalClinic   bool     `json:"has_functional_clinic"`
		QualifiedHealthWorker bool     `json:"qualified_health_worker"`
		CommonHealthIssues    []string `json:"common_health_issues"`
		MedicineSupplyDays    int      `json:"medicine_supply_days" validate:"min=0"`
		Notes                 string   `json:"notes"`
	}

	WASHData struct {
		WaterSource          []string `json:"water_source" validate:"required,min=1"`
		WaterSufficient      bool     `json:"water_sufficient"`
		FunctionalLatrines   int      `json:"functional_latrines" validate:"min=0"`
		OpenDefecationStatus bool     `json:"open_defecation_status"`
		Notes                string   `json:"notes"`
	}

	ShelterData struct {
		SheltersSufficient bool     `json:"shelters_sufficient"`
		ShelterTypes       []string `json:"shelter_types"`
		RequiringRepair    int      `json:"requiring_repair" validate:"min=0"`
		Notes              string   `json:"notes"`
	}

	FoodData struct {
		FoodSource           []string `json:"food_source" validate:"required,min=1"`
		AvailableFoodDays    int      `json:"available_food_days" validate:"min=0"`
		MalnutritionCases    int      `json:"malnutrition_cases" validate:"min=0"`
		FeedingProgramExists bool     `json:"feeding_program_exists"`
		Notes                string   `json:"notes"`
	}

	SecurityData struct {
		SecurityProvider   string   `json:"security_provider"`
		IncidentsReported  int      `json:"incidents_reported" validate:"min=0"`
		ProtectionConcerns []string `json:"protection_concerns"`
		Notes              string   `json:"notes"`
	}

	PopulationData struct {
		TotalHouseholds       int    `json:"total_households" validate:"min=0"`
		TotalMale             int    `json:"total_male" validate:"min=0"`
		TotalFemale           int    `json:"total_female" validate:"min=0"`
		ChildrenUnderFive     int    `json:"children_under_five" validate:"min=0"`
		PregnantWomen         int    `json:"pregnant_women" validate:"min=0"`
		PersonsWithDisability int    `json:"persons_with_disability" validate:"min=0"`
		SeparatedChildren     int    `json:"separated_children" validate:"min=0"`
		Notes                 string `json:"notes"`
	}
)

// IncidentFlag marks a preliminary assessment severe enough to open an
// incident for coordination.
type IncidentFlag struct {
	IncidentType       string `json:"incident_type" validate:"required,oneof=FLOOD FIRE LANDSLIDE CYCLONE CONFLICT EPIDEMIC OTHER"`
	Severity           string `json:"severity" validate:"required,oneof=MINOR MODERATE SEVERE"`
	AffectedPersons    int    `json:"affected_persons" validate:"min=0"`
	AffectedHouseholds int    `json:"affected_households" validate:"min=0"`
	Description        string `json:"description"`
}

type RapidAssessment struct {
	ID          string                  `json:"id"`
	Type        AssessmentType          `json:"type"`
	EntityID    string                  `json:"entity_id"`
	AssessorID  string                  `json:"assessor_id"`
	Date        time.Time               `json:"date"` // UTC
	Coordinates *entity.GPSCoordinates  `json:"coordinates,omitempty"`
	Data        json.RawMessage         `json:"data"`
	Incident    *IncidentFlag           `json:"incident,omitempty"`
	IncidentID  string                  `json:"incident_id,omitempty"` // set once the flag opened one
	MediaIDs    []string                `json:"media_ids,omitempty"`

	VerificationStatus core.VerificationStatus `json:"verification_status"`
	VerifiedBy         string                  `json:"verified_by,omitempty"`
	VerifiedAt         *time.Time              `json:"verified_at,omitempty"`

	OfflineID  string          `json:"offline_id,omitempty"`
	SyncStatus core.SyncStatus `json:"sync_status,omitempty"`
	CreatedAt  time.Time       `json:"created_at"` // UTC
	UpdatedAt  time.Time       `json:"updated_at"` // UTC
}

// Feedback is generated whenever a coordinator rejects a submission.
type Feedback struct {
	ID           string    `json:"id"`
	AssessmentID string    `json:"assessment_id"`
	Reason       string    `json:"reason"`
	Comments     string    `json:"comments"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"` // UTC
}

// NewAssessment contains information needed to submit a RapidAssessment.
type NewAssessment struct {
	Type        AssessmentType         `json:"type" validate:"required"`
	EntityID    string                 `json:"entity_id" validate:"required"`
	Date        time.Time              `json:"date"`
	Coordinates *entity.GPSCoordinates `json:"coordinates,omitempty"`
	Data        json.RawMessage        `json:"data" validate:"required"`
	Incident    *IncidentFlag          `json:"incident,omitempty"`
	MediaIDs    []string               `json:"media_ids,omitempty"`
	OfflineID   string                 `json:"offline_id,omitempty"`
}

func (na *NewAssessment) Validate() error {
	if err := core.Validate.Struct(na); err != nil {
		return err
	}
	if !na.Type.Valid() {
		return core.NewValidationError(nil, core.FieldError{Field: "type", Error: "invalid assessment type"})
	}
	if err := validateData(na.Type, na.Data); err != nil {
		return err
	}
	if na.Incident != nil {
		if err := core.Validate.Struct(na.Incident); err != nil {
			return err
		}
	}
	return nil
}

// UpdateAssessment carries a re-submission after rejection. Only the data
// block, coordinates and media set may change.
type UpdateAssessment struct {
	Data        json.RawMessage        `json:"data,omitempty"`
	Coordinates *entity.GPSCoordinates `json:"coordinates,omitempty"`
	MediaIDs    []string               `json:"media_ids,omitempty"`
}

func (ua *UpdateAssessment) Validate(orig RapidAssessment) error {
	if ua.Data != nil {
		return validateData(orig.Type, ua.Data)
	}
	return nil
}

// RejectionFeedback is the coordinator's input when rejecting.
type RejectionFeedback struct {
	Reason   string `json:"reason" validate:"required"`
	Comments string `json:"comments"`
}

func (rf *RejectionFeedback) Validate() error {
	rf.Reason = core.CleanString(rf.Reason)
	rf.Comments = core.CleanString(rf.Comments)
	return core.Validate.Struct(rf)
}

type QueryFilter struct {
	Type       AssessmentType          `query:"type"`
	EntityID   string                  `query:"entity_id"`
	AssessorID string                  `query:"assessor_id"`
	Status     core.VerificationStatus `query:"status"`
	DateFrom   time.Time               `query:"date_from"`
	DateTo     time.Time               `query:"date_to"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Type == "" && qf.EntityID == "" && qf.AssessorID == "" && qf.Status == "" &&
		qf.DateFrom.IsZero() && qf.DateTo.IsZero()
}

// validateData unmarshals the raw block into the struct matching `t` and runs
// field validation on it. Unknown fields are rejected to catch type/data
// mismatches coming from offline clients.
func validateData(t AssessmentType, raw json.RawMessage) error {
	var target interface{}
	switch t {
	case TypeHealth:
		target = &HealthData{}
	case TypeWASH:
		target = &WASHData{}
	case TypeShelter:
		target = &ShelterData{}
	case TypeFood:
		target = &FoodData{}
	case TypeSecurity:
		target = &SecurityData{}
	case TypePopulation:
		target = &PopulationData{}
	default:
		return core.NewValidationError(nil, core.FieldError{Field: "type", Error: "invalid assessment type"})
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return core.NewValidationError(errors.Wrap(err, "decoding data block"),
			core.FieldError{Field: "data", Error: "data block does not match assessment type"})
	}
	return core.Validate.Struct(target)
}
