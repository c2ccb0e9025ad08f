package incident

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/assessment"
	"github.com/relieflab/dms/core/user"
)

var (
	ErrNotFound = errors.New("incident not found")
	ErrResolved = errors.New("incident is resolved")
)

type (
	Repository interface {
		CreateIncident(ctx context.Context, inc Incident) (Incident, error)
		QueryIncidents(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Incident, error)
		GetIncidentByID(ctx context.Context, id string) (Incident, error)
		UpdateIncident(ctx context.Context, inc Incident) (Incident, error)
	}

	// Notifier broadcasts to every user holding a role prefix.
	Notifier interface {
		NotifyRole(ctx context.Context, rolePrefix, kind, subject, body string) error
	}

	Service struct {
		repo     Repository
		notifier Notifier
	}
)

var _ assessment.IncidentOpener = (*Service)(nil)

func NewService(repo Repository, notifier Notifier) *Service {
	return &Service{repo: repo, notifier: notifier}
}

func (svc *Service) Create(ctx context.Context, createdBy string, ni NewIncident) (Incident, error) {
	now := core.UTCNow()
	inc := Incident{
		ID:                 uuid.New().String(),
		Type:               ni.Type,
		Severity:           ni.Severity,
		Status:             StatusActive,
		Name:               ni.Name,
		Description:        ni.Description,
		AffectedPersons:    ni.AffectedPersons,
		AffectedHouseholds: ni.AffectedHouseholds,
		EntityIDs:          ni.EntityIDs,
		Timeline: []TimelineEntry{
			{At: now, Status: StatusActive, Note: "incident opened", By: createdBy},
		},
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	inc, err := svc.repo.CreateIncident(ctx, inc)
	if err != nil {
		return Incident{}, err
	}

	if svc.notifier != nil {
		_ = svc.notifier.NotifyRole(ctx, user.RoleCoordinator, "INCIDENT_OPENED",
			fmt.Sprintf("New %s incident: %s", inc.Severity, inc.Name),
			fmt.Sprintf("A %s incident (%s) is now active.", inc.Type, inc.Severity))
	}
	return inc, nil
}

// OpenFromAssessment opens an incident off a flagged preliminary assessment.
func (svc *Service) OpenFromAssessment(ctx context.Context, assessmentID, entityID string, flag assessment.IncidentFlag) (string, error) {
	inc, err := svc.Create(ctx, "system", NewIncident{
		Type:               IncidentType(flag.IncidentType),
		Severity:           Severity(flag.Severity),
		Name:               fmt.Sprintf("%s incident (preliminary assessment)", flag.IncidentType),
		Description:        flag.Description,
		AffectedPersons:    flag.AffectedPersons,
		AffectedHouseholds: flag.AffectedHouseholds,
		EntityIDs:          []string{entityID},
	})
	if err != nil {
		return "", err
	}
	inc.AssessmentIDs = append(inc.AssessmentIDs, assessmentID)
	inc.UpdatedAt = core.UTCNow()
	if _, err = svc.repo.UpdateIncident(ctx, inc); err != nil {
		return "", err
	}
	return inc.ID, nil
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Incident, error) {
	return svc.repo.QueryIncidents(ctx, filter, ordering)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Incident, error) {
	return svc.repo.GetIncidentByID(ctx, id)
}

// ChangeStatus performs a transition and appends a timeline entry.
func (svc *Service) ChangeStatus(ctx context.Context, id, by string, sc StatusChange) (Incident, error) {
	inc, err := svc.repo.GetIncidentByID(ctx, id)
	if err != nil {
		return Incident{}, err
	}
	if !inc.Status.CanTransition(sc.Status) {
		return Incident{}, core.NewValidationError(core.ErrBadTransition,
			core.FieldError{Field: "status", Error: fmt.Sprintf("cannot move a %s incident to %s", inc.Status, sc.Status)})
	}

	now := core.UTCNow()
	inc.Status = sc.Status
	inc.Timeline = append(inc.Timeline, TimelineEntry{At: now, Status: sc.Status, Note: sc.Note, By: by})
	inc.UpdatedAt = now
	return svc.repo.UpdateIncident(ctx, inc)
}

// AddNote appends a coordination note without changing status.
func (svc *Service) AddNote(ctx context.Context, id, by, note string) (Incident, error) {
	inc, err := svc.repo.GetIncidentByID(ctx, id)
	if err != nil {
		return Incident{}, err
	}
	if note = core.CleanString(note); note == "" {
		return Incident{}, core.NewValidationError(nil, core.FieldError{Field: "note", Error: "this field is required"})
	}
	now := core.UTCNow()
	inc.Timeline = append(inc.Timeline, TimelineEntry{At: now, Status: inc.Status, Note: note, By: by})
	inc.UpdatedAt = now
	return svc.repo.UpdateIncident(ctx, inc)
}

// LinkEntity attaches an affected entity; resolved incidents reject linking.
func (svc *Service) LinkEntity(ctx context.Context, id, entityID string) (Incident, error) {
	inc, err := svc.repo.GetIncidentByID(ctx, id)
	if err != nil {
		return Incident{}, err
	}
	if inc.Status == StatusResolved {
		return Incident{}, core.NewValidationError(ErrResolved,
			core.FieldError{Field: "entity_ids", Error: "cannot link to a resolved incident"})
	}
	for _, eid := range inc.EntityIDs {
		if eid == entityID {
			return inc, nil
		}
	}
	inc.EntityIDs = append(inc.EntityIDs, entityID)
	inc.UpdatedAt = core.UTCNow()
	return svc.repo.UpdateIncident(ctx, inc)
}
