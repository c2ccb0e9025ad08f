package assessment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/entity"
)

var (
	ErrNotFound = errors.New("assessment not found")
)

type (
	Repository interface {
		CreateAssessment(ctx context.Context, ra RapidAssessment) (RapidAssessment, error)
		QueryAssessments(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]RapidAssessment, error)
		GetAssessmentByID(ctx context.Context, id string) (RapidAssessment, error)
		GetAssessmentByOfflineID(ctx context.Context, offlineID string) (RapidAssessment, error)
		UpdateAssessment(ctx context.Context, ra RapidAssessment) (RapidAssessment, error)
		CreateFeedback(ctx context.Context, fb Feedback) (Feedback, error)
		QueryFeedback(ctx context.Context, assessmentID string) ([]Feedback, error)
		// QueryStatusChangesSince returns assessments whose verification status
		// changed at or after the watermark; the sync pull endpoint feeds on it.
		QueryStatusChangesSince(ctx context.Context, since int64) ([]RapidAssessment, error)
	}

	// Notifier decouples this package from core/notification.
	Notifier interface {
		NotifyUser(ctx context.Context, userID, kind, subject, body string) error
	}

	// IncidentOpener lets a flagged preliminary assessment open an incident
	// without importing core/incident.
	IncidentOpener interface {
		OpenFromAssessment(ctx context.Context, assessmentID, entityID string, flag IncidentFlag) (string, error)
	}

	Service struct {
		repo      Repository
		entitySvc *entity.Service
		notifier  Notifier
		incidents IncidentOpener
	}
)

func NewService(repo Repository, entitySvc *entity.Service, notifier Notifier, incidents IncidentOpener) *Service {
	return &Service{repo: repo, entitySvc: entitySvc, notifier: notifier, incidents: incidents}
}

func (svc *Service) Create(ctx context.Context, assessorID string, na NewAssessment) (RapidAssessment, error) {
	// idempotent on offline ID, a retried push must not duplicate
	if na.OfflineID != "" {
		if existing, err := svc.repo.GetAssessmentByOfflineID(ctx, na.OfflineID); err == nil {
			return existing, nil
		} else if errors.Cause(err) != ErrNotFound {
			return RapidAssessment{}, err
		}
	}

	if _, err := svc.entitySvc.GetByID(ctx, na.EntityID); err != nil {
		if errors.Cause(err) == entity.ErrNotFound {
			return RapidAssessment{}, core.NewValidationError(err, core.FieldError{Field: "entity_id", Error: "entity not found"})
		}
		return RapidAssessment{}, err
	}

	now := core.UTCNow()
	date := na.Date
	if date.IsZero() {
		date = now
	}
	ra := RapidAssessment{
		ID:                 uuid.New().String(),
		Type:               na.Type,
		EntityID:           na.EntityID,
		AssessorID:         assessorID,
		Date:               date.UTC(),
		Coordinates:        na.Coordinates,
		Data:               na.Data,
		Incident:           na.Incident,
		MediaIDs:           na.MediaIDs,
		VerificationStatus: core.StatusPending,
		OfflineID:          na.OfflineID,
		SyncStatus:         core.SyncSynced,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	ra, err := svc.repo.CreateAssessment(ctx, ra)
	if err != nil {
		return RapidAssessment{}, err
	}

	// a flagged preliminary assessment opens an incident right away
	if ra.Incident != nil && svc.incidents != nil {
		incidentID, err := svc.incidents.OpenFromAssessment(ctx, ra.ID, ra.EntityID, *ra.Incident)
		if err != nil {
			return RapidAssessment{}, errors.Wrap(err, "opening incident from assessment")
		}
		ra.IncidentID = incidentID
		if ra, err = svc.repo.UpdateAssessment(ctx, ra); err != nil {
			return RapidAssessment{}, err
		}
	}
	return ra, nil
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]RapidAssessment, error) {
	return svc.repo.QueryAssessments(ctx, filter, ordering)
}

func (svc *Service) GetByID(ctx context.Context, id string) (RapidAssessment, error) {
	return svc.repo.GetAssessmentByID(ctx, id)
}

// Update is a re-submission: only legal while REJECTED (or still PENDING), and
// flips a rejected record back to PENDING for another review round.
func (svc *Service) Update(ctx context.Context, id string, ua UpdateAssessment) (RapidAssessment, error) {
	ra, err := svc.repo.GetAssessmentByID(ctx, id)
	if err != nil {
		return RapidAssessment{}, err
	}
	if ra.VerificationStatus == core.StatusVerified {
		return RapidAssessment{}, core.NewValidationError(core.ErrBadTransition,
			core.FieldError{Field: "verification_status", Error: "verified assessments cannot be modified"})
	}
	if err = ua.Validate(ra); err != nil {
		return RapidAssessment{}, err
	}

	if ua.Data != nil {
		ra.Data = ua.Data
	}
	if ua.Coordinates != nil {
		ra.Coordinates = ua.Coordinates
	}
	if ua.MediaIDs != nil {
		ra.MediaIDs = ua.MediaIDs
	}
	if ra.VerificationStatus == core.StatusRejected {
		ra.VerificationStatus = core.StatusPending
		ra.VerifiedBy = ""
		ra.VerifiedAt = nil
	}
	ra.UpdatedAt = core.UTCNow()
	return svc.repo.UpdateAssessment(ctx, ra)
}

func (svc *Service) Verify(ctx context.Context, id, verifierID string) (RapidAssessment, error) {
	ra, err := svc.repo.GetAssessmentByID(ctx, id)
	if err != nil {
		return RapidAssessment{}, err
	}
	if !ra.VerificationStatus.CanTransition(core.StatusVerified) {
		return RapidAssessment{}, core.NewValidationError(core.ErrBadTransition,
			core.FieldError{Field: "verification_status", Error: fmt.Sprintf("cannot verify a %s assessment", ra.VerificationStatus)})
	}

	now := core.UTCNow()
	ra.VerificationStatus = core.StatusVerified
	ra.VerifiedBy = verifierID
	ra.VerifiedAt = &now
	ra.UpdatedAt = now
	ra, err = svc.repo.UpdateAssessment(ctx, ra)
	if err != nil {
		return RapidAssessment{}, err
	}

	if svc.notifier != nil {
		_ = svc.notifier.NotifyUser(ctx, ra.AssessorID, "ASSESSMENT_VERIFIED",
			"Assessment verified",
			fmt.Sprintf("Your %s assessment has been verified.", ra.Type))
	}
	return ra, nil
}

func (svc *Service) Reject(ctx context.Context, id, verifierID string, rf RejectionFeedback) (RapidAssessment, error) {
	ra, err := svc.repo.GetAssessmentByID(ctx, id)
	if err != nil {
		return RapidAssessment{}, err
	}
	if !ra.VerificationStatus.CanTransition(core.StatusRejected) {
		return RapidAssessment{}, core.NewValidationError(core.ErrBadTransition,
			core.FieldError{Field: "verification_status", Error: fmt.Sprintf("cannot reject a %s assessment", ra.VerificationStatus)})
	}

	now := core.UTCNow()
	ra.VerificationStatus = core.StatusRejected
	ra.VerifiedBy = verifierID
	ra.VerifiedAt = &now
	ra.UpdatedAt = now
	ra, err = svc.repo.UpdateAssessment(ctx, ra)
	if err != nil {
		return RapidAssessment{}, err
	}

	fb := Feedback{
		ID:           uuid.New().String(),
		AssessmentID: ra.ID,
		Reason:       rf.Reason,
		Comments:     rf.Comments,
		CreatedBy:    verifierID,
		CreatedAt:    now,
	}
	if _, err = svc.repo.CreateFeedback(ctx, fb); err != nil {
		return RapidAssessment{}, errors.Wrap(err, "creating feedback")
	}

	if svc.notifier != nil {
		_ = svc.notifier.NotifyUser(ctx, ra.AssessorID, "ASSESSMENT_REJECTED",
			"Assessment rejected",
			fmt.Sprintf("Your %s assessment was rejected: %s", ra.Type, rf.Reason))
	}
	return ra, nil
}

func (svc *Service) FeedbackFor(ctx context.Context, assessmentID string) ([]Feedback, error) {
	return svc.repo.QueryFeedback(ctx, assessmentID)
}

// StatusChangesSince feeds the agents' pull phase.
func (svc *Service) StatusChangesSince(ctx context.Context, since int64) ([]RapidAssessment, error) {
	return svc.repo.QueryStatusChangesSince(ctx, since)
}
