package response

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/assessment"
	"github.com/relieflab/dms/core/entity"
)

var (
	ErrNotFound   = errors.New("response not found")
	errStaleWrite = errors.New("response was modified by someone else")

	// a delivery below this share of the plan requires reason codes
	partialThreshold = 100.0
)

type (
	Repository interface {
		CreateResponse(ctx context.Context, rr RapidResponse) (RapidResponse, error)
		QueryResponses(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]RapidResponse, error)
		GetResponseByID(ctx context.Context, id string) (RapidResponse, error)
		GetResponseByOfflineID(ctx context.Context, offlineID string) (RapidResponse, error)
		UpdateResponse(ctx context.Context, rr RapidResponse) (RapidResponse, error)
		QueryStatusChangesSince(ctx context.Context, since int64) ([]RapidResponse, error)
	}

	Notifier interface {
		NotifyUser(ctx context.Context, userID, kind, subject, body string) error
	}

	Service struct {
		repo      Repository
		entitySvc *entity.Service
		assessSvc *assessment.Service
		notifier  Notifier
	}
)

func NewService(repo Repository, entitySvc *entity.Service, assessSvc *assessment.Service, notifier Notifier) *Service {
	return &Service{repo: repo, entitySvc: entitySvc, assessSvc: assessSvc, notifier: notifier}
}

func (svc *Service) Create(ctx context.Context, responderID string, nr NewResponse) (RapidResponse, error) {
	if nr.OfflineID != "" {
		if existing, err := svc.repo.GetResponseByOfflineID(ctx, nr.OfflineID); err == nil {
			return existing, nil
		} else if errors.Cause(err) != ErrNotFound {
			return RapidResponse{}, err
		}
	}

	if _, err := svc.entitySvc.GetByID(ctx, nr.EntityID); err != nil {
		if errors.Cause(err) == entity.ErrNotFound {
			return RapidResponse{}, core.NewValidationError(err, core.FieldError{Field: "entity_id", Error: "entity not found"})
		}
		return RapidResponse{}, err
	}

	// responses ride on verified needs, never on raw field submissions
	if nr.AssessmentID != "" {
		ra, err := svc.assessSvc.GetByID(ctx, nr.AssessmentID)
		if err != nil {
			if errors.Cause(err) == assessment.ErrNotFound {
				return RapidResponse{}, core.NewValidationError(err, core.FieldError{Field: "assessment_id", Error: "assessment not found"})
			}
			return RapidResponse{}, err
		}
		if ra.VerificationStatus != core.StatusVerified {
			return RapidResponse{}, core.NewValidationError(nil,
				core.FieldError{Field: "assessment_id", Error: "assessment has not been verified"})
		}
	}

	now := core.UTCNow()
	plannedDate := nr.PlannedDate
	if plannedDate.IsZero() {
		plannedDate = now
	}
	rr := RapidResponse{
		ID:                 uuid.New().String(),
		Type:               nr.Type,
		EntityID:           nr.EntityID,
		ResponderID:        responderID,
		AssessmentID:       nr.AssessmentID,
		DonorID:            nr.DonorID,
		Status:             StatusPlanned,
		PlannedItems:       nr.PlannedItems,
		PlannedDate:        plannedDate.UTC(),
		Coordinates:        nr.Coordinates,
		VerificationStatus: core.StatusPending,
		OfflineID:          nr.OfflineID,
		SyncStatus:         core.SyncSynced,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	return svc.repo.CreateResponse(ctx, rr)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]RapidResponse, error) {
	return svc.repo.QueryResponses(ctx, filter, ordering)
}

func (svc *Service) GetByID(ctx context.Context, id string) (RapidResponse, error) {
	return svc.repo.GetResponseByID(ctx, id)
}

// Update edits the plan. Responses already in motion keep their plan fixed so
// delivery accounting stays meaningful.
func (svc *Service) Update(ctx context.Context, id string, ur UpdateResponse) (RapidResponse, error) {
	rr, err := svc.repo.GetResponseByID(ctx, id)
	if err != nil {
		return RapidResponse{}, err
	}
	if err = ur.Validate(); err != nil {
		return RapidResponse{}, err
	}
	if rr.Status != StatusPlanned {
		return RapidResponse{}, core.NewValidationError(core.ErrBadTransition,
			core.FieldError{Field: "status", Error: fmt.Sprintf("cannot edit a %s response", rr.Status)})
	}

	// offline writers race with dashboard edits; reject stale baselines so the
	// client can run its conflict policy
	if !ur.Force && !ur.BaseUpdatedAt.IsZero() && rr.UpdatedAt.After(ur.BaseUpdatedAt) {
		return RapidResponse{}, core.NewConflictError(errStaleWrite, rr)
	}

	if ur.PlannedItems != nil {
		rr.PlannedItems = ur.PlannedItems
	}
	if ur.PlannedDate != nil {
		rr.PlannedDate = ur.PlannedDate.UTC()
	}
	if ur.DonorID != "" {
		rr.DonorID = ur.DonorID
	}
	if ur.Coordinates != nil {
		rr.Coordinates = ur.Coordinates
	}
	rr.UpdatedAt = core.UTCNow()
	return svc.repo.UpdateResponse(ctx, rr)
}

// Start moves a planned response to IN_PROGRESS.
func (svc *Service) Start(ctx context.Context, id string) (RapidResponse, error) {
	rr, err := svc.repo.GetResponseByID(ctx, id)
	if err != nil {
		return RapidResponse{}, err
	}
	if !rr.Status.CanTransition(StatusInProgress) {
		return RapidResponse{}, core.NewValidationError(core.ErrBadTransition,
			core.FieldError{Field: "status", Error: fmt.Sprintf("cannot start a %s response", rr.Status)})
	}
	rr.Status = StatusInProgress
	rr.UpdatedAt = core.UTCNow()
	return svc.repo.UpdateResponse(ctx, rr)
}

// Deliver converts the plan into actuals. Partial deliveries must carry
// reason codes so the shortfall is explained at verification time.
func (svc *Service) Deliver(ctx context.Context, id string, d Delivery) (RapidResponse, error) {
	rr, err := svc.repo.GetResponseByID(ctx, id)
	if err != nil {
		return RapidResponse{}, err
	}
	if !rr.Status.CanTransition(StatusDelivered) {
		return RapidResponse{}, core.NewValidationError(core.ErrBadTransition,
			core.FieldError{Field: "status", Error: fmt.Sprintf("cannot deliver a %s response", rr.Status)})
	}

	delivered := d.Items
	if delivered == nil {
		delivered = rr.PlannedItems // full conversion
	}
	percent := PercentDelivered(rr.PlannedItems, delivered)
	if percent < partialThreshold && len(d.ReasonCodes) == 0 {
		return RapidResponse{}, core.NewValidationError(nil,
			core.FieldError{Field: "reason_codes", Error: "partial deliveries require at least one reason code"})
	}

	now := core.UTCNow()
	deliveredAt := now
	if d.DeliveredAt != nil {
		deliveredAt = d.DeliveredAt.UTC()
	}
	rr.Status = StatusDelivered
	rr.DeliveredItems = delivered
	rr.DeliveredAt = &deliveredAt
	rr.DeliveryPercent = percent
	rr.ReasonCodes = d.ReasonCodes
	if d.EvidenceMediaIDs != nil {
		rr.EvidenceMediaIDs = d.EvidenceMediaIDs
	}
	rr.UpdatedAt = now
	return svc.repo.UpdateResponse(ctx, rr)
}

func (svc *Service) Verify(ctx context.Context, id, verifierID string) (RapidResponse, error) {
	rr, err := svc.repo.GetResponseByID(ctx, id)
	if err != nil {
		return RapidResponse{}, err
	}
	if rr.Status != StatusDelivered {
		return RapidResponse{}, core.NewValidationError(core.ErrBadTransition,
			core.FieldError{Field: "status", Error: "only delivered responses can be verified"})
	}
	if !rr.VerificationStatus.CanTransition(core.StatusVerified) {
		return RapidResponse{}, core.NewValidationError(core.ErrBadTransition,
			core.FieldError{Field: "verification_status", Error: fmt.Sprintf("cannot verify a %s response", rr.VerificationStatus)})
	}

	now := core.UTCNow()
	rr.VerificationStatus = core.StatusVerified
	rr.VerifiedBy = verifierID
	rr.VerifiedAt = &now
	rr.UpdatedAt = now
	rr, err = svc.repo.UpdateResponse(ctx, rr)
	if err != nil {
		return RapidResponse{}, err
	}

	if svc.notifier != nil {
		_ = svc.notifier.NotifyUser(ctx, rr.ResponderID, "RESPONSE_VERIFIED",
			"Response verified",
			fmt.Sprintf("Your %s response delivery has been verified.", rr.Type))
	}
	return rr, nil
}

func (svc *Service) Reject(ctx context.Context, id, verifierID, reason string) (RapidResponse, error) {
	rr, err := svc.repo.GetResponseByID(ctx, id)
	if err != nil {
		return RapidResponse{}, err
	}
	if !rr.VerificationStatus.CanTransition(core.StatusRejected) {
		return RapidResponse{}, core.NewValidationError(core.ErrBadTransition,
			core.FieldError{Field: "verification_status", Error: fmt.Sprintf("cannot reject a %s response", rr.VerificationStatus)})
	}
	if reason = core.CleanString(reason); reason == "" {
		return RapidResponse{}, core.NewValidationError(nil, core.FieldError{Field: "reason", Error: "this field is required"})
	}

	now := core.UTCNow()
	rr.VerificationStatus = core.StatusRejected
	rr.VerifiedBy = verifierID
	rr.VerifiedAt = &now
	rr.UpdatedAt = now
	rr, err = svc.repo.UpdateResponse(ctx, rr)
	if err != nil {
		return RapidResponse{}, err
	}

	if svc.notifier != nil {
		_ = svc.notifier.NotifyUser(ctx, rr.ResponderID, "RESPONSE_REJECTED",
			"Response rejected",
			fmt.Sprintf("Your %s response was rejected: %s", rr.Type, reason))
	}
	return rr, nil
}

func (svc *Service) StatusChangesSince(ctx context.Context, since int64) ([]RapidResponse, error) {
	return svc.repo.QueryStatusChangesSince(ctx, since)
}
