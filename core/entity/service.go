package entity

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/relieflab/dms/core"
)

var (
	ErrNotFound        = errors.New("entity not found")
	ErrOfflineIDExists = errors.New("an entity with this offline id already exists")
	errStaleWrite      = errors.New("entity was modified on the server since last sync")
)

type (
	Repository interface {
		CreateEntity(ctx context.Context, ent AffectedEntity) (AffectedEntity, error)
		QueryEntities(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]AffectedEntity, error)
		GetEntityByID(ctx context.Context, id string) (AffectedEntity, error)
		GetEntityByOfflineID(ctx context.Context, offlineID string) (AffectedEntity, error)
		UpdateEntity(ctx context.Context, ent AffectedEntity) (AffectedEntity, error)
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) Create(ctx context.Context, createdBy string, ne NewEntity) (AffectedEntity, error) {
	// offline-captured entities are idempotent on their offline ID; a retried
	// push must not create a duplicate
	if ne.OfflineID != "" {
		if existing, err := svc.repo.GetEntityByOfflineID(ctx, ne.OfflineID); err == nil {
			return existing, nil
		} else if errors.Cause(err) != ErrNotFound {
			return AffectedEntity{}, err
		}
	}

	now := core.UTCNow()
	ent := AffectedEntity{
		ID:          uuid.New().String(),
		Type:        ne.Type,
		Name:        ne.Name,
		LGA:         ne.LGA,
		Ward:        ne.Ward,
		Coordinates: ne.Coordinates,
		Camp:        ne.Camp,
		Community:   ne.Community,
		OfflineID:   ne.OfflineID,
		SyncStatus:  core.SyncSynced,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return svc.repo.CreateEntity(ctx, ent)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]AffectedEntity, error) {
	return svc.repo.QueryEntities(ctx, filter, ordering)
}

func (svc *Service) GetByID(ctx context.Context, id string) (AffectedEntity, error) {
	return svc.repo.GetEntityByID(ctx, id)
}

func (svc *Service) Update(ctx context.Context, id string, ue UpdateEntity) (AffectedEntity, error) {
	orig, err := svc.repo.GetEntityByID(ctx, id)
	if err != nil {
		return AffectedEntity{}, err
	}
	if err = ue.Validate(orig); err != nil {
		return AffectedEntity{}, err
	}

	// offline writers race with dashboard edits; reject stale baselines so the
	// client can run its conflict policy
	if !ue.Force && !ue.BaseUpdatedAt.IsZero() && orig.UpdatedAt.After(ue.BaseUpdatedAt) {
		return AffectedEntity{}, core.NewConflictError(errStaleWrite, orig)
	}

	orig.Name = ue.Name
	orig.LGA = ue.LGA
	if ue.Ward != "" {
		orig.Ward = ue.Ward
	}
	if ue.Coordinates != nil {
		orig.Coordinates = ue.Coordinates
	}
	if ue.Camp != nil && orig.Type == TypeCamp {
		orig.Camp = ue.Camp
	}
	if ue.Community != nil && orig.Type == TypeCommunity {
		orig.Community = ue.Community
	}
	orig.UpdatedAt = core.UTCNow()
	return svc.repo.UpdateEntity(ctx, orig)
}
