package inmemdb

import (
	"context"
	"sort"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/response"
)

type responseRepository struct {
	db *DB
}

func NewResponseRepository(db *DB) response.Repository {
	return &responseRepository{db: db}
}

func (repo *responseRepository) CreateResponse(ctx context.Context, rr response.RapidResponse) (response.RapidResponse, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	repo.db.responses[rr.ID] = &rr
	return rr, nil
}

func (repo *responseRepository) QueryResponses(ctx context.Context, filter *response.QueryFilter, ordering []core.DBOrdering) ([]response.RapidResponse, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var rrs []response.RapidResponse
	for _, rr := range repo.db.responses {
		if filter != nil && !matchResponse(*rr, filter) {
			continue
		}
		rrs = append(rrs, *rr)
	}
	sort.Slice(rrs, func(i, j int) bool { return rrs[i].PlannedDate.After(rrs[j].PlannedDate) })
	return rrs, nil
}

func matchResponse(rr response.RapidResponse, filter *response.QueryFilter) bool {
	if filter.Type != "" && rr.Type != filter.Type {
		return false
	}
	if filter.EntityID != "" && rr.EntityID != filter.EntityID {
		return false
	}
	if filter.ResponderID != "" && rr.ResponderID != filter.ResponderID {
		return false
	}
	if filter.DonorID != "" && rr.DonorID != filter.DonorID {
		return false
	}
	if filter.Status != "" && rr.Status != filter.Status {
		return false
	}
	if filter.Verification != "" && rr.VerificationStatus != filter.Verification {
		return false
	}
	return true
}

func (repo *responseRepository) GetResponseByID(ctx context.Context, id string) (response.RapidResponse, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if rr, ok := repo.db.responses[id]; ok {
		return *rr, nil
	}
	return response.RapidResponse{}, response.ErrNotFound
}

func (repo *responseRepository) GetResponseByOfflineID(ctx context.Context, offlineID string) (response.RapidResponse, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, rr := range repo.db.responses {
		if rr.OfflineID != "" && rr.OfflineID == offlineID {
			return *rr, nil
		}
	}
	return response.RapidResponse{}, response.ErrNotFound
}

func (repo *responseRepository) UpdateResponse(ctx context.Context, rr response.RapidResponse) (response.RapidResponse, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.responses[rr.ID]; !ok {
		return response.RapidResponse{}, response.ErrNotFound
	}
	repo.db.responses[rr.ID] = &rr
	return rr, nil
}

func (repo *responseRepository) QueryStatusChangesSince(ctx context.Context, since int64) ([]response.RapidResponse, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var rrs []response.RapidResponse
	for _, rr := range repo.db.responses {
		if rr.VerificationStatus != core.StatusPending && rr.UpdatedAt.Unix() >= since {
			rrs = append(rrs, *rr)
		}
	}
	sort.Slice(rrs, func(i, j int) bool { return rrs[i].UpdatedAt.Before(rrs[j].UpdatedAt) })
	return rrs, nil
}
