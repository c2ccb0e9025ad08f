package inmemdb

import (
	"context"
	"sort"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/donation"
)

type donationRepository struct {
	db *DB
}

func NewDonationRepository(db *DB) donation.Repository {
	return &donationRepository{db: db}
}

func (repo *donationRepository) CreateCommitment(ctx context.Context, c donation.Commitment) (donation.Commitment, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	repo.db.commitments[c.ID] = &c
	return c, nil
}

func (repo *donationRepository) QueryCommitments(ctx context.Context, filter *donation.QueryFilter, ordering []core.DBOrdering) ([]donation.Commitment, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var cs []donation.Commitment
	for _, c := range repo.db.commitments {
		if filter != nil {
			if filter.DonorID != "" && c.DonorID != filter.DonorID {
				continue
			}
			if filter.Status != "" && c.Status != filter.Status {
				continue
			}
		}
		cs = append(cs, *c)
	}
	sort.Slice(cs, func(i, j int) bool { return cs[i].TargetDate.Before(cs[j].TargetDate) })
	return cs, nil
}

func (repo *donationRepository) GetCommitmentByID(ctx context.Context, id string) (donation.Commitment, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if c, ok := repo.db.commitments[id]; ok {
		return *c, nil
	}
	return donation.Commitment{}, donation.ErrNotFound
}

func (repo *donationRepository) UpdateCommitment(ctx context.Context, c donation.Commitment) (donation.Commitment, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.commitments[c.ID]; !ok {
		return donation.Commitment{}, donation.ErrNotFound
	}
	repo.db.commitments[c.ID] = &c
	return c, nil
}
