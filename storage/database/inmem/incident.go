package inmemdb

import (
	"context"
	"sort"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/incident"
)

type incidentRepository struct {
	db *DB
}

func NewIncidentRepository(db *DB) incident.Repository {
	return &incidentRepository{db: db}
}

func (repo *incidentRepository) CreateIncident(ctx context.Context, inc incident.Incident) (incident.Incident, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	repo.db.incidents[inc.ID] = &inc
	return inc, nil
}

func (repo *incidentRepository) QueryIncidents(ctx context.Context, filter *incident.QueryFilter, ordering []core.DBOrdering) ([]incident.Incident, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var incs []incident.Incident
	for _, inc := range repo.db.incidents {
		if filter != nil && !matchIncident(*inc, filter) {
			continue
		}
		incs = append(incs, *inc)
	}
	sort.Slice(incs, func(i, j int) bool { return incs[i].CreatedAt.After(incs[j].CreatedAt) })
	return incs, nil
}

func matchIncident(inc incident.Incident, filter *incident.QueryFilter) bool {
	if filter.Type != "" && inc.Type != filter.Type {
		return false
	}
	if filter.Severity != "" && inc.Severity != filter.Severity {
		return false
	}
	if filter.Status != "" && inc.Status != filter.Status {
		return false
	}
	if filter.EntityID != "" {
		found := false
		for _, id := range inc.EntityIDs {
			if id == filter.EntityID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (repo *incidentRepository) GetIncidentByID(ctx context.Context, id string) (incident.Incident, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if inc, ok := repo.db.incidents[id]; ok {
		return *inc, nil
	}
	return incident.Incident{}, incident.ErrNotFound
}

func (repo *incidentRepository) UpdateIncident(ctx context.Context, inc incident.Incident) (incident.Incident, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.incidents[inc.ID]; !ok {
		return incident.Incident{}, incident.ErrNotFound
	}
	repo.db.incidents[inc.ID] = &inc
	return inc, nil
}
