package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/entity"
)

type entityRepository struct {
	db *DB
}

func NewEntityRepository(db *DB) entity.Repository {
	return &entityRepository{db: db}
}

func (repo *entityRepository) CreateEntity(ctx context.Context, ent entity.AffectedEntity) (entity.AffectedEntity, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	repo.db.entities[ent.ID] = &ent
	return ent, nil
}

func (repo *entityRepository) QueryEntities(ctx context.Context, filter *entity.QueryFilter, ordering []core.DBOrdering) ([]entity.AffectedEntity, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var ents []entity.AffectedEntity
	for _, ent := range repo.db.entities {
		if filter != nil {
			if filter.Search != "" && !strings.Contains(strings.ToLower(ent.Name), strings.ToLower(filter.Search)) {
				continue
			}
			if filter.Type != "" && ent.Type != filter.Type {
				continue
			}
			if filter.LGA != "" && ent.LGA != filter.LGA {
				continue
			}
		}
		ents = append(ents, *ent)
	}
	sort.Slice(ents, func(i, j int) bool { return ents[i].Name < ents[j].Name })
	return ents, nil
}

func (repo *entityRepository) GetEntityByID(ctx context.Context, id string) (entity.AffectedEntity, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if ent, ok := repo.db.entities[id]; ok {
		return *ent, nil
	}
	return entity.AffectedEntity{}, entity.ErrNotFound
}

func (repo *entityRepository) GetEntityByOfflineID(ctx context.Context, offlineID string) (entity.AffectedEntity, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, ent := range repo.db.entities {
		if ent.OfflineID != "" && ent.OfflineID == offlineID {
			return *ent, nil
		}
	}
	return entity.AffectedEntity{}, entity.ErrNotFound
}

func (repo *entityRepository) UpdateEntity(ctx context.Context, ent entity.AffectedEntity) (entity.AffectedEntity, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.entities[ent.ID]; !ok {
		return entity.AffectedEntity{}, entity.ErrNotFound
	}
	repo.db.entities[ent.ID] = &ent
	return ent, nil
}
