package inmemdb

import (
	"context"
	"sort"

	"github.com/relieflab/dms/core/media"
)

type mediaRepository struct {
	db *DB
}

func NewMediaRepository(db *DB) media.Repository {
	return &mediaRepository{db: db}
}

func (repo *mediaRepository) CreateMedia(ctx context.Context, m media.MediaAttachment) (media.MediaAttachment, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	repo.db.media[m.ID] = &m
	return m, nil
}

func (repo *mediaRepository) GetMediaByID(ctx context.Context, id string) (media.MediaAttachment, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if m, ok := repo.db.media[id]; ok {
		return *m, nil
	}
	return media.MediaAttachment{}, media.ErrNotFound
}

func (repo *mediaRepository) GetMediaByOfflineID(ctx context.Context, offlineID string) (media.MediaAttachment, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, m := range repo.db.media {
		if m.OfflineID != "" && m.OfflineID == offlineID {
			return *m, nil
		}
	}
	return media.MediaAttachment{}, media.ErrNotFound
}

func (repo *mediaRepository) QueryMediaByOwner(ctx context.Context, ownerType media.OwnerType, ownerID string) ([]media.MediaAttachment, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var ms []media.MediaAttachment
	for _, m := range repo.db.media {
		if m.OwnerType == ownerType && m.OwnerID == ownerID {
			ms = append(ms, *m)
		}
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].CreatedAt.Before(ms[j].CreatedAt) })
	return ms, nil
}
