package entity_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/entity"
	inmemdb "github.com/relieflab/dms/storage/database/inmem"
)

func setup(t *testing.T) *entity.Service {
	t.Helper()
	return entity.NewService(inmemdb.NewEntityRepository(inmemdb.NewDB()))
}

func newCamp(name string) entity.NewEntity {
	return entity.NewEntity{
		Type: entity.TypeCamp,
		Name: name,
		LGA:  "AMAC",
		Camp: &entity.CampDetails{
			CoordinatorName:  "A. Bello",
			CoordinatorPhone: "08030000000",
			Status:           entity.CampOpen,
		},
	}
}

func TestServiceCreate(t *testing.T) {
	svc := setup(t)
	ctx := context.Background()

	ne := newCamp("Durumi Camp")
	ne.OfflineID = "off-1"
	ent, err := svc.Create(ctx, "coord-1", ne)
	require.NoError(t, err)
	assert.NotEmpty(t, ent.ID)
	assert.Equal(t, "coord-1", ent.CreatedBy)

	// a retried push with the same offline ID must not duplicate
	again, err := svc.Create(ctx, "coord-1", ne)
	require.NoError(t, err)
	assert.Equal(t, ent.ID, again.ID)

	ents, err := svc.Query(ctx, &entity.QueryFilter{}, nil)
	require.NoError(t, err)
	assert.Len(t, ents, 1)
}

func TestServiceUpdate(t *testing.T) {
	svc := setup(t)
	ctx := context.Background()

	ent, err := svc.Create(ctx, "coord-1", newCamp("Durumi Camp"))
	require.NoError(t, err)

	ent, err = svc.Update(ctx, ent.ID, entity.UpdateEntity{
		Name: "Durumi IDP Camp",
		LGA:  ent.LGA,
		Ward: "Durumi",
	})
	require.NoError(t, err)
	assert.Equal(t, "Durumi IDP Camp", ent.Name)
	assert.Equal(t, "Durumi", ent.Ward)

	_, err = svc.Update(ctx, "nope", entity.UpdateEntity{Name: "x", LGA: "y"})
	assert.Equal(t, entity.ErrNotFound, errors.Cause(err))
}

func TestServiceUpdateConflict(t *testing.T) {
	svc := setup(t)
	ctx := context.Background()

	ent, err := svc.Create(ctx, "coord-1", newCamp("Durumi Camp"))
	require.NoError(t, err)

	// a dashboard edit lands first
	fresh, err := svc.Update(ctx, ent.ID, entity.UpdateEntity{Name: "Durumi Camp A", LGA: ent.LGA})
	require.NoError(t, err)

	// an offline writer pushes an edit based on the older copy
	stale := entity.UpdateEntity{
		Name:          "Durumi Camp B",
		LGA:           ent.LGA,
		BaseUpdatedAt: ent.UpdatedAt.Add(-time.Second),
	}
	_, err = svc.Update(ctx, ent.ID, stale)
	var cErr *core.ConflictError
	require.ErrorAs(t, err, &cErr)
	remote, ok := cErr.Remote.(entity.AffectedEntity)
	require.True(t, ok)
	assert.Equal(t, fresh.Name, remote.Name)

	// forcing the write wins round two
	stale.Force = true
	ent, err = svc.Update(ctx, ent.ID, stale)
	require.NoError(t, err)
	assert.Equal(t, "Durumi Camp B", ent.Name)
}
