package echoapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relieflab/dms/core/entity"
)

func newCampPayload(name string) entity.NewEntity {
	return entity.NewEntity{
		Type: entity.TypeCamp,
		Name: name,
		LGA:  "AMAC",
		Ward: "Gudu",
		Camp: &entity.CampDetails{
			CoordinatorName:  "Musa Ibrahim",
			CoordinatorPhone: "08012345678",
			Status:           entity.CampOpen,
		},
	}
}

func newCampPayloadWithOfflineID(name, offlineID string) entity.NewEntity {
	ne := newCampPayload(name)
	ne.OfflineID = offlineID
	return ne
}

func TestEntityCreate(t *testing.T) {
	body := marshalObj(t, newCampPayload("Kuchingoro Camp"))

	// donors cannot register entities
	req, rec := newAuthRequest(http.MethodPost, "/v1/entities", getToken(t, donor), body)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req, rec = newAuthRequest(http.MethodPost, "/v1/entities", getToken(t, assessor), body)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var ent entity.AffectedEntity
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &ent))
	assert.NotEmpty(t, ent.ID)
	assert.Equal(t, "Kuchingoro Camp", ent.Name)
	assert.Equal(t, assessor.ID, ent.CreatedBy)
}

func TestEntityCreateMissingDetails(t *testing.T) {
	payload := newCampPayload("No Details Camp")
	payload.Camp = nil

	req, rec := newAuthRequest(http.MethodPost, "/v1/entities", getToken(t, assessor), marshalObj(t, payload))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	assert.Contains(t, env.Errors, "camp_details")
}

func TestEntityRetrieve(t *testing.T) {
	ent, err := entSvc.Create(context.Background(), assessor.ID, newCampPayload("Retrieve Camp"))
	require.NoError(t, err)

	req, rec := newAuthRequest(http.MethodGet, "/v1/entities/"+ent.ID, getToken(t, donor))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	req, rec = newAuthRequest(http.MethodGet, "/v1/entities/nope", getToken(t, donor))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEntityUpdateConflict(t *testing.T) {
	ctx := context.Background()
	ent, err := entSvc.Create(ctx, assessor.ID, newCampPayload("Conflict Camp"))
	require.NoError(t, err)
	base := ent.UpdatedAt

	// a dashboard edit lands first
	time.Sleep(10 * time.Millisecond)
	_, err = entSvc.Update(ctx, ent.ID, entity.UpdateEntity{Name: "Conflict Camp II"})
	require.NoError(t, err)

	// a stale offline edit now collides
	update := entity.UpdateEntity{Name: "Conflict Camp (offline)", BaseUpdatedAt: base}
	req, rec := newAuthRequest(http.MethodPut, "/v1/entities/"+ent.ID, getToken(t, assessor), marshalObj(t, update))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	// the 409 carries the current server record
	var remote entity.AffectedEntity
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &remote))
	assert.Equal(t, "Conflict Camp II", remote.Name)

	// force push wins
	update.Force = true
	req, rec = newAuthRequest(http.MethodPut, "/v1/entities/"+ent.ID, getToken(t, assessor), marshalObj(t, update))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var updated entity.AffectedEntity
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &updated))
	assert.Equal(t, "Conflict Camp (offline)", updated.Name)
}
