package echoapi_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/assessment"
	"github.com/relieflab/dms/core/entity"
)

func pushOps(t *testing.T, token string, ops ...core.SyncOperation) []core.SyncItemResult {
	t.Helper()
	body := marshalObj(t, core.SyncPushRequest{Operations: ops})
	req, rec := newAuthRequest(http.MethodPost, "/v1/sync/push", token, body)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var data struct {
		Results []core.SyncItemResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &data))
	require.Len(t, data.Results, len(ops))
	return data.Results
}

func TestSyncPushRequiresAuth(t *testing.T) {
	req, rec := newRequest(http.MethodPost, "/v1/sync/push", []byte(`{"operations":[]}`))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSyncPushBatch(t *testing.T) {
	token := getToken(t, assessor)

	ent, err := entSvc.Create(context.Background(), assessor.ID, newCampPayload("Sync Camp"))
	require.NoError(t, err)

	washData := `{"water_source":["BOREHOLE"],"water_sufficient":false,"functional_latrines":4,"open_defecation_status":true}`
	badWashData := `{"water_source":["BOREHOLE"],"functional_latrines":-1}`

	results := pushOps(t, token,
		core.SyncOperation{
			ID:     "op-entity",
			Kind:   core.SyncKindEntity,
			Action: core.SyncActionCreate,
			Payload: marshalObj(t, newCampPayloadWithOfflineID("Offline Camp", "off-ent-1")),
		},
		core.SyncOperation{
			ID:     "op-assessment",
			Kind:   core.SyncKindAssessment,
			Action: core.SyncActionCreate,
			Payload: json.RawMessage(fmt.Sprintf(
				`{"type":"WASH","entity_id":%q,"offline_id":"off-a-1","data":%s}`, ent.ID, washData)),
		},
		core.SyncOperation{
			ID:     "op-invalid",
			Kind:   core.SyncKindAssessment,
			Action: core.SyncActionCreate,
			Payload: json.RawMessage(fmt.Sprintf(
				`{"type":"WASH","entity_id":%q,"data":%s}`, ent.ID, badWashData)),
		},
		core.SyncOperation{
			ID:      "op-unknown",
			Kind:    core.SyncKind("GEESE"),
			Action:  core.SyncActionCreate,
			Payload: json.RawMessage(`{}`),
		},
	)

	assert.Equal(t, core.SyncResultOK, results[0].Status)
	assert.NotEmpty(t, results[0].ServerID)

	assert.Equal(t, core.SyncResultOK, results[1].Status)
	assert.NotEmpty(t, results[1].ServerID)

	// one bad record never blocks the rest of the batch
	assert.Equal(t, core.SyncResultInvalid, results[2].Status)
	assert.Equal(t, core.SyncResultInvalid, results[3].Status)

	// replaying a create with the same offline ID is idempotent
	replay := pushOps(t, token, core.SyncOperation{
		ID:     "op-entity-replay",
		Kind:   core.SyncKindEntity,
		Action: core.SyncActionCreate,
		Payload: marshalObj(t, newCampPayloadWithOfflineID("Offline Camp", "off-ent-1")),
	})
	assert.Equal(t, core.SyncResultOK, replay[0].Status)
	assert.Equal(t, results[0].ServerID, replay[0].ServerID)
}

func TestSyncPushConflict(t *testing.T) {
	ctx := context.Background()
	ent, err := entSvc.Create(ctx, assessor.ID, newCampPayload("Sync Conflict Camp"))
	require.NoError(t, err)
	base := ent.UpdatedAt

	_, err = entSvc.Update(ctx, ent.ID, entity.UpdateEntity{Name: "Sync Conflict Camp II"})
	require.NoError(t, err)

	results := pushOps(t, getToken(t, assessor), core.SyncOperation{
		ID:       "op-stale",
		Kind:     core.SyncKindEntity,
		Action:   core.SyncActionUpdate,
		TargetID: ent.ID,
		Payload: json.RawMessage(fmt.Sprintf(
			`{"name":"Sync Conflict Camp (offline)","base_updated_at":%q}`, base.Format(time.RFC3339Nano))),
	})

	require.Equal(t, core.SyncResultConflict, results[0].Status)
	require.NotNil(t, results[0].Remote)

	remote, err := json.Marshal(results[0].Remote)
	require.NoError(t, err)
	assert.Contains(t, string(remote), "Sync Conflict Camp II")
}

func TestSyncChanges(t *testing.T) {
	ctx := context.Background()
	token := getToken(t, assessor)

	ent, err := entSvc.Create(ctx, assessor.ID, newCampPayload("Changes Camp"))
	require.NoError(t, err)

	ra, err := assessSvc.Create(ctx, assessor.ID, assessment.NewAssessment{
		Type:      assessment.TypeWASH,
		EntityID:  ent.ID,
		OfflineID: "off-changes-1",
		Data:      json.RawMessage(`{"water_source":["RIVER"],"functional_latrines":2}`),
	})
	require.NoError(t, err)
	_, err = assessSvc.Verify(ctx, ra.ID, coordinator.ID)
	require.NoError(t, err)

	req, rec := newAuthRequest(http.MethodGet, "/v1/sync/changes", token)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var cs core.ChangeSet
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &cs))
	assert.Greater(t, cs.Watermark, int64(0))

	var found *core.Change
	for i := range cs.Changes {
		if cs.Changes[i].ID == ra.ID {
			found = &cs.Changes[i]
		}
	}
	require.NotNil(t, found, "verified assessment missing from change set")
	assert.Equal(t, core.SyncKindAssessment, found.Kind)
	assert.Equal(t, "off-changes-1", found.OfflineID)
	assert.Equal(t, core.StatusVerified, found.Status)

	// a future watermark filters everything out
	req, rec = newAuthRequest(http.MethodGet,
		fmt.Sprintf("/v1/sync/changes?since=%d", core.UTCNow().Unix()+3600), token)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &cs))
	assert.Empty(t, cs.Changes)

	// a malformed watermark is rejected
	req, rec = newAuthRequest(http.MethodGet, "/v1/sync/changes?since=yesterday", token)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
