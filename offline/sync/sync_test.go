package sync_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/offline/client"
	"github.com/relieflab/dms/offline/queue"
	"github.com/relieflab/dms/offline/store"
	"github.com/relieflab/dms/offline/sync"
)

type nopLogger struct{}

func (nopLogger) Enable(bool)                  {}
func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

// fakeAPI plays the central API: a scripted results func answers push
// batches, changes answers pulls.
type fakeAPI struct {
	results func(req core.SyncPushRequest) []core.SyncItemResult
	changes core.ChangeSet

	pushes []core.SyncPushRequest
	since  []int64
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/sync/push", func(w http.ResponseWriter, r *http.Request) {
		var req core.SyncPushRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.pushes = append(f.pushes, req)

		var results []core.SyncItemResult
		if f.results != nil {
			results = f.results(req)
		}
		writeEnvelope(t, w, map[string]interface{}{"results": results})
	})
	mux.HandleFunc("/v1/sync/changes", func(w http.ResponseWriter, r *http.Request) {
		since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
		f.since = append(f.since, since)
		writeEnvelope(t, w, f.changes)
	})
	return mux
}

func writeEnvelope(t *testing.T, w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    data,
	}))
}

// low iteration count keeps key derivation out of the test runtime
var testStoreOpts = store.Options{KDFIterations: 1000}

func setup(t *testing.T, api *fakeAPI) (*sync.Engine, *store.Store, *queue.Queue) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "agent.db"), "passphrase", testStoreOpts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	q, err := queue.New(st.DB())
	require.NoError(t, err)

	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	cl := client.New(srv.URL, time.Second)
	engine := sync.NewEngine(st, q, cl, nopLogger{}, sync.Options{BatchSize: 10, MaxRetries: 2})
	return engine, st, q
}

func enqueueEntity(t *testing.T, q *queue.Queue, offlineID string) queue.Item {
	t.Helper()
	item, err := q.Enqueue(queue.Item{
		Kind:     core.SyncKindEntity,
		Action:   core.SyncActionCreate,
		Payload:  json.RawMessage(`{"offline_id":"` + offlineID + `","name":"Durumi Camp"}`),
		Priority: queue.PriorityLow,
	})
	require.NoError(t, err)
	return item
}

func TestEngineUnreachableServer(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "agent.db"), "passphrase", testStoreOpts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	q, err := queue.New(st.DB())
	require.NoError(t, err)

	// a closed server stands in for a dead link
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	engine := sync.NewEngine(st, q, client.New(srv.URL, time.Second), nopLogger{}, sync.Options{})

	enqueueEntity(t, q, "e-1")
	require.NoError(t, engine.SyncNow(context.Background()))

	// nothing pushed, nothing lost
	stats, err := q.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
}

func TestEnginePushOK(t *testing.T) {
	api := &fakeAPI{}
	api.results = func(req core.SyncPushRequest) []core.SyncItemResult {
		results := make([]core.SyncItemResult, 0, len(req.Operations))
		for _, op := range req.Operations {
			results = append(results, core.SyncItemResult{ID: op.ID, Status: core.SyncResultOK, ServerID: "srv-9"})
		}
		return results
	}
	engine, st, q := setup(t, api)

	require.NoError(t, st.Put("entities", "e-1", map[string]string{"name": "Durumi Camp"}))
	enqueueEntity(t, q, "e-1")

	require.NoError(t, engine.SyncNow(context.Background()))

	qstats, err := q.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, qstats.Pending)
	assert.Equal(t, 0, qstats.Failed)

	dirty, err := st.IsDirty("entities", "e-1")
	require.NoError(t, err)
	assert.False(t, dirty)

	serverID, err := st.GetMeta("serverid.entities.e-1")
	require.NoError(t, err)
	assert.Equal(t, "srv-9", serverID)

	stats := engine.Stats()
	assert.Equal(t, 1, stats.Pushed)
	assert.NotEmpty(t, stats.LastRun)
}

func TestEnginePushRejected(t *testing.T) {
	api := &fakeAPI{}
	api.results = func(req core.SyncPushRequest) []core.SyncItemResult {
		return []core.SyncItemResult{{
			ID:      req.Operations[0].ID,
			Status:  core.SyncResultInvalid,
			Message: "validation error",
			Errors:  map[string]string{"name": "name is a required field"},
		}}
	}
	engine, _, q := setup(t, api)

	item := enqueueEntity(t, q, "e-1")
	require.NoError(t, engine.SyncNow(context.Background()))

	// permanent rejection goes to the dead letter, no retries
	got, err := q.Get(item.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, got.Status)
	assert.Contains(t, got.LastError, "validation error")
	assert.Contains(t, got.LastError, "required field")
	assert.Len(t, api.pushes, 1)

	assert.Equal(t, 1, engine.Stats().Rejected)
}

func TestEngineConflictServerWins(t *testing.T) {
	api := &fakeAPI{}
	api.results = func(req core.SyncPushRequest) []core.SyncItemResult {
		return []core.SyncItemResult{{
			ID:      req.Operations[0].ID,
			Status:  core.SyncResultConflict,
			Message: "record changed on server",
			Remote:  map[string]interface{}{"name": "Durumi Camp II", "ward": "Gudu"},
		}}
	}
	engine, st, q := setup(t, api)

	// local copy has no unsynced edits, so the server copy wins
	require.NoError(t, st.PutClean("entities", "e-1", map[string]string{"name": "Durumi Camp"}))
	item := enqueueEntity(t, q, "e-1")

	require.NoError(t, engine.SyncNow(context.Background()))

	var rec map[string]interface{}
	require.NoError(t, st.Get("entities", "e-1", &rec))
	assert.Equal(t, "Durumi Camp II", rec["name"])
	assert.Equal(t, "Gudu", rec["ward"])

	_, err := q.Get(item.ID)
	assert.Error(t, err)
	assert.Equal(t, 1, engine.Stats().Conflicts)
	assert.Len(t, api.pushes, 1)
}

func TestEngineConflictForcePush(t *testing.T) {
	api := &fakeAPI{}
	api.results = func(req core.SyncPushRequest) []core.SyncItemResult {
		op := req.Operations[0]
		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(op.Payload, &payload))
		if forced, _ := payload["force"].(bool); forced {
			return []core.SyncItemResult{{ID: op.ID, Status: core.SyncResultOK, ServerID: "srv-3"}}
		}
		return []core.SyncItemResult{{ID: op.ID, Status: core.SyncResultConflict, Message: "record changed on server"}}
	}
	engine, st, q := setup(t, api)

	// local copy carries unsynced edits, so it is re-pushed with force set
	require.NoError(t, st.Put("entities", "e-1", map[string]string{"name": "Durumi Camp"}))
	item := enqueueEntity(t, q, "e-1")

	require.NoError(t, engine.SyncNow(context.Background()))

	require.Len(t, api.pushes, 2)
	var forcedPayload map[string]interface{}
	require.NoError(t, json.Unmarshal(api.pushes[1].Operations[0].Payload, &forcedPayload))
	assert.Equal(t, true, forcedPayload["force"])

	_, err := q.Get(item.ID)
	assert.Error(t, err)
	dirty, err := st.IsDirty("entities", "e-1")
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestEngineConflictWithoutLocalRecord(t *testing.T) {
	api := &fakeAPI{}
	api.results = func(req core.SyncPushRequest) []core.SyncItemResult {
		return []core.SyncItemResult{{
			ID:      req.Operations[0].ID,
			Status:  core.SyncResultConflict,
			Message: "record changed on server",
			Remote:  map[string]interface{}{"name": "Durumi Camp II"},
		}}
	}
	engine, st, q := setup(t, api)

	// no target ID and no offline_id in the payload: there is no local copy
	// to reconcile, so the operation is dropped without writing the store
	item, err := q.Enqueue(queue.Item{
		Kind:     core.SyncKindEntity,
		Action:   core.SyncActionCreate,
		Payload:  json.RawMessage(`{"name":"Durumi Camp"}`),
		Priority: queue.PriorityLow,
	})
	require.NoError(t, err)

	require.NoError(t, engine.SyncNow(context.Background()))

	var rec map[string]interface{}
	assert.ErrorIs(t, st.Get("entities", "", &rec), store.ErrNotFound)

	_, err = q.Get(item.ID)
	assert.Error(t, err)
	assert.Len(t, api.pushes, 1)
}

func TestEnginePull(t *testing.T) {
	api := &fakeAPI{
		changes: core.ChangeSet{
			Changes: []core.Change{
				{Kind: core.SyncKindAssessment, ID: "srv-1", OfflineID: "a-1", Status: core.StatusVerified, ChangedAt: 1700000000},
				{Kind: core.SyncKindAssessment, ID: "srv-2", OfflineID: "a-unknown", Status: core.StatusRejected, ChangedAt: 1700000001},
			},
			Watermark: 42,
		},
	}
	engine, st, _ := setup(t, api)

	require.NoError(t, st.PutClean("assessments", "a-1", map[string]interface{}{
		"offline_id":          "a-1",
		"type":                "WASH",
		"verification_status": "PENDING",
	}))

	require.NoError(t, engine.SyncNow(context.Background()))

	var rec map[string]interface{}
	require.NoError(t, st.Get("assessments", "a-1", &rec))
	assert.Equal(t, string(core.StatusVerified), rec["verification_status"])

	// unknown records are skipped, the watermark still advances
	assert.Equal(t, 1, engine.Stats().Pulled)
	wm, err := st.GetMeta("sync.watermark")
	require.NoError(t, err)
	assert.Equal(t, "42", wm)

	// next cycle pulls from the stored watermark
	require.NoError(t, engine.SyncNow(context.Background()))
	require.Len(t, api.since, 2)
	assert.Equal(t, int64(0), api.since[0])
	assert.Equal(t, int64(42), api.since[1])
}
