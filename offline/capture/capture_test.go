package capture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relieflab/dms/offline/queue"
	"github.com/relieflab/dms/offline/store"
)

type nopLogger struct{}

func (nopLogger) Enable(bool)                  {}
func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

func setup(t *testing.T) (*Watcher, *store.Store, *queue.Queue, string) {
	t.Helper()
	dir := t.TempDir()

	// low iteration count keeps key derivation out of the test runtime
	st, err := store.Open(filepath.Join(dir, "agent.db"), "passphrase", store.Options{KDFIterations: 1000})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	q, err := queue.New(st.DB())
	require.NoError(t, err)

	outbox := filepath.Join(dir, "outbox")
	require.NoError(t, os.MkdirAll(outbox, 0o700))
	return NewWatcher(outbox, st, q, nopLogger{}), st, q, outbox
}

func dropFile(t *testing.T, outbox, name, content string) string {
	t.Helper()
	path := filepath.Join(outbox, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestScanIngestsOperations(t *testing.T) {
	w, st, q, outbox := setup(t)

	dropFile(t, outbox, "a1.json", `{
		"kind": "ASSESSMENT",
		"action": "CREATE",
		"payload": {"offline_id": "off-a-1", "type": "HEALTH", "entity_id": "e-1", "data": {}}
	}`)
	dropFile(t, outbox, "e1.json", `{
		"kind": "ENTITY",
		"action": "CREATE",
		"payload": {"offline_id": "off-e-1", "type": "CAMP", "name": "Durumi Camp"}
	}`)

	w.Scan()

	// records land dirty in the store under their offline IDs
	var rec map[string]interface{}
	require.NoError(t, st.Get("assessments", "off-a-1", &rec))
	assert.Equal(t, "HEALTH", rec["type"])
	dirty, err := st.IsDirty("assessments", "off-a-1")
	require.NoError(t, err)
	assert.True(t, dirty)

	require.NoError(t, st.Get("entities", "off-e-1", &rec))
	assert.Equal(t, "Durumi Camp", rec["name"])

	// health assessments outrank entity edits in the queue
	items, err := q.Dequeue(10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, queue.PriorityHigh, items[0].Priority)
	assert.Equal(t, queue.PriorityLow, items[1].Priority)

	// ingested files are consumed
	entries, err := os.ReadDir(outbox)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestScanRejectsBadFiles(t *testing.T) {
	w, _, q, outbox := setup(t)

	bad := dropFile(t, outbox, "bad.json", `{"kind": "ASSESSMENT"}`)
	garbled := dropFile(t, outbox, "garbled.json", `not json`)
	dropFile(t, outbox, "notes.txt", `ignored`)

	w.Scan()

	stats, err := q.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Pending)

	// rejected files stay for inspection, renamed out of the watch set
	_, err = os.Stat(bad + ".rejected")
	assert.NoError(t, err)
	_, err = os.Stat(garbled + ".rejected")
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(outbox, "notes.txt"))
	assert.NoError(t, err)
}

func TestIngestUpdateWithoutOfflineID(t *testing.T) {
	w, st, q, outbox := setup(t)

	dropFile(t, outbox, "u1.json", `{
		"kind": "ENTITY",
		"action": "UPDATE",
		"target_id": "srv-9",
		"payload": {"name": "Durumi Camp II"}
	}`)

	w.Scan()

	items, err := q.Dequeue(10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "srv-9", items[0].TargetID)

	// the local copy is keyed by the server ID when no offline ID exists
	var rec map[string]interface{}
	require.NoError(t, st.Get("entities", "srv-9", &rec))
	assert.Equal(t, "Durumi Camp II", rec["name"])
}
