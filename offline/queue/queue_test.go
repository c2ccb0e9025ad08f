package queue

import (
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/relieflab/dms/core"
)

func setup(t *testing.T) *Queue {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	q, err := New(db)
	require.NoError(t, err)
	return q
}

func enqueue(t *testing.T, q *Queue, kind core.SyncKind, prio Priority) Item {
	t.Helper()
	item, err := q.Enqueue(Item{
		Kind:     kind,
		Action:   core.SyncActionCreate,
		Payload:  json.RawMessage(`{}`),
		Priority: prio,
	})
	require.NoError(t, err)
	return item
}

// backdate pushes an item's created_at into the past so drain order is
// deterministic (timestamps have second resolution).
func backdate(t *testing.T, q *Queue, id string, seconds int64) {
	t.Helper()
	_, err := q.db.Exec(`UPDATE queue_items SET created_at = created_at - ? WHERE id = ?`, seconds, id)
	require.NoError(t, err)
}

func TestPriorityFor(t *testing.T) {
	tests := []struct {
		name           string
		kind           core.SyncKind
		assessmentType string
		want           Priority
	}{
		{"media", core.SyncKindMedia, "", PriorityHigh},
		{"health assessment", core.SyncKindAssessment, "HEALTH", PriorityHigh},
		{"wash assessment", core.SyncKindAssessment, "WASH", PriorityNormal},
		{"entity", core.SyncKindEntity, "", PriorityLow},
		{"response", core.SyncKindResponse, "", PriorityNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PriorityFor(tt.kind, tt.assessmentType); got != tt.want {
				t.Errorf("PriorityFor(%s, %q) = %s; expected %s", tt.kind, tt.assessmentType, got, tt.want)
			}
		})
	}
}

func TestQueueDrainOrder(t *testing.T) {
	q := setup(t)

	low := enqueue(t, q, core.SyncKindEntity, PriorityLow)
	backdate(t, q, low.ID, 30)
	normalOld := enqueue(t, q, core.SyncKindAssessment, PriorityNormal)
	backdate(t, q, normalOld.ID, 20)
	normalNew := enqueue(t, q, core.SyncKindResponse, PriorityNormal)
	backdate(t, q, normalNew.ID, 10)
	high := enqueue(t, q, core.SyncKindMedia, PriorityHigh)

	items, err := q.Dequeue(10)
	require.NoError(t, err)
	require.Len(t, items, 4)

	// high first, then FIFO within a priority, low last
	assert.Equal(t, high.ID, items[0].ID)
	assert.Equal(t, normalOld.ID, items[1].ID)
	assert.Equal(t, normalNew.ID, items[2].ID)
	assert.Equal(t, low.ID, items[3].ID)

	// limit respected
	items, err = q.Dequeue(2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, high.ID, items[0].ID)

	// dequeuing does not remove items
	st, err := q.Stats()
	require.NoError(t, err)
	assert.Equal(t, 4, st.Pending)
}

func TestQueueComplete(t *testing.T) {
	q := setup(t)
	item := enqueue(t, q, core.SyncKindAssessment, PriorityNormal)

	require.NoError(t, q.Complete(item.ID))

	_, err := q.Get(item.ID)
	assert.Equal(t, ErrNotFound, errors.Cause(err))
	assert.Equal(t, ErrNotFound, errors.Cause(q.Complete(item.ID)))
}

func TestQueueFailEscalation(t *testing.T) {
	q := setup(t)
	item := enqueue(t, q, core.SyncKindEntity, PriorityLow)

	maxRetries := 3
	for i := 1; i < maxRetries; i++ {
		got, err := q.Fail(item.ID, "server unreachable", maxRetries)
		require.NoError(t, err)
		assert.Equal(t, i, got.Retries)
		assert.Equal(t, PriorityLow, got.Priority)
		assert.Equal(t, StatusPending, got.Status)
		assert.Equal(t, "server unreachable", got.LastError)
	}

	// retries exhausted at LOW: escalate to NORMAL with a fresh counter
	got, err := q.Fail(item.ID, "server unreachable", maxRetries)
	require.NoError(t, err)
	assert.Equal(t, PriorityNormal, got.Priority)
	assert.Equal(t, 0, got.Retries)
	assert.Equal(t, StatusPending, got.Status)

	// burn through NORMAL and HIGH
	for i := 0; i < maxRetries; i++ {
		got, err = q.Fail(item.ID, "server unreachable", maxRetries)
		require.NoError(t, err)
	}
	assert.Equal(t, PriorityHigh, got.Priority)
	for i := 0; i < maxRetries; i++ {
		got, err = q.Fail(item.ID, "server unreachable", maxRetries)
		require.NoError(t, err)
	}

	// exhausted at HIGH: dead letter
	assert.Equal(t, StatusFailed, got.Status)
	items, err := q.Dequeue(10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestQueueDeadLetterAndRetry(t *testing.T) {
	q := setup(t)
	rejected := enqueue(t, q, core.SyncKindAssessment, PriorityNormal)
	pending := enqueue(t, q, core.SyncKindMedia, PriorityHigh)

	require.NoError(t, q.DeadLetter(rejected.ID, "validation rejected by server"))

	st, err := q.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, 1, st.Failed)

	got, err := q.Get(rejected.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "validation rejected by server", got.LastError)

	// failed items are skipped on drain
	items, err := q.Dequeue(10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, pending.ID, items[0].ID)

	n, err := q.RetryFailed()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = q.Get(rejected.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 0, got.Retries)
}

func TestQueueEnqueueDefaults(t *testing.T) {
	q := setup(t)

	item, err := q.Enqueue(Item{
		Kind:    core.SyncKindResponse,
		Action:  core.SyncActionCreate,
		Payload: json.RawMessage(`{"plan":{}}`),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, PriorityNormal, item.Priority)
	assert.Equal(t, StatusPending, item.Status)
	assert.False(t, item.CreatedAt.IsZero())

	got, err := q.Get(item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.ID, got.ID)
	assert.Equal(t, core.SyncKindResponse, got.Kind)
	assert.JSONEq(t, `{"plan":{}}`, string(got.Payload))
}
