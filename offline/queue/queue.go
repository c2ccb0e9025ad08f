// Package queue is the agent's durable operation queue: deferred writes wait
// here, in priority order, until the sync engine can deliver them.
package queue

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/relieflab/dms/core"
)

var ErrNotFound = errors.New("queue item not found")

type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 2
	PriorityHigh   Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityLow:
		return "LOW"
	default:
		return "NORMAL"
	}
}

type Status string

const (
	StatusPending Status = "PENDING"
	// StatusFailed items exhausted their retries at HIGH priority and wait for
	// manual intervention (dead letter).
	StatusFailed Status = "FAILED"
)

// Item is one deferred write. Payload is the sync operation body.
type Item struct {
	ID        string          `json:"id"`
	Kind      core.SyncKind   `json:"kind"`
	Action    core.SyncAction `json:"action"`
	TargetID  string          `json:"target_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Priority  Priority        `json:"priority"`
	Retries   int             `json:"retries"`
	Status    Status          `json:"status"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS queue_items (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	action     TEXT NOT NULL,
	target_id  TEXT NOT NULL DEFAULT '',
	payload    BLOB NOT NULL,
	priority   INTEGER NOT NULL,
	retries    INTEGER NOT NULL DEFAULT 0,
	status     TEXT NOT NULL DEFAULT 'PENDING',
	last_error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queue_drain ON queue_items (status, priority DESC, created_at ASC);`

type Queue struct {
	db *sql.DB
}

// New sets up the queue over an existing handle (the agent shares one sqlite
// file between store and queue).
func New(db *sql.DB) (*Queue, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, errors.Wrap(err, "creating queue schema")
	}
	return &Queue{db: db}, nil
}

// PriorityFor applies the capture policy: health assessments and media
// evidence go out first, entity edits last.
func PriorityFor(kind core.SyncKind, assessmentType string) Priority {
	switch kind {
	case core.SyncKindMedia:
		return PriorityHigh
	case core.SyncKindAssessment:
		if assessmentType == "HEALTH" {
			return PriorityHigh
		}
		return PriorityNormal
	case core.SyncKindEntity:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// Enqueue adds a pending item; ID and timestamps are assigned here.
func (q *Queue) Enqueue(item Item) (Item, error) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Priority == 0 {
		item.Priority = PriorityNormal
	}
	item.Status = StatusPending
	now := core.UTCNow()
	item.CreatedAt = now
	item.UpdatedAt = now

	_, err := q.db.Exec(`
		INSERT INTO queue_items (id, kind, action, target_id, payload, priority, retries, status, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, '', ?, ?)`,
		item.ID, string(item.Kind), string(item.Action), item.TargetID, []byte(item.Payload),
		int(item.Priority), string(item.Status), now.Unix(), now.Unix())
	if err != nil {
		return Item{}, errors.Wrap(err, "enqueueing item")
	}
	return item, nil
}

// Dequeue returns up to n pending items in drain order: priority first, FIFO
// within a priority. Items stay in the queue until completed or failed.
func (q *Queue) Dequeue(n int) ([]Item, error) {
	rows, err := q.db.Query(`
		SELECT id, kind, action, target_id, payload, priority, retries, status, last_error, created_at, updated_at
		FROM queue_items
		WHERE status = ?
		ORDER BY priority DESC, created_at ASC
		LIMIT ?`,
		string(StatusPending), n)
	if err != nil {
		return nil, errors.Wrap(err, "dequeuing items")
	}
	defer func() { _ = rows.Close() }()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, errors.Wrap(rows.Err(), "dequeuing items")
}

// Complete removes a delivered item.
func (q *Queue) Complete(id string) error {
	res, err := q.db.Exec(`DELETE FROM queue_items WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "completing item")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Fail records a delivery failure. The retry counter increments until
// maxRetries, then the item escalates one priority level with a fresh
// counter; an item already at HIGH dead-letters instead.
func (q *Queue) Fail(id, errMsg string, maxRetries int) (Item, error) {
	item, err := q.Get(id)
	if err != nil {
		return Item{}, err
	}

	item.Retries++
	item.LastError = errMsg
	if item.Retries >= maxRetries {
		if item.Priority < PriorityHigh {
			item.Priority++
			item.Retries = 0
		} else {
			item.Status = StatusFailed
		}
	}
	item.UpdatedAt = core.UTCNow()

	_, err = q.db.Exec(`
		UPDATE queue_items SET priority = ?, retries = ?, status = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		int(item.Priority), item.Retries, string(item.Status), item.LastError, item.UpdatedAt.Unix(), item.ID)
	if err != nil {
		return Item{}, errors.Wrap(err, "recording failure")
	}
	return item, nil
}

// DeadLetter moves an item straight to FAILED (permanent rejections skip the
// retry ladder).
func (q *Queue) DeadLetter(id, errMsg string) error {
	_, err := q.db.Exec(`
		UPDATE queue_items SET status = ?, last_error = ?, updated_at = unixepoch()
		WHERE id = ?`,
		string(StatusFailed), errMsg, id)
	return errors.Wrap(err, "dead-lettering item")
}

// RetryFailed puts dead-lettered items back in the pending set.
func (q *Queue) RetryFailed() (int, error) {
	res, err := q.db.Exec(`
		UPDATE queue_items SET status = ?, retries = 0, updated_at = unixepoch()
		WHERE status = ?`,
		string(StatusPending), string(StatusFailed))
	if err != nil {
		return 0, errors.Wrap(err, "retrying failed items")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (q *Queue) Get(id string) (Item, error) {
	row := q.db.QueryRow(`
		SELECT id, kind, action, target_id, payload, priority, retries, status, last_error, created_at, updated_at
		FROM queue_items WHERE id = ?`, id)
	return scanItem(row)
}

type Stats struct {
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
}

func (q *Queue) Stats() (Stats, error) {
	var st Stats
	err := q.db.QueryRow(`
		SELECT
			COUNT(CASE WHEN status = 'PENDING' THEN 1 END),
			COUNT(CASE WHEN status = 'FAILED' THEN 1 END)
		FROM queue_items`).Scan(&st.Pending, &st.Failed)
	return st, errors.Wrap(err, "reading queue stats")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (Item, error) {
	var (
		item                 Item
		kind, action, status string
		priority             int
		createdAt, updatedAt int64
		payload              []byte
	)
	err := row.Scan(&item.ID, &kind, &action, &item.TargetID, &payload, &priority,
		&item.Retries, &status, &item.LastError, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Item{}, ErrNotFound
	} else if err != nil {
		return Item{}, errors.Wrap(err, "scanning queue item")
	}
	item.Kind = core.SyncKind(kind)
	item.Action = core.SyncAction(action)
	item.Status = Status(status)
	item.Priority = Priority(priority)
	item.Payload = payload
	item.CreatedAt = time.Unix(createdAt, 0).UTC()
	item.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return item, nil
}
