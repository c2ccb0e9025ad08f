// Package capture ingests operation files dropped into the agent's outbox
// directory. Field tools write one JSON file per deferred write; the watcher
// records it in the encrypted store, queues it for sync and removes the file.
package capture

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/offline/queue"
	"github.com/relieflab/dms/offline/store"
)

// operation is one outbox file. ID is assigned at ingest; the payload's
// offline_id identifies the local record.
type operation struct {
	Kind     core.SyncKind   `json:"kind"`
	Action   core.SyncAction `json:"action"`
	TargetID string          `json:"target_id,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

type Watcher struct {
	dir   string
	store *store.Store
	queue *queue.Queue
	log   core.Logger

	fsw  *fsnotify.Watcher
	done chan struct{}
}

func NewWatcher(dir string, st *store.Store, q *queue.Queue, log core.Logger) *Watcher {
	return &Watcher{dir: dir, store: st, queue: q, log: log}
}

// Start ingests whatever is already in the outbox, then watches for new
// files until Stop.
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return errors.Wrap(err, "creating outbox dir")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "creating watcher")
	}
	if err = fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return errors.Wrap(err, "watching outbox dir")
	}
	w.fsw = fsw
	w.done = make(chan struct{})

	w.Scan()

	go w.loop()
	return nil
}

func (w *Watcher) Stop() {
	if w.fsw != nil {
		_ = w.fsw.Close()
		<-w.done
	}
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			// writers create-then-rename, so the file is complete by the time
			// either event lands
			if ev.Op&(fsnotify.Create|fsnotify.Rename) != 0 {
				w.ingest(ev.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("outbox watch error", "error", err)
		}
	}
}

// Scan ingests every pending file in the outbox.
func (w *Watcher) Scan() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.Warn("reading outbox dir", "error", err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.ingest(filepath.Join(w.dir, e.Name()))
		}
	}
}

func (w *Watcher) ingest(path string) {
	if !strings.HasSuffix(path, ".json") {
		return
	}
	if err := w.ingestFile(path); err != nil {
		w.log.Warn("rejecting outbox file", "file", filepath.Base(path), "error", err)
		if rerr := os.Rename(path, path+".rejected"); rerr != nil {
			w.log.Error("moving rejected file", "error", rerr)
		}
		return
	}
	if err := os.Remove(path); err != nil {
		w.log.Error("removing ingested file", "error", err)
	}
}

func (w *Watcher) ingestFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "reading file")
	}

	var op operation
	if err = json.Unmarshal(raw, &op); err != nil {
		return errors.Wrap(err, "decoding operation")
	}
	if op.Kind == "" || op.Action == "" || len(op.Payload) == 0 {
		return errors.New("operation missing kind, action or payload")
	}

	var payload struct {
		OfflineID string `json:"offline_id"`
		Type      string `json:"type"`
	}
	_ = json.Unmarshal(op.Payload, &payload)

	// keep the local copy dirty until the sync engine confirms delivery
	localID := op.TargetID
	if payload.OfflineID != "" {
		localID = payload.OfflineID
	}
	if localID != "" {
		var rec map[string]interface{}
		if err = json.Unmarshal(op.Payload, &rec); err != nil {
			return errors.Wrap(err, "decoding payload")
		}
		if err = w.store.Put(collectionFor(op.Kind), localID, rec); err != nil {
			return errors.Wrap(err, "storing record")
		}
	}

	_, err = w.queue.Enqueue(queue.Item{
		Kind:     op.Kind,
		Action:   op.Action,
		TargetID: op.TargetID,
		Payload:  op.Payload,
		Priority: queue.PriorityFor(op.Kind, payload.Type),
	})
	if err != nil {
		return errors.Wrap(err, "enqueueing operation")
	}

	w.log.Info("captured operation",
		"kind", op.Kind, "action", op.Action, "file", filepath.Base(path))
	return nil
}

func collectionFor(kind core.SyncKind) string {
	switch kind {
	case core.SyncKindEntity:
		return "entities"
	case core.SyncKindAssessment:
		return "assessments"
	case core.SyncKindResponse:
		return "responses"
	case core.SyncKindIncident:
		return "incidents"
	case core.SyncKindMedia:
		return "media"
	}
	return string(kind)
}
