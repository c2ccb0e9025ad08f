// Package sync drains the agent's operation queue against the central API and
// pulls verification status changes back down.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/offline/client"
	"github.com/relieflab/dms/offline/queue"
	"github.com/relieflab/dms/offline/store"
)

const watermarkKey = "sync.watermark"

// collectionFor maps a sync kind to its store collection.
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

type Options struct {
	BatchSize  int
	MaxRetries int
	Spec       string // cron spec, e.g. "@every 30s"
}

type Stats struct {
	LastRun   string `json:"last_run,omitempty"`
	Pushed    int    `json:"pushed"`
	Conflicts int    `json:"conflicts"`
	Rejected  int    `json:"rejected"`
	Errors    int    `json:"errors"`
	Pulled    int    `json:"pulled"`
}

// Engine runs the push/pull cycle on a schedule. A cycle is: probe the
// server, drain the queue in priority batches, then pull status changes
// since the watermark.
type Engine struct {
	store  *store.Store
	queue  *queue.Queue
	client *client.Client
	log    core.Logger
	opts   Options

	cron *cron.Cron

	mu      sync.Mutex // one cycle at a time
	stats   Stats
	statsMu sync.Mutex
}

func NewEngine(st *store.Store, q *queue.Queue, cl *client.Client, log core.Logger, opts Options) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.Spec == "" {
		opts.Spec = "@every 30s"
	}
	return &Engine{store: st, queue: q, client: cl, log: log, opts: opts}
}

// Start schedules the cycle and returns; Stop waits for a running cycle.
func (e *Engine) Start(ctx context.Context) error {
	e.cron = cron.New()
	_, err := e.cron.AddFunc(e.opts.Spec, func() {
		if err := e.SyncNow(ctx); err != nil {
			e.log.Warn("sync cycle failed", "error", err)
		}
	})
	if err != nil {
		return errors.Wrap(err, "scheduling sync")
	}
	e.cron.Start()
	return nil
}

func (e *Engine) Stop() {
	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
}

func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

// SyncNow runs one full cycle immediately. Unreachable servers are not an
// error: the queue just waits for the next tick.
func (e *Engine) SyncNow(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.client.Health(ctx); err != nil {
		if errors.Is(err, client.ErrUnreachable) {
			e.log.Debug("server unreachable, skipping cycle")
			return nil
		}
		return errors.Wrap(err, "health probe")
	}

	var run Stats
	for {
		n, err := e.pushBatch(ctx, &run)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
	}
	if err := e.pull(ctx, &run); err != nil {
		return err
	}

	run.LastRun = core.UTCNow().Format("2006-01-02T15:04:05Z")
	e.statsMu.Lock()
	e.stats = run
	e.statsMu.Unlock()
	e.log.Info("sync cycle complete",
		"pushed", run.Pushed, "conflicts", run.Conflicts,
		"rejected", run.Rejected, "errors", run.Errors, "pulled", run.Pulled)
	return nil
}

// pushBatch sends one queue batch and settles each result. Returns the number
// of items attempted.
func (e *Engine) pushBatch(ctx context.Context, run *Stats) (int, error) {
	items, err := e.queue.Dequeue(e.opts.BatchSize)
	if err != nil {
		return 0, errors.Wrap(err, "dequeuing batch")
	}
	if len(items) == 0 {
		return 0, nil
	}

	req := core.SyncPushRequest{Operations: make([]core.SyncOperation, 0, len(items))}
	byID := make(map[string]queue.Item, len(items))
	for _, item := range items {
		byID[item.ID] = item
		req.Operations = append(req.Operations, core.SyncOperation{
			ID:       item.ID,
			Kind:     item.Kind,
			Action:   item.Action,
			TargetID: item.TargetID,
			Payload:  item.Payload,
		})
	}

	results, err := e.client.PushBatch(ctx, req)
	if err != nil {
		// Whole-batch failure counts against every item.
		for _, item := range items {
			if _, ferr := e.queue.Fail(item.ID, err.Error(), e.opts.MaxRetries); ferr != nil {
				return 0, ferr
			}
		}
		run.Errors += len(items)
		return 0, nil
	}

	for _, res := range results {
		item, ok := byID[res.ID]
		if !ok {
			continue
		}
		if err := e.settle(ctx, item, res, run); err != nil {
			return 0, err
		}
	}
	return len(items), nil
}

func (e *Engine) settle(ctx context.Context, item queue.Item, res core.SyncItemResult, run *Stats) error {
	switch res.Status {
	case core.SyncResultOK:
		if err := e.acceptLocal(item, res.ServerID); err != nil {
			return err
		}
		run.Pushed++
		return e.queue.Complete(item.ID)

	case core.SyncResultInvalid:
		// Server-side validation rejection; retrying cannot help.
		run.Rejected++
		e.log.Warn("operation rejected", "id", item.ID, "kind", item.Kind, "message", res.Message)
		return e.queue.DeadLetter(item.ID, rejectionMessage(res))

	case core.SyncResultConflict:
		run.Conflicts++
		return e.resolveConflict(ctx, item, res)

	default:
		run.Errors++
		_, err := e.queue.Fail(item.ID, res.Message, e.opts.MaxRetries)
		return err
	}
}

// acceptLocal marks the synced record clean and records its server ID.
func (e *Engine) acceptLocal(item queue.Item, serverID string) error {
	coll := collectionFor(item.Kind)
	localID := item.TargetID
	if localID == "" {
		localID = offlineIDFrom(item.Payload)
	}
	if localID == "" {
		return nil
	}
	if serverID != "" && serverID != localID {
		if err := e.store.SetMeta("serverid."+coll+"."+localID, serverID); err != nil {
			return err
		}
	}
	if err := e.store.MarkClean(coll, localID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// resolveConflict applies the policy: the server copy wins unless the local
// copy has unsynced edits, in which case the local copy is re-pushed once
// with the force flag set.
func (e *Engine) resolveConflict(ctx context.Context, item queue.Item, res core.SyncItemResult) error {
	coll := collectionFor(item.Kind)
	localID := item.TargetID
	if localID == "" {
		localID = offlineIDFrom(item.Payload)
	}
	if localID == "" {
		// No local record to reconcile against.
		e.log.Warn("conflict on operation without a local record", "id", item.ID, "kind", item.Kind)
		return e.queue.Complete(item.ID)
	}

	dirty, err := e.store.IsDirty(coll, localID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if !dirty {
		// Server wins: overwrite the local copy and drop the operation.
		if res.Remote != nil {
			if err := e.store.PutClean(coll, localID, res.Remote); err != nil {
				return err
			}
		}
		e.log.Info("conflict resolved, server copy kept", "id", item.ID, "kind", item.Kind)
		return e.queue.Complete(item.ID)
	}

	// Local edits pending: force-push once, then give up to the dead letter.
	forced, err := withForce(item.Payload)
	if err != nil {
		return err
	}
	results, err := e.client.PushBatch(ctx, core.SyncPushRequest{Operations: []core.SyncOperation{{
		ID:       item.ID,
		Kind:     item.Kind,
		Action:   item.Action,
		TargetID: item.TargetID,
		Payload:  forced,
	}}})
	if err == nil && len(results) == 1 && results[0].Status == core.SyncResultOK {
		if err := e.acceptLocal(item, results[0].ServerID); err != nil {
			return err
		}
		e.log.Info("conflict resolved, local copy force-pushed", "id", item.ID, "kind", item.Kind)
		return e.queue.Complete(item.ID)
	}
	e.log.Warn("conflict force-push failed", "id", item.ID, "kind", item.Kind)
	return e.queue.DeadLetter(item.ID, "unresolved conflict: "+res.Message)
}

// pull fetches verification status changes since the stored watermark and
// applies them without touching dirty flags.
func (e *Engine) pull(ctx context.Context, run *Stats) error {
	since := int64(0)
	if v, err := e.store.GetMeta(watermarkKey); err == nil && v != "" {
		_, _ = fmt.Sscanf(v, "%d", &since)
	}

	cs, err := e.client.Changes(ctx, since)
	if err != nil {
		return errors.Wrap(err, "pulling changes")
	}

	for _, ch := range cs.Changes {
		coll := collectionFor(ch.Kind)
		id := ch.OfflineID
		if id == "" {
			id = ch.ID
		}
		var rec map[string]interface{}
		if err := e.store.Get(coll, id, &rec); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return err
		}
		rec["verification_status"] = ch.Status
		if err := e.store.PutClean(coll, id, rec); err != nil {
			return err
		}
		run.Pulled++
	}

	if cs.Watermark > since {
		if err := e.store.SetMeta(watermarkKey, fmt.Sprintf("%d", cs.Watermark)); err != nil {
			return err
		}
	}
	return nil
}

func offlineIDFrom(payload json.RawMessage) string {
	var p struct {
		OfflineID string `json:"offline_id"`
	}
	_ = json.Unmarshal(payload, &p)
	return p.OfflineID
}

func withForce(payload json.RawMessage) (json.RawMessage, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, errors.Wrap(err, "decoding payload for force push")
	}
	m["force"] = true
	out, err := json.Marshal(m)
	return out, errors.Wrap(err, "encoding forced payload")
}

func rejectionMessage(res core.SyncItemResult) string {
	if res.Errors != nil {
		if b, err := json.Marshal(res.Errors); err == nil {
			return res.Message + ": " + string(b)
		}
	}
	return res.Message
}
