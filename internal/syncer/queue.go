package syncer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"docvault/internal/model"
	"docvault/internal/repository"
)

type queueKey struct {
	documentID string
	backend    string
}

type queueEntry struct {
	item     model.SyncQueueItem
	inFlight bool
}

// queueWrite is a repository change captured under the queue lock and applied
// after it is released. seq orders the writes of one pair.
type queueWrite struct {
	key    queueKey
	seq    uint64
	item   model.SyncQueueItem
	remove bool
}

// Queue holds backend writes awaiting retry. The (document, backend) pair is
// the map key, so at most one item per pair exists. An item handed out by
// Claim stays in flight until Complete or Fail.
type Queue struct {
	mu    sync.Mutex
	items map[queueKey]*queueEntry

	clock      clock.Clock
	baseDelay  time.Duration
	maxRetries int
	repo       repository.SyncQueueRepository
	log        *zap.Logger

	seq     uint64
	writeMu sync.Mutex
	written map[queueKey]uint64
}

// NewQueue creates a queue. repo may be nil for a memory-only queue.
func NewQueue(clk clock.Clock, baseDelay time.Duration, maxRetries int, repo repository.SyncQueueRepository, log *zap.Logger) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{
		items:      make(map[queueKey]*queueEntry),
		clock:      clk,
		baseDelay:  baseDelay,
		maxRetries: maxRetries,
		repo:       repo,
		log:        log,
		written:    make(map[queueKey]uint64),
	}
}

// Backoff returns base * 2^retryCount.
func Backoff(base time.Duration, retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 30 {
		retryCount = 30
	}
	return base * time.Duration(1<<uint(retryCount))
}

// Enqueue records a failed write. A new item is due after one base delay; an
// existing pending item is rescheduled from its current retry count. A failed
// item is re-armed from zero.
func (q *Queue) Enqueue(ctx context.Context, documentID, backend, payloadRef string, cause error) model.SyncQueueItem {
	q.mu.Lock()
	now := q.clock.Now()
	k := queueKey{documentID, backend}
	e, ok := q.items[k]
	switch {
	case !ok:
		e = &queueEntry{item: model.SyncQueueItem{
			DocumentID:  documentID,
			BackendName: backend,
		}}
		q.items[k] = e
	case e.item.Failed:
		e.item.Failed = false
		e.item.RetryCount = 0
	}

	e.item.PayloadRef = payloadRef
	e.item.LastError = errString(cause)
	if !e.inFlight {
		e.item.NextAttemptAt = now.Add(Backoff(q.baseDelay, e.item.RetryCount))
	}
	item := e.item
	w := q.save(item)
	q.mu.Unlock()

	q.apply(ctx, w)
	return item
}

// Claim returns the due items, oldest due first, and marks them in flight.
func (q *Queue) Claim(now time.Time) []model.SyncQueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []model.SyncQueueItem
	for _, e := range q.items {
		if e.inFlight || e.item.Failed || e.item.NextAttemptAt.After(now) {
			continue
		}
		e.inFlight = true
		due = append(due, e.item)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	return due
}

// Complete removes the item after a successful write. It reports false when
// the item was already gone, which happens when its document was deleted
// while the write was in flight.
func (q *Queue) Complete(ctx context.Context, documentID, backend string) bool {
	q.mu.Lock()
	k := queueKey{documentID, backend}
	if _, ok := q.items[k]; !ok {
		q.mu.Unlock()
		return false
	}
	delete(q.items, k)
	w := q.drop(k)
	q.mu.Unlock()

	q.apply(ctx, w)
	return true
}

// Fail records a failed retry. Past the retry ceiling the item moves to the
// failed bucket and a *RetryExhaustedError is returned.
func (q *Queue) Fail(ctx context.Context, documentID, backend string, cause error) (model.SyncQueueItem, error) {
	q.mu.Lock()
	e, ok := q.items[queueKey{documentID, backend}]
	if !ok {
		q.mu.Unlock()
		return model.SyncQueueItem{}, ErrNotFound
	}
	e.inFlight = false
	e.item.RetryCount++
	e.item.LastError = errString(cause)

	var exhausted error
	if e.item.RetryCount > q.maxRetries {
		e.item.Failed = true
		exhausted = &RetryExhaustedError{
			DocumentID: documentID,
			Backend:    backend,
			Retries:    e.item.RetryCount,
			Err:        cause,
		}
	} else {
		e.item.NextAttemptAt = q.clock.Now().Add(Backoff(q.baseDelay, e.item.RetryCount))
	}
	item := e.item
	w := q.save(item)
	q.mu.Unlock()

	q.apply(ctx, w)
	return item, exhausted
}

// Requeue re-arms a failed item for an immediate attempt.
func (q *Queue) Requeue(ctx context.Context, documentID, backend string) (model.SyncQueueItem, error) {
	q.mu.Lock()
	e, ok := q.items[queueKey{documentID, backend}]
	if !ok || !e.item.Failed {
		q.mu.Unlock()
		return model.SyncQueueItem{}, ErrNotFound
	}
	e.item.Failed = false
	e.item.RetryCount = 0
	e.item.NextAttemptAt = q.clock.Now()
	item := e.item
	w := q.save(item)
	q.mu.Unlock()

	q.apply(ctx, w)
	return item, nil
}

// RemoveDocument drops every item of a document.
func (q *Queue) RemoveDocument(ctx context.Context, documentID string) {
	q.mu.Lock()
	var writes []queueWrite
	for k := range q.items {
		if k.documentID == documentID {
			delete(q.items, k)
			writes = append(writes, q.drop(k))
		}
	}
	q.mu.Unlock()

	q.apply(ctx, writes...)
}

// HasDocument reports whether any item, pending or failed, refers to documentID.
func (q *Queue) HasDocument(documentID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for k := range q.items {
		if k.documentID == documentID {
			return true
		}
	}
	return false
}

// Status counts pending (including in flight) and failed items.
func (q *Queue) Status() model.SyncQueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s model.SyncQueueStatus
	for _, e := range q.items {
		if e.item.Failed {
			s.Failed++
		} else {
			s.Pending++
		}
	}
	return s
}

// Items returns a snapshot of every item ordered by document and backend.
func (q *Queue) Items() []model.SyncQueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]model.SyncQueueItem, 0, len(q.items))
	for _, e := range q.items {
		out = append(out, e.item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].BackendName < out[j].BackendName
	})
	return out
}

// Failed returns the items in the failed bucket.
func (q *Queue) Failed() []model.SyncQueueItem {
	var out []model.SyncQueueItem
	for _, it := range q.Items() {
		if it.Failed {
			out = append(out, it)
		}
	}
	return out
}

// Restore replaces the in-memory state with the persisted items.
func (q *Queue) Restore(ctx context.Context) (int, error) {
	if q.repo == nil {
		return 0, nil
	}
	items, err := q.repo.LoadAll(ctx)
	if err != nil {
		return 0, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = make(map[queueKey]*queueEntry, len(items))
	for _, it := range items {
		q.items[queueKey{it.DocumentID, it.BackendName}] = &queueEntry{item: it}
	}
	return len(items), nil
}

// save and drop capture a write under q.mu; apply runs it afterwards.
func (q *Queue) save(item model.SyncQueueItem) queueWrite {
	q.seq++
	return queueWrite{key: queueKey{item.DocumentID, item.BackendName}, seq: q.seq, item: item}
}

func (q *Queue) drop(k queueKey) queueWrite {
	q.seq++
	return queueWrite{key: k, seq: q.seq, remove: true}
}

// apply sends writes to the repository outside q.mu. Writes are serialized
// and a write older than one already applied for its pair is skipped, so the
// repository always ends on the latest in-memory state of the pair. The
// caller's cancellation does not abort them.
func (q *Queue) apply(ctx context.Context, writes ...queueWrite) {
	if q.repo == nil || len(writes) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)

	q.writeMu.Lock()
	defer q.writeMu.Unlock()
	for _, w := range writes {
		if w.seq <= q.written[w.key] {
			continue
		}
		q.written[w.key] = w.seq

		var err error
		if w.remove {
			err = q.repo.Remove(ctx, w.key.documentID, w.key.backend)
		} else {
			err = q.repo.Save(ctx, w.item)
		}
		if err != nil {
			q.log.Warn("persist sync queue change",
				zap.String("document_id", w.key.documentID),
				zap.String("backend", w.key.backend),
				zap.Bool("remove", w.remove),
				zap.Error(err),
			)
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
