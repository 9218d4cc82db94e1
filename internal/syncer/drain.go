package syncer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"docvault/internal/model"
)

// DrainOnce retries every due queue item and returns how many were attempted.
func (e *Engine) DrainOnce(ctx context.Context) int {
	items := e.queue.Claim(e.clock.Now())
	if len(items) == 0 {
		return 0
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.BatchConcurrency)
	for _, it := range items {
		g.Go(func() error {
			e.retry(ctx, it)
			return nil
		})
	}
	_ = g.Wait()
	e.reportDepth()
	return len(items)
}

func (e *Engine) retry(ctx context.Context, item model.SyncQueueItem) {
	log := e.log.With(
		zap.String("document_id", item.DocumentID),
		zap.String("backend", item.BackendName),
		zap.Int("retry_count", item.RetryCount),
	)

	var (
		doc model.Document
		err error
	)
	a, ok := e.byName[item.BackendName]
	if !ok {
		err = fmt.Errorf("backend %q is not configured", item.BackendName)
	} else {
		var data []byte
		doc, data, err = e.loadStaged(ctx, item.DocumentID)
		if err == nil {
			var ref model.BackendRef
			ref, err = e.put(ctx, a, doc, data)
			if err == nil {
				if !e.queue.Complete(ctx, item.DocumentID, item.BackendName) ||
					!e.confirm(doc, ref, model.EventDocumentSynced) {
					e.discardWrite(ctx, a, doc)
					return
				}
				e.metrics.Retry(item.BackendName, true)
				if !e.queue.HasDocument(doc.ID) {
					e.discardPayload(ctx, doc.ID)
				}
				log.Info("queued write synced")
				return
			}
		}
	}

	e.metrics.Retry(item.BackendName, false)
	updated, failErr := e.queue.Fail(ctx, item.DocumentID, item.BackendName, err)
	var exhausted *RetryExhaustedError
	switch {
	case errors.As(failErr, &exhausted):
		log.Error("sync retries exhausted", zap.Error(exhausted))
		e.events.Publish(model.EventSyncError, e.failureSubject(doc, item.DocumentID), eventSource, map[string]any{
			"document_id":  item.DocumentID,
			"backend_name": item.BackendName,
			"retries":      updated.RetryCount,
			"error":        err.Error(),
		})
	case failErr != nil:
		log.Info("queued write dropped, document was deleted", zap.Error(err))
	default:
		log.Warn("queued write failed",
			zap.Time("next_attempt_at", updated.NextAttemptAt),
			zap.Error(err),
		)
	}
}

// failureSubject picks the event subject for a retry whose document may not
// have loaded. The staged record is tried next, then the document id.
func (e *Engine) failureSubject(doc model.Document, documentID string) string {
	if doc.ID == "" {
		staged, ok := e.catalog.staged(documentID)
		if !ok {
			return documentID
		}
		doc = staged
	}
	if s := eventSubject(doc); s != "" {
		return s
	}
	return documentID
}

// Start runs the drain loop every DrainInterval until Stop or ctx is done.
func (e *Engine) Start(ctx context.Context) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.stop != nil {
		return
	}
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go e.loop(ctx, e.stop, e.done)
	e.log.Info("sync drain loop started", zap.Duration("interval", e.cfg.DrainInterval))
}

// Stop waits for the current tick to finish and stops the loop.
func (e *Engine) Stop() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.stop == nil {
		return
	}
	close(e.stop)
	<-e.done
	e.stop, e.done = nil, nil
	e.log.Info("sync drain loop stopped")
}

func (e *Engine) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	// A tick is not interruptible; shutdown waits for it.
	tickCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-e.clock.After(e.cfg.DrainInterval):
			e.DrainOnce(tickCtx)
		}
	}
}
