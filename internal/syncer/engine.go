// Package syncer drives one logical upload to every configured storage
// backend and retries the backends that failed until they succeed or give up.
package syncer

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/juju/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"docvault/internal/backend"
	"docvault/internal/config"
	"docvault/internal/eventbus"
	"docvault/internal/metrics"
	"docvault/internal/model"
	"docvault/internal/repository"
	"docvault/internal/storage"
	"docvault/internal/validation"
)

const eventSource = "syncer"

// Validator rejects files before any backend is touched.
type Validator interface {
	Validate(f model.UploadFile, role string) error
}

// Recorder is implemented by adapters that index document records, such as
// the metadata adapter. Lookups fall back to it for documents this process
// has not seen.
type Recorder interface {
	Record(ctx context.Context, id string) (*model.Document, error)
}

// Tagger suggests tags and a category from a file name.
type Tagger interface {
	SuggestTags(fileName string) []string
	InferCategory(fileName string) model.Category
}

// UploadOptions carries per-upload context. Progress, when set, receives the
// fraction of backends that have finished.
type UploadOptions struct {
	TransactionID string
	AgentID       string
	OwnerID       string
	Role          string
	Category      model.Category
	Tags          []string
	Metadata      map[string]string
	Progress      func(float64)
}

// UploadResult is the best-effort outcome of one upload. Success is true when
// at least one backend holds the document; PendingBackends are queued for retry.
type UploadResult struct {
	Success         bool               `json:"success"`
	DocumentID      string             `json:"document_id"`
	Document        *model.Document    `json:"document,omitempty"`
	BackendRefs     []model.BackendRef `json:"backend_refs"`
	PendingBackends []string           `json:"pending_backends"`
	SkippedBackends []string           `json:"skipped_backends,omitempty"`
}

// Engine is the storage sync engine. It exclusively owns documents, their
// backend refs and the sync queue.
type Engine struct {
	cfg      config.SyncConfig
	adapters []backend.Adapter
	byName   map[string]backend.Adapter
	spool    storage.Storage
	queue    *Queue
	catalog  *catalog

	queueRepo repository.SyncQueueRepository
	docs      repository.DocumentRepository
	validator Validator
	tagger    Tagger
	events    eventbus.Publisher
	clock     clock.Clock
	log       *zap.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer

	runMu sync.Mutex
	stop  chan struct{}
	done  chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithPublisher(p eventbus.Publisher) Option { return func(e *Engine) { e.events = p } }

func WithValidator(v Validator) Option { return func(e *Engine) { e.validator = v } }

func WithTagger(t Tagger) Option { return func(e *Engine) { e.tagger = t } }

// WithQueueRepository persists the sync queue.
func WithQueueRepository(r repository.SyncQueueRepository) Option {
	return func(e *Engine) { e.queueRepo = r }
}

// WithDocumentRepository lets lookups fall back to the metadata store.
func WithDocumentRepository(r repository.DocumentRepository) Option {
	return func(e *Engine) { e.docs = r }
}

// DefaultConfig returns the production timings.
func DefaultConfig() config.SyncConfig {
	return config.SyncConfig{
		BaseDelay:        time.Second,
		MaxRetries:       3,
		BackendTimeout:   300 * time.Second,
		DrainInterval:    time.Second,
		BatchConcurrency: 3,
	}
}

// New builds an engine over adapters. spool stages payloads for queued retries.
func New(cfg config.SyncConfig, adapters []backend.Adapter, spool storage.Storage, opts ...Option) (*Engine, error) {
	if len(adapters) == 0 {
		return nil, ErrNoBackends
	}
	if spool == nil {
		return nil, errors.New("payload spool is required")
	}
	def := DefaultConfig()
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = def.BackendTimeout
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = def.DrainInterval
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = def.BatchConcurrency
	}

	e := &Engine{
		cfg:       cfg,
		adapters:  adapters,
		byName:    make(map[string]backend.Adapter, len(adapters)),
		spool:     spool,
		catalog:   newCatalog(),
		validator: validation.New(),
		tagger:    validation.NewTagger(),
		events:    nopPublisher{},
		clock:     clock.WallClock,
		log:       zap.NewNop(),
		tracer:    otel.Tracer("docvault/internal/syncer"),
	}
	for _, o := range opts {
		o(e)
	}
	for _, a := range adapters {
		if _, dup := e.byName[a.Name()]; dup {
			return nil, fmt.Errorf("duplicate backend name %q", a.Name())
		}
		e.byName[a.Name()] = a
	}
	e.log = e.log.With(zap.String("component", "syncer"))
	e.queue = NewQueue(e.clock, cfg.BaseDelay, cfg.MaxRetries, e.queueRepo, e.log)
	return e, nil
}

// Queue exposes the sync queue.
func (e *Engine) Queue() *Queue { return e.queue }

// Restore reloads persisted queue items.
func (e *Engine) Restore(ctx context.Context) error {
	n, err := e.queue.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore sync queue: %w", err)
	}
	e.reportDepth()
	e.log.Info("sync queue restored", zap.Int("items", n))
	return nil
}

type writeOutcome struct {
	ref     model.BackendRef
	err     error
	skipped bool
}

// Upload validates file, then writes it to every backend concurrently.
// Validation errors are returned before anything is stored. Backend failures
// are queued and reported in PendingBackends, never returned as errors.
func (e *Engine) Upload(ctx context.Context, file model.UploadFile, opts UploadOptions) (UploadResult, error) {
	ctx, span := e.tracer.Start(ctx, "syncer.Upload", trace.WithAttributes(
		attribute.String("file.name", file.Name),
		attribute.Int64("file.size", file.Size()),
	))
	defer span.End()

	if err := e.validator.Validate(file, opts.Role); err != nil {
		e.metrics.Upload("invalid")
		span.SetStatus(codes.Error, "validation failed")
		return UploadResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return UploadResult{}, err
	}

	doc := e.newDocument(file, opts)
	span.SetAttributes(attribute.String("document.id", doc.ID))

	if err := e.stage(ctx, doc, file.Data); err != nil {
		e.metrics.Upload("failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "stage payload failed")
		return UploadResult{}, fmt.Errorf("stage payload: %w", err)
	}
	e.catalog.stage(doc)

	var (
		outcomes   = make([]writeOutcome, len(e.adapters))
		progressMu sync.Mutex
		finished   int
		g          errgroup.Group
	)
	for i, a := range e.adapters {
		g.Go(func() error {
			outcomes[i] = e.attempt(ctx, a, doc, file.Data)
			if opts.Progress != nil {
				progressMu.Lock()
				finished++
				opts.Progress(float64(finished) / float64(len(e.adapters)))
				progressMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	res := UploadResult{
		DocumentID:      doc.ID,
		BackendRefs:     make([]model.BackendRef, 0, len(e.adapters)),
		PendingBackends: make([]string, 0),
	}
	for i, o := range outcomes {
		switch {
		case o.skipped:
			res.SkippedBackends = append(res.SkippedBackends, e.adapters[i].Name())
		case o.err != nil:
			res.PendingBackends = append(res.PendingBackends, e.adapters[i].Name())
		default:
			res.BackendRefs = append(res.BackendRefs, o.ref)
		}
	}
	res.Success = len(res.BackendRefs) > 0
	if res.Success {
		d := doc
		res.Document = &d
	}
	e.reportDepth()

	if len(res.PendingBackends) == 0 {
		e.discardPayload(ctx, doc.ID)
		if !res.Success {
			e.catalog.remove(doc.ID)
		}
	}

	log := e.log.With(
		zap.String("document_id", doc.ID),
		zap.Int("confirmed", len(res.BackendRefs)),
		zap.Strings("pending", res.PendingBackends),
		zap.Strings("skipped", res.SkippedBackends),
	)
	switch {
	case !res.Success:
		e.metrics.Upload("failed")
		span.SetStatus(codes.Error, "no backend accepted the write")
		log.Warn("upload failed on every backend")
		if err := ctx.Err(); err != nil && len(res.PendingBackends) == 0 {
			return res, err
		}
	case len(res.PendingBackends) > 0 || len(res.SkippedBackends) > 0:
		e.metrics.Upload("partial")
		log.Info("upload partially synced")
	default:
		e.metrics.Upload("success")
		log.Info("upload synced")
	}
	return res, nil
}

// attempt writes to one backend, queueing a failure for retry. Once ctx is
// cancelled the backend is skipped, not queued.
func (e *Engine) attempt(ctx context.Context, a backend.Adapter, doc model.Document, data []byte) writeOutcome {
	if ctx.Err() != nil {
		return writeOutcome{skipped: true}
	}
	ref, err := e.put(ctx, a, doc, data)
	if err != nil && ctx.Err() != nil {
		return writeOutcome{skipped: true}
	}
	if err != nil {
		item := e.queue.Enqueue(ctx, doc.ID, a.Name(), payloadKey(doc.ID), err)
		e.log.Warn("backend write failed, queued for retry",
			zap.String("document_id", doc.ID),
			zap.String("backend", a.Name()),
			zap.Time("next_attempt_at", item.NextAttemptAt),
			zap.Error(err),
		)
		return writeOutcome{err: err}
	}
	if !e.confirm(doc, ref, model.EventFileUploaded) {
		e.discardWrite(ctx, a, doc)
		return writeOutcome{skipped: true}
	}
	return writeOutcome{ref: ref}
}

// put runs one backend write under the backend timeout.
func (e *Engine) put(ctx context.Context, a backend.Adapter, doc model.Document, data []byte) (model.BackendRef, error) {
	ctx, span := e.tracer.Start(ctx, "syncer.backend.Put", trace.WithAttributes(
		attribute.String("backend.name", a.Name()),
		attribute.String("document.id", doc.ID),
	))
	defer span.End()

	wctx, cancel := context.WithTimeout(ctx, e.cfg.BackendTimeout)
	defer cancel()

	start := time.Now()
	ref, err := a.Put(wctx, doc, data)
	e.metrics.BackendWrite(a.Name(), err == nil, time.Since(start).Seconds())
	if err != nil {
		var werr *backend.WriteError
		if !errors.As(err, &werr) {
			err = &backend.WriteError{Backend: a.Name(), DocumentID: doc.ID, Err: err}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "backend write failed")
		return model.BackendRef{}, err
	}
	ref.BackendName = a.Name()
	ref.ConfirmedAt = e.clock.Now().UTC()
	return ref, nil
}

// confirm records ref and publishes t. It reports false when the document was
// deleted while the write ran.
func (e *Engine) confirm(doc model.Document, ref model.BackendRef, t model.EventType) bool {
	if !e.catalog.confirm(doc, ref) {
		return false
	}
	e.events.Publish(t, eventSubject(doc), eventSource, map[string]any{
		"document_id":    doc.ID,
		"transaction_id": doc.TransactionID,
		"backend_name":   ref.BackendName,
		"external_key":   ref.ExternalKey,
		"metadata":       doc.Metadata,
	})
	return true
}

// discardWrite removes a write that landed after its document was deleted.
func (e *Engine) discardWrite(ctx context.Context, a backend.Adapter, doc model.Document) {
	err := a.Delete(context.WithoutCancel(ctx), a.Key(doc))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		e.log.Warn("discard write of deleted document",
			zap.String("document_id", doc.ID),
			zap.String("backend", a.Name()),
			zap.Error(err),
		)
		return
	}
	e.log.Info("write of deleted document discarded",
		zap.String("document_id", doc.ID),
		zap.String("backend", a.Name()),
	)
}

// eventSubject keys the event cache: the transaction, else the agent.
func eventSubject(doc model.Document) string {
	if doc.TransactionID != "" {
		return doc.TransactionID
	}
	return doc.AgentID
}

func (e *Engine) newDocument(file model.UploadFile, opts UploadOptions) model.Document {
	now := e.clock.Now().UTC()
	category := opts.Category
	if !category.IsValid() {
		category = e.tagger.InferCategory(file.Name)
	}
	var meta map[string]string
	if len(opts.Metadata) > 0 {
		meta = make(map[string]string, len(opts.Metadata))
		for k, v := range opts.Metadata {
			meta[k] = v
		}
	}
	return model.Document{
		ID:             NewDocumentID(file.Name, now),
		Name:           file.Name,
		ByteSize:       file.Size(),
		MimeType:       validation.DetectMimeType(file),
		CreatedAt:      now,
		LastModifiedAt: now,
		OwnerID:        opts.OwnerID,
		TransactionID:  opts.TransactionID,
		AgentID:        opts.AgentID,
		Category:       category,
		Tags:           mergeTags(opts.Tags, e.tagger.SuggestTags(file.Name)),
		Metadata:       meta,
	}
}

func mergeTags(sets ...[]string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, set := range sets {
		for _, t := range set {
			if t == "" {
				continue
			}
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

func payloadKey(documentID string) string { return "payloads/" + documentID }

func recordKey(documentID string) string { return payloadKey(documentID) + ".json" }

// stage writes the payload and the document record to the spool so queued
// retries survive a restart.
func (e *Engine) stage(ctx context.Context, doc model.Document, data []byte) error {
	rec, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if _, err := e.spool.Put(ctx, recordKey(doc.ID), bytes.NewReader(rec), storage.PutObjectOptions{
		Size:        int64(len(rec)),
		ContentType: "application/json",
	}); err != nil {
		return err
	}
	_, err = e.spool.Put(ctx, payloadKey(doc.ID), bytes.NewReader(data), storage.PutObjectOptions{
		Size:        int64(len(data)),
		ContentType: doc.MimeType,
	})
	return err
}

// loadStaged returns the document and payload a queued retry needs.
func (e *Engine) loadStaged(ctx context.Context, id string) (model.Document, []byte, error) {
	doc, ok := e.catalog.staged(id)
	if !ok {
		raw, err := e.readSpool(ctx, recordKey(id))
		if err != nil {
			return model.Document{}, nil, fmt.Errorf("load staged record: %w", err)
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return model.Document{}, nil, fmt.Errorf("decode staged record: %w", err)
		}
		e.catalog.stage(doc)
	}
	data, err := e.readSpool(ctx, payloadKey(id))
	if err != nil {
		return model.Document{}, nil, fmt.Errorf("load staged payload: %w", err)
	}
	return doc, data, nil
}

func (e *Engine) readSpool(ctx context.Context, key string) ([]byte, error) {
	rc, _, err := e.spool.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (e *Engine) discardPayload(ctx context.Context, id string) {
	ctx = context.WithoutCancel(ctx)
	for _, key := range []string{payloadKey(id), recordKey(id)} {
		if err := e.spool.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			e.log.Warn("discard staged payload", zap.String("key", key), zap.Error(err))
		}
	}
}

// Content returns the document bytes from the spool or the first backend that holds them.
func (e *Engine) Content(ctx context.Context, id string) ([]byte, error) {
	doc, refs, err := e.Document(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := e.readSpool(ctx, payloadKey(id)); err == nil {
		return data, nil
	}
	if len(refs) == 0 {
		for _, a := range e.adapters {
			refs = append(refs, model.BackendRef{BackendName: a.Name(), ExternalKey: a.Key(doc)})
		}
	}
	var errs error
	for _, ref := range refs {
		a, ok := e.byName[ref.BackendName]
		if !ok {
			continue
		}
		data, err := a.Get(ctx, ref.ExternalKey)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, backend.ErrUnsupported) {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", a.Name(), err))
		}
	}
	if errs == nil {
		return nil, ErrNotFound
	}
	return nil, errs
}

// Document returns a document that at least one backend holds. Refs are nil
// when the document is only known to a recording adapter or the metadata store.
func (e *Engine) Document(ctx context.Context, id string) (model.Document, []model.BackendRef, error) {
	if doc, refs, ok := e.catalog.get(id); ok {
		return doc, refs, nil
	}
	if e.catalog.isDeleted(id) {
		return model.Document{}, nil, ErrNotFound
	}
	doc, err := e.lookup(ctx, id)
	if err != nil {
		return model.Document{}, nil, err
	}
	return *doc, nil, nil
}

// lookup asks the recording adapters, then the document repository.
func (e *Engine) lookup(ctx context.Context, id string) (*model.Document, error) {
	for _, a := range e.adapters {
		r, ok := a.(Recorder)
		if !ok {
			continue
		}
		doc, err := r.Record(ctx, id)
		switch {
		case err == nil:
			return doc, nil
		case errors.Is(err, storage.ErrNotFound):
			return nil, ErrNotFound
		default:
			return nil, fmt.Errorf("find document in %s: %w", a.Name(), err)
		}
	}
	if e.docs == nil {
		return nil, ErrNotFound
	}
	doc, err := e.docs.FindByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find document: %w", err)
	}
	return doc, nil
}

// DocumentsByTransaction returns every existing document of a transaction, newest first.
func (e *Engine) DocumentsByTransaction(ctx context.Context, transactionID string) ([]model.Document, error) {
	out := e.catalog.list(func(d model.Document) bool { return d.TransactionID == transactionID })
	if e.docs == nil {
		return out, nil
	}
	stored, err := e.docs.ListByTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("list transaction documents: %w", err)
	}
	seen := make(map[string]struct{}, len(out))
	for _, d := range out {
		seen[d.ID] = struct{}{}
	}
	for _, d := range stored {
		if _, ok := seen[d.ID]; !ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// List pages through documents, from the metadata store when one is configured.
func (e *Engine) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.Document], error) {
	if e.docs != nil {
		return e.docs.List(ctx, pq)
	}
	all := e.catalog.list(nil)
	res := &repository.PageResult[model.Document]{Items: []model.Document{}, Total: len(all)}
	if pq.Offset < len(all) {
		end := len(all)
		if pq.Limit > 0 && pq.Offset+pq.Limit < end {
			end = pq.Offset + pq.Limit
		}
		res.Items = all[pq.Offset:end]
	}
	return res, nil
}

// Delete removes a document from every backend, the queue and the spool.
// The document is tombstoned first, so a queued retry still writing to a
// backend cannot confirm it again; such a write is removed when it lands.
// When a backend refuses the delete the document is restored and the call
// may be repeated.
func (e *Engine) Delete(ctx context.Context, id string) error {
	doc, _, err := e.Document(ctx, id)
	if err != nil {
		return err
	}
	entry := e.catalog.tombstone(id)
	e.queue.RemoveDocument(ctx, id)

	var errs error
	for _, a := range e.adapters {
		if err := a.Delete(ctx, a.Key(doc)); err != nil && !errors.Is(err, storage.ErrNotFound) {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", a.Name(), err))
		}
	}
	e.discardPayload(ctx, id)
	e.reportDepth()
	if errs != nil {
		e.catalog.revive(id, entry)
		return fmt.Errorf("delete document %s: %w", id, errs)
	}
	e.log.Info("document deleted", zap.String("document_id", id))
	return nil
}

// SyncQueueStatus counts pending and failed queue items.
func (e *Engine) SyncQueueStatus() model.SyncQueueStatus {
	return e.queue.Status()
}

// FailedItems lists the queue items that exhausted their retries.
func (e *Engine) FailedItems() []model.SyncQueueItem {
	return e.queue.Failed()
}

// Requeue re-arms a failed item.
func (e *Engine) Requeue(ctx context.Context, documentID, backendName string) error {
	if _, err := e.queue.Requeue(ctx, documentID, backendName); err != nil {
		return err
	}
	e.reportDepth()
	return nil
}

// Backends reports the health of every adapter.
func (e *Engine) Backends(ctx context.Context) []backend.Status {
	out := make([]backend.Status, len(e.adapters))
	var g errgroup.Group
	for i, a := range e.adapters {
		g.Go(func() error {
			out[i] = a.Status(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (e *Engine) reportDepth() {
	s := e.queue.Status()
	e.metrics.QueueDepth(s.Pending, s.Failed)
}

type nopPublisher struct{}

func (nopPublisher) Publish(t model.EventType, subject, source string, payload map[string]any) model.Event {
	return model.Event{Type: t, Subject: subject, Source: source, Payload: payload}
}
