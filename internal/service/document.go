package service

import (
	"context"
	"errors"
	"fmt"

	"docvault/internal/backend"
	"docvault/internal/model"
	"docvault/internal/repository"
	"docvault/internal/syncer"
)

var (
	ErrIDRequired     = errors.New("id is required")
	ErrNotFound       = errors.New("document not found")
	ErrNoFiles        = errors.New("no files to upload")
	ErrDocumentLocked = errors.New("document is locked")
)

const maxPageSize = 100

// SyncEngine is the part of the sync engine the services use.
type SyncEngine interface {
	Upload(ctx context.Context, file model.UploadFile, opts syncer.UploadOptions) (syncer.UploadResult, error)
	BatchUpload(ctx context.Context, files []model.UploadFile, opts syncer.UploadOptions) []syncer.FileResult
	List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.Document], error)
	Document(ctx context.Context, id string) (model.Document, []model.BackendRef, error)
	Content(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
	SyncQueueStatus() model.SyncQueueStatus
	FailedItems() []model.SyncQueueItem
	Requeue(ctx context.Context, documentID, backendName string) error
	Backends(ctx context.Context) []backend.Status
}

// LockChecker reports the vault lock of a document.
type LockChecker interface {
	GetLockStatus(documentID string) (model.LockRecord, bool)
}

// DocumentListResult is the service-level DTO for paginated documents.
type DocumentListResult struct {
	Items []model.Document `json:"data"`
	Total int              `json:"total"`
}

// DocumentDetail is a document with the backends that hold it and its lock.
type DocumentDetail struct {
	model.Document
	BackendRefs []model.BackendRef `json:"backend_refs"`
	Lock        *model.LockRecord  `json:"lock,omitempty"`
}

// BatchItem is the outcome of one file of a batch upload.
type BatchItem struct {
	Name   string               `json:"name"`
	Result *syncer.UploadResult `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// BatchResult aggregates a batch upload.
type BatchResult struct {
	Items     []BatchItem `json:"items"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

// SyncStatus is the sync queue as reported to clients.
type SyncStatus struct {
	model.SyncQueueStatus
	FailedItems []model.SyncQueueItem `json:"failed_items"`
	Backends    []backend.Status      `json:"backends"`
}

// DocumentService defines the use cases for handling documents.
type DocumentService interface {
	// Upload validates the file and writes it to every backend. Backends that
	// failed are listed in the result's PendingBackends and retried later.
	Upload(ctx context.Context, file model.UploadFile, opts syncer.UploadOptions) (*syncer.UploadResult, error)

	// BatchUpload uploads files with bounded concurrency; one bad file does not fail the batch.
	BatchUpload(ctx context.Context, files []model.UploadFile, opts syncer.UploadOptions) (*BatchResult, error)

	// List returns documents using limit/offset and a total count.
	List(ctx context.Context, limit, offset int) (*DocumentListResult, error)

	// Get returns a single document by its ID.
	Get(ctx context.Context, id string) (*DocumentDetail, error)

	// Content returns the document and its bytes.
	Content(ctx context.Context, id string) (*model.Document, []byte, error)

	// Delete removes a document from every backend. Locked documents are refused.
	Delete(ctx context.Context, id string) error

	// SyncStatus reports pending and failed queue items and backend health.
	SyncStatus(ctx context.Context) *SyncStatus

	// Requeue re-arms a failed queue item.
	Requeue(ctx context.Context, documentID, backendName string) error
}

type documentService struct {
	engine SyncEngine
	locks  LockChecker
}

// NewDocumentService constructs a new DocumentService. locks may be nil.
func NewDocumentService(engine SyncEngine, locks LockChecker) DocumentService {
	return &documentService{engine: engine, locks: locks}
}

func (s *documentService) Upload(ctx context.Context, file model.UploadFile, opts syncer.UploadOptions) (*syncer.UploadResult, error) {
	res, err := s.engine.Upload(ctx, file, opts)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *documentService) BatchUpload(ctx context.Context, files []model.UploadFile, opts syncer.UploadOptions) (*BatchResult, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	out := &BatchResult{Items: make([]BatchItem, 0, len(files))}
	for _, fr := range s.engine.BatchUpload(ctx, files, opts) {
		item := BatchItem{Name: fr.Name}
		switch {
		case fr.Err != nil:
			item.Error = fr.Err.Error()
			out.Failed++
		case !fr.Result.Success:
			res := fr.Result
			item.Result = &res
			out.Failed++
		default:
			res := fr.Result
			item.Result = &res
			out.Succeeded++
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}

// List returns paginated documents without exposing repository types.
func (s *documentService) List(ctx context.Context, limit, offset int) (*DocumentListResult, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	res, err := s.engine.List(ctx, repository.PageQuery{Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	return &DocumentListResult{Items: res.Items, Total: res.Total}, nil
}

func (s *documentService) Get(ctx context.Context, id string) (*DocumentDetail, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	doc, refs, err := s.engine.Document(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	d := &DocumentDetail{Document: doc, BackendRefs: refs}
	if d.BackendRefs == nil {
		d.BackendRefs = []model.BackendRef{}
	}
	if s.locks != nil {
		if rec, ok := s.locks.GetLockStatus(id); ok {
			d.Lock = &rec
		}
	}
	return d, nil
}

func (s *documentService) Content(ctx context.Context, id string) (*model.Document, []byte, error) {
	if id == "" {
		return nil, nil, ErrIDRequired
	}
	doc, _, err := s.engine.Document(ctx, id)
	if err != nil {
		return nil, nil, notFound(err)
	}
	data, err := s.engine.Content(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("read content: %w", notFound(err))
	}
	return &doc, data, nil
}

// Delete refuses locked documents, then removes the document everywhere.
func (s *documentService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrIDRequired
	}
	if s.locks != nil {
		if rec, ok := s.locks.GetLockStatus(id); ok && rec.IsLocked {
			return ErrDocumentLocked
		}
	}
	if err := s.engine.Delete(ctx, id); err != nil {
		return notFound(err)
	}
	return nil
}

func (s *documentService) SyncStatus(ctx context.Context) *SyncStatus {
	failed := s.engine.FailedItems()
	if failed == nil {
		failed = []model.SyncQueueItem{}
	}
	return &SyncStatus{
		SyncQueueStatus: s.engine.SyncQueueStatus(),
		FailedItems:     failed,
		Backends:        s.engine.Backends(ctx),
	}
}

func (s *documentService) Requeue(ctx context.Context, documentID, backendName string) error {
	if documentID == "" || backendName == "" {
		return ErrIDRequired
	}
	return notFound(s.engine.Requeue(ctx, documentID, backendName))
}

// notFound translates the engine's not-found error into ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, syncer.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
