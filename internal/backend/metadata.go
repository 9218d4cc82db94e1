package backend

import (
	"context"
	"database/sql"
	"errors"

	"docvault/internal/model"
	"docvault/internal/repository"
	"docvault/internal/storage"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// MetadataAdapter indexes documents in the metadata repository. It stores the
// document record, not its bytes.
type MetadataAdapter struct {
	name   string
	repo   repository.DocumentRepository
	pinger Pinger
}

// NewMetadata returns the secondary adapter. pinger may be nil.
func NewMetadata(name string, repo repository.DocumentRepository, pinger Pinger) *MetadataAdapter {
	return &MetadataAdapter{name: name, repo: repo, pinger: pinger}
}

var _ Adapter = (*MetadataAdapter)(nil)

func (a *MetadataAdapter) Name() string { return a.name }

// Put upserts the document row; the external key is the document id.
func (a *MetadataAdapter) Put(ctx context.Context, doc model.Document, _ []byte) (model.BackendRef, error) {
	if _, err := a.repo.Upsert(ctx, &doc); err != nil {
		return model.BackendRef{}, &WriteError{Backend: a.name, DocumentID: doc.ID, Err: err}
	}
	return model.BackendRef{BackendName: a.name, ExternalKey: doc.ID}, nil
}

// Get is unsupported: the metadata store holds no file content.
func (a *MetadataAdapter) Get(context.Context, string) ([]byte, error) {
	return nil, ErrUnsupported
}

// Record returns the indexed document.
func (a *MetadataAdapter) Record(ctx context.Context, id string) (*model.Document, error) {
	doc, err := a.repo.FindByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return doc, err
}

// Key is the document id.
func (a *MetadataAdapter) Key(doc model.Document) string { return doc.ID }

func (a *MetadataAdapter) Delete(ctx context.Context, externalKey string) error {
	return a.repo.Delete(ctx, externalKey)
}

func (a *MetadataAdapter) Status(ctx context.Context) Status {
	if a.pinger == nil {
		return statusOf(a.name, nil)
	}
	return statusOf(a.name, a.pinger.PingContext(ctx))
}
