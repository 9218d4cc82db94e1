package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"docvault/internal/model"
	"docvault/internal/storage"
)

const defaultPresignExpiry = 15 * time.Minute

// StoreAdapter writes document bytes to a storage.Storage. It backs both the
// primary object store and the local fallback cache.
type StoreAdapter struct {
	name          string
	store         storage.Storage
	presignExpiry time.Duration
}

// NewObjectStore returns the primary adapter over an S3-compatible store.
func NewObjectStore(name string, st storage.Storage) *StoreAdapter {
	return &StoreAdapter{name: name, store: st, presignExpiry: defaultPresignExpiry}
}

// NewLocalCache returns the fallback adapter over a local filesystem store.
func NewLocalCache(name string, st *storage.Local) *StoreAdapter {
	return &StoreAdapter{name: name, store: st}
}

var _ Adapter = (*StoreAdapter)(nil)

func (a *StoreAdapter) Name() string { return a.name }

// Key is ObjectKey(doc).
func (a *StoreAdapter) Key(doc model.Document) string { return ObjectKey(doc) }

// Put uploads the bytes under ObjectKey(doc). The ref URL is a presigned
// download link when the store supports one.
func (a *StoreAdapter) Put(ctx context.Context, doc model.Document, data []byte) (model.BackendRef, error) {
	key := a.Key(doc)
	meta := map[string]string{"document-id": doc.ID}
	if doc.TransactionID != "" {
		meta["transaction-id"] = doc.TransactionID
	}

	if _, err := a.store.Put(ctx, key, bytes.NewReader(data), storage.PutObjectOptions{
		Size:        int64(len(data)),
		ContentType: doc.MimeType,
		Metadata:    meta,
	}); err != nil {
		return model.BackendRef{}, &WriteError{Backend: a.name, DocumentID: doc.ID, Err: err}
	}

	ref := model.BackendRef{BackendName: a.name, ExternalKey: key}
	if a.presignExpiry > 0 {
		url, err := a.store.PresignGet(ctx, key, a.presignExpiry)
		if err != nil && !errors.Is(err, storage.ErrPresignUnsupported) {
			return model.BackendRef{}, &WriteError{Backend: a.name, DocumentID: doc.ID, Err: fmt.Errorf("presign: %w", err)}
		}
		ref.URL = url
	}
	return ref, nil
}

func (a *StoreAdapter) Get(ctx context.Context, externalKey string) ([]byte, error) {
	rc, _, err := a.store.Get(ctx, externalKey)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Delete removes the object. A missing object is not an error.
func (a *StoreAdapter) Delete(ctx context.Context, externalKey string) error {
	err := a.store.Delete(ctx, externalKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

func (a *StoreAdapter) Status(ctx context.Context) Status {
	return statusOf(a.name, a.store.Ping(ctx))
}
