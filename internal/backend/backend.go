// Package backend gives the sync engine one interface over every storage
// destination a document must reach.
package backend

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"docvault/internal/model"
)

// ErrUnsupported is returned by adapters that cannot serve an operation.
var ErrUnsupported = errors.New("operation not supported by backend")

// Adapter is a uniform interface to one storage backend. Implementations must
// be safe for concurrent use and Put must be idempotent per document id.
type Adapter interface {
	Name() string
	// Key is the external key Put stores doc under.
	Key(doc model.Document) string
	Put(ctx context.Context, doc model.Document, data []byte) (model.BackendRef, error)
	Get(ctx context.Context, externalKey string) ([]byte, error)
	Delete(ctx context.Context, externalKey string) error
	Status(ctx context.Context) Status
}

// Status is the health of one backend at CheckedAt.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// WriteError is a failed backend write. The sync engine queues it for retry.
type WriteError struct {
	Backend    string
	DocumentID string
	Err        error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("backend %s: write %s: %v", e.Backend, e.DocumentID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ObjectKey is where a document's bytes live in a key/value store.
func ObjectKey(doc model.Document) string {
	name := path.Base(strings.ReplaceAll(doc.Name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "content"
	}
	return path.Join("documents", doc.ID, name)
}

func statusOf(name string, err error) Status {
	s := Status{Name: name, Healthy: err == nil, CheckedAt: time.Now().UTC()}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}
