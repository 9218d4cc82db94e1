package repository

import (
	"context"

	"docvault/internal/model"
)

// Package repository contains data access layer abstractions.
// Implementations live in subpackages (e.g., postgres) inside this directory.

// SyncQueueRepository persists sync queue items so pending retries survive a restart.
// The (document_id, backend_name) pair is the primary key.
type SyncQueueRepository interface {
	// Save inserts or replaces the item for its (DocumentID, BackendName) pair.
	Save(ctx context.Context, item model.SyncQueueItem) error
	// Remove deletes the item for the pair. Missing rows are not an error.
	Remove(ctx context.Context, documentID, backendName string) error
	// LoadAll returns every persisted item, pending and failed.
	LoadAll(ctx context.Context) ([]model.SyncQueueItem, error)
}

// LockRecordRepository persists vault lock records as a snapshot table plus an
// append-only history of every change.
type LockRecordRepository interface {
	// Save upserts the snapshot and appends the activity entry in one transaction.
	Save(ctx context.Context, rec model.LockRecord, entry model.ActivityEntry) error
	// LoadAll returns the latest snapshot of every record.
	LoadAll(ctx context.Context) ([]model.LockRecord, error)
	// LoadHistory returns the activity of one document, oldest first.
	LoadHistory(ctx context.Context, documentID string) ([]model.ActivityEntry, error)
}
