package postgres

import (
	"context"
	"database/sql"

	"docvault/internal/model"
	"docvault/internal/repository"
)

// SyncQueuePostgres persists sync queue items in the sync_queue table.
type SyncQueuePostgres struct {
	db *sql.DB
}

// NewSyncQueuePostgres creates a new SyncQueuePostgres repository.
func NewSyncQueuePostgres(db *sql.DB) *SyncQueuePostgres {
	return &SyncQueuePostgres{db: db}
}

var _ repository.SyncQueueRepository = (*SyncQueuePostgres)(nil)

// Save inserts the item or replaces the row for its (document_id, backend_name) pair.
func (r *SyncQueuePostgres) Save(ctx context.Context, item model.SyncQueueItem) error {
	const q = `
		INSERT INTO sync_queue (document_id, backend_name, payload_ref, retry_count, next_attempt_at, last_error, failed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (document_id, backend_name) DO UPDATE SET
			payload_ref = EXCLUDED.payload_ref,
			retry_count = EXCLUDED.retry_count,
			next_attempt_at = EXCLUDED.next_attempt_at,
			last_error = EXCLUDED.last_error,
			failed = EXCLUDED.failed
	`
	_, err := r.db.ExecContext(ctx, q,
		item.DocumentID,
		item.BackendName,
		item.PayloadRef,
		item.RetryCount,
		item.NextAttemptAt,
		item.LastError,
		item.Failed,
	)
	return err
}

// Remove deletes the row for the pair.
func (r *SyncQueuePostgres) Remove(ctx context.Context, documentID, backendName string) error {
	const q = `DELETE FROM sync_queue WHERE document_id = $1 AND backend_name = $2`
	_, err := r.db.ExecContext(ctx, q, documentID, backendName)
	return err
}

// LoadAll returns every row ordered by next attempt.
func (r *SyncQueuePostgres) LoadAll(ctx context.Context) ([]model.SyncQueueItem, error) {
	const q = `
		SELECT document_id, backend_name, payload_ref, retry_count, next_attempt_at, last_error, failed
		FROM sync_queue
		ORDER BY next_attempt_at ASC
	`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.SyncQueueItem, 0)
	for rows.Next() {
		var it model.SyncQueueItem
		if err := rows.Scan(
			&it.DocumentID,
			&it.BackendName,
			&it.PayloadRef,
			&it.RetryCount,
			&it.NextAttemptAt,
			&it.LastError,
			&it.Failed,
		); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
