package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"docvault/internal/model"
	"docvault/internal/repository"
)

// LockRecordPostgres persists vault lock records: a snapshot row per
// (transaction_id, document_id) and an append-only lock_record_history.
type LockRecordPostgres struct {
	db *sql.DB
}

// NewLockRecordPostgres creates a new LockRecordPostgres repository.
func NewLockRecordPostgres(db *sql.DB) *LockRecordPostgres {
	return &LockRecordPostgres{db: db}
}

var _ repository.LockRecordRepository = (*LockRecordPostgres)(nil)

// Save upserts the snapshot and appends the history entry in one transaction.
func (r *LockRecordPostgres) Save(ctx context.Context, rec model.LockRecord, entry model.ActivityEntry) (err error) {
	const qUpsert = `
		INSERT INTO lock_records (document_id, transaction_id, is_locked, locked_by, locked_at, can_be_unlocked,
			unlocked_after_funding, retention_policy_applied, retention_end_date, verification_status, proof, verified_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (transaction_id, document_id) DO UPDATE SET
			is_locked = EXCLUDED.is_locked,
			locked_by = EXCLUDED.locked_by,
			locked_at = EXCLUDED.locked_at,
			can_be_unlocked = EXCLUDED.can_be_unlocked,
			unlocked_after_funding = EXCLUDED.unlocked_after_funding,
			retention_policy_applied = EXCLUDED.retention_policy_applied,
			retention_end_date = EXCLUDED.retention_end_date,
			verification_status = EXCLUDED.verification_status,
			proof = EXCLUDED.proof,
			verified_at = EXCLUDED.verified_at,
			version = EXCLUDED.version
	`
	const qHistory = `
		INSERT INTO lock_record_history (document_id, transaction_id, action, actor, detail, snapshot, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	snapshot, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, qUpsert,
		rec.DocumentID,
		rec.TransactionID,
		rec.IsLocked,
		rec.LockedBy,
		rec.LockedAt,
		rec.CanBeUnlocked,
		rec.UnlockedAfterFunding,
		rec.RetentionPolicyApplied,
		rec.RetentionEndDate,
		string(rec.VerificationStatus),
		rec.Proof,
		rec.VerifiedAt,
		int64(rec.Version),
	); err != nil {
		return fmt.Errorf("upsert lock record: %w", err)
	}

	if _, err = tx.ExecContext(ctx, qHistory,
		entry.DocumentID,
		entry.TransactionID,
		entry.Action,
		entry.Actor,
		entry.Detail,
		string(snapshot),
		entry.At,
	); err != nil {
		return fmt.Errorf("append lock history: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LoadAll returns the latest snapshot of every lock record.
func (r *LockRecordPostgres) LoadAll(ctx context.Context) ([]model.LockRecord, error) {
	const q = `
		SELECT document_id, transaction_id, is_locked, locked_by, locked_at, can_be_unlocked,
			unlocked_after_funding, retention_policy_applied, retention_end_date, verification_status, proof, verified_at, version
		FROM lock_records
		ORDER BY transaction_id, document_id
	`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.LockRecord, 0)
	for rows.Next() {
		var (
			rec                         model.LockRecord
			lockedAt, endDate, verified sql.NullTime
			status                      string
			version                     int64
		)
		if err := rows.Scan(
			&rec.DocumentID,
			&rec.TransactionID,
			&rec.IsLocked,
			&rec.LockedBy,
			&lockedAt,
			&rec.CanBeUnlocked,
			&rec.UnlockedAfterFunding,
			&rec.RetentionPolicyApplied,
			&endDate,
			&status,
			&rec.Proof,
			&verified,
			&version,
		); err != nil {
			return nil, err
		}
		rec.VerificationStatus = model.VerificationStatus(status)
		rec.Version = uint64(version)
		if lockedAt.Valid {
			t := lockedAt.Time
			rec.LockedAt = &t
		}
		if endDate.Valid {
			t := endDate.Time
			rec.RetentionEndDate = &t
		}
		if verified.Valid {
			t := verified.Time
			rec.VerifiedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LoadHistory returns the history rows of one document in insertion order.
func (r *LockRecordPostgres) LoadHistory(ctx context.Context, documentID string) ([]model.ActivityEntry, error) {
	const q = `
		SELECT document_id, transaction_id, action, actor, detail, recorded_at
		FROM lock_record_history
		WHERE document_id = $1
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.ActivityEntry, 0)
	for rows.Next() {
		var e model.ActivityEntry
		if err := rows.Scan(&e.DocumentID, &e.TransactionID, &e.Action, &e.Actor, &e.Detail, &e.At); err != nil {
			return nil, err
		}
		e.At = e.At.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
