package migration

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type migrationStep struct {
	Name string
	SQL  string
}

// sentinelTable is created by the last step; its presence means the schema is complete.
const sentinelTable = "public.lock_record_history"

var steps = []migrationStep{
	{
		Name: "create_table_documents",
		SQL: `CREATE TABLE IF NOT EXISTS documents (
  id               TEXT        PRIMARY KEY,
  name             TEXT        NOT NULL,
  byte_size        BIGINT      NOT NULL CHECK (byte_size >= 0),
  mime_type        TEXT        NOT NULL,
  category         TEXT        NOT NULL DEFAULT 'other',
  tags             JSONB       NOT NULL DEFAULT '[]',
  metadata         JSONB       NOT NULL DEFAULT '{}',
  owner_id         TEXT        NOT NULL,
  transaction_id   TEXT        NOT NULL DEFAULT '',
  agent_id         TEXT        NOT NULL DEFAULT '',
  created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
  last_modified_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "create_index_documents_transaction_id",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_documents_transaction_id ON documents (transaction_id);`,
	},
	{
		Name: "create_index_documents_created_at",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents (created_at);`,
	},
	{
		Name: "create_table_sync_queue",
		SQL: `CREATE TABLE IF NOT EXISTS sync_queue (
  document_id     TEXT        NOT NULL,
  backend_name    TEXT        NOT NULL,
  payload_ref     TEXT        NOT NULL,
  retry_count     INTEGER     NOT NULL DEFAULT 0,
  next_attempt_at TIMESTAMPTZ NOT NULL,
  last_error      TEXT        NOT NULL DEFAULT '',
  failed          BOOLEAN     NOT NULL DEFAULT false,
  PRIMARY KEY (document_id, backend_name)
);`,
	},
	{
		Name: "create_table_lock_records",
		SQL: `CREATE TABLE IF NOT EXISTS lock_records (
  document_id              TEXT        NOT NULL,
  transaction_id           TEXT        NOT NULL,
  is_locked                BOOLEAN     NOT NULL DEFAULT false,
  locked_by                TEXT        NOT NULL DEFAULT '',
  locked_at                TIMESTAMPTZ,
  can_be_unlocked          BOOLEAN     NOT NULL DEFAULT true,
  unlocked_after_funding   BOOLEAN     NOT NULL DEFAULT false,
  retention_policy_applied BOOLEAN     NOT NULL DEFAULT false,
  retention_end_date       TIMESTAMPTZ,
  verification_status      TEXT        NOT NULL DEFAULT 'pending',
  proof                    TEXT        NOT NULL DEFAULT '',
  verified_at              TIMESTAMPTZ,
  version                  BIGINT      NOT NULL DEFAULT 0,
  PRIMARY KEY (transaction_id, document_id)
);`,
	},
	{
		Name: "create_table_lock_record_history",
		SQL: `CREATE TABLE IF NOT EXISTS lock_record_history (
  id             BIGSERIAL   PRIMARY KEY,
  document_id    TEXT        NOT NULL,
  transaction_id TEXT        NOT NULL,
  action         TEXT        NOT NULL,
  actor          TEXT        NOT NULL,
  detail         TEXT        NOT NULL DEFAULT '',
  snapshot       JSONB       NOT NULL,
  recorded_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "create_index_lock_record_history_document",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_lock_record_history_document ON lock_record_history (document_id, id);`,
	},
}

// EnsureMigrated runs the schema steps unless the sentinel table already exists.
// Every step is idempotent, so a run interrupted halfway is safe to repeat.
func EnsureMigrated(ctx context.Context, db *sql.DB, log *zap.Logger) error {
	start := time.Now()
	log = log.With(zap.String("component", "database"))
	log.Info("db migration check", zap.String("status", "starting"))

	var exists bool
	query := "SELECT to_regclass($1) IS NOT NULL"
	if err := db.QueryRowContext(ctx, query, sentinelTable).Scan(&exists); err != nil {
		log.Error("db migration failed",
			zap.Error(err),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return fmt.Errorf("failed to check sentinel table: %w", err)
	}

	if exists {
		log.Info("schema already exists, skipping migration",
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return nil
	}

	for _, step := range steps {
		stepStart := time.Now()
		if _, err := db.ExecContext(ctx, step.SQL); err != nil {
			log.Error("db migration failed",
				zap.String("migration_step", step.Name),
				zap.Error(err),
				zap.Int64("step_duration_ms", time.Since(stepStart).Milliseconds()),
			)
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}
		log.Debug("db migration step",
			zap.String("migration_step", step.Name),
			zap.Int64("step_duration_ms", time.Since(stepStart).Milliseconds()),
		)
	}

	log.Info("db migration success",
		zap.Int("steps", len(steps)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return nil
}
