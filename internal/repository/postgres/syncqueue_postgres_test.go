package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"docvault/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncQueuePostgres_Save(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSyncQueuePostgres(db)
	next := time.Now().UTC()
	item := model.SyncQueueItem{
		DocumentID:    "doc-1",
		BackendName:   "secondary",
		PayloadRef:    "doc-1",
		RetryCount:    1,
		NextAttemptAt: next,
		LastError:     "connection refused",
	}

	mock.ExpectExec("INSERT INTO sync_queue (.+) ON CONFLICT \\(document_id, backend_name\\) DO UPDATE").
		WithArgs("doc-1", "secondary", "doc-1", 1, next, "connection refused", false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Save(context.Background(), item))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncQueuePostgres_Remove(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSyncQueuePostgres(db)

	mock.ExpectExec("DELETE FROM sync_queue WHERE document_id = \\$1 AND backend_name = \\$2").
		WithArgs("doc-1", "secondary").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Remove(context.Background(), "doc-1", "secondary"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncQueuePostgres_LoadAll(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSyncQueuePostgres(db)

	t.Run("rows", func(t *testing.T) {
		now := time.Now()
		rows := sqlmock.NewRows([]string{"document_id", "backend_name", "payload_ref", "retry_count", "next_attempt_at", "last_error", "failed"}).
			AddRow("doc-1", "secondary", "doc-1", 2, now, "timeout", false).
			AddRow("doc-2", "primary", "doc-2", 4, now, "denied", true)
		mock.ExpectQuery("SELECT (.+) FROM sync_queue").WillReturnRows(rows)

		items, err := repo.LoadAll(context.Background())

		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, 2, items[0].RetryCount)
		assert.True(t, items[1].Failed)
	})

	t.Run("query error", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM sync_queue").WillReturnError(errors.New("boom"))

		_, err := repo.LoadAll(context.Background())
		assert.Error(t, err)
	})
}
