package backend

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"docvault/internal/model"
	repomocks "docvault/internal/repository/mocks"
	"docvault/internal/storage"
	storagemocks "docvault/internal/storage/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var doc = model.Document{
	ID:            "loan-agreement-1700000000000-abcd1234",
	Name:          "loan agreement.pdf",
	MimeType:      "application/pdf",
	TransactionID: "tx-1",
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "documents/d1/report.pdf", ObjectKey(model.Document{ID: "d1", Name: "report.pdf"}))
	assert.Equal(t, "documents/d1/evil.pdf", ObjectKey(model.Document{ID: "d1", Name: "../../evil.pdf"}))
	assert.Equal(t, "documents/d1/b.txt", ObjectKey(model.Document{ID: "d1", Name: `a\b.txt`}))
	assert.Equal(t, "documents/d1/content", ObjectKey(model.Document{ID: "d1"}))
}

func TestStoreAdapter_LocalRoundTrip(t *testing.T) {
	local, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	defer local.Close()

	a := NewLocalCache("local", local)
	ctx := context.Background()

	ref, err := a.Put(ctx, doc, []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "local", ref.BackendName)
	assert.Equal(t, ObjectKey(doc), ref.ExternalKey)
	assert.Empty(t, ref.URL)

	got, err := a.Get(ctx, ref.ExternalKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4"), got)

	require.NoError(t, a.Delete(ctx, ref.ExternalKey))
	require.NoError(t, a.Delete(ctx, ref.ExternalKey))

	_, err = a.Get(ctx, ref.ExternalKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.True(t, a.Status(ctx).Healthy)
}

func TestStoreAdapter_ObjectStore(t *testing.T) {
	ctx := context.Background()

	t.Run("presigned url on success", func(t *testing.T) {
		st := new(storagemocks.MockStorage)
		st.On("Put", ctx, ObjectKey(doc), mock.Anything, mock.MatchedBy(func(o storage.PutObjectOptions) bool {
			return o.Size == 3 && o.ContentType == "application/pdf" && o.Metadata["transaction-id"] == "tx-1"
		})).Return(storage.ObjectInfo{Key: ObjectKey(doc)}, nil)
		st.On("PresignGet", ctx, ObjectKey(doc), defaultPresignExpiry).Return("https://minio/signed", nil)

		ref, err := NewObjectStore("primary", st).Put(ctx, doc, []byte("abc"))

		require.NoError(t, err)
		assert.Equal(t, "https://minio/signed", ref.URL)
		st.AssertExpectations(t)
	})

	t.Run("write error wraps cause", func(t *testing.T) {
		st := new(storagemocks.MockStorage)
		cause := errors.New("503 slow down")
		st.On("Put", ctx, ObjectKey(doc), mock.Anything, mock.Anything).Return(storage.ObjectInfo{}, cause)

		_, err := NewObjectStore("primary", st).Put(ctx, doc, []byte("abc"))

		var werr *WriteError
		require.True(t, errors.As(err, &werr))
		assert.Equal(t, "primary", werr.Backend)
		assert.ErrorIs(t, err, cause)
		st.AssertNotCalled(t, "PresignGet", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unhealthy when ping fails", func(t *testing.T) {
		st := new(storagemocks.MockStorage)
		st.On("Ping", ctx).Return(errors.New("dial tcp: refused"))

		s := NewObjectStore("primary", st).Status(ctx)

		assert.False(t, s.Healthy)
		assert.Contains(t, s.Error, "refused")
	})
}

type pingerFunc func(context.Context) error

func (f pingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

func TestMetadataAdapter(t *testing.T) {
	ctx := context.Background()

	t.Run("put upserts the record", func(t *testing.T) {
		repo := new(repomocks.MockDocumentRepository)
		repo.On("Upsert", ctx, mock.MatchedBy(func(d *model.Document) bool { return d.ID == doc.ID })).Return(&doc, nil)

		ref, err := NewMetadata("secondary", repo, nil).Put(ctx, doc, nil)

		require.NoError(t, err)
		assert.Equal(t, doc.ID, ref.ExternalKey)
		repo.AssertExpectations(t)
	})

	t.Run("put failure is a write error", func(t *testing.T) {
		repo := new(repomocks.MockDocumentRepository)
		repo.On("Upsert", ctx, mock.Anything).Return(nil, errors.New("connection reset"))

		_, err := NewMetadata("secondary", repo, nil).Put(ctx, doc, nil)

		var werr *WriteError
		assert.True(t, errors.As(err, &werr))
	})

	t.Run("record maps missing rows", func(t *testing.T) {
		repo := new(repomocks.MockDocumentRepository)
		repo.On("FindByID", ctx, "nope").Return(nil, sql.ErrNoRows)

		a := NewMetadata("secondary", repo, nil)
		_, err := a.Record(ctx, "nope")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		_, err = a.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrUnsupported)
		assert.Equal(t, "nope", a.Key(model.Document{ID: "nope"}))
	})

	t.Run("status uses pinger", func(t *testing.T) {
		a := NewMetadata("secondary", new(repomocks.MockDocumentRepository), pingerFunc(func(context.Context) error {
			return errors.New("db down")
		}))
		assert.False(t, a.Status(ctx).Healthy)
	})
}
