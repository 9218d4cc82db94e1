package mocks

import (
	"context"

	"docvault/internal/backend"
	"docvault/internal/model"
	"docvault/internal/repository"
	"docvault/internal/syncer"

	"github.com/stretchr/testify/mock"
)

type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Upload(ctx context.Context, file model.UploadFile, opts syncer.UploadOptions) (syncer.UploadResult, error) {
	args := m.Called(ctx, file, opts)
	return args.Get(0).(syncer.UploadResult), args.Error(1)
}

func (m *MockEngine) BatchUpload(ctx context.Context, files []model.UploadFile, opts syncer.UploadOptions) []syncer.FileResult {
	args := m.Called(ctx, files, opts)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]syncer.FileResult)
}

func (m *MockEngine) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.Document], error) {
	args := m.Called(ctx, pq)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.PageResult[model.Document]), args.Error(1)
}

func (m *MockEngine) Document(ctx context.Context, id string) (model.Document, []model.BackendRef, error) {
	args := m.Called(ctx, id)
	var refs []model.BackendRef
	if v := args.Get(1); v != nil {
		refs = v.([]model.BackendRef)
	}
	return args.Get(0).(model.Document), refs, args.Error(2)
}

func (m *MockEngine) Content(ctx context.Context, id string) ([]byte, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockEngine) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockEngine) SyncQueueStatus() model.SyncQueueStatus {
	return m.Called().Get(0).(model.SyncQueueStatus)
}

func (m *MockEngine) FailedItems() []model.SyncQueueItem {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]model.SyncQueueItem)
}

func (m *MockEngine) Requeue(ctx context.Context, documentID, backendName string) error {
	return m.Called(ctx, documentID, backendName).Error(0)
}

func (m *MockEngine) Backends(ctx context.Context) []backend.Status {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]backend.Status)
}
