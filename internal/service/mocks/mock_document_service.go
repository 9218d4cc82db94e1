package mocks

import (
	"context"

	"docvault/internal/model"
	"docvault/internal/service"
	"docvault/internal/syncer"
	"docvault/internal/vault"

	"github.com/stretchr/testify/mock"
)

type MockDocumentService struct {
	mock.Mock
}

func (m *MockDocumentService) Upload(ctx context.Context, file model.UploadFile, opts syncer.UploadOptions) (*syncer.UploadResult, error) {
	args := m.Called(ctx, file, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*syncer.UploadResult), args.Error(1)
}

func (m *MockDocumentService) BatchUpload(ctx context.Context, files []model.UploadFile, opts syncer.UploadOptions) (*service.BatchResult, error) {
	args := m.Called(ctx, files, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.BatchResult), args.Error(1)
}

func (m *MockDocumentService) List(ctx context.Context, limit, offset int) (*service.DocumentListResult, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DocumentListResult), args.Error(1)
}

func (m *MockDocumentService) Get(ctx context.Context, id string) (*service.DocumentDetail, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DocumentDetail), args.Error(1)
}

func (m *MockDocumentService) Content(ctx context.Context, id string) (*model.Document, []byte, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*model.Document), args.Get(1).([]byte), args.Error(2)
}

func (m *MockDocumentService) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDocumentService) SyncStatus(ctx context.Context) *service.SyncStatus {
	args := m.Called(ctx)
	return args.Get(0).(*service.SyncStatus)
}

func (m *MockDocumentService) Requeue(ctx context.Context, documentID, backendName string) error {
	return m.Called(ctx, documentID, backendName).Error(0)
}

type MockVaultService struct {
	mock.Mock
}

func (m *MockVaultService) lockStatus(args mock.Arguments) (*service.LockStatus, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.LockStatus), args.Error(1)
}

func (m *MockVaultService) Lock(ctx context.Context, documentID string, actor model.Actor) (*service.LockStatus, error) {
	return m.lockStatus(m.Called(ctx, documentID, actor))
}

func (m *MockVaultService) Unlock(ctx context.Context, documentID string, actor model.Actor) (*service.LockStatus, error) {
	return m.lockStatus(m.Called(ctx, documentID, actor))
}

func (m *MockVaultService) Verify(ctx context.Context, documentID string, actor model.Actor) (*service.LockStatus, error) {
	return m.lockStatus(m.Called(ctx, documentID, actor))
}

func (m *MockVaultService) Status(ctx context.Context, documentID string) (*service.LockStatus, error) {
	return m.lockStatus(m.Called(ctx, documentID))
}

func (m *MockVaultService) Activity(ctx context.Context, documentID string) ([]model.ActivityEntry, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ActivityEntry), args.Error(1)
}

func (m *MockVaultService) LockAll(ctx context.Context, transactionID string, actor model.Actor) (*service.BulkLockResult, error) {
	args := m.Called(ctx, transactionID, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.BulkLockResult), args.Error(1)
}

func (m *MockVaultService) TransactionStatus(ctx context.Context, change vault.TransactionStatusChange) (*service.BulkLockResult, error) {
	args := m.Called(ctx, change)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.BulkLockResult), args.Error(1)
}
