package mocks

import (
	"context"

	"docvault/internal/model"
	"docvault/internal/repository"

	"github.com/stretchr/testify/mock"
)

type MockDocumentRepository struct {
	mock.Mock
}

func (m *MockDocumentRepository) Upsert(ctx context.Context, doc *model.Document) (*model.Document, error) {
	args := m.Called(ctx, doc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Document), args.Error(1)
}

func (m *MockDocumentRepository) FindByID(ctx context.Context, id string) (*model.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Document), args.Error(1)
}

func (m *MockDocumentRepository) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.Document], error) {
	args := m.Called(ctx, pq)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.PageResult[model.Document]), args.Error(1)
}

func (m *MockDocumentRepository) ListByTransaction(ctx context.Context, transactionID string) ([]model.Document, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Document), args.Error(1)
}

func (m *MockDocumentRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockSyncQueueRepository struct {
	mock.Mock
}

func (m *MockSyncQueueRepository) Save(ctx context.Context, item model.SyncQueueItem) error {
	return m.Called(ctx, item).Error(0)
}

func (m *MockSyncQueueRepository) Remove(ctx context.Context, documentID, backendName string) error {
	return m.Called(ctx, documentID, backendName).Error(0)
}

func (m *MockSyncQueueRepository) LoadAll(ctx context.Context) ([]model.SyncQueueItem, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.SyncQueueItem), args.Error(1)
}

type MockLockRecordRepository struct {
	mock.Mock
}

func (m *MockLockRecordRepository) Save(ctx context.Context, rec model.LockRecord, entry model.ActivityEntry) error {
	return m.Called(ctx, rec, entry).Error(0)
}

func (m *MockLockRecordRepository) LoadAll(ctx context.Context) ([]model.LockRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.LockRecord), args.Error(1)
}

func (m *MockLockRecordRepository) LoadHistory(ctx context.Context, documentID string) ([]model.ActivityEntry, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ActivityEntry), args.Error(1)
}
