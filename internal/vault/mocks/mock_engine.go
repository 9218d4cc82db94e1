package mocks

import (
	"context"

	"docvault/internal/model"
	"docvault/internal/vault"

	"github.com/stretchr/testify/mock"
)

type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Lock(ctx context.Context, documentID string, actor model.Actor) (model.LockRecord, error) {
	args := m.Called(ctx, documentID, actor)
	return args.Get(0).(model.LockRecord), args.Error(1)
}

func (m *MockEngine) Unlock(ctx context.Context, documentID string, actor model.Actor) (model.LockRecord, error) {
	args := m.Called(ctx, documentID, actor)
	return args.Get(0).(model.LockRecord), args.Error(1)
}

func (m *MockEngine) Verify(ctx context.Context, documentID string, actor model.Actor) (model.LockRecord, error) {
	args := m.Called(ctx, documentID, actor)
	return args.Get(0).(model.LockRecord), args.Error(1)
}

func (m *MockEngine) LockAll(ctx context.Context, transactionID string, actor model.Actor) (vault.BulkResult, error) {
	args := m.Called(ctx, transactionID, actor)
	return args.Get(0).(vault.BulkResult), args.Error(1)
}

func (m *MockEngine) HandleTransactionStatus(ctx context.Context, change vault.TransactionStatusChange) (vault.BulkResult, error) {
	args := m.Called(ctx, change)
	return args.Get(0).(vault.BulkResult), args.Error(1)
}

func (m *MockEngine) GetLockStatus(documentID string) (model.LockRecord, bool) {
	args := m.Called(documentID)
	return args.Get(0).(model.LockRecord), args.Bool(1)
}

func (m *MockEngine) Activity(ctx context.Context, documentID string) ([]model.ActivityEntry, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ActivityEntry), args.Error(1)
}
