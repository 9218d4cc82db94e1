package service

import (
	"context"

	"go.uber.org/multierr"

	"docvault/internal/model"
	"docvault/internal/vault"
)

// VaultEngine is the part of the vault engine the services use.
type VaultEngine interface {
	Lock(ctx context.Context, documentID string, actor model.Actor) (model.LockRecord, error)
	Unlock(ctx context.Context, documentID string, actor model.Actor) (model.LockRecord, error)
	Verify(ctx context.Context, documentID string, actor model.Actor) (model.LockRecord, error)
	LockAll(ctx context.Context, transactionID string, actor model.Actor) (vault.BulkResult, error)
	HandleTransactionStatus(ctx context.Context, change vault.TransactionStatusChange) (vault.BulkResult, error)
	GetLockStatus(documentID string) (model.LockRecord, bool)
	Activity(ctx context.Context, documentID string) ([]model.ActivityEntry, error)
}

// DocumentLookup finds a document by id.
type DocumentLookup interface {
	Document(ctx context.Context, id string) (model.Document, []model.BackendRef, error)
}

// LockStatus is a lock record with its derived state.
type LockStatus struct {
	model.LockRecord
	State vault.State `json:"state"`
}

// BulkLockResult reports a transaction-wide vault operation.
type BulkLockResult struct {
	Locked   int      `json:"locked"`
	Unlocked int      `json:"unlocked"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors"`
}

// VaultService defines the lock and retention use cases.
type VaultService interface {
	Lock(ctx context.Context, documentID string, actor model.Actor) (*LockStatus, error)
	Unlock(ctx context.Context, documentID string, actor model.Actor) (*LockStatus, error)
	Verify(ctx context.Context, documentID string, actor model.Actor) (*LockStatus, error)
	// Status returns the lock of a document; documents never locked report unlocked.
	Status(ctx context.Context, documentID string) (*LockStatus, error)
	Activity(ctx context.Context, documentID string) ([]model.ActivityEntry, error)
	LockAll(ctx context.Context, transactionID string, actor model.Actor) (*BulkLockResult, error)
	// TransactionStatus applies retention when the transaction is funded.
	TransactionStatus(ctx context.Context, change vault.TransactionStatusChange) (*BulkLockResult, error)
}

type vaultService struct {
	vault VaultEngine
	docs  DocumentLookup
}

// NewVaultService constructs a new VaultService.
func NewVaultService(v VaultEngine, docs DocumentLookup) VaultService {
	return &vaultService{vault: v, docs: docs}
}

func (s *vaultService) Lock(ctx context.Context, documentID string, actor model.Actor) (*LockStatus, error) {
	if documentID == "" {
		return nil, ErrIDRequired
	}
	rec, err := s.vault.Lock(ctx, documentID, actor)
	return status(rec, err)
}

func (s *vaultService) Unlock(ctx context.Context, documentID string, actor model.Actor) (*LockStatus, error) {
	if documentID == "" {
		return nil, ErrIDRequired
	}
	rec, err := s.vault.Unlock(ctx, documentID, actor)
	return status(rec, err)
}

func (s *vaultService) Verify(ctx context.Context, documentID string, actor model.Actor) (*LockStatus, error) {
	if documentID == "" {
		return nil, ErrIDRequired
	}
	rec, err := s.vault.Verify(ctx, documentID, actor)
	return status(rec, err)
}

func (s *vaultService) Status(ctx context.Context, documentID string) (*LockStatus, error) {
	if documentID == "" {
		return nil, ErrIDRequired
	}
	if rec, ok := s.vault.GetLockStatus(documentID); ok {
		return &LockStatus{LockRecord: rec, State: vault.StateOf(rec)}, nil
	}
	doc, _, err := s.docs.Document(ctx, documentID)
	if err != nil {
		return nil, notFound(err)
	}
	rec := model.LockRecord{
		DocumentID:         doc.ID,
		TransactionID:      doc.TransactionID,
		CanBeUnlocked:      true,
		VerificationStatus: model.VerificationPending,
	}
	return &LockStatus{LockRecord: rec, State: vault.StateUnlocked}, nil
}

func (s *vaultService) Activity(ctx context.Context, documentID string) ([]model.ActivityEntry, error) {
	if documentID == "" {
		return nil, ErrIDRequired
	}
	entries, err := s.vault.Activity(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		return entries, nil
	}
	if _, _, err := s.docs.Document(ctx, documentID); err != nil {
		return nil, notFound(err)
	}
	return []model.ActivityEntry{}, nil
}

func (s *vaultService) LockAll(ctx context.Context, transactionID string, actor model.Actor) (*BulkLockResult, error) {
	if transactionID == "" {
		return nil, ErrIDRequired
	}
	res, err := s.vault.LockAll(ctx, transactionID, actor)
	if err != nil {
		return nil, err
	}
	return bulk(res), nil
}

func (s *vaultService) TransactionStatus(ctx context.Context, change vault.TransactionStatusChange) (*BulkLockResult, error) {
	if change.TransactionID == "" {
		return nil, ErrIDRequired
	}
	res, err := s.vault.HandleTransactionStatus(ctx, change)
	if err != nil {
		return nil, err
	}
	return bulk(res), nil
}

// status keeps the record when err is set but rec carries a state, as for a
// rejected verification.
func status(rec model.LockRecord, err error) (*LockStatus, error) {
	if err != nil {
		if rec.DocumentID != "" {
			return &LockStatus{LockRecord: rec, State: vault.StateOf(rec)}, notFound(err)
		}
		return nil, notFound(err)
	}
	return &LockStatus{LockRecord: rec, State: vault.StateOf(rec)}, nil
}

func bulk(res vault.BulkResult) *BulkLockResult {
	out := &BulkLockResult{
		Locked:   res.Locked,
		Unlocked: res.Unlocked,
		Skipped:  res.Skipped,
		Errors:   []string{},
	}
	for _, err := range multierr.Errors(res.Err) {
		out.Errors = append(out.Errors, err.Error())
	}
	return out
}
