package vault

import (
	"sort"
	"sync"

	"docvault/internal/model"
)

// State is the lock state derived from a LockRecord.
type State string

const (
	StateUnlocked        State = "unlocked"
	StateLockedManual    State = "locked"
	StateLockedRetention State = "retention-locked"
)

// StateOf classifies rec.
func StateOf(rec model.LockRecord) State {
	switch {
	case !rec.IsLocked:
		return StateUnlocked
	case rec.RetentionLocked():
		return StateLockedRetention
	default:
		return StateLockedManual
	}
}

type recordKey struct {
	transactionID string
	documentID    string
}

// Store holds one LockRecord per (transaction, document). Every write is a
// compare-and-swap on the record version, so of two writers that read the same
// version only the first succeeds.
type Store struct {
	mu      sync.RWMutex
	records map[recordKey]model.LockRecord
	byDoc   map[string]recordKey
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		records: make(map[recordKey]model.LockRecord),
		byDoc:   make(map[string]recordKey),
	}
}

// Get returns the record for the pair. A missing record is returned as an
// unlocked version 0 record.
func (s *Store) Get(transactionID, documentID string) (model.LockRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey{transactionID, documentID}]
	if !ok {
		return model.LockRecord{
			DocumentID:         documentID,
			TransactionID:      transactionID,
			CanBeUnlocked:      true,
			VerificationStatus: model.VerificationPending,
		}, false
	}
	return rec, true
}

// ByDocument returns the most recently written record of a document.
func (s *Store) ByDocument(documentID string) (model.LockRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.byDoc[documentID]
	if !ok {
		return model.LockRecord{}, false
	}
	rec, ok := s.records[k]
	return rec, ok
}

// CompareAndSwap stores rec if the stored version still equals rec.Version and
// returns it with the version bumped.
func (s *Store) CompareAndSwap(rec model.LockRecord) (model.LockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := recordKey{rec.TransactionID, rec.DocumentID}
	cur := s.records[k]
	if cur.Version != rec.Version {
		e := &ConcurrentModificationError{DocumentID: rec.DocumentID, Expected: rec.Version, Actual: cur.Version}
		if cur.IsLocked {
			e.Holder = cur.LockedBy
		}
		return cur, e
	}
	rec.Version++
	s.records[k] = rec
	s.byDoc[rec.DocumentID] = k
	return rec, nil
}

// Load replaces the store contents with recs.
func (s *Store) Load(recs []model.LockRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[recordKey]model.LockRecord, len(recs))
	s.byDoc = make(map[string]recordKey, len(recs))
	for _, rec := range recs {
		k := recordKey{rec.TransactionID, rec.DocumentID}
		s.records[k] = rec
		s.byDoc[rec.DocumentID] = k
	}
}

// Transaction returns the records of a transaction ordered by document id.
func (s *Store) Transaction(transactionID string) []model.LockRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.LockRecord
	for k, rec := range s.records {
		if k.transactionID == transactionID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
