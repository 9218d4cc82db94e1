// Package vault enforces the lock and retention rules on stored documents.
//
// Each document of a transaction has one LockRecord moving through
// unlocked -> locked -> retention-locked -> unlocked. Records are created on
// first write and never deleted; every change is appended to an activity log.
package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"docvault/internal/eventbus"
	"docvault/internal/metrics"
	"docvault/internal/model"
	"docvault/internal/repository"
)

const (
	eventSource = "vault"

	// StatusFunded is the transaction status that triggers retention.
	StatusFunded = "funded"

	retentionActor = "retention-policy"
)

// DocumentSource looks up the documents the vault guards.
type DocumentSource interface {
	Document(ctx context.Context, id string) (model.Document, []model.BackendRef, error)
	DocumentsByTransaction(ctx context.Context, transactionID string) ([]model.Document, error)
	Content(ctx context.Context, id string) ([]byte, error)
}

// BulkResult reports a transaction-wide operation. Err aggregates the
// per-document failures; it is nil when every document succeeded.
type BulkResult struct {
	Locked   int   `json:"locked"`
	Unlocked int   `json:"unlocked"`
	Skipped  int   `json:"skipped"`
	Err      error `json:"-"`
}

// TransactionStatusChange notifies the vault that a transaction changed status.
type TransactionStatusChange struct {
	TransactionID  string `json:"transaction_id"`
	Status         string `json:"status"`
	Role           string `json:"role"`
	CollateralType string `json:"collateral_type"`
	RequestType    string `json:"request_type"`
	InstrumentType string `json:"instrument_type"`
}

// Engine runs vault transitions.
type Engine struct {
	docs     DocumentSource
	store    *Store
	resolver *Resolver
	repo     repository.LockRecordRepository

	verifier       VerificationProvider
	verifyAttempts int
	verifyDelay    time.Duration

	events  eventbus.Publisher
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	actMu    sync.Mutex
	activity map[string][]model.ActivityEntry
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithPublisher(p eventbus.Publisher) Option { return func(e *Engine) { e.events = p } }

func WithResolver(r *Resolver) Option { return func(e *Engine) { e.resolver = r } }

// WithRepository persists every transition.
func WithRepository(r repository.LockRecordRepository) Option {
	return func(e *Engine) { e.repo = r }
}

// WithVerifier sets the verification provider and how often a failing call is tried.
func WithVerifier(p VerificationProvider, attempts int, delay time.Duration) Option {
	return func(e *Engine) {
		e.verifier = p
		if attempts > 0 {
			e.verifyAttempts = attempts
		}
		if delay > 0 {
			e.verifyDelay = delay
		}
	}
}

// New returns a vault engine over docs.
func New(docs DocumentSource, opts ...Option) *Engine {
	e := &Engine{
		docs:           docs,
		store:          NewStore(),
		resolver:       NewResolver(DefaultPolicies()),
		verifyAttempts: 3,
		verifyDelay:    2 * time.Second,
		events:         nopPublisher{},
		clock:          clock.WallClock,
		log:            zap.NewNop(),
		tracer:         otel.Tracer("docvault/internal/vault"),
		activity:       make(map[string][]model.ActivityEntry),
	}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.With(zap.String("component", "vault"))
	return e
}

// Restore reloads the persisted lock records.
func (e *Engine) Restore(ctx context.Context) error {
	if e.repo == nil {
		return nil
	}
	recs, err := e.repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("restore lock records: %w", err)
	}
	e.store.Load(recs)
	e.log.Info("lock records restored", zap.Int("records", len(recs)))
	return nil
}

// GetLockStatus returns the lock record of a document, if one was ever written.
func (e *Engine) GetLockStatus(documentID string) (model.LockRecord, bool) {
	return e.store.ByDocument(documentID)
}

// Activity returns the activity log of a document, oldest first. With a
// repository the persisted history is read, so entries survive a restart.
func (e *Engine) Activity(ctx context.Context, documentID string) ([]model.ActivityEntry, error) {
	if e.repo != nil {
		entries, err := e.repo.LoadHistory(ctx, documentID)
		if err != nil {
			return nil, fmt.Errorf("load activity %s: %w", documentID, err)
		}
		return entries, nil
	}
	e.actMu.Lock()
	defer e.actMu.Unlock()
	return append([]model.ActivityEntry{}, e.activity[documentID]...), nil
}

// Lock puts a manual lock on a document and clears RetentionPolicyApplied, so
// a later funding pass retains it again. Locking a document the actor already
// holds is a no-op. A lock held by someone else, or a lost race, returns a
// ConcurrentModificationError.
func (e *Engine) Lock(ctx context.Context, documentID string, actor model.Actor) (rec model.LockRecord, err error) {
	ctx, span := e.start(ctx, "vault.Lock", documentID, actor)
	defer func() { e.finish(span, "lock", documentID, err) }()

	if !actor.Has(model.PermissionEdit) {
		return model.LockRecord{}, fmt.Errorf("lock %s: %w", documentID, ErrPermissionDenied)
	}
	doc, err := e.document(ctx, documentID)
	if err != nil {
		return model.LockRecord{}, err
	}
	cur, _ := e.store.Get(doc.TransactionID, doc.ID)
	return e.lock(ctx, doc, cur, actor)
}

func (e *Engine) lock(ctx context.Context, doc model.Document, cur model.LockRecord, actor model.Actor) (model.LockRecord, error) {
	switch StateOf(cur) {
	case StateLockedRetention:
		return model.LockRecord{}, &IllegalTransitionError{DocumentID: doc.ID, Action: "lock", State: StateLockedRetention}
	case StateLockedManual:
		if cur.LockedBy == actor.ID {
			return cur, nil
		}
		return model.LockRecord{}, &ConcurrentModificationError{
			DocumentID: doc.ID,
			Holder:     cur.LockedBy,
			Expected:   cur.Version,
			Actual:     cur.Version,
		}
	}

	now := e.clock.Now().UTC()
	next := cur
	next.IsLocked = true
	next.LockedBy = actor.ID
	next.LockedAt = &now
	next.CanBeUnlocked = true
	// A manual lock takes the document out of any earlier retention pass.
	next.RetentionPolicyApplied = false

	saved, err := e.commit(ctx, next, "lock", actor.ID, "")
	if err != nil {
		return model.LockRecord{}, err
	}
	e.publish(model.EventDocumentLocked, doc, saved, nil)
	return saved, nil
}

// Unlock releases a lock. A manual lock is released by its holder or an admin.
// A retention lock cannot be released before its end date.
func (e *Engine) Unlock(ctx context.Context, documentID string, actor model.Actor) (rec model.LockRecord, err error) {
	ctx, span := e.start(ctx, "vault.Unlock", documentID, actor)
	defer func() { e.finish(span, "unlock", documentID, err) }()

	if !actor.Has(model.PermissionEdit) {
		return model.LockRecord{}, fmt.Errorf("unlock %s: %w", documentID, ErrPermissionDenied)
	}
	doc, err := e.document(ctx, documentID)
	if err != nil {
		return model.LockRecord{}, err
	}
	cur, _ := e.store.Get(doc.TransactionID, doc.ID)
	now := e.clock.Now().UTC()

	switch state := StateOf(cur); state {
	case StateUnlocked:
		return model.LockRecord{}, &IllegalTransitionError{DocumentID: doc.ID, Action: "unlock", State: state}
	case StateLockedRetention:
		if cur.RetentionEndDate == nil || now.Before(*cur.RetentionEndDate) {
			return model.LockRecord{}, &IllegalTransitionError{
				DocumentID: doc.ID,
				Action:     "unlock",
				State:      state,
				Err:        ErrRetentionViolation,
			}
		}
	default:
		if !cur.CanBeUnlocked {
			return model.LockRecord{}, &IllegalTransitionError{DocumentID: doc.ID, Action: "unlock", State: state}
		}
		if cur.LockedBy != actor.ID && !actor.Has(model.PermissionAdmin) {
			return model.LockRecord{}, fmt.Errorf("unlock %s held by %s: %w", doc.ID, cur.LockedBy, ErrPermissionDenied)
		}
	}

	next := cur
	next.IsLocked = false
	next.LockedBy = ""
	next.LockedAt = nil
	next.CanBeUnlocked = true

	saved, err := e.commit(ctx, next, "unlock", actor.ID, "")
	if err != nil {
		return model.LockRecord{}, err
	}
	e.publish(model.EventDocumentUnlocked, doc, saved, nil)
	return saved, nil
}

// ApplyRetention retention-locks the documents of a transaction whose names
// match the policy and unlocks the rest. Documents already processed are
// skipped, so applying a policy twice changes nothing.
func (e *Engine) ApplyRetention(ctx context.Context, transactionID string, policy model.RetentionPolicy) (res BulkResult, err error) {
	ctx, span := e.tracer.Start(ctx, "vault.ApplyRetention", trace.WithAttributes(
		attribute.String("transaction.id", transactionID),
		attribute.String("policy.role", policy.Role),
	))
	defer func() {
		ferr := err
		if ferr == nil {
			ferr = res.Err
		}
		e.finish(span, "apply_retention", transactionID, ferr)
	}()

	docs, err := e.docs.DocumentsByTransaction(ctx, transactionID)
	if err != nil {
		return res, fmt.Errorf("list transaction documents: %w", err)
	}

	now := e.clock.Now().UTC()
	end := now.AddDate(0, 0, policy.RetentionPeriodDays)
	for _, doc := range docs {
		cur, _ := e.store.Get(transactionID, doc.ID)
		if cur.RetentionPolicyApplied {
			res.Skipped++
			continue
		}

		next := cur
		next.RetentionPolicyApplied = true
		matched := MatchesPolicy(doc.Name, policy)
		action, detail := "unlock_after_funding", ""
		if matched {
			if !cur.IsLocked {
				next.LockedBy = retentionActor
				next.LockedAt = &now
			}
			next.IsLocked = true
			next.CanBeUnlocked = false
			endDate := end
			next.RetentionEndDate = &endDate
			action = "retention_lock"
			detail = fmt.Sprintf("retained %d days until %s", policy.RetentionPeriodDays, end.Format(time.RFC3339))
		} else {
			next.IsLocked = false
			next.LockedBy = ""
			next.LockedAt = nil
			next.CanBeUnlocked = true
			next.UnlockedAfterFunding = true
		}

		if _, cerr := e.commit(ctx, next, action, retentionActor, detail); cerr != nil {
			res.Err = multierr.Append(res.Err, fmt.Errorf("%s: %w", doc.ID, cerr))
			continue
		}
		if matched {
			res.Locked++
		} else {
			res.Unlocked++
		}
	}

	e.events.Publish(model.EventRetentionApplied, transactionID, eventSource, map[string]any{
		"transaction_id":        transactionID,
		"role":                  policy.Role,
		"retention_period_days": policy.RetentionPeriodDays,
		"locked":                res.Locked,
		"unlocked":              res.Unlocked,
		"skipped":               res.Skipped,
	})
	e.log.Info("retention applied",
		zap.String("transaction_id", transactionID),
		zap.Int("locked", res.Locked),
		zap.Int("unlocked", res.Unlocked),
		zap.Int("skipped", res.Skipped),
		zap.Error(res.Err),
	)
	return res, nil
}

// HandleTransactionStatus applies the resolved retention policy when a
// transaction is funded. Other statuses are ignored.
func (e *Engine) HandleTransactionStatus(ctx context.Context, change TransactionStatusChange) (BulkResult, error) {
	if !strings.EqualFold(change.Status, StatusFunded) {
		return BulkResult{}, nil
	}
	policy, err := e.resolver.Resolve(change.Role, change.CollateralType, change.RequestType, change.InstrumentType)
	if err != nil {
		return BulkResult{}, err
	}
	return e.ApplyRetention(ctx, change.TransactionID, policy)
}

// Verify attests a document with the verification provider and locks it.
// A retention lock stays a retention lock. When the provider rejects the
// document the returned record carries the rejected status along with the error.
func (e *Engine) Verify(ctx context.Context, documentID string, actor model.Actor) (rec model.LockRecord, err error) {
	ctx, span := e.start(ctx, "vault.Verify", documentID, actor)
	defer func() { e.finish(span, "verify", documentID, err) }()

	if e.verifier == nil {
		return model.LockRecord{}, ErrNoVerifier
	}
	if !actor.Has(model.PermissionEdit) {
		return model.LockRecord{}, fmt.Errorf("verify %s: %w", documentID, ErrPermissionDenied)
	}
	doc, err := e.document(ctx, documentID)
	if err != nil {
		return model.LockRecord{}, err
	}
	cur, _ := e.store.Get(doc.TransactionID, doc.ID)
	data, err := e.docs.Content(ctx, doc.ID)
	if err != nil {
		return model.LockRecord{}, fmt.Errorf("read document %s: %w", doc.ID, err)
	}

	var (
		result  VerificationResult
		lastErr error
	)
	err = retry.Call(retry.CallArgs{
		Func: func() error {
			r, verr := e.verifier.Verify(ctx, data, cur.Proof)
			lastErr = verr
			if verr == nil {
				result = r
			}
			return verr
		},
		IsFatalError: func(error) bool {
			return errors.Is(lastErr, ErrVerificationRejected) || ctx.Err() != nil
		},
		NotifyFunc: func(nerr error, attempt int) {
			e.log.Warn("verification attempt failed",
				zap.String("document_id", doc.ID),
				zap.Int("attempt", attempt),
				zap.Error(nerr),
			)
		},
		Attempts: e.verifyAttempts,
		Delay:    e.verifyDelay,
		Clock:    e.clock,
		Stop:     ctx.Done(),
	})
	if err != nil {
		if errors.Is(lastErr, ErrVerificationRejected) {
			next := cur
			next.VerificationStatus = model.VerificationRejected
			saved, cerr := e.commit(ctx, next, "verify_rejected", actor.ID, lastErr.Error())
			if cerr != nil {
				return model.LockRecord{}, cerr
			}
			e.publish(model.EventDocumentVerified, doc, saved, nil)
			return saved, fmt.Errorf("verify %s: %w", doc.ID, lastErr)
		}
		if cerr := ctx.Err(); cerr != nil {
			return model.LockRecord{}, cerr
		}
		if lastErr == nil {
			lastErr = err
		}
		return model.LockRecord{}, fmt.Errorf("verify %s: %w", doc.ID, lastErr)
	}

	now := e.clock.Now().UTC()
	next := cur
	newlyLocked := !cur.IsLocked
	if newlyLocked {
		next.IsLocked = true
		next.LockedBy = actor.ID
		next.LockedAt = &now
		next.CanBeUnlocked = true
		next.RetentionPolicyApplied = false
	}
	verifiedAt := result.Timestamp.UTC()
	if result.Timestamp.IsZero() {
		verifiedAt = now
	}
	next.VerificationStatus = model.VerificationVerified
	next.Proof = result.Proof
	next.VerifiedAt = &verifiedAt

	saved, err := e.commit(ctx, next, "verify", actor.ID, "")
	if err != nil {
		return model.LockRecord{}, err
	}
	if newlyLocked {
		e.publish(model.EventDocumentLocked, doc, saved, nil)
	}
	e.publish(model.EventDocumentVerified, doc, saved, map[string]any{"proof": saved.Proof})
	return saved, nil
}

// LockAll locks every unlocked document of a transaction. A failure on one
// document does not stop the others.
func (e *Engine) LockAll(ctx context.Context, transactionID string, actor model.Actor) (res BulkResult, err error) {
	ctx, span := e.tracer.Start(ctx, "vault.LockAll", trace.WithAttributes(
		attribute.String("transaction.id", transactionID),
		attribute.String("actor.id", actor.ID),
	))
	defer func() {
		ferr := err
		if ferr == nil {
			ferr = res.Err
		}
		e.finish(span, "lock_all", transactionID, ferr)
	}()

	if !actor.Has(model.PermissionEdit) {
		return res, fmt.Errorf("lock transaction %s: %w", transactionID, ErrPermissionDenied)
	}
	docs, err := e.docs.DocumentsByTransaction(ctx, transactionID)
	if err != nil {
		return res, fmt.Errorf("list transaction documents: %w", err)
	}
	for _, doc := range docs {
		cur, _ := e.store.Get(transactionID, doc.ID)
		if cur.IsLocked {
			res.Skipped++
			continue
		}
		if _, lerr := e.lock(ctx, doc, cur, actor); lerr != nil {
			res.Err = multierr.Append(res.Err, fmt.Errorf("%s: %w", doc.ID, lerr))
			continue
		}
		res.Locked++
	}
	return res, nil
}

func (e *Engine) document(ctx context.Context, id string) (model.Document, error) {
	doc, _, err := e.docs.Document(ctx, id)
	if err != nil {
		return model.Document{}, fmt.Errorf("find document %s: %w", id, err)
	}
	return doc, nil
}

// commit stores next, records the activity entry and persists both.
func (e *Engine) commit(ctx context.Context, next model.LockRecord, action, actor, detail string) (model.LockRecord, error) {
	saved, err := e.store.CompareAndSwap(next)
	if err != nil {
		return model.LockRecord{}, err
	}
	entry := model.ActivityEntry{
		DocumentID:    saved.DocumentID,
		TransactionID: saved.TransactionID,
		Action:        action,
		Actor:         actor,
		At:            e.clock.Now().UTC(),
		Detail:        detail,
	}
	e.actMu.Lock()
	e.activity[saved.DocumentID] = append(e.activity[saved.DocumentID], entry)
	e.actMu.Unlock()

	if e.repo != nil {
		if err := e.repo.Save(context.WithoutCancel(ctx), saved, entry); err != nil {
			e.log.Error("persist lock record",
				zap.String("document_id", saved.DocumentID),
				zap.String("action", action),
				zap.Error(err),
			)
		}
	}
	return saved, nil
}

func (e *Engine) publish(t model.EventType, doc model.Document, rec model.LockRecord, extra map[string]any) {
	payload := map[string]any{
		"document_id":         doc.ID,
		"transaction_id":      doc.TransactionID,
		"is_locked":           rec.IsLocked,
		"locked_by":           rec.LockedBy,
		"verification_status": string(rec.VerificationStatus),
	}
	for k, v := range extra {
		payload[k] = v
	}
	subject := doc.TransactionID
	if subject == "" {
		subject = doc.AgentID
	}
	e.events.Publish(t, subject, eventSource, payload)
}

func (e *Engine) start(ctx context.Context, name, documentID string, actor model.Actor) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("document.id", documentID),
		attribute.String("actor.id", actor.ID),
		attribute.String("actor.role", actor.Role),
	))
}

func (e *Engine) finish(span trace.Span, action, subject string, err error) {
	defer span.End()
	e.metrics.Transition(action, err == nil)
	if err == nil {
		e.log.Debug("vault transition", zap.String("action", action), zap.String("subject", subject))
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, action+" failed")
	e.log.Info("vault transition refused",
		zap.String("action", action),
		zap.String("subject", subject),
		zap.Error(err),
	)
}

type nopPublisher struct{}

func (nopPublisher) Publish(t model.EventType, subject, source string, payload map[string]any) model.Event {
	return model.Event{Type: t, Subject: subject, Source: source, Payload: payload}
}
