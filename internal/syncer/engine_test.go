package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"docvault/internal/backend"
	"docvault/internal/model"
	"docvault/internal/storage"
	"docvault/internal/validation"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	name string

	mu         sync.Mutex
	failures   int
	failAlways bool
	calls      int
	stored     map[string][]byte
	block      chan struct{}
	started    chan struct{}

	active    atomic.Int32
	maxActive atomic.Int32
}

func newFake(name string) *fakeAdapter {
	return &fakeAdapter{name: name, stored: make(map[string][]byte)}
}

func (f *fakeAdapter) Name() string                  { return f.name }
func (f *fakeAdapter) Key(doc model.Document) string { return "k/" + doc.ID }

func (f *fakeAdapter) Put(ctx context.Context, doc model.Document, data []byte) (model.BackendRef, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls++
	fail := f.failAlways || f.failures > 0
	if f.failures > 0 {
		f.failures--
	}
	block, started := f.block, f.started
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return model.BackendRef{}, ctx.Err()
		}
	}
	if fail {
		return model.BackendRef{}, fmt.Errorf("%s unavailable", f.name)
	}

	f.mu.Lock()
	f.stored[f.Key(doc)] = append([]byte(nil), data...)
	f.mu.Unlock()
	return model.BackendRef{BackendName: f.name, ExternalKey: f.Key(doc)}, nil
}

func (f *fakeAdapter) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.stored[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func (f *fakeAdapter) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.stored, key)
	return nil
}

func (f *fakeAdapter) Status(context.Context) backend.Status {
	return backend.Status{Name: f.name, Healthy: true}
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAdapter) has(doc string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.stored["k/"+doc]
	return ok
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.Event
}

func (p *recordingPublisher) Publish(t model.EventType, subject, source string, payload map[string]any) model.Event {
	e := model.Event{Type: t, Subject: subject, Source: source, Payload: payload}
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
	return e
}

func (p *recordingPublisher) ofType(t model.EventType) []model.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	engine *Engine
	clock  *testclock.Clock
	events *recordingPublisher
	spool  *storage.Local
}

func newHarness(t *testing.T, adapters []backend.Adapter, opts ...Option) *harness {
	t.Helper()
	spool, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = spool.Close() })
	return newHarnessWithSpool(t, spool, adapters, opts...)
}

func newHarnessWithSpool(t *testing.T, spool *storage.Local, adapters []backend.Adapter, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clock:  testclock.NewClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
		events: &recordingPublisher{},
		spool:  spool,
	}
	all := append([]Option{WithClock(h.clock), WithPublisher(h.events)}, opts...)
	e, err := New(DefaultConfig(), adapters, spool, all...)
	require.NoError(t, err)
	h.engine = e
	return h
}

func (h *harness) spooled(t *testing.T, id string) bool {
	t.Helper()
	rc, _, err := h.spool.Get(context.Background(), payloadKey(id))
	if err != nil {
		require.ErrorIs(t, err, storage.ErrNotFound)
		return false
	}
	_ = rc.Close()
	return true
}

func pdfFile(name string, size int) model.UploadFile {
	b := bytes.Repeat([]byte{' '}, size)
	copy(b, "%PDF-1.4\n")
	return model.UploadFile{Name: name, MimeType: "application/pdf", Data: b}
}

func adapters(fs ...*fakeAdapter) []backend.Adapter {
	out := make([]backend.Adapter, len(fs))
	for i, f := range fs {
		out[i] = f
	}
	return out
}

func TestNew(t *testing.T) {
	spool, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = New(DefaultConfig(), nil, spool)
	assert.ErrorIs(t, err, ErrNoBackends)

	_, err = New(DefaultConfig(), adapters(newFake("a")), nil)
	assert.Error(t, err)

	_, err = New(DefaultConfig(), adapters(newFake("a"), newFake("a")), spool)
	assert.ErrorContains(t, err, "duplicate")
}

func TestEngine_UploadAllBackends(t *testing.T) {
	primary, secondary, local := newFake("primary"), newFake("secondary"), newFake("local")
	h := newHarness(t, adapters(primary, secondary, local))

	var progress []float64
	var mu sync.Mutex
	res, err := h.engine.Upload(context.Background(), pdfFile("Loan Agreement.pdf", 2<<20), UploadOptions{
		TransactionID: "tx-1",
		OwnerID:       "alice",
		Role:          "borrower",
		Tags:          []string{"signed"},
		Metadata:      map[string]string{"source": "portal"},
		Progress: func(p float64) {
			mu.Lock()
			progress = append(progress, p)
			mu.Unlock()
		},
	})

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Len(t, res.BackendRefs, 3)
	assert.Empty(t, res.PendingBackends)
	assert.Regexp(t, `^loan-agreement-\d+-[0-9a-f]{8}$`, res.DocumentID)
	require.NotNil(t, res.Document)
	assert.Equal(t, model.CategoryLegal, res.Document.Category)
	assert.Equal(t, "application/pdf", res.Document.MimeType)
	assert.Contains(t, res.Document.Tags, "signed")
	assert.Contains(t, res.Document.Tags, "agreement")
	for _, ref := range res.BackendRefs {
		assert.False(t, ref.ConfirmedAt.IsZero())
	}

	assert.Equal(t, model.SyncQueueStatus{}, h.engine.SyncQueueStatus())
	uploaded := h.events.ofType(model.EventFileUploaded)
	require.Len(t, uploaded, 3)
	assert.Equal(t, "tx-1", uploaded[0].Subject)
	assert.Equal(t, res.DocumentID, uploaded[0].Payload["document_id"])
	assert.Equal(t, []float64{1.0 / 3, 2.0 / 3, 1}, progress)
	assert.False(t, h.spooled(t, res.DocumentID), "payload is discarded once every backend has it")

	doc, refs, err := h.engine.Document(context.Background(), res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, res.DocumentID, doc.ID)
	assert.Len(t, refs, 3)
}

func TestEngine_UploadRejectsExecutable(t *testing.T) {
	primary := newFake("primary")
	h := newHarness(t, adapters(primary))
	before := h.engine.SyncQueueStatus()

	res, err := h.engine.Upload(context.Background(), model.UploadFile{
		Name: "installer.exe",
		Data: []byte("MZ\x90\x00\x03"),
	}, UploadOptions{Role: "admin"})

	require.Error(t, err)
	assert.ErrorIs(t, err, validation.ErrInvalidFile)
	assert.Equal(t, UploadResult{}, res)
	assert.Equal(t, 0, primary.callCount())
	assert.Equal(t, before, h.engine.SyncQueueStatus())
	assert.Empty(t, h.events.ofType(model.EventFileUploaded))
}

func TestEngine_PartialSuccess(t *testing.T) {
	primary, secondary := newFake("primary"), newFake("secondary")
	secondary.failAlways = true
	h := newHarness(t, adapters(primary, secondary))

	res, err := h.engine.Upload(context.Background(), pdfFile("statement.pdf", 1024), UploadOptions{AgentID: "agent-7", Role: "agent"})

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"secondary"}, res.PendingBackends)
	assert.Equal(t, model.SyncQueueStatus{Pending: 1}, h.engine.SyncQueueStatus())
	assert.True(t, h.spooled(t, res.DocumentID), "payload is kept for the retry")
	assert.Equal(t, "agent-7", h.events.ofType(model.EventFileUploaded)[0].Subject)

	items := h.engine.Queue().Items()
	require.Len(t, items, 1)
	assert.Equal(t, h.clock.Now().Add(time.Second), items[0].NextAttemptAt)
	assert.Contains(t, items[0].LastError, "secondary unavailable")
}

func TestEngine_AllBackendsFail(t *testing.T) {
	primary, secondary := newFake("primary"), newFake("secondary")
	primary.failAlways, secondary.failAlways = true, true
	h := newHarness(t, adapters(primary, secondary))

	res, err := h.engine.Upload(context.Background(), pdfFile("memo.pdf", 64), UploadOptions{Role: "lender"})

	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Nil(t, res.Document)
	assert.ElementsMatch(t, []string{"primary", "secondary"}, res.PendingBackends)
	assert.Equal(t, model.SyncQueueStatus{Pending: 2}, h.engine.SyncQueueStatus())

	_, _, err = h.engine.Document(context.Background(), res.DocumentID)
	assert.ErrorIs(t, err, ErrNotFound, "a document with no refs does not exist yet")
}

func TestEngine_RetryFailsTwiceThenSucceeds(t *testing.T) {
	primary, secondary, local := newFake("primary"), newFake("secondary"), newFake("local")
	secondary.failures = 2
	h := newHarness(t, adapters(primary, secondary, local))
	ctx := context.Background()
	start := h.clock.Now()

	res, err := h.engine.Upload(ctx, pdfFile("appraisal.pdf", 4096), UploadOptions{TransactionID: "tx-9", Role: "lender"})
	require.NoError(t, err)
	require.Equal(t, []string{"secondary"}, res.PendingBackends)

	var delays []time.Duration
	item := h.engine.Queue().Items()[0]
	delays = append(delays, item.NextAttemptAt.Sub(start))

	assert.Equal(t, 0, h.engine.DrainOnce(ctx), "nothing is due before the first delay")

	h.clock.Advance(time.Second)
	assert.Equal(t, 1, h.engine.DrainOnce(ctx))
	item = h.engine.Queue().Items()[0]
	assert.Equal(t, 1, item.RetryCount)
	delays = append(delays, item.NextAttemptAt.Sub(h.clock.Now()))

	h.clock.Advance(time.Second)
	assert.Equal(t, 0, h.engine.DrainOnce(ctx))
	h.clock.Advance(time.Second)
	assert.Equal(t, 1, h.engine.DrainOnce(ctx))

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
	assert.Equal(t, 3, secondary.callCount(), "one upload write and two retries")
	assert.Empty(t, h.engine.Queue().Items())
	assert.Equal(t, model.SyncQueueStatus{}, h.engine.SyncQueueStatus())

	_, refs, err := h.engine.Document(ctx, res.DocumentID)
	require.NoError(t, err)
	names := make([]string, 0, len(refs))
	for _, r := range refs {
		names = append(names, r.BackendName)
	}
	assert.Equal(t, []string{"local", "primary", "secondary"}, names)

	synced := h.events.ofType(model.EventDocumentSynced)
	require.Len(t, synced, 1)
	assert.Equal(t, "secondary", synced[0].Payload["backend_name"])
	assert.False(t, h.spooled(t, res.DocumentID))
}

func TestEngine_RetryExhaustion(t *testing.T) {
	primary, secondary := newFake("primary"), newFake("secondary")
	secondary.failAlways = true
	h := newHarness(t, adapters(primary, secondary))
	ctx := context.Background()

	res, err := h.engine.Upload(ctx, pdfFile("deed.pdf", 128), UploadOptions{TransactionID: "tx-2", Role: "broker"})
	require.NoError(t, err)

	var delays []time.Duration
	prev := time.Duration(0)
	for i := 0; i < 4; i++ {
		item := h.engine.Queue().Items()[0]
		wait := item.NextAttemptAt.Sub(h.clock.Now())
		assert.GreaterOrEqual(t, wait, prev, "backoff never shrinks")
		prev = wait
		delays = append(delays, wait)
		h.clock.Advance(wait)
		require.Equal(t, 1, h.engine.DrainOnce(ctx))
	}

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, delays)
	assert.Equal(t, model.SyncQueueStatus{Pending: 0, Failed: 1}, h.engine.SyncQueueStatus())
	h.clock.Advance(time.Hour)
	assert.Equal(t, 0, h.engine.DrainOnce(ctx))

	syncErrors := h.events.ofType(model.EventSyncError)
	require.Len(t, syncErrors, 1)
	assert.Equal(t, res.DocumentID, syncErrors[0].Payload["document_id"])
	assert.Equal(t, "tx-2", syncErrors[0].Subject)

	secondary.mu.Lock()
	secondary.failAlways = false
	secondary.mu.Unlock()
	require.NoError(t, h.engine.Requeue(ctx, res.DocumentID, "secondary"))
	assert.Equal(t, 1, h.engine.DrainOnce(ctx))
	assert.Equal(t, model.SyncQueueStatus{}, h.engine.SyncQueueStatus())
	assert.True(t, secondary.has(res.DocumentID))
}

func TestEngine_CancelStopsFurtherAttempts(t *testing.T) {
	fast, slow := newFake("primary"), newFake("secondary")
	slow.block = make(chan struct{})
	slow.started = make(chan struct{})
	h := newHarness(t, adapters(fast, slow))

	ctx, cancel := context.WithCancel(context.Background())
	type out struct {
		res UploadResult
		err error
	}
	done := make(chan out, 1)
	go func() {
		res, err := h.engine.Upload(ctx, pdfFile("title.pdf", 256), UploadOptions{TransactionID: "tx-3", Role: "agent"})
		done <- out{res, err}
	}()

	<-slow.started
	require.Eventually(t, func() bool { return len(h.events.ofType(model.EventFileUploaded)) == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	got := <-done
	require.NoError(t, got.err)
	assert.True(t, got.res.Success)
	assert.Len(t, got.res.BackendRefs, 1)
	assert.Equal(t, []string{"secondary"}, got.res.SkippedBackends)
	assert.Empty(t, got.res.PendingBackends)
	assert.Equal(t, model.SyncQueueStatus{}, h.engine.SyncQueueStatus(), "cancelled writes are not queued")
	assert.True(t, fast.has(got.res.DocumentID), "completed writes are kept")
}

func TestEngine_UploadWithCancelledContext(t *testing.T) {
	primary := newFake("primary")
	h := newHarness(t, adapters(primary))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.engine.Upload(ctx, pdfFile("a.pdf", 10), UploadOptions{Role: "agent"})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, primary.callCount())
}

func TestEngine_BatchUpload(t *testing.T) {
	primary := newFake("primary")
	primary.block = make(chan struct{})
	h := newHarness(t, adapters(primary))

	files := []model.UploadFile{
		pdfFile("a.pdf", 10), pdfFile("b.pdf", 10), pdfFile("c.pdf", 10),
		{Name: "virus.exe", Data: []byte("MZ")},
		pdfFile("d.pdf", 10), pdfFile("e.pdf", 10),
	}

	var mu sync.Mutex
	var progress []float64
	done := make(chan []FileResult, 1)
	go func() {
		done <- h.engine.BatchUpload(context.Background(), files, UploadOptions{
			TransactionID: "tx-4",
			Role:          "agent",
			Progress: func(p float64) {
				mu.Lock()
				progress = append(progress, p)
				mu.Unlock()
			},
		})
	}()

	require.Eventually(t, func() bool { return primary.active.Load() == 3 }, time.Second, 5*time.Millisecond)
	close(primary.block)
	results := <-done

	assert.LessOrEqual(t, primary.maxActive.Load(), int32(3))
	require.Len(t, results, len(files))
	for i, r := range results {
		assert.Equal(t, files[i].Name, r.Name)
		if r.Name == "virus.exe" {
			assert.ErrorIs(t, r.Err, validation.ErrInvalidFile)
			continue
		}
		assert.NoError(t, r.Err)
		assert.True(t, r.Result.Success)
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, progress)
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1])
	}
	assert.InDelta(t, 1.0, progress[len(progress)-1], 1e-9)

	docs, err := h.engine.DocumentsByTransaction(context.Background(), "tx-4")
	require.NoError(t, err)
	assert.Len(t, docs, 5)
}

func TestEngine_RestoreRetriesAfterRestart(t *testing.T) {
	spool, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	defer spool.Close()
	repo := newMemQueueRepo()
	ctx := context.Background()

	primary, broken := newFake("primary"), newFake("secondary")
	broken.failAlways = true
	first := newHarnessWithSpool(t, spool, adapters(primary, broken), WithQueueRepository(repo))
	res, err := first.engine.Upload(ctx, pdfFile("kyc.pdf", 512), UploadOptions{TransactionID: "tx-5", Role: "agent"})
	require.NoError(t, err)
	require.Equal(t, []string{"secondary"}, res.PendingBackends)

	healthy := newFake("secondary")
	second := newHarnessWithSpool(t, spool, adapters(newFake("primary"), healthy), WithQueueRepository(repo))
	require.NoError(t, second.engine.Restore(ctx))
	assert.Equal(t, model.SyncQueueStatus{Pending: 1}, second.engine.SyncQueueStatus())

	second.clock.Advance(time.Hour)
	assert.Equal(t, 1, second.engine.DrainOnce(ctx))
	assert.True(t, healthy.has(res.DocumentID))
	assert.Equal(t, model.SyncQueueStatus{}, second.engine.SyncQueueStatus())

	persisted, _ := repo.LoadAll(ctx)
	assert.Empty(t, persisted)

	doc, _, err := second.engine.Document(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "kyc.pdf", doc.Name)
}

func TestEngine_StartStop(t *testing.T) {
	primary, secondary := newFake("primary"), newFake("secondary")
	secondary.failures = 1
	h := newHarness(t, adapters(primary, secondary))

	_, err := h.engine.Upload(context.Background(), pdfFile("note.pdf", 32), UploadOptions{Role: "agent"})
	require.NoError(t, err)
	require.Equal(t, model.SyncQueueStatus{Pending: 1}, h.engine.SyncQueueStatus())

	h.engine.Start(context.Background())
	h.engine.Start(context.Background())
	require.NoError(t, h.clock.WaitAdvance(time.Second, time.Second, 1))
	assert.Eventually(t, func() bool {
		return h.engine.SyncQueueStatus() == model.SyncQueueStatus{}
	}, time.Second, 5*time.Millisecond)

	h.engine.Stop()
	h.engine.Stop()
}

func TestEngine_ContentAndDelete(t *testing.T) {
	primary, secondary := newFake("primary"), newFake("secondary")
	h := newHarness(t, adapters(primary, secondary))
	ctx := context.Background()

	file := pdfFile("tax-return.pdf", 100)
	res, err := h.engine.Upload(ctx, file, UploadOptions{TransactionID: "tx-6", Role: "agent"})
	require.NoError(t, err)

	data, err := h.engine.Content(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, file.Data, data)

	require.NoError(t, h.engine.Delete(ctx, res.DocumentID))
	assert.False(t, primary.has(res.DocumentID))
	assert.False(t, secondary.has(res.DocumentID))

	_, _, err = h.engine.Document(ctx, res.DocumentID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, h.engine.Delete(ctx, res.DocumentID), ErrNotFound)
	_, err = h.engine.Content(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestEngine_DeleteDuringRetryStaysDeleted(t *testing.T) {
	primary, secondary := newFake("primary"), newFake("secondary")
	secondary.failures = 1
	h := newHarness(t, adapters(primary, secondary))
	ctx := context.Background()

	res, err := h.engine.Upload(ctx, pdfFile("survey.pdf", 256), UploadOptions{TransactionID: "tx-11", Role: "agent"})
	require.NoError(t, err)
	require.Equal(t, []string{"secondary"}, res.PendingBackends)

	block, started := make(chan struct{}), make(chan struct{})
	secondary.mu.Lock()
	secondary.block, secondary.started = block, started
	secondary.mu.Unlock()

	h.clock.Advance(time.Second)
	drained := make(chan int, 1)
	go func() { drained <- h.engine.DrainOnce(ctx) }()

	<-started
	require.NoError(t, h.engine.Delete(ctx, res.DocumentID))
	close(block)
	assert.Equal(t, 1, <-drained)

	_, _, err = h.engine.Document(ctx, res.DocumentID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, primary.has(res.DocumentID))
	assert.False(t, secondary.has(res.DocumentID), "the late write is removed")
	assert.Empty(t, h.events.ofType(model.EventDocumentSynced))
	assert.Empty(t, h.events.ofType(model.EventSyncError))
	assert.Equal(t, model.SyncQueueStatus{}, h.engine.SyncQueueStatus())
	assert.False(t, h.spooled(t, res.DocumentID))

	docs, err := h.engine.DocumentsByTransaction(ctx, "tx-11")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestEngine_DeleteFailureKeepsDocument(t *testing.T) {
	primary := newFake("primary")
	stuck := &failingDeleteAdapter{fakeAdapter: newFake("secondary")}
	h := newHarness(t, []backend.Adapter{primary, stuck})
	ctx := context.Background()

	res, err := h.engine.Upload(ctx, pdfFile("lease.pdf", 64), UploadOptions{Role: "agent"})
	require.NoError(t, err)

	err = h.engine.Delete(ctx, res.DocumentID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secondary")

	doc, refs, err := h.engine.Document(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "lease.pdf", doc.Name)
	assert.Len(t, refs, 2)
}

type failingDeleteAdapter struct {
	*fakeAdapter
}

func (f *failingDeleteAdapter) Delete(context.Context, string) error {
	return errors.New("secondary refused delete")
}

func TestEngine_BackendTimeoutIsQueued(t *testing.T) {
	primary, secondary := newFake("primary"), newFake("secondary")
	secondary.block = make(chan struct{})
	h := newHarness(t, adapters(primary, secondary))
	h.engine.cfg.BackendTimeout = 20 * time.Millisecond

	res, err := h.engine.Upload(context.Background(), pdfFile("inspection.pdf", 128), UploadOptions{TransactionID: "tx-12", Role: "agent"})

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"secondary"}, res.PendingBackends)
	assert.Empty(t, res.SkippedBackends, "a timed out write is retried, not skipped")
	assert.Equal(t, model.SyncQueueStatus{Pending: 1}, h.engine.SyncQueueStatus())

	items := h.engine.Queue().Items()
	require.Len(t, items, 1)
	assert.Contains(t, items[0].LastError, context.DeadlineExceeded.Error())
	assert.True(t, h.spooled(t, res.DocumentID))
}

func TestEngine_SyncErrorSubjectWithoutPayload(t *testing.T) {
	primary, secondary := newFake("primary"), newFake("secondary")
	secondary.failAlways = true
	h := newHarness(t, adapters(primary, secondary))
	h.engine.queue.maxRetries = 0
	ctx := context.Background()

	res, err := h.engine.Upload(ctx, pdfFile("hoa.pdf", 32), UploadOptions{TransactionID: "tx-13", Role: "agent"})
	require.NoError(t, err)
	require.NoError(t, h.spool.Delete(ctx, payloadKey(res.DocumentID)))
	h.engine.Queue().Enqueue(ctx, "doc-unknown", "secondary", payloadKey("doc-unknown"), errors.New("secondary unavailable"))

	h.clock.Advance(time.Second)
	require.Equal(t, 2, h.engine.DrainOnce(ctx))

	subjects := map[string]string{}
	for _, e := range h.events.ofType(model.EventSyncError) {
		subjects[e.Payload["document_id"].(string)] = e.Subject
	}
	assert.Equal(t, map[string]string{
		res.DocumentID: "tx-13",
		"doc-unknown":  "doc-unknown",
	}, subjects)
	assert.Equal(t, model.SyncQueueStatus{Failed: 2}, h.engine.SyncQueueStatus())
}

var _ Recorder = (*backend.MetadataAdapter)(nil)

type recordingAdapter struct {
	*fakeAdapter
	records map[string]model.Document
	err     error
}

func (r *recordingAdapter) Record(_ context.Context, id string) (*model.Document, error) {
	if r.err != nil {
		return nil, r.err
	}
	doc, ok := r.records[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &doc, nil
}

func TestEngine_DocumentFallsBackToRecorder(t *testing.T) {
	metadata := &recordingAdapter{
		fakeAdapter: newFake("metadata"),
		records: map[string]model.Document{
			"doc-indexed": {ID: "doc-indexed", Name: "closing-disclosure.pdf", TransactionID: "tx-14"},
		},
	}
	h := newHarness(t, []backend.Adapter{newFake("primary"), metadata})
	ctx := context.Background()

	doc, refs, err := h.engine.Document(ctx, "doc-indexed")
	require.NoError(t, err)
	assert.Equal(t, "closing-disclosure.pdf", doc.Name)
	assert.Nil(t, refs)

	_, _, err = h.engine.Document(ctx, "doc-missing")
	assert.ErrorIs(t, err, ErrNotFound)

	metadata.err = errors.New("connection refused")
	_, _, err = h.engine.Document(ctx, "doc-indexed")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "metadata")
}

func TestEngine_ListFromCatalog(t *testing.T) {
	h := newHarness(t, adapters(newFake("primary")))
	ctx := context.Background()

	for _, n := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		_, err := h.engine.Upload(ctx, pdfFile(n, 10), UploadOptions{Role: "agent"})
		require.NoError(t, err)
		h.clock.Advance(time.Second)
	}

	page, err := h.engine.List(ctx, repositoryPage(2, 0))
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "c.pdf", page.Items[0].Name)

	page, err = h.engine.List(ctx, repositoryPage(2, 5))
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}
