// Package eventbus is the in-process publish/subscribe channel for storage,
// sync and vault events. Every publish also lands in a short-TTL cache and,
// when configured, an outbound relay.
package eventbus

import (
	"sync"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"go.uber.org/zap"

	"docvault/internal/metrics"
	"docvault/internal/model"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Handler receives events on the subscriber's own goroutine.
type Handler func(model.Event)

// Sink receives every published event for delivery outside the process.
// Enqueue must not block.
type Sink interface {
	Enqueue(model.Event)
}

// Publisher is the part of Bus used by producers.
type Publisher interface {
	Publish(t model.EventType, subject, source string, payload map[string]any) model.Event
}

// Bus delivers events asynchronously. A slow subscriber only fills its own
// queue, where the oldest event is dropped on overflow.
type Bus struct {
	mu     sync.RWMutex
	subs   map[model.EventType]map[uint64]*subscriber
	nextID uint64
	closed bool

	buffer  int
	cache   *Cache
	sink    Sink
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Bus.
type Option func(*Bus)

func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

func WithCache(c *Cache) Option { return func(b *Bus) { b.cache = c } }

func WithSink(s Sink) Option { return func(b *Bus) { b.sink = s } }

func WithClock(c clock.Clock) Option { return func(b *Bus) { b.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(b *Bus) { b.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(b *Bus) { b.metrics = m } }

// New creates a Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[model.EventType]map[uint64]*subscriber),
		buffer: DefaultBuffer,
		clock:  clock.WallClock,
		log:    zap.NewNop(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

var _ Publisher = (*Bus)(nil)

// Subscribe registers h for events of type t, or every event when t is
// model.EventWildcard. The returned func unsubscribes and discards undelivered
// events; calling it twice is safe.
func (b *Bus) Subscribe(t model.EventType, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}

	b.nextID++
	id := b.nextID
	s := newSubscriber(h, b.buffer, b.onDrop, b.log.With(zap.String("event_type", string(t))))
	if b.subs[t] == nil {
		b.subs[t] = make(map[uint64]*subscriber)
	}
	b.subs[t][id] = s
	go s.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[t], id)
			b.mu.Unlock()
			s.stop(true)
		})
	}
}

// Publish stamps and distributes an event. The cache and sink are updated
// before Publish returns; subscribers are notified asynchronously.
func (b *Bus) Publish(t model.EventType, subject, source string, payload map[string]any) model.Event {
	e := model.Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: b.clock.Now().UTC(),
		Subject:   subject,
		Source:    source,
		Payload:   payload,
	}

	if b.cache != nil {
		b.cache.Add(e)
	}
	if b.sink != nil {
		b.sink.Enqueue(e)
	}
	b.metrics.Published(string(t))

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return e
	}
	for _, s := range b.subs[t] {
		s.push(e)
	}
	if t != model.EventWildcard {
		for _, s := range b.subs[model.EventWildcard] {
			s.push(e)
		}
	}
	return e
}

// Cache returns the event cache, or nil.
func (b *Bus) Cache() *Cache { return b.cache }

// Close stops every subscriber after it has handled what is already queued.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*subscriber
	for _, m := range b.subs {
		for _, s := range m {
			all = append(all, s)
		}
	}
	b.subs = make(map[model.EventType]map[uint64]*subscriber)
	b.mu.Unlock()

	for _, s := range all {
		s.stop(false)
	}
	for _, s := range all {
		s.wait()
	}
}

func (b *Bus) onDrop() {
	b.metrics.Dropped()
}
