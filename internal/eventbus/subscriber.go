package eventbus

import (
	"sync"

	"go.uber.org/zap"

	"docvault/internal/model"
)

type subscriber struct {
	handler Handler
	max     int
	onDrop  func()
	log     *zap.Logger

	mu      sync.Mutex
	queue   []model.Event
	dropped int

	wake     chan struct{}
	done     chan struct{}
	finished chan struct{}
	stopOnce sync.Once
}

func newSubscriber(h Handler, max int, onDrop func(), log *zap.Logger) *subscriber {
	return &subscriber{
		handler:  h,
		max:      max,
		onDrop:   onDrop,
		log:      log,
		queue:    make([]model.Event, 0, max),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// push never blocks; a full queue loses its oldest event.
func (s *subscriber) push(e model.Event) {
	s.mu.Lock()
	if len(s.queue) >= s.max {
		s.queue = s.queue[1:]
		s.dropped++
		if s.onDrop != nil {
			s.onDrop()
		}
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) pop() (model.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return model.Event{}, false
	}
	e := s.queue[0]
	s.queue = s.queue[1:]
	return e, true
}

func (s *subscriber) run() {
	defer close(s.finished)
	for {
		select {
		case <-s.wake:
			s.drain()
		case <-s.done:
			s.drain()
			return
		}
	}
}

func (s *subscriber) drain() {
	for {
		e, ok := s.pop()
		if !ok {
			return
		}
		s.deliver(e)
	}
}

func (s *subscriber) deliver(e model.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("event handler panicked",
				zap.String("event_id", e.ID),
				zap.Any("panic", r),
			)
		}
	}()
	s.handler(e)
}

// stop ends the run loop once already queued events are handled. With
// discard set the queue is emptied first.
func (s *subscriber) stop(discard bool) {
	if discard {
		s.mu.Lock()
		s.queue = s.queue[:0]
		s.mu.Unlock()
	}
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *subscriber) wait() {
	<-s.finished
}
