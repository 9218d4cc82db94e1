package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/clock"
	"go.uber.org/zap"

	"docvault/internal/metrics"
	"docvault/internal/model"
)

const (
	// DefaultRelayBackoff is the fixed wait between reconnect attempts.
	DefaultRelayBackoff = 5 * time.Second
	// DefaultOutboxSize bounds the events held while disconnected.
	DefaultOutboxSize = 1024

	relayWriteTimeout = 10 * time.Second
)

var errRelayClosed = errors.New("relay connection closed by peer")

// Relay forwards published events to a websocket endpoint. Events wait in an
// outbox while the connection is down and leave it only after a successful
// write, so delivery is at least once.
type Relay struct {
	url     string
	dialer  *websocket.Dialer
	clock   clock.Clock
	backoff time.Duration
	log     *zap.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	outbox    []model.Event
	maxOutbox int
	wake      chan struct{}

	connected atomic.Bool
}

// NewRelay creates a relay to rawURL. http(s) URLs are mapped to ws(s).
func NewRelay(rawURL string, clk clock.Clock, backoff time.Duration, log *zap.Logger, m *metrics.Metrics) (*Relay, error) {
	wsURL, err := toWSURL(rawURL)
	if err != nil {
		return nil, err
	}
	if backoff <= 0 {
		backoff = DefaultRelayBackoff
	}
	if clk == nil {
		clk = clock.WallClock
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{
		url:       wsURL,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		clock:     clk,
		backoff:   backoff,
		log:       log.With(zap.String("component", "event_relay")),
		metrics:   m,
		maxOutbox: DefaultOutboxSize,
		wake:      make(chan struct{}, 1),
	}, nil
}

var _ Sink = (*Relay)(nil)

func toWSURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported relay scheme: %q", u.Scheme)
	}
	return u.String(), nil
}

// Enqueue adds e to the outbox, dropping the oldest event when full.
func (r *Relay) Enqueue(e model.Event) {
	r.mu.Lock()
	if len(r.outbox) >= r.maxOutbox {
		r.outbox = r.outbox[1:]
		r.metrics.Dropped()
	}
	r.outbox = append(r.outbox, e)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of events not yet written.
func (r *Relay) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outbox)
}

// Connected reports whether a connection is currently up.
func (r *Relay) Connected() bool { return r.connected.Load() }

// Run connects and forwards events until ctx is done, reconnecting after a
// fixed backoff whenever the connection fails.
func (r *Relay) Run(ctx context.Context) {
	for {
		conn, resp, err := r.dialer.DialContext(ctx, r.url, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err == nil {
			r.setConnected(true)
			r.log.Info("event relay connected", zap.String("url", r.url))
			err = r.pump(ctx, conn)
			_ = conn.Close()
			r.setConnected(false)
		}
		if ctx.Err() != nil {
			return
		}
		r.log.Warn("event relay disconnected, will reconnect",
			zap.Error(err),
			zap.Duration("backoff", r.backoff),
			zap.Int("pending", r.Pending()),
		)

		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(r.backoff):
		}
	}
}

func (r *Relay) setConnected(v bool) {
	r.connected.Store(v)
	r.metrics.Relay(v)
}

func (r *Relay) pump(ctx context.Context, conn *websocket.Conn) error {
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		e, ok := r.peek()
		if !ok {
			select {
			case <-ctx.Done():
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return nil
			case <-closed:
				return errRelayClosed
			case <-r.wake:
				continue
			}
		}

		data, err := json.Marshal(e)
		if err != nil {
			r.log.Error("drop unencodable event", zap.String("event_id", e.ID), zap.Error(err))
			r.remove(e.ID)
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(relayWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
		r.remove(e.ID)
	}
}

func (r *Relay) peek() (model.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.outbox) == 0 {
		return model.Event{}, false
	}
	return r.outbox[0], true
}

// remove drops the head if it is still id; an overflow may have evicted it already.
func (r *Relay) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.outbox) > 0 && r.outbox[0].ID == id {
		r.outbox = r.outbox[1:]
	}
}
