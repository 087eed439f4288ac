package relaypool

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/humansinstitute/nostrMQ/internal/nmqerr"
)

// PublishResult reports the outcome of publishing one event to one relay.
type PublishResult struct {
	URL      string
	Accepted bool
	Message  string
	Err      error
}

// Subscription is a live handle to an open REQ against the pool. Events
// matching the filters are delivered on Events until Close is called.
type Subscription struct {
	ID     string
	Events chan *nostr.Event

	pool   *Pool
	closed chan struct{}
	once   sync.Once
}

// Close unsubscribes from every relay carrying this subscription and stops
// event delivery. Close is idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.closed)
		s.pool.unsubscribe(s.ID)
	})
}

// Pool owns a set of relay connections and multiplexes publish/subscribe
// traffic across them.
type Pool struct {
	logger *log.Logger
	ctx    context.Context
	cancel context.CancelFunc

	conns *xsync.MapOf[string, *conn]
	subs  *xsync.MapOf[string, *Subscription]

	pendingMu sync.Mutex
	waiters   map[string][]chan PublishResult

	health *HealthTracker

	statusMu       sync.RWMutex
	onStatusChange StatusChangeCallback
}

// StatusChangeCallback is invoked whenever a relay's connection state
// changes, so a caller can observe C3 transitions without polling List.
type StatusChangeCallback func(url string, state State)

// SetOnStatusChange registers the callback invoked on every relay state
// transition. Passing nil disables notification.
func (p *Pool) SetOnStatusChange(callback StatusChangeCallback) {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	p.onStatusChange = callback
}

// New builds an empty pool. Relays are added with Add.
func New(logger *log.Logger) *Pool {
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		conns:   xsync.NewMapOf[string, *conn](),
		subs:    xsync.NewMapOf[string, *Subscription](),
		waiters: make(map[string][]chan PublishResult),
		health:  NewHealthTracker(),
	}
}

// Add registers a relay URL and starts its connection loop. Add is
// idempotent: re-adding an existing URL resets its backoff attempt count.
func (p *Pool) Add(url string) {
	if c, ok := p.conns.Load(url); ok {
		c.mu.Lock()
		c.attempts = 0
		c.mu.Unlock()
		return
	}
	c := newConn(url, p.logger, p.onStatus, p.onEvent, p.onOK, p.onEOSE)
	p.conns.Store(url, c)
	go c.run(p.ctx)
}

// Remove closes and forgets a relay.
func (p *Pool) Remove(url string) {
	if c, ok := p.conns.LoadAndDelete(url); ok {
		c.close()
	}
}

// List returns the state of every known relay.
func (p *Pool) List() map[string]State {
	out := make(map[string]State)
	p.conns.Range(func(url string, c *conn) bool {
		out[url] = c.currentState()
		return true
	})
	return out
}

// Health returns the current health score (0-100) for a relay, or -1 if
// the relay is unknown.
func (p *Pool) Health(url string) int {
	return p.health.Score(url)
}

// Publish sends ev to every connected relay and resolves as soon as one
// relay accepts it (the first accept wins), or once every enqueued relay
// has answered without an accept, or ctx expires first. It returns every
// PublishResult collected before resolving.
func (p *Pool) Publish(ctx context.Context, ev *nostr.Event) ([]PublishResult, error) {
	frame, err := encodeEvent(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	var targets []string
	p.conns.Range(func(url string, c *conn) bool {
		if c.currentState() == Connected {
			targets = append(targets, url)
		}
		return true
	})
	if len(targets) == 0 {
		return nil, nmqerr.New(nmqerr.RelayConnectError, "no connected relays")
	}

	ch := make(chan PublishResult, len(targets))
	p.pendingMu.Lock()
	p.waiters[ev.ID] = append(p.waiters[ev.ID], ch)
	p.pendingMu.Unlock()

	defer func() {
		p.pendingMu.Lock()
		delete(p.waiters, ev.ID)
		p.pendingMu.Unlock()
	}()

	sentTo := 0
	for _, url := range targets {
		c, ok := p.conns.Load(url)
		if !ok {
			continue
		}
		if c.enqueue(frame) {
			sentTo++
		}
	}
	if sentTo == 0 {
		return nil, nmqerr.New(nmqerr.RelayConnectError, "failed to enqueue publish on any relay")
	}

	results := make([]PublishResult, 0, sentTo)
	for i := 0; i < sentTo; i++ {
		select {
		case r := <-ch:
			results = append(results, r)
			if r.Accepted {
				return results, nil
			}
		case <-ctx.Done():
			return results, ctx.Err()
		}
	}
	return results, nil
}

// Subscribe opens a REQ against every connected relay and returns a handle
// streaming matching events. The same filters are replayed automatically
// on reconnect.
func (p *Pool) Subscribe(filters nostr.Filters) *Subscription {
	subID := uuid.NewString()
	sub := &Subscription{
		ID:     subID,
		Events: make(chan *nostr.Event, 256),
		pool:   p,
		closed: make(chan struct{}),
	}
	p.subs.Store(subID, sub)

	p.conns.Range(func(url string, c *conn) bool {
		c.addSub(subID, filters)
		if c.currentState() == Connected {
			if frame, err := encodeReq(subID, filters); err == nil {
				c.enqueue(frame)
			}
		}
		return true
	})
	return sub
}

func (p *Pool) unsubscribe(subID string) {
	p.subs.Delete(subID)
	p.conns.Range(func(url string, c *conn) bool {
		c.removeSub(subID)
		if c.currentState() == Connected {
			if frame, err := encodeClose(subID); err == nil {
				c.enqueue(frame)
			}
		}
		return true
	})
}

// Close tears down every relay connection and stops the pool.
func (p *Pool) Close() {
	p.cancel()
	p.conns.Range(func(url string, c *conn) bool {
		c.close()
		return true
	})
	p.subs.Range(func(id string, sub *Subscription) bool {
		sub.Close()
		return true
	})
}

func (p *Pool) onStatus(url string, state State) {
	p.health.RecordState(url, state)
	p.statusMu.RLock()
	cb := p.onStatusChange
	p.statusMu.RUnlock()
	if cb != nil {
		cb(url, state)
	}
}

func (p *Pool) onEvent(subID string, ev *nostr.Event) {
	if sub, ok := p.subs.Load(subID); ok {
		select {
		case sub.Events <- ev:
		case <-sub.closed:
		default:
			p.logger.Printf("[relaypool] subscription %s: receive buffer full, dropping event %s", subID, ev.ID)
		}
	}
}

func (p *Pool) onOK(url, eventID string, accepted bool, message string) {
	p.health.RecordPublish(url, accepted)
	p.pendingMu.Lock()
	waiters := append([]chan PublishResult(nil), p.waiters[eventID]...)
	p.pendingMu.Unlock()
	for _, ch := range waiters {
		select {
		case ch <- PublishResult{URL: url, Accepted: accepted, Message: message}:
		default:
		}
	}
}

func (p *Pool) onEOSE(subID string) {
	_ = subID
}

// ConnectTimeout is the recommended per-relay dial timeout for callers
// building their own contexts around Pool operations.
const ConnectTimeout = dialTimeout
