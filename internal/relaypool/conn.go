package relaypool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 1 << 20 // 1 MiB, generous for batched EVENT frames

	dialTimeout = 10 * time.Second

	backoffBase   = 1 * time.Second
	backoffFactor = 2
	backoffCap    = 30 * time.Second
	maxAttempts   = 10
)

// statusListener is notified whenever a connection transitions state.
type statusListener func(url string, state State)

// eventListener is notified of an inbound event addressed to a subscription.
type eventListener func(subID string, ev *nostr.Event)

// okListener is notified of the relay's OK response to a published event.
type okListener func(url, eventID string, accepted bool, message string)

// eoseListener is notified when a subscription reaches end-of-stored-events.
type eoseListener func(subID string)

// conn manages the lifecycle of a single relay connection: dialing,
// reconnect backoff, and the readPump/writePump goroutine pair that drive
// a gorilla/websocket.Conn.
type conn struct {
	url    string
	logger *log.Logger

	onStatus statusListener
	onEvent  eventListener
	onOK     okListener
	onEOSE   eoseListener

	mu       sync.Mutex
	state    State
	ws       *websocket.Conn
	attempts int
	send     chan []byte

	// subs is the set of subscription ids currently open against this
	// relay, replayed on reconnect so the remote REQ state is rebuilt.
	subs map[string]nostr.Filters

	cancel context.CancelFunc
	closed bool
}

func newConn(url string, logger *log.Logger, onStatus statusListener, onEvent eventListener, onOK okListener, onEOSE eoseListener) *conn {
	return &conn{
		url:      url,
		logger:   logger,
		onStatus: onStatus,
		onEvent:  onEvent,
		onOK:     onOK,
		onEOSE:   onEOSE,
		state:    Disconnected,
		subs:     make(map[string]nostr.Filters),
	}
}

func (c *conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if c.onStatus != nil {
		c.onStatus(c.url, s)
	}
}

func (c *conn) currentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// run drives the connect/retry loop for this relay until the parent
// context is canceled or Close is called. It is meant to be started in
// its own goroutine by the owning Pool.
func (c *conn) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		attempts := c.attempts
		c.mu.Unlock()

		if attempts >= maxAttempts {
			c.logger.Printf("[relaypool] %s: giving up after %d attempts, parked in error state", c.url, attempts)
			c.setState(Error)
			return
		}

		if err := c.connectAndServe(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.mu.Lock()
			c.attempts++
			n := c.attempts
			c.mu.Unlock()
			c.logger.Printf("[relaypool] %s: connection failed: %v", c.url, err)
			c.setState(Error)

			delay := backoffDelay(n)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			continue
		}
	}
}

// backoffDelay returns the wait before reconnect attempt n (1-indexed),
// base 1s doubling to a 30s cap.
func backoffDelay(n int) time.Duration {
	d := backoffBase
	for i := 1; i < n; i++ {
		d *= backoffFactor
		if d >= backoffCap {
			return backoffCap
		}
	}
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

func (c *conn) connectAndServe(ctx context.Context) error {
	c.setState(Connecting)

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, http.Header{})
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.ws = ws
	c.attempts = 0
	c.send = make(chan []byte, 64)
	subsSnapshot := make(map[string]nostr.Filters, len(c.subs))
	for k, v := range c.subs {
		subsSnapshot[k] = v
	}
	c.mu.Unlock()

	c.setState(Connected)
	c.logger.Printf("[relaypool] %s: connected", c.url)

	// Replay open subscriptions so server-side REQ state survives reconnect.
	for subID, filters := range subsSnapshot {
		frame, err := encodeReq(subID, filters)
		if err != nil {
			continue
		}
		c.enqueue(frame)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writePump(ctx, ws, done)
	}()
	go func() {
		defer wg.Done()
		c.readPump(ws, done)
	}()
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	// Neither pump exited because the context was canceled, so the socket
	// was lost mid-session (remote close, read/write error). Treat this
	// the same as a dial failure so run() backs off and counts the attempt.
	return fmt.Errorf("%s: connection lost", c.url)
}

func (c *conn) readPump(ws *websocket.Conn, done chan struct{}) {
	defer close(done)
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		kind, payload, err := parseInbound(raw)
		if err != nil {
			c.logger.Printf("[relaypool] %s: %v", c.url, err)
			continue
		}
		c.dispatch(kind, payload)
	}
}

func (c *conn) dispatch(kind string, payload interface{}) {
	switch p := payload.(type) {
	case inboundEvent:
		if c.onEvent != nil {
			c.onEvent(p.SubID, p.Event)
		}
	case inboundOK:
		if c.onOK != nil {
			c.onOK(c.url, p.EventID, p.Accepted, p.Message)
		}
	case inboundEOSE:
		if c.onEOSE != nil {
			c.onEOSE(p.SubID)
		}
	case inboundClosed:
		c.mu.Lock()
		delete(c.subs, p.SubID)
		c.mu.Unlock()
	case inboundNotice:
		c.logger.Printf("[relaypool] %s: NOTICE %s", c.url, p.Message)
	default:
		_ = kind
	}
}

func (c *conn) writePump(ctx context.Context, ws *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	c.mu.Lock()
	sendCh := c.send
	c.mu.Unlock()

	for {
		select {
		case msg, ok := <-sendCh:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// enqueue schedules a frame for the write pump. It drops the frame if the
// connection isn't currently established; callers needing delivery
// guarantees track their own OK/timeout.
func (c *conn) enqueue(frame []byte) bool {
	c.mu.Lock()
	ch := c.send
	c.mu.Unlock()
	if ch == nil {
		return false
	}
	select {
	case ch <- frame:
		return true
	default:
		return false
	}
}

func (c *conn) addSub(subID string, filters nostr.Filters) {
	c.mu.Lock()
	c.subs[subID] = filters
	c.mu.Unlock()
}

func (c *conn) removeSub(subID string) {
	c.mu.Lock()
	delete(c.subs, subID)
	c.mu.Unlock()
}

// close tears down the socket and prevents further reconnect attempts.
func (c *conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel := c.cancel
	ws := c.ws
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ws != nil {
		_ = ws.Close()
	}
	c.setState(Disconnected)
}
