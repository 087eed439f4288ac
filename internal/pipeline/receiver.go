package pipeline

import (
	"context"
	"log"

	"github.com/nbd-wtf/go-nostr"

	"github.com/humansinstitute/nostrMQ/internal/crypto"
	"github.com/humansinstitute/nostrMQ/internal/relaypool"
	"github.com/humansinstitute/nostrMQ/internal/tracker"
)

// Message is delivered to a receiver's on_message callback: the decrypted
// payload, the sender's pubkey, and the raw event for advanced callers.
type Message struct {
	Payload []byte
	Sender  string
	Raw     *nostr.Event
}

// OnMessage is the caller-supplied handler invoked for every newly
// delivered message. Errors are logged; they never stop delivery and
// never prevent the event from being marked processed.
type OnMessage func(msg Message) error

// Handle is a live subscription returned by Receiver.Start. Close is
// idempotent and tears down the underlying pool subscription.
type Handle struct {
	sub    *relaypool.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

// Close cancels the subscription on every relay it was sent to and waits
// for the receive loop goroutine to exit. Safe to call more than once.
func (h *Handle) Close() {
	h.cancel()
	h.sub.Close()
	<-h.done
}

// Receiver implements the C7 receive pipeline: subscribe, validate,
// decrypt, dedupe via the replay tracker, and deliver.
type Receiver struct {
	SecretKey string
	PubKey    string
	Pool      *relaypool.Pool
	Tracker   *tracker.Tracker
	Logger    *log.Logger
}

// NewReceiver builds a Receiver bound to a secret key, relay pool, and
// replay tracker.
func NewReceiver(secretKey string, pool *relaypool.Pool, tr *tracker.Tracker, logger *log.Logger) (*Receiver, error) {
	pub, err := crypto.DerivePub(secretKey)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Receiver{SecretKey: secretKey, PubKey: pub, Pool: pool, Tracker: tr, Logger: logger}, nil
}

// Start subscribes to kind-30072 events addressed to our pubkey since the
// tracker's watermark, and runs the per-event pipeline in a background
// goroutine until the returned Handle is closed.
func (r *Receiver) Start(ctx context.Context, onMessage OnMessage) *Handle {
	filters := nostr.Filters{{
		Kinds: []int{MessageKind},
		Tags:  nostr.TagMap{"p": []string{r.PubKey}},
		Since: timestampPtr(r.Tracker.SubscriptionSince()),
	}}

	sub := r.Pool.Subscribe(filters)
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-sub.Events:
				if !ok {
					return
				}
				r.handleEvent(ev, onMessage)
			case <-loopCtx.Done():
				return
			}
		}
	}()

	return &Handle{sub: sub, cancel: cancel, done: done}
}

func timestampPtr(unix int64) *nostr.Timestamp {
	ts := nostr.Timestamp(unix)
	return &ts
}

// handleEvent runs the per-event steps of the C7 contract (2-8; step 1,
// subid matching, is handled upstream by the pool routing events only to
// the subscription that requested them).
func (r *Receiver) handleEvent(ev *nostr.Event, onMessage OnMessage) bool {
	if ev.Kind != MessageKind {
		return false
	}

	addressed := false
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == "p" && tag[1] == r.PubKey {
			addressed = true
			break
		}
	}
	if !addressed {
		return false
	}

	ts := int64(ev.CreatedAt)
	if r.Tracker.HasProcessed(ev.ID, ts) {
		return false
	}

	cleartext, err := crypto.Decrypt(r.SecretKey, ev.PubKey, ev.Content)
	if err != nil {
		r.Logger.Printf("[pipeline] decrypt failed for event %s: %v", ev.ID, err)
		return false
	}

	env, err := unmarshalEnvelope(cleartext)
	if err != nil {
		r.Logger.Printf("[pipeline] malformed envelope in event %s: %v", ev.ID, err)
		return false
	}
	if env.Target != r.PubKey {
		r.Logger.Printf("[pipeline] envelope target mismatch in event %s", ev.ID)
		return false
	}
	if !isValidPubkeyHex(env.Response) {
		r.Logger.Printf("[pipeline] envelope response pubkey invalid in event %s", ev.ID)
		return false
	}

	if onMessage != nil {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.Logger.Printf("[pipeline] on_message panicked for event %s: %v", ev.ID, rec)
				}
			}()
			if err := onMessage(Message{Payload: env.Payload, Sender: ev.PubKey, Raw: ev}); err != nil {
				r.Logger.Printf("[pipeline] on_message returned error for event %s: %v", ev.ID, err)
			}
		}()
	}

	r.Tracker.MarkProcessed(ev.ID, ts)
	return true
}
