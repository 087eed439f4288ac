// Package nostrmq provides encrypted, point-to-point RPC messaging over
// the Nostr relay network: NIP-04 encryption, optional NIP-13
// proof-of-work, and replay-safe delivery on kind-30072 events.
package nostrmq

import (
	"context"
	"fmt"
	"log"

	"github.com/nbd-wtf/go-nostr"

	"github.com/humansinstitute/nostrMQ/internal/config"
	"github.com/humansinstitute/nostrMQ/internal/crypto"
	"github.com/humansinstitute/nostrMQ/internal/nmqerr"
	"github.com/humansinstitute/nostrMQ/internal/pipeline"
	"github.com/humansinstitute/nostrMQ/internal/pow"
	"github.com/humansinstitute/nostrMQ/internal/relaypool"
	"github.com/humansinstitute/nostrMQ/internal/tracker"
)

// Error is re-exported so callers can type-switch on nostrMQ failures
// without importing an internal package.
type Error = nmqerr.Error

// SendRequest mirrors the external send() contract from spec.md §6.
type SendRequest struct {
	Target    string
	Payload   interface{}
	Response  string
	Relays    []string
	Pow       interface{}
	TimeoutMS int
}

// SendResult reports the event id published and the per-relay outcome.
type SendResult struct {
	EventID string
	Results []relaypool.PublishResult
}

// ReceiveRequest mirrors the external receive() contract from spec.md §6.
type ReceiveRequest struct {
	OnMessage       func(payload []byte, sender string, raw *nostr.Event) error
	Relays          []string
	PrivkeyOverride string
	AutoAck         bool
}

// SubscriptionHandle is returned from Receive; Close tears the subscription down.
type SubscriptionHandle struct {
	inner *pipeline.Handle
}

// Close cancels the subscription on every relay it was sent to. Idempotent.
func (h *SubscriptionHandle) Close() {
	h.inner.Close()
}

// Client is a configured nostrMQ node: one identity, one relay pool.
type Client struct {
	cfg    *config.Config
	pool   *relaypool.Pool
	logger *log.Logger
	pubkey string
}

// New builds a Client from a loaded Config and connects its relay pool.
func New(cfg *config.Config) (*Client, error) {
	return newClient(cfg, log.Default())
}

func newClient(cfg *config.Config, logger *log.Logger) (*Client, error) {
	pub, err := crypto.DerivePub(cfg.SecretKey)
	if err != nil {
		return nil, err
	}
	pool := relaypool.New(logger)
	for _, url := range cfg.Relays {
		pool.Add(url)
	}
	return &Client{cfg: cfg, pool: pool, logger: logger, pubkey: pub}, nil
}

// PubKey returns the client's hex-encoded public key.
func (c *Client) PubKey() string {
	return c.pubkey
}

// Close tears down the client's relay pool.
func (c *Client) Close() {
	c.pool.Close()
}

// Send encrypts, optionally mines proof-of-work for, signs, and publishes
// a kind-30072 event carrying req.Payload to req.Target.
func (c *Client) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	secretKey := c.cfg.SecretKey
	sender, err := pipeline.NewSender(secretKey, c.pool, c.cfg.PowDifficulty, c.cfg.PowThreads, c.logger)
	if err != nil {
		return nil, err
	}

	if len(req.Relays) > 0 {
		for _, url := range req.Relays {
			c.pool.Add(url)
		}
	}

	res, err := sender.Send(ctx, pipeline.SendRequest{
		Target:    req.Target,
		Payload:   req.Payload,
		Response:  req.Response,
		Relays:    req.Relays,
		Pow:       req.Pow,
		TimeoutMS: req.TimeoutMS,
	})
	if err != nil {
		return nil, err
	}
	return &SendResult{EventID: res.EventID, Results: res.Results}, nil
}

// Receive subscribes to messages addressed to this client's pubkey and
// invokes req.OnMessage for each newly delivered one.
func (c *Client) Receive(ctx context.Context, req ReceiveRequest) (*SubscriptionHandle, error) {
	if req.OnMessage == nil {
		return nil, nmqerr.New(nmqerr.InvalidArgument, "on_message is required")
	}

	secretKey := c.cfg.SecretKey
	if req.PrivkeyOverride != "" {
		secretKey = req.PrivkeyOverride
	}

	if len(req.Relays) > 0 {
		for _, url := range req.Relays {
			c.pool.Add(url)
		}
	}

	tr := tracker.New(tracker.Config{
		LookbackSeconds:   c.cfg.LookbackSeconds,
		TrackLimit:        c.cfg.TrackLimit,
		CacheDir:          c.cfg.CacheDir,
		EnablePersistence: c.cfg.EnablePersistence,
	}, c.logger)

	recv, err := pipeline.NewReceiver(secretKey, c.pool, tr, c.logger)
	if err != nil {
		return nil, err
	}

	handle := recv.Start(ctx, func(msg pipeline.Message) error {
		return req.OnMessage(msg.Payload, msg.Sender, msg.Raw)
	})

	return &SubscriptionHandle{inner: handle}, nil
}

// MineEventPow mines bits leading zero bits of proof-of-work into
// template, using the given worker count, and returns the mined copy.
func MineEventPow(ctx context.Context, template *nostr.Event, bits, threads int) (*nostr.Event, error) {
	ev, _, err := pow.Mine(ctx, template, bits, threads)
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// HasValidPow reports whether ev's id satisfies at least bits leading
// zero bits of proof-of-work.
func HasValidPow(ev *nostr.Event, bits int) bool {
	return pow.HasValidPow(ev, bits)
}

// ValidatePowDifficulty reports whether bits is an acceptable NIP-13
// difficulty target.
func ValidatePowDifficulty(bits int) error {
	if err := pow.ValidateDifficulty(bits); err != nil {
		return fmt.Errorf("invalid pow difficulty: %w", err)
	}
	return nil
}
