// Package pipeline implements nostrMQ's send (C6) and receive (C7)
// pipelines: envelope construction/parsing, encryption, optional
// proof-of-work, signing, and relay publish/subscribe.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"

	"github.com/humansinstitute/nostrMQ/internal/crypto"
	"github.com/humansinstitute/nostrMQ/internal/nmqerr"
	"github.com/humansinstitute/nostrMQ/internal/pow"
	"github.com/humansinstitute/nostrMQ/internal/relaypool"
)

// MessageKind is the fixed Nostr event kind nostrMQ uses for all traffic.
const MessageKind = 30072

const defaultSendTimeout = 2 * time.Second

// SendRequest describes a call to Sender.Send.
type SendRequest struct {
	Target    string
	Payload   interface{}
	Response  string
	Relays    []string
	Pow       interface{} // bool or int; nil means "use config default"
	TimeoutMS int
}

// SendResult is returned from a successful Send.
type SendResult struct {
	EventID string
	Results []relaypool.PublishResult
}

// Sender implements the C6 send pipeline against a shared relay pool.
type Sender struct {
	SecretKey     string
	PubKey        string
	Pool          *relaypool.Pool
	PowDifficulty int
	PowThreads    int
	Logger        *log.Logger
}

// NewSender builds a Sender bound to a secret key and relay pool.
func NewSender(secretKey string, pool *relaypool.Pool, powDifficulty, powThreads int, logger *log.Logger) (*Sender, error) {
	pub, err := crypto.DerivePub(secretKey)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Sender{
		SecretKey:     secretKey,
		PubKey:        pub,
		Pool:          pool,
		PowDifficulty: powDifficulty,
		PowThreads:    powThreads,
		Logger:        logger,
	}, nil
}

// Send builds, mines (optionally), signs, and publishes a kind-30072
// event carrying req.Payload encrypted for req.Target, per spec.md's
// C6 seven-step contract.
func (s *Sender) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if !isValidPubkeyHex(req.Target) {
		return nil, nmqerr.New(nmqerr.InvalidArgument, "target must be a 64-char hex pubkey")
	}
	response := req.Response
	if response == "" {
		response = s.PubKey
	}
	if !isValidPubkeyHex(response) {
		return nil, nmqerr.New(nmqerr.InvalidArgument, "response must be a 64-char hex pubkey")
	}

	timeoutMS := req.TimeoutMS
	if timeoutMS <= 0 {
		timeoutMS = int(defaultSendTimeout / time.Millisecond)
	}

	cleartext, err := marshalEnvelope(req.Target, response, req.Payload)
	if err != nil {
		return nil, nmqerr.Wrap(nmqerr.InvalidArgument, "payload must be JSON-serializable", err)
	}

	ciphertext, err := crypto.Encrypt(s.SecretKey, req.Target, cleartext)
	if err != nil {
		return nil, err
	}

	tags := nostr.Tags{
		nostr.Tag{"p", req.Target},
		nostr.Tag{"d", uuid.NewString()},
	}
	if response != s.PubKey {
		tags = append(tags, nostr.Tag{"response", response})
	}

	template := &nostr.Event{
		PubKey:    s.PubKey,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      MessageKind,
		Tags:      tags,
		Content:   ciphertext,
	}

	bits := resolvePowBits(req.Pow, s.PowDifficulty)
	ev := template
	if bits > 0 {
		threads := s.PowThreads
		if threads < 1 {
			threads = 1
		}
		minedCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		mined, _, err := pow.Mine(minedCtx, template, bits, threads)
		if err != nil {
			return nil, err
		}
		ev = mined
	}

	if err := crypto.Sign(ev, s.SecretKey); err != nil {
		return nil, err
	}

	publishCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()

	results, err := s.Pool.Publish(publishCtx, ev)

	accepted := false
	for _, r := range results {
		if r.Accepted {
			accepted = true
			break
		}
	}

	if accepted {
		return &SendResult{EventID: ev.ID, Results: results}, nil
	}
	if err != nil {
		return nil, nmqerr.Wrap(nmqerr.PublishTimeout, "no relay acknowledged the event in time", err).WithContext("event_id", ev.ID)
	}
	return nil, nmqerr.New(nmqerr.PublishRejected, fmt.Sprintf("all %d relays rejected the event", len(results))).WithContext("event_id", ev.ID).WithContext("results", results)
}

func resolvePowBits(requested interface{}, configDefault int) int {
	switch v := requested.(type) {
	case nil:
		if configDefault < 0 {
			return 0
		}
		return configDefault
	case bool:
		if !v {
			return 0
		}
		if configDefault < 0 {
			return 0
		}
		return configDefault
	case int:
		if v < 0 {
			return 0
		}
		return v
	default:
		return 0
	}
}

func isValidPubkeyHex(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
