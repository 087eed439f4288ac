package conformance

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/humansinstitute/nostrMQ/internal/crypto"
	"github.com/humansinstitute/nostrMQ/internal/pipeline"
	"github.com/humansinstitute/nostrMQ/internal/relaypool"
	"github.com/humansinstitute/nostrMQ/internal/tracker"
)

const nodeSecretKey = "a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f9"

// selfLoopScenario implements spec.md §8 scenario 1: a node sends to its
// own pubkey and observes exactly one delivery.
type selfLoopScenario struct{}

func (selfLoopScenario) ID() string   { return "1" }
func (selfLoopScenario) Name() string { return "self-loop send/receive" }

func (selfLoopScenario) Run(ctx context.Context) error {
	relay := newFakeRelay(behaviorEcho)
	defer relay.close()

	logger := log.New(os.Stderr, "", 0)
	pool := relaypool.New(logger)
	pool.Add(relay.url())
	defer pool.Close()

	if !waitConnected(pool, relay.url(), 2*time.Second) {
		return fmt.Errorf("relay pool never reached Connected")
	}

	pub, err := crypto.DerivePub(nodeSecretKey)
	if err != nil {
		return err
	}

	tr := tracker.New(tracker.Config{LookbackSeconds: 3600, EnablePersistence: false}, logger)
	recv, err := pipeline.NewReceiver(nodeSecretKey, pool, tr, logger)
	if err != nil {
		return err
	}

	deliveries := make(chan pipeline.Message, 1)
	handle := recv.Start(ctx, func(msg pipeline.Message) error {
		deliveries <- msg
		return nil
	})
	defer handle.Close()

	time.Sleep(50 * time.Millisecond) // let the REQ/EOSE round trip settle

	sender, err := pipeline.NewSender(nodeSecretKey, pool, 0, 1, logger)
	if err != nil {
		return err
	}
	sendCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := sender.Send(sendCtx, pipeline.SendRequest{Target: pub, Payload: map[string]int{"n": 1}}); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	select {
	case msg := <-deliveries:
		if msg.Sender != pub {
			return fmt.Errorf("sender = %s, want %s", msg.Sender, pub)
		}
		if string(msg.Payload) != `{"n":1}` {
			return fmt.Errorf("payload = %s, want {\"n\":1}", msg.Payload)
		}
	case <-time.After(3 * time.Second):
		return fmt.Errorf("on_message was not invoked within the deadline")
	}

	select {
	case <-deliveries:
		return fmt.Errorf("on_message invoked more than once")
	case <-time.After(200 * time.Millisecond):
	}
	return nil
}

// oneOfNPublishScenario implements spec.md §8 scenario 5: publish
// succeeds as soon as one of three relays accepts the event.
type oneOfNPublishScenario struct{}

func (oneOfNPublishScenario) ID() string   { return "5" }
func (oneOfNPublishScenario) Name() string { return "one-of-N publish success" }

func (oneOfNPublishScenario) Run(ctx context.Context) error {
	good := newFakeRelay(behaviorAck)
	bad1 := newFakeRelay(behaviorCloseOnEvent)
	bad2 := newFakeRelay(behaviorCloseOnEvent)
	defer good.close()
	defer bad1.close()
	defer bad2.close()

	logger := log.New(os.Stderr, "", 0)
	pool := relaypool.New(logger)
	pool.Add(good.url())
	pool.Add(bad1.url())
	pool.Add(bad2.url())
	defer pool.Close()

	for _, url := range []string{good.url(), bad1.url(), bad2.url()} {
		if !waitConnected(pool, url, 2*time.Second) {
			return fmt.Errorf("relay %s never reached Connected", url)
		}
	}

	target, err := crypto.DerivePub(nodeSecretKey)
	if err != nil {
		return err
	}
	sender, err := pipeline.NewSender(nodeSecretKey, pool, 0, 1, logger)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	result, err := sender.Send(sendCtx, pipeline.SendRequest{Target: target, Payload: map[string]int{"n": 1}, TimeoutMS: 2000})
	if err != nil {
		return fmt.Errorf("send unexpectedly failed despite one healthy relay: %w", err)
	}
	if result.EventID == "" {
		return fmt.Errorf("send succeeded without an event id")
	}
	return nil
}

func waitConnected(pool *relaypool.Pool, url string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if pool.List()[url] == relaypool.Connected {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
