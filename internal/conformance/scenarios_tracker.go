package conformance

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/humansinstitute/nostrMQ/internal/tracker"
)

// replaySuppressionScenario implements spec.md §8 scenario 2: replay
// suppression across a tracker restart.
type replaySuppressionScenario struct{}

func (replaySuppressionScenario) ID() string   { return "2" }
func (replaySuppressionScenario) Name() string { return "replay suppression across restart" }

func (replaySuppressionScenario) Run(ctx context.Context) error {
	dir, err := os.MkdirTemp("", "nostrmq-conformance-replay-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	logger := log.New(os.Stderr, "", 0)
	tr := tracker.New(tracker.Config{LookbackSeconds: 60, TrackLimit: 5, CacheDir: dir, EnablePersistence: true}, logger)
	start := tr.SubscriptionSince()

	events := []struct {
		id string
		ts int64
	}{
		{"E1", start + 1},
		{"E2", start + 2},
		{"E3", start + 3},
	}
	for _, e := range events {
		tr.MarkProcessed(e.id, e.ts)
	}

	tr2 := tracker.New(tracker.Config{LookbackSeconds: 60, TrackLimit: 5, CacheDir: dir, EnablePersistence: true}, logger)
	for _, e := range events {
		if !tr2.HasProcessed(e.id, e.ts) {
			return fmt.Errorf("HasProcessed(%s) = false after restart, want true", e.id)
		}
	}

	fresh := tr2.SubscriptionSince() + 1
	if tr2.HasProcessed("E4", fresh) {
		return fmt.Errorf("HasProcessed(E4) = true for a fresh event above the watermark")
	}
	return nil
}

// evictionScenario implements spec.md §8 scenario 3: eviction under load.
type evictionScenario struct{}

func (evictionScenario) ID() string   { return "3" }
func (evictionScenario) Name() string { return "eviction under load" }

func (evictionScenario) Run(ctx context.Context) error {
	dir, err := os.MkdirTemp("", "nostrmq-conformance-evict-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	logger := log.New(os.Stderr, "", 0)
	tr := tracker.New(tracker.Config{LookbackSeconds: 60, TrackLimit: 5, CacheDir: dir, EnablePersistence: true}, logger)
	start := tr.SubscriptionSince()

	ids := []string{"I1", "I2", "I3", "I4", "I5", "I6", "I7", "I8", "I9", "I10"}
	for i, id := range ids {
		tr.MarkProcessed(id, start+int64(i)+1)
	}

	for _, id := range ids {
		if !tr.HasProcessed(id, start+1) {
			return fmt.Errorf("HasProcessed(%s) = false after marking, want true", id)
		}
	}
	return nil
}

// cacheFallbackScenario implements spec.md §8 scenario 6: persistence
// falls back to memory-only when cache_dir is unwritable.
type cacheFallbackScenario struct{}

func (cacheFallbackScenario) ID() string   { return "6" }
func (cacheFallbackScenario) Name() string { return "cache fallback on unwritable path" }

func (cacheFallbackScenario) Run(ctx context.Context) error {
	base, err := os.MkdirTemp("", "nostrmq-conformance-fallback-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(base)

	blocked := base + "/blocked-file"
	if err := os.WriteFile(blocked, []byte("x"), 0o644); err != nil {
		return err
	}

	logger := log.New(os.Stderr, "", 0)
	tr := tracker.New(tracker.Config{LookbackSeconds: 60, TrackLimit: 10, CacheDir: blocked + "/child", EnablePersistence: true}, logger)

	if tr.PersistenceEnabled() {
		return fmt.Errorf("PersistenceEnabled() = true for an unwritable cache dir, want false")
	}

	tr.MarkProcessed("e1", tr.SubscriptionSince()+1)
	if !tr.HasProcessed("e1", tr.SubscriptionSince()) {
		return fmt.Errorf("memory-only tracker failed to record a processed event")
	}
	return nil
}
