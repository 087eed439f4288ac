package conformance

import (
	"context"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/humansinstitute/nostrMQ/internal/pow"
)

// powRoundTripScenario implements spec.md §8 scenario 4: mining at 8
// bits of difficulty yields a verifiably valid proof.
type powRoundTripScenario struct{}

func (powRoundTripScenario) ID() string   { return "4" }
func (powRoundTripScenario) Name() string { return "PoW 8-bit round trip" }

func (powRoundTripScenario) Run(ctx context.Context) error {
	template := &nostr.Event{
		PubKey:    "aa11bb22cc33dd44ee55ff6600112233445566778899aabbccddeeff001122",
		CreatedAt: nostr.Timestamp(1700000000),
		Kind:      30072,
		Tags:      nostr.Tags{},
		Content:   "conformance pow scenario",
	}

	mineCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	mined, result, err := pow.Mine(mineCtx, template, 8, 4)
	if err != nil {
		return err
	}
	if !pow.HasValidPow(mined, 8) {
		return fmt.Errorf("mined event id %s does not satisfy 8-bit difficulty", mined.ID)
	}
	if result.Difficulty < 8 {
		return fmt.Errorf("reported difficulty %d below requested 8", result.Difficulty)
	}
	if pow.CommittedDifficulty(mined) != 8 {
		return fmt.Errorf("committed nonce tag difficulty = %d, want 8", pow.CommittedDifficulty(mined))
	}
	return nil
}

// AllScenarios returns every conformance scenario named in spec.md §8,
// in the order they're numbered there.
func AllScenarios() []Scenario {
	return []Scenario{
		selfLoopScenario{},
		replaySuppressionScenario{},
		evictionScenario{},
		powRoundTripScenario{},
		oneOfNPublishScenario{},
		cacheFallbackScenario{},
	}
}
