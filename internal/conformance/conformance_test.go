package conformance

import (
	"context"
	"testing"
	"time"
)

func TestTrackerScenariosPass(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	scenarios := []Scenario{
		replaySuppressionScenario{},
		evictionScenario{},
		cacheFallbackScenario{},
	}
	for _, s := range scenarios {
		if err := s.Run(ctx); err != nil {
			t.Errorf("%s (%s) failed: %v", s.ID(), s.Name(), err)
		}
	}
}

func TestPowScenarioPasses(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := (powRoundTripScenario{}).Run(ctx); err != nil {
		t.Errorf("pow round trip scenario failed: %v", err)
	}
}

func TestRunnerReportsAllScenarios(t *testing.T) {
	runner := NewRunner(replaySuppressionScenario{}, evictionScenario{}, cacheFallbackScenario{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results := runner.RunAll(ctx)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for _, r := range results {
		if !r.Passed {
			t.Errorf("scenario %s failed: %s", r.Name, r.Detail)
		}
	}
}
