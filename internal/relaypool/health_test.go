package relaypool

import "testing"

func TestHealthScoreUnknownRelay(t *testing.T) {
	h := NewHealthTracker()
	if got := h.Score("wss://unknown.example"); got != -1 {
		t.Fatalf("Score() = %d, want -1 for relay with no samples", got)
	}
}

func TestHealthScoreConnectedBeatsDisconnected(t *testing.T) {
	h := NewHealthTracker()

	h.RecordState("wss://good.example", Connected)
	for i := 0; i < 5; i++ {
		h.RecordPublish("wss://good.example", true)
	}

	h.RecordState("wss://bad.example", Error)

	good := h.Score("wss://good.example")
	bad := h.Score("wss://bad.example")
	if good <= bad {
		t.Fatalf("good relay score %d should exceed bad relay score %d", good, bad)
	}
}

func TestHealthScorePublishFailuresLowerScore(t *testing.T) {
	h := NewHealthTracker()
	h.RecordState("wss://flaky.example", Connected)

	for i := 0; i < 10; i++ {
		h.RecordPublish("wss://flaky.example", true)
	}
	allOK := h.Score("wss://flaky.example")

	h2 := NewHealthTracker()
	h2.RecordState("wss://flaky.example", Connected)
	for i := 0; i < 10; i++ {
		h2.RecordPublish("wss://flaky.example", false)
	}
	allFail := h2.Score("wss://flaky.example")

	if allFail >= allOK {
		t.Fatalf("all-failure score %d should be lower than all-success score %d", allFail, allOK)
	}
}

func TestHealthRingBufferBounded(t *testing.T) {
	h := NewHealthTracker()
	for i := 0; i < healthWindow*3; i++ {
		h.RecordState("wss://busy.example", Connected)
	}
	s := h.statsFor("wss://busy.example")
	if s.filled != healthWindow {
		t.Fatalf("filled = %d, want capped at %d", s.filled, healthWindow)
	}
}
