package relaypool

import "testing"

func TestStateString(t *testing.T) {
	cases := map[State]string{
		Disconnected: "disconnected",
		Connecting:   "connecting",
		Connected:    "connected",
		Error:        "error",
		State(99):    "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}

func TestBackoffDelayMonotonicUntilCap(t *testing.T) {
	prev := backoffDelay(1)
	if prev != backoffBase {
		t.Fatalf("backoffDelay(1) = %v, want base %v", prev, backoffBase)
	}
	for n := 2; n <= maxAttempts; n++ {
		d := backoffDelay(n)
		if d < prev && d != backoffCap {
			t.Fatalf("backoffDelay(%d) = %v should not shrink from %v", n, d, prev)
		}
		if d > backoffCap {
			t.Fatalf("backoffDelay(%d) = %v exceeds cap %v", n, d, backoffCap)
		}
		prev = d
	}
}
