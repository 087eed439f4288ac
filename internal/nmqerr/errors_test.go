package nmqerr

import (
	"errors"
	"testing"
)

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Wrap(RelayConnectError, "connecting to relay", cause)

	if got := err.Error(); got == "" {
		t.Fatal("Error() returned empty string")
	}
	if !errors.Is(err, cause) {
		t.Fatal("errors.Is(err, cause) = false, want true")
	}
}

func TestIsMatchesKind(t *testing.T) {
	err := New(PowTimeout, "deadline exceeded")
	if !Is(err, PowTimeout) {
		t.Fatal("Is(err, PowTimeout) = false, want true")
	}
	if Is(err, DecryptError) {
		t.Fatal("Is(err, DecryptError) = true, want false")
	}
}

func TestIsTraversesWrappedCauses(t *testing.T) {
	inner := New(DecryptError, "bad ciphertext")
	outer := Wrap(UserCallbackError, "handler failed", inner)
	if !Is(outer, DecryptError) {
		t.Fatal("Is(outer, DecryptError) = false, want true")
	}
}

func TestWithContextCopies(t *testing.T) {
	base := New(PublishTimeout, "no relay acked")
	withURL := base.WithContext("relay", "wss://relay.example")

	if len(base.Context) != 0 {
		t.Fatal("WithContext mutated the original error's context")
	}
	if withURL.Context["relay"] != "wss://relay.example" {
		t.Fatalf("Context[relay] = %v, want wss://relay.example", withURL.Context["relay"])
	}
}

func TestKindString(t *testing.T) {
	if ConfigError.String() != "config_error" {
		t.Fatalf("ConfigError.String() = %q, want config_error", ConfigError.String())
	}
	if Kind(999).String() != "unknown" {
		t.Fatalf("Kind(999).String() = %q, want unknown", Kind(999).String())
	}
}
