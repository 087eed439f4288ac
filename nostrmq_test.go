package nostrmq

import (
	"context"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

func TestValidatePowDifficulty(t *testing.T) {
	if err := ValidatePowDifficulty(8); err != nil {
		t.Errorf("ValidatePowDifficulty(8) unexpected error: %v", err)
	}
	if err := ValidatePowDifficulty(-1); err == nil {
		t.Error("ValidatePowDifficulty(-1) expected error")
	}
	if err := ValidatePowDifficulty(33); err == nil {
		t.Error("ValidatePowDifficulty(33) expected error")
	}
}

func TestMineEventPowAndHasValidPow(t *testing.T) {
	template := &nostr.Event{
		PubKey:    "aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa1",
		CreatedAt: nostr.Timestamp(1700000000),
		Kind:      30072,
		Tags:      nostr.Tags{},
		Content:   "hello",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mined, err := MineEventPow(ctx, template, 8, 2)
	if err != nil {
		t.Fatalf("MineEventPow: %v", err)
	}
	if !HasValidPow(mined, 8) {
		t.Fatalf("HasValidPow(mined, 8) = false for id %s", mined.ID)
	}
}
