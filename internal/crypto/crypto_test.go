package crypto

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

const (
	aliceSK = "a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f9"
	bobSK   = "1928374655647382910a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f6"
)

func TestDerivePub(t *testing.T) {
	pub, err := DerivePub(aliceSK)
	if err != nil {
		t.Fatalf("DerivePub: %v", err)
	}
	if len(pub) != 64 {
		t.Fatalf("pubkey length = %d, want 64", len(pub))
	}
}

func TestDerivePubInvalidKey(t *testing.T) {
	if _, err := DerivePub("not-hex"); err == nil {
		t.Fatal("DerivePub(invalid) expected error, got nil")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	alicePub, err := DerivePub(aliceSK)
	if err != nil {
		t.Fatalf("DerivePub(alice): %v", err)
	}
	bobPub, err := DerivePub(bobSK)
	if err != nil {
		t.Fatalf("DerivePub(bob): %v", err)
	}

	plaintext := `{"id":"req-1","method":"ping","params":{}}`

	ciphertext, err := Encrypt(aliceSK, bobPub, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if ciphertext == plaintext {
		t.Fatal("Encrypt returned plaintext unchanged")
	}

	decrypted, err := Decrypt(bobSK, alicePub, ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if decrypted != plaintext {
		t.Fatalf("round trip mismatch: got %q, want %q", decrypted, plaintext)
	}
}

func TestDecryptMalformedCiphertext(t *testing.T) {
	alicePub, _ := DerivePub(aliceSK)
	if _, err := Decrypt(bobSK, alicePub, "not-a-valid-envelope"); err == nil {
		t.Fatal("Decrypt(malformed) expected error, got nil")
	}
}

func TestSignAndVerify(t *testing.T) {
	pub, err := DerivePub(aliceSK)
	if err != nil {
		t.Fatalf("DerivePub: %v", err)
	}

	ev := &nostr.Event{
		PubKey:    pub,
		CreatedAt: nostr.Timestamp(1700000000),
		Kind:      30072,
		Tags:      nostr.Tags{},
		Content:   "hello",
	}

	if err := Sign(ev, aliceSK); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if ev.ID == "" || ev.Sig == "" {
		t.Fatal("Sign did not populate ID/Sig")
	}

	ok, err := Verify(ev)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("Verify returned false for a correctly-signed event")
	}
}

func TestVerifyTamperedEvent(t *testing.T) {
	pub, _ := DerivePub(aliceSK)
	ev := &nostr.Event{
		PubKey:    pub,
		CreatedAt: nostr.Timestamp(1700000000),
		Kind:      30072,
		Tags:      nostr.Tags{},
		Content:   "hello",
	}
	if err := Sign(ev, aliceSK); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	ev.Content = "tampered"
	ok, err := Verify(ev)
	if err == nil && ok {
		t.Fatal("Verify returned true for a tampered event")
	}
}
