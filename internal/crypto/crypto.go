// Package crypto wraps go-nostr's NIP-04 primitives and event signing
// behind the error taxonomy the rest of nostrMQ uses.
package crypto

import (
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"

	"github.com/humansinstitute/nostrMQ/internal/nmqerr"
)

// DerivePub returns the hex-encoded public key for a hex-encoded secret key.
func DerivePub(secretKeyHex string) (string, error) {
	pub, err := nostr.GetPublicKey(secretKeyHex)
	if err != nil {
		return "", nmqerr.Wrap(nmqerr.InvalidArgument, "derive public key", err)
	}
	return pub, nil
}

// Encrypt computes the ECDH shared secret between our secret key and the
// recipient's public key, then NIP-04-encrypts plaintext under it.
func Encrypt(secretKeyHex, recipientPubHex, plaintext string) (string, error) {
	shared, err := nip04.ComputeSharedSecret(recipientPubHex, secretKeyHex)
	if err != nil {
		return "", nmqerr.Wrap(nmqerr.EncryptError, "compute shared secret", err)
	}
	ciphertext, err := nip04.Encrypt(plaintext, shared)
	if err != nil {
		return "", nmqerr.Wrap(nmqerr.EncryptError, "nip04 encrypt", err)
	}
	return ciphertext, nil
}

// Decrypt computes the ECDH shared secret between our secret key and the
// sender's public key, then NIP-04-decrypts ciphertext under it.
func Decrypt(secretKeyHex, senderPubHex, ciphertext string) (string, error) {
	shared, err := nip04.ComputeSharedSecret(senderPubHex, secretKeyHex)
	if err != nil {
		return "", nmqerr.Wrap(nmqerr.DecryptError, "compute shared secret", err)
	}
	plaintext, err := nip04.Decrypt(ciphertext, shared)
	if err != nil {
		return "", nmqerr.Wrap(nmqerr.DecryptError, "nip04 decrypt", err)
	}
	return plaintext, nil
}

// Sign computes ev's id and signs it with secretKeyHex, mutating ev in
// place as go-nostr's Event.Sign does.
func Sign(ev *nostr.Event, secretKeyHex string) error {
	if err := ev.Sign(secretKeyHex); err != nil {
		return nmqerr.Wrap(nmqerr.SignError, "sign event", err)
	}
	return nil
}

// Verify checks that ev's signature matches its content and claimed pubkey.
func Verify(ev *nostr.Event) (bool, error) {
	ok, err := ev.CheckSignature()
	if err != nil {
		return false, nmqerr.Wrap(nmqerr.DecryptError, "check signature", err)
	}
	return ok, nil
}
