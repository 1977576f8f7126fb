// Package secretcrypto derives the unlock key, per-realm MAC tags, and the
// user-secret encryption key from VOPRF and PIN-hashing output, and
// performs the AEAD encryption of the user secret itself.
//
// HKDF and HMAC follow the pattern frekui-opaque's internal/pkg/authenc
// uses for encrypt-then-authenticate; the AEAD is
// golang.org/x/crypto/chacha20poly1305, the same ecosystem cipher
// NLipatov-TunGo's cryptography/chacha20 package builds its transport on.
package secretcrypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

func hmacNew(key []byte) hash.Hash {
	return hmac.New(sha256.New, key)
}

const keyLen = 32

// UnlockKey is the secret derived from a VOPRF output that a client must
// reproduce to prove knowledge of the correct PIN; it is never sent to a
// realm in the clear, only as a per-realm UnlockKeyTag.
type UnlockKey [32]byte

// String never reveals UnlockKey material through %v/%s formatting or
// accidental logging.
func (UnlockKey) String() string { return "REDACTED" }

// GoString never reveals UnlockKey material through %#v formatting.
func (UnlockKey) GoString() string { return "REDACTED" }

// Zero scrubs the UnlockKey in place.
func (k *UnlockKey) Zero() {
	for i := range k {
		k[i] = 0
	}
}

// EncryptionKey is the AEAD key protecting the user secret, reconstructed
// only once a recovering client holds a threshold of encryption-key
// scalar shares; like UnlockKey it must never be logged.
type EncryptionKey [32]byte

// String never reveals EncryptionKey material through %v/%s formatting or
// accidental logging.
func (EncryptionKey) String() string { return "REDACTED" }

// GoString never reveals EncryptionKey material through %#v formatting.
func (EncryptionKey) GoString() string { return "REDACTED" }

// Zero scrubs the EncryptionKey in place.
func (k *EncryptionKey) Zero() {
	for i := range k {
		k[i] = 0
	}
}

// DeriveUnlockKeyAndCommitment splits a 64-byte VOPRF output into a
// domain-separated unlock key and its commitment, via HKDF-SHA512 under
// distinct info strings. The commitment is a public value realms store and
// compare against — not secret — so it stays a bare [32]byte.
func DeriveUnlockKeyAndCommitment(oprfResult [64]byte) (unlockKey UnlockKey, commitment [32]byte) {
	r := hkdf.New(sha512.New, oprfResult[:], nil, []byte("unlock-key"))
	mustRead(r, unlockKey[:])

	r = hkdf.New(sha512.New, oprfResult[:], nil, []byte("unlock-key-commitment"))
	mustRead(r, commitment[:])

	return unlockKey, commitment
}

// UnlockKeyTag computes the per-realm MAC binding an unlock key to a
// realm's identity, so a tag captured at one realm can't be replayed at
// another. The tag itself is a public MAC a realm compares against, not a
// secret, so it stays a bare [32]byte.
func UnlockKeyTag(unlockKey UnlockKey, realmID [16]byte) [32]byte {
	return mac(unlockKey[:], realmID[:])
}

// EncryptedUserSecretCommitment computes the MAC binding a realm's
// encryption-key share and ciphertext to the unlock key, so a realm cannot
// serve a stale or swapped share without detection. The commitment is a
// public MAC, not a secret, so it stays a bare [32]byte.
func EncryptedUserSecretCommitment(unlockKey UnlockKey, realmID [16]byte, share [32]byte, ciphertext []byte) [32]byte {
	return mac(unlockKey[:], realmID[:], share[:], ciphertext)
}

func mac(key []byte, parts ...[]byte) [32]byte {
	h := hmacNew(key)
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ConstantTimeEqual compares two MAC/commitment values without leaking
// timing information about where they first differ.
func ConstantTimeEqual(a, b [32]byte) bool {
	return hmac.Equal(a[:], b[:])
}

// DeriveEncryptionKey derives the AEAD key protecting the user secret from
// the PIN-hash encryption seed and the reconstructed encryption-key
// scalar's canonical encoding.
func DeriveEncryptionKey(seed [32]byte, scalarBytes []byte) EncryptionKey {
	r := hkdf.New(sha512.New, append(append([]byte{}, seed[:]...), scalarBytes...), nil, []byte("user-secret-encryption-key"))
	var key EncryptionKey
	mustRead(r, key[:])
	return key
}

// Encrypt seals plaintext under key with a fresh random nonce prepended to
// the ciphertext.
func Encrypt(key EncryptionKey, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("secretcrypto: building aead: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("secretcrypto: generating nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func Decrypt(key EncryptionKey, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("secretcrypto: building aead: %w", err)
	}

	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("secretcrypto: ciphertext shorter than nonce")
	}

	nonce, ct := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("secretcrypto: decryption failed: %w", err)
	}
	return pt, nil
}

func mustRead(r io.Reader, buf []byte) {
	if _, err := io.ReadFull(r, buf); err != nil {
		// HKDF only fails when the requested length exceeds
		// 255*hash size; every call site here asks for 32 bytes.
		panic(fmt.Sprintf("secretcrypto: hkdf expand: %v", err))
	}
}
