// Package pinhash derives an AccessKey and an EncryptionKeySeed from a
// low-entropy PIN using a memory-hard key-stretching function, so that an
// attacker who compromises fewer than the recovery threshold of realms
// cannot brute-force the PIN offline at in-memory speed.
//
// The memory-hard function is github.com/bytemare/ksf's Argon2id
// identifier, the same key-stretching abstraction the teacher library uses
// for its envelope/password path.
//
// The expensive stretch is salted only by (mode, userInfo), not by the
// realms' RegistrationVersion: a recovering client does not learn which
// version a realm holds until after its first round trip, so AccessKey —
// the value blinded and sent over the OPRF in that same round trip — must
// be computable before any network exchange. Version-binding instead
// happens in the cheap second step, DeriveEncryptionKeySeed, which a
// recovering client runs only once it has a realm's answer in hand. The
// fresh OprfRootKey drawn at every registration (see internal/voprf)
// already makes each registration's OprfResult unique even though
// AccessKey itself is stable across re-registrations of the same PIN.
package pinhash

import (
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bytemare/ksf"
	"golang.org/x/crypto/hkdf"
)

// Mode selects the PIN-hashing parameterization. Values are assigned by
// ordinal and must remain stable on the wire: realms and clients must
// agree on the mode tag.
type Mode byte

const (
	// NoHash skips memory-hard stretching entirely and derives output with
	// a plain HKDF. It exists only for test fixtures, where Argon2id's
	// latency would make test suites slow; it must never be selected for
	// a real registration.
	NoHash Mode = 0

	// Standard is the memory-hard, production PIN-hashing mode.
	Standard Mode = 1
)

const (
	// stretchLen is the combined length of AccessKey || seed base.
	stretchLen = 64
	halfLen    = stretchLen / 2

	// argon2idTimeCost, argon2idMemoryCostKiB and argon2idParallelism are
	// the Argon2id parameters used by Standard mode. These must match
	// across every client and realm sharing a configuration.
	argon2idTimeCost      = 3
	argon2idMemoryCostKiB = 64 * 1024
	argon2idParallelism   = 4
)

// AccessKey is the value hashed to a group element and blinded for the
// OPRF; it depends only on (mode, pin, userInfo).
type AccessKey [32]byte

// EncryptionKeySeed is mixed with the reconstructed scalar share to derive
// the user-secret encryption key; it additionally depends on the
// registration's version.
type EncryptionKeySeed [32]byte

// SeedBase is the second half of the memory-hard stretch, not yet bound to
// a version.
type SeedBase [32]byte

// Stretch runs the memory-hard step once for (mode, pin, userInfo) and
// returns AccessKey plus the unbound seed base that DeriveEncryptionKeySeed
// later binds to a specific RegistrationVersion.
func Stretch(mode Mode, pin, userInfo []byte) (AccessKey, SeedBase, error) {
	var stretched []byte

	switch mode {
	case NoHash:
		stretched = hkdfExpand(pin, userInfo)
	case Standard:
		salt := saltFor(userInfo)
		stretched = ksf.Argon2id.Harden(pin, salt, stretchLen, argon2idTimeCost, argon2idMemoryCostKiB, argon2idParallelism)
	default:
		return AccessKey{}, SeedBase{}, fmt.Errorf("pinhash: unknown mode %d", mode)
	}

	if len(stretched) != stretchLen {
		return AccessKey{}, SeedBase{}, fmt.Errorf("pinhash: unexpected output length %d", len(stretched))
	}

	var access AccessKey
	var base SeedBase
	copy(access[:], stretched[:halfLen])
	copy(base[:], stretched[halfLen:])

	return access, base, nil
}

// DeriveEncryptionKeySeed cheaply binds a stretched seed base to a
// registration version, via HKDF-SHA512. Unlike Stretch this never touches
// the memory-hard path, so a recovering client can afford to call it once
// per candidate version without repeating the expensive work.
func DeriveEncryptionKeySeed(base SeedBase, version []byte) EncryptionKeySeed {
	r := hkdf.New(sha512.New, base[:], version, []byte("pinhash-encryption-key-seed"))
	var seed EncryptionKeySeed
	if _, err := io.ReadFull(r, seed[:]); err != nil {
		// HKDF only fails when the requested length exceeds 255*hash
		// size; 32 bytes is fixed, so this is unreachable.
		panic(fmt.Sprintf("pinhash: hkdf expand: %v", err))
	}
	return seed
}

// Hash is the convenience wrapper used when the version is already known
// up front: it runs Stretch and DeriveEncryptionKeySeed in one call, as
// registration does once it has drawn a fresh RegistrationVersion.
func Hash(mode Mode, pin, version, userInfo []byte) (AccessKey, EncryptionKeySeed, error) {
	access, base, err := Stretch(mode, pin, userInfo)
	if err != nil {
		return AccessKey{}, EncryptionKeySeed{}, err
	}
	return access, DeriveEncryptionKeySeed(base, version), nil
}

// saltFor binds the memory-hard stretch to the caller-supplied user
// identity, so the same PIN used by two different identities never shares
// a salt.
func saltFor(userInfo []byte) []byte {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(userInfo)))

	salt := make([]byte, 0, len(lenBuf)+len(userInfo))
	salt = append(salt, lenBuf[:]...)
	salt = append(salt, userInfo...)
	return salt
}

func hkdfExpand(pin, userInfo []byte) []byte {
	r := hkdf.New(sha512.New, pin, saltFor(userInfo), []byte("pinhash-no-mode"))
	out := make([]byte, stretchLen)
	if _, err := io.ReadFull(r, out); err != nil {
		// HKDF only fails when the requested length exceeds 255*hash
		// size; stretchLen is a fixed 64, so this is unreachable.
		panic(fmt.Sprintf("pinhash: hkdf expand: %v", err))
	}
	return out
}

// Zero scrubs the AccessKey in place.
func (a *AccessKey) Zero() {
	for i := range a {
		a[i] = 0
	}
}

// String never reveals AccessKey material through %v/%s formatting or
// accidental logging.
func (a AccessKey) String() string { return "REDACTED" }

// GoString never reveals AccessKey material through %#v formatting.
func (a AccessKey) GoString() string { return "REDACTED" }

// Zero scrubs the EncryptionKeySeed in place.
func (s *EncryptionKeySeed) Zero() {
	for i := range s {
		s[i] = 0
	}
}

// String never reveals EncryptionKeySeed material through %v/%s
// formatting or accidental logging.
func (s EncryptionKeySeed) String() string { return "REDACTED" }

// GoString never reveals EncryptionKeySeed material through %#v
// formatting.
func (s EncryptionKeySeed) GoString() string { return "REDACTED" }

// Zero scrubs the seed base in place.
func (b *SeedBase) Zero() {
	for i := range b {
		b[i] = 0
	}
}

// String never reveals SeedBase material through %v/%s formatting or
// accidental logging.
func (b SeedBase) String() string { return "REDACTED" }

// GoString never reveals SeedBase material through %#v formatting.
func (b SeedBase) GoString() string { return "REDACTED" }
