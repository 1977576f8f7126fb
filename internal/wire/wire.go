// Package wire defines the canonical binary encoding for every
// request/response and key type exchanged with a realm. The outer
// envelopes are CBOR, mirroring ciborium in the original protocol's
// marshalling crate; group elements and scalars inside those envelopes
// always round-trip through fixed-width byte arrays so a non-canonical
// point or scalar encoding is rejected at decode time rather than silently
// accepted.
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: building canonical CBOR encoder: %v", err))
	}
	return mode
}

// Marshal encodes v using the deterministic ("canonical") CBOR encoding, so
// that two clients encoding the same logical value always produce the same
// bytes.
func Marshal(v any) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal: %w", err)
	}
	return b, nil
}

// Unmarshal decodes b into v.
func Unmarshal(b []byte, v any) error {
	if err := cbor.Unmarshal(b, v); err != nil {
		return fmt.Errorf("wire: unmarshal: %w", err)
	}
	return nil
}

// RealmID is a realm's 16-byte identifier.
type RealmID [16]byte

// RegistrationVersion is a fresh 16-byte value drawn for every successful
// registration, disambiguating it from any prior or concurrent
// registration of the same identity on the same realm.
type RegistrationVersion [16]byte

// AuthToken is an opaque, realm-scoped bearer token obtained from the
// host's token provider.
type AuthToken string

// SessionID identifies a Noise session on a particular realm.
type SessionID [16]byte

// Policy bounds the number of recovery guesses a registration accepts
// before it locks.
type Policy struct {
	NumGuesses uint16 `cbor:"1,keyasint"`
}

// Fixed32 is a 32-byte canonical array used for group elements, scalars,
// MACs and commitments alike; CBOR encodes it as a byte string, adding 2
// bytes of framing for a 34-byte wire size.
type Fixed32 [32]byte

// MarshalBinary implements encoding.BinaryMarshaler.
func (f Fixed32) MarshalBinary() ([]byte, error) {
	return f[:], nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler and rejects any
// length other than exactly 32 bytes — the canonical form.
func (f *Fixed32) UnmarshalBinary(data []byte) error {
	if len(data) != 32 {
		return fmt.Errorf("wire: Fixed32 requires exactly 32 bytes, got %d", len(data))
	}
	copy(f[:], data)
	return nil
}
