// SPDX-License-Identifier: MIT
//
// Copyright (C) 2020-2025 Daniel Bourdrez. All Rights Reserved.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree or at
// https://spdx.org/licenses/MIT.html

// Package pinguard implements the client core of a distributed,
// PIN-protected secret-storage system. A user registers a low-entropy PIN
// and an arbitrary high-entropy secret against a configured set of
// independent realms. Later, given the same PIN, the client recovers the
// secret by collaborating with a threshold of those realms; registrations
// may also be deleted. The realms cooperate cryptographically but never
// learn the PIN or the secret, and an attacker compromising fewer than the
// recovery threshold of realms learns nothing useful even given unlimited
// offline computation.
//
// Transport of serialized bytes to realms and acquisition of per-realm
// auth tokens are host concerns, supplied to Client via the Sender and
// TokenProvider interfaces. Server-side realm behavior is out of scope
// except where the wire contract is fixed here.
package pinguard

import (
	"errors"
	"fmt"

	"github.com/pinguard/pinguard/internal/pinhash"
	"github.com/pinguard/pinguard/internal/wire"
)

// RealmID uniquely identifies a realm within a Configuration.
type RealmID = wire.RealmID

// Realm describes one independent server holding a share of a
// registration.
type Realm struct {
	ID      RealmID
	Address string
	// PublicKey selects the Noise handshake pattern: NK (server
	// authenticated) when present, NN when empty.
	PublicKey []byte
}

// PinHashingMode selects the PIN-hashing parameterization all realms and
// clients in a Configuration must agree on.
type PinHashingMode = pinhash.Mode

const (
	// PinHashingNone is the fast, non-memory-hard mode used in tests.
	PinHashingNone PinHashingMode = pinhash.NoHash
	// PinHashingStandard is the memory-hard, production mode.
	PinHashingStandard PinHashingMode = pinhash.Standard
)

// Configuration is the realm set and thresholds a Client operates
// against.
type Configuration struct {
	Realms []Realm

	// RegisterThreshold is the minimum number of realms that must accept
	// a registration for it to be considered successful.
	RegisterThreshold int

	// RecoverThreshold is the minimum number of realms that must agree
	// for a recovery to succeed. RecoverThreshold <= RegisterThreshold.
	RecoverThreshold int

	PinHashingMode PinHashingMode
}

// ErrInvalidConfiguration is returned by NewClient when a Configuration
// violates its invariants.
var ErrInvalidConfiguration = errors.New("pinguard: invalid configuration")

func (c *Configuration) verify() error {
	n := len(c.Realms)
	if n == 0 || n > 255 {
		return fmt.Errorf("%w: realm count must be in 1..=255, got %d", ErrInvalidConfiguration, n)
	}
	if c.RecoverThreshold < 1 {
		return fmt.Errorf("%w: recover threshold must be >= 1", ErrInvalidConfiguration)
	}
	if c.RecoverThreshold > c.RegisterThreshold {
		return fmt.Errorf("%w: recover threshold must be <= register threshold", ErrInvalidConfiguration)
	}
	if c.RegisterThreshold > n {
		return fmt.Errorf("%w: register threshold must be <= realm count", ErrInvalidConfiguration)
	}

	seen := make(map[RealmID]bool, n)
	for _, r := range c.Realms {
		if seen[r.ID] {
			return fmt.Errorf("%w: duplicate realm id %x", ErrInvalidConfiguration, r.ID)
		}
		seen[r.ID] = true
	}

	return nil
}

// Pin is the user's low-entropy secret, never sent to any realm in the
// clear.
type Pin []byte

// UserSecret is the arbitrary high-entropy secret protected by the PIN;
// recommended to be at most 128 bytes.
type UserSecret []byte

// UserInfo is opaque identity material mixed into PIN hashing, so that the
// same PIN registered by two different identities derives unrelated keys.
type UserInfo []byte

// Policy bounds how many wrong-PIN recovery attempts a registration
// tolerates before it locks.
type Policy struct {
	NumGuesses uint16
}

func (p Policy) toWire() wire.Policy {
	return wire.Policy{NumGuesses: p.NumGuesses}
}
