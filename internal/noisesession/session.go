// Package noisesession implements the per-realm secure channel: an NK
// (realm has a known static public key) or NN (no known key) Noise
// handshake pattern, plus the resulting transport session's identifier,
// lifetime, and re-establishment bookkeeping.
//
// Built on github.com/flynn/noise, the same Noise Protocol Framework
// implementation storj.io/common/rpc/noise uses in the retrieval pack.
package noisesession

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/flynn/noise"
)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// State is where a realm's session sits in its lifecycle.
type State byte

const (
	// Absent means no session exists yet; the next request must open one.
	Absent State = iota
	// Handshaking means a handshake has been sent but not completed.
	Handshaking
	// Established means the transport session is usable until its
	// lifetime elapses.
	Established
	// Expired means the session lived past its lifetime or was
	// invalidated by the realm and must be discarded.
	Expired
)

// Session holds one realm's Noise session state on the client.
type Session struct {
	ID        [16]byte
	state     State
	hs        *noise.HandshakeState
	send      *noise.CipherState
	recv      *noise.CipherState
	expiresAt time.Time
}

// Pattern returns the Noise handshake pattern to use for a realm: NK when
// its static public key is known, NN (no server authentication) otherwise.
func Pattern(realmPublicKey []byte) noise.HandshakePattern {
	if len(realmPublicKey) != 0 {
		return noise.HandshakeNK
	}
	return noise.HandshakeNN
}

// StartHandshake begins a new client-initiated handshake against a realm.
// realmPublicKey must be non-empty for NK and empty for NN.
func StartHandshake(realmPublicKey []byte) (*Session, []byte, error) {
	var id [16]byte
	if _, err := rand.Read(id[:]); err != nil {
		return nil, nil, fmt.Errorf("noisesession: generating session id: %w", err)
	}

	config := noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       Pattern(realmPublicKey),
		Initiator:     true,
		PeerStatic:    realmPublicKey,
		StaticKeypair: noise.DHKey{}, // the client holds no long-term static key
	}

	hs, err := noise.NewHandshakeState(config)
	if err != nil {
		return nil, nil, fmt.Errorf("noisesession: initializing handshake: %w", err)
	}

	msg, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("noisesession: writing first handshake message: %w", err)
	}

	return &Session{ID: id, state: Handshaking, hs: hs}, msg, nil
}

// StartHandshakeWithPayload begins a handshake and piggy-backs payload (a
// marshalled SecretsRequest) on the first handshake message, for request
// kinds that don't require forward secrecy.
func StartHandshakeWithPayload(realmPublicKey, payload []byte) (*Session, []byte, error) {
	var id [16]byte
	if _, err := rand.Read(id[:]); err != nil {
		return nil, nil, fmt.Errorf("noisesession: generating session id: %w", err)
	}

	config := noise.Config{
		CipherSuite: cipherSuite,
		Pattern:     Pattern(realmPublicKey),
		Initiator:   true,
		PeerStatic:  realmPublicKey,
	}

	hs, err := noise.NewHandshakeState(config)
	if err != nil {
		return nil, nil, fmt.Errorf("noisesession: initializing handshake: %w", err)
	}

	msg, _, _, err := hs.WriteMessage(nil, payload)
	if err != nil {
		return nil, nil, fmt.Errorf("noisesession: writing first handshake message: %w", err)
	}

	return &Session{ID: id, state: Handshaking, hs: hs}, msg, nil
}

// FinishHandshake processes the realm's handshake response, deriving the
// transport cipher states and setting the session's lifetime.
func (s *Session) FinishHandshake(response []byte, lifetime time.Duration) ([]byte, error) {
	payload, cs1, cs2, err := s.hs.ReadMessage(nil, response)
	if err != nil {
		s.state = Expired
		return nil, fmt.Errorf("noisesession: reading handshake response: %w", err)
	}

	if cs1 == nil || cs2 == nil {
		s.state = Expired
		return nil, fmt.Errorf("noisesession: handshake did not complete in one round trip")
	}

	s.send = cs1
	s.recv = cs2
	s.state = Established
	s.expiresAt = time.Now().Add(lifetime)

	return payload, nil
}

// State reports the session's current lifecycle state, downgrading an
// Established session to Expired if its lifetime has elapsed.
func (s *Session) State() State {
	if s.state == Established && time.Now().After(s.expiresAt) {
		s.state = Expired
	}
	return s.state
}

// Encrypt seals a plaintext SecretsRequest for transmission over an
// established transport session.
func (s *Session) Encrypt(plaintext []byte) ([]byte, error) {
	if s.State() != Established {
		return nil, fmt.Errorf("noisesession: session is not established")
	}
	return s.send.Encrypt(nil, nil, plaintext), nil
}

// Decrypt opens a ciphertext received over an established transport
// session.
func (s *Session) Decrypt(ciphertext []byte) ([]byte, error) {
	if s.State() != Established {
		return nil, fmt.Errorf("noisesession: session is not established")
	}
	pt, err := s.recv.Decrypt(nil, nil, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("noisesession: decrypting transport message: %w", err)
	}
	return pt, nil
}

// Invalidate marks the session as no longer usable, e.g. after the realm
// reports MissingSession or SessionError.
func (s *Session) Invalidate() {
	s.state = Expired
}

// Table is the client's per-realm session table. Handshakes for a given
// realm are serialized: at most one concurrent handshake per realm.
type Table struct {
	mu          sync.Mutex
	sessions    map[[16]byte]*Session
	byRealm     map[[16]byte][16]byte
	handshaking map[[16]byte]*sync.Mutex
}

// NewTable constructs an empty session table.
func NewTable() *Table {
	return &Table{
		sessions:    make(map[[16]byte]*Session),
		byRealm:     make(map[[16]byte][16]byte),
		handshaking: make(map[[16]byte]*sync.Mutex),
	}
}

// Get returns the current session for a realm, if any.
func (t *Table) Get(realm [16]byte) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.byRealm[realm]
	if !ok {
		return nil, false
	}
	s, ok := t.sessions[id]
	return s, ok
}

// Put records a newly established (or in-progress) session for a realm,
// replacing whatever was there before.
func (t *Table) Put(realm [16]byte, s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.byRealm[realm] = s.ID
	t.sessions[s.ID] = s
}

// Discard removes a realm's session, e.g. after MissingSession/SessionError.
func (t *Table) Discard(realm [16]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.byRealm[realm]; ok {
		delete(t.sessions, id)
		delete(t.byRealm, realm)
	}
}

// HandshakeLock returns the mutex serializing handshakes for a single
// realm, creating it on first use.
func (t *Table) HandshakeLock(realm [16]byte) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.handshaking[realm]
	if !ok {
		m = &sync.Mutex{}
		t.handshaking[realm] = m
	}
	return m
}
