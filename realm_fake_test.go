package pinguard_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flynn/noise"

	"github.com/pinguard/pinguard"
	"github.com/pinguard/pinguard/internal/voprf"
	"github.com/pinguard/pinguard/internal/wire"
)

// cipherSuite mirrors internal/noisesession's, so a fakeRealmServer (the
// test's stand-in for host-side realm infrastructure) can complete a real
// handshake against the client's unexported noisesession implementation.
var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// registrationRecord is the single-identity state a fakeRealmServer holds,
// mirroring the fields a real realm persists per Register2Request.
type registrationRecord struct {
	version             wire.RegistrationVersion
	oprfKey             *voprf.PrivateKey
	unlockKeyCommitment wire.Fixed32
	unlockKeyTag        wire.Fixed32
	encKeyShare         wire.Fixed32
	encryptedSecret     []byte
	encSecretCommitment wire.Fixed32
	guessesRemaining    uint16
}

type serverSession struct {
	send *noise.CipherState
	recv *noise.CipherState
}

// fakeRealmServer is an in-memory stand-in for one realm's request
// endpoint: it terminates a real Noise handshake, runs the real VOPRF
// blind-evaluation and DLEQ proof, and stores/releases exactly the fields
// the wire protocol defines, without ever touching the plaintext PIN.
type fakeRealmServer struct {
	id          wire.RealmID
	useNK       bool
	staticPair  noise.DHKey
	validTokens map[wire.AuthToken]bool

	mu       sync.Mutex
	sessions map[wire.SessionID]*serverSession
	record   *registrationRecord
}

func newFakeRealmServer(id wire.RealmID, useNK bool) (*fakeRealmServer, []byte, error) {
	srv := &fakeRealmServer{
		id:          id,
		useNK:       useNK,
		validTokens: map[wire.AuthToken]bool{},
		sessions:    map[wire.SessionID]*serverSession{},
	}

	var pub []byte
	if useNK {
		pair, err := cipherSuite.GenerateKeypair(nil)
		if err != nil {
			return nil, nil, fmt.Errorf("generating realm static keypair: %w", err)
		}
		srv.staticPair = pair
		pub = pair.Public
	}

	return srv, pub, nil
}

func (s *fakeRealmServer) allow(token wire.AuthToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validTokens[token] = true
}

// currentGuessesRemaining reports this realm's persisted guess budget, for
// tests asserting it is or isn't disturbed by a given operation.
func (s *fakeRealmServer) currentGuessesRemaining() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return 0
	}
	return s.record.guessesRemaining
}

func (s *fakeRealmServer) pattern() noise.HandshakePattern {
	if s.useNK {
		return noise.HandshakeNK
	}
	return noise.HandshakeNN
}

// handle is the realm's entire request endpoint: authenticate, terminate
// or continue the Noise session, decrypt/process/encrypt the inner
// SecretsRequest, and return the outer envelope.
func (s *fakeRealmServer) handle(req wire.ClientRequest) (wire.ClientResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.validTokens[req.AuthToken] {
		return wire.ClientResponse{Status: wire.StatusInvalidAuth}, nil
	}

	if req.Encrypted.IsHandshake() {
		return s.handleHandshakeLocked(req)
	}

	sess, ok := s.sessions[req.SessionID]
	if !ok {
		return wire.ClientResponse{Status: wire.StatusMissingSession}, nil
	}

	plaintext, err := sess.recv.Decrypt(nil, nil, req.Encrypted.Ciphertext)
	if err != nil {
		return wire.ClientResponse{Status: wire.StatusSessionError}, nil
	}

	var sreq wire.SecretsRequest
	if err := wire.Unmarshal(plaintext, &sreq); err != nil {
		return wire.ClientResponse{Status: wire.StatusDecodingError}, nil
	}

	sresp := s.processLocked(sreq)
	respBytes, err := wire.Marshal(sresp)
	if err != nil {
		return wire.ClientResponse{}, fmt.Errorf("marshalling response: %w", err)
	}

	ciphertext := sess.send.Encrypt(nil, nil, respBytes)
	return wire.ClientResponse{Status: wire.StatusOk, Response: wire.NoiseResponse{Ciphertext: ciphertext}}, nil
}

func (s *fakeRealmServer) handleHandshakeLocked(req wire.ClientRequest) (wire.ClientResponse, error) {
	config := noise.Config{
		CipherSuite: cipherSuite,
		Pattern:     s.pattern(),
		Initiator:   false,
	}
	if s.useNK {
		config.StaticKeypair = s.staticPair
	}

	hs, err := noise.NewHandshakeState(config)
	if err != nil {
		return wire.ClientResponse{}, fmt.Errorf("building responder handshake state: %w", err)
	}

	payload, _, _, err := hs.ReadMessage(nil, req.Encrypted.Handshake)
	if err != nil {
		return wire.ClientResponse{Status: wire.StatusDecodingError}, nil
	}

	var respPayload []byte
	if req.Kind == wire.SecretsRequestKind && len(payload) > 0 {
		var sreq wire.SecretsRequest
		if err := wire.Unmarshal(payload, &sreq); err != nil {
			return wire.ClientResponse{Status: wire.StatusDecodingError}, nil
		}

		sresp := s.processLocked(sreq)
		respPayload, err = wire.Marshal(sresp)
		if err != nil {
			return wire.ClientResponse{}, fmt.Errorf("marshalling response: %w", err)
		}
	}

	msg2, cs1, cs2, err := hs.WriteMessage(nil, respPayload)
	if err != nil {
		return wire.ClientResponse{}, fmt.Errorf("writing responder handshake message: %w", err)
	}

	s.sessions[req.SessionID] = &serverSession{send: cs1, recv: cs2}

	return wire.ClientResponse{
		Status: wire.StatusOk,
		Response: wire.NoiseResponse{
			Handshake:       msg2,
			SessionLifetime: time.Hour,
		},
	}, nil
}

func (s *fakeRealmServer) processLocked(req wire.SecretsRequest) wire.SecretsResponse {
	switch req.Kind {
	case wire.Register1Kind:
		return wire.SecretsResponse{Kind: wire.Register1RespKind, Register1: &wire.Register1Response{Status: wire.Register1Ok}}

	case wire.Register2Kind:
		key, err := voprf.KeyFromScalarBytes(req.Register2.OprfKeyShare[:])
		if err != nil {
			return wire.SecretsResponse{Kind: wire.Register2RespKind, Register2: &wire.Register2Response{Status: wire.Register2Ok}}
		}
		s.record = &registrationRecord{
			version:             req.Register2.Version,
			oprfKey:             key,
			unlockKeyCommitment: req.Register2.UnlockKeyCommitment,
			unlockKeyTag:        req.Register2.UnlockKeyTag,
			encKeyShare:         req.Register2.EncryptionKeyScalarShare,
			encryptedSecret:     req.Register2.EncryptedUserSecret,
			encSecretCommitment: req.Register2.EncryptedUserSecretCommitment,
			guessesRemaining:    req.Register2.Policy.NumGuesses,
		}
		return wire.SecretsResponse{Kind: wire.Register2RespKind, Register2: &wire.Register2Response{Status: wire.Register2Ok}}

	case wire.Recover1Kind:
		return s.processRecover1Locked(req.Recover1)

	case wire.Recover2Kind:
		return s.processRecover2Locked(req.Recover2)

	case wire.DeleteKind:
		s.record = nil
		return wire.SecretsResponse{Kind: wire.DeleteRespKind}

	default:
		return wire.SecretsResponse{}
	}
}

func (s *fakeRealmServer) processRecover1Locked(req *wire.Recover1Request) wire.SecretsResponse {
	if s.record == nil {
		return wire.SecretsResponse{Kind: wire.Recover1RespKind, Recover1: &wire.Recover1Response{Status: wire.Recover1NotRegistered}}
	}
	if s.record.guessesRemaining == 0 {
		return wire.SecretsResponse{Kind: wire.Recover1RespKind, Recover1: &wire.Recover1Response{Status: wire.Recover1NoGuesses}}
	}

	blindedInput, err := voprf.BlindedInputFromBytes(req.BlindedInput[:])
	if err != nil {
		return wire.SecretsResponse{Kind: wire.Recover1RespKind, Recover1: &wire.Recover1Response{Status: wire.Recover1NotRegistered}}
	}

	blindedOutput, proof, err := voprf.BlindEvaluate(s.record.oprfKey, s.record.oprfKey.Public(), blindedInput)
	if err != nil {
		return wire.SecretsResponse{Kind: wire.Recover1RespKind, Recover1: &wire.Recover1Response{Status: wire.Recover1NotRegistered}}
	}

	// Every phase-1 contact debits the guess budget: the realm cannot
	// yet tell a correct guess from an incorrect one.
	s.record.guessesRemaining--

	var blindedResult, pubShare wire.Fixed32
	copy(blindedResult[:], blindedOutput.Bytes())
	copy(pubShare[:], s.record.oprfKey.Public().Bytes())

	return wire.SecretsResponse{
		Kind: wire.Recover1RespKind,
		Recover1: &wire.Recover1Response{
			Status:                        wire.Recover1Ok,
			Version:                       s.record.version,
			BlindedOprfResult:             blindedResult,
			OprfPublicKeyShare:            pubShare,
			OprfProof:                     proof.Bytes(),
			UnlockKeyCommitment:           s.record.unlockKeyCommitment,
			GuessesRemaining:              s.record.guessesRemaining,
			EncryptedUserSecret:           s.record.encryptedSecret,
			EncryptedUserSecretCommitment: s.record.encSecretCommitment,
		},
	}
}

func (s *fakeRealmServer) processRecover2Locked(req *wire.Recover2Request) wire.SecretsResponse {
	if s.record == nil || req.Version != s.record.version {
		return wire.SecretsResponse{Kind: wire.Recover2RespKind, Recover2: &wire.Recover2Response{Status: wire.Recover2NotRegistered}}
	}
	if req.UnlockKeyTag != s.record.unlockKeyTag {
		return wire.SecretsResponse{Kind: wire.Recover2RespKind, Recover2: &wire.Recover2Response{
			Status:           wire.Recover2BadUnlockTag,
			GuessesRemaining: s.record.guessesRemaining,
		}}
	}

	// A correct tag proves the PIN guess that consumed this attempt's
	// budget in phase 1 was in fact correct, so the debit is reversed.
	s.record.guessesRemaining++

	return wire.SecretsResponse{
		Kind: wire.Recover2RespKind,
		Recover2: &wire.Recover2Response{
			Status:                   wire.Recover2Ok,
			EncryptionKeyScalarShare: s.record.encKeyShare,
			GuessesRemaining:         s.record.guessesRemaining,
		},
	}
}

// fakeSender dispatches a ClientRequest to the in-memory realm it names,
// standing in for the host-supplied transport.
type fakeSender struct {
	realms map[wire.RealmID]*fakeRealmServer
}

func (s *fakeSender) Send(_ context.Context, realm pinguard.Realm, req wire.ClientRequest) (wire.ClientResponse, error) {
	srv, ok := s.realms[realm.ID]
	if !ok {
		return wire.ClientResponse{}, fmt.Errorf("fakeSender: unknown realm %x", realm.ID)
	}
	return srv.handle(req)
}

// phase2BlockingSender wraps a fakeSender and intercepts every phase-2
// shaped request (an established-session ciphertext, never a handshake
// message) without decrypting it: NeedsForwardSecrecy requests such as
// Recover2 always travel this way, so the shape alone is enough to tell
// phase-1 and phase-2 apart in a Recover call. The first such request
// observed cancels the caller-supplied context and is never forwarded to
// the underlying realm, so no realm handler (and therefore no guess
// counter) is ever touched past that point.
type phase2BlockingSender struct {
	*fakeSender
	cancel context.CancelFunc

	mu      sync.Mutex
	blocked bool
}

func (s *phase2BlockingSender) Send(ctx context.Context, realm pinguard.Realm, req wire.ClientRequest) (wire.ClientResponse, error) {
	isPhase2Shaped := !req.Encrypted.IsHandshake() && len(req.Encrypted.Ciphertext) > 0

	if isPhase2Shaped {
		s.mu.Lock()
		s.blocked = true
		s.mu.Unlock()
		s.cancel()
		return wire.ClientResponse{}, fmt.Errorf("phase2BlockingSender: blocked phase-2 request to realm %x", realm.ID)
	}

	s.mu.Lock()
	blocked := s.blocked
	s.mu.Unlock()
	if blocked {
		return wire.ClientResponse{}, fmt.Errorf("phase2BlockingSender: blocked after cancellation, realm %x", realm.ID)
	}

	return s.fakeSender.Send(ctx, realm, req)
}

// fakeTokenProvider hands out a fixed, always-valid token per realm unless
// the realm id is listed in denied, which mimics a host that has no
// credential for that realm (spec's InvalidAuth path).
type fakeTokenProvider struct {
	denied map[wire.RealmID]bool
}

func (p *fakeTokenProvider) Token(_ context.Context, realm wire.RealmID) (wire.AuthToken, bool) {
	if p.denied[realm] {
		return "", false
	}
	return wire.AuthToken(fmt.Sprintf("token-%x", realm)), true
}
