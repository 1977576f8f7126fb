package wire

import "time"

// ClientRequestKind tells the realm whether it needs to load the caller's
// record to process this request.
type ClientRequestKind byte

const (
	// HandshakeOnlyKind carries just a Noise handshake, no SecretsRequest.
	HandshakeOnlyKind ClientRequestKind = iota
	// SecretsRequestKind carries a Noise handshake or transport message
	// with an encrypted SecretsRequest inside.
	SecretsRequestKind
)

// ClientRequest is what the client sends to a single realm's request
// endpoint.
type ClientRequest struct {
	Realm     RealmID            `cbor:"1,keyasint"`
	AuthToken AuthToken          `cbor:"2,keyasint"`
	SessionID SessionID          `cbor:"3,keyasint"`
	Kind      ClientRequestKind  `cbor:"4,keyasint"`
	Encrypted NoiseRequest       `cbor:"5,keyasint"`
}

// NoiseRequest carries either a raw handshake message or an established
// transport ciphertext.
type NoiseRequest struct {
	Handshake  []byte `cbor:"1,keyasint,omitempty"`
	Ciphertext []byte `cbor:"2,keyasint,omitempty"`
}

// IsHandshake reports whether this is the first message of a session.
func (n NoiseRequest) IsHandshake() bool { return n.Handshake != nil }

// ClientResponseStatus enumerates what a realm's request endpoint returns
// at the outer, unencrypted layer.
type ClientResponseStatus byte

const (
	// StatusOk means the request was processed; the NoiseResponse payload
	// carries the actual result.
	StatusOk ClientResponseStatus = iota
	// StatusUnavailable means the realm could not be reached internally
	// (e.g. its storage backend is down).
	StatusUnavailable
	// StatusInvalidAuth means the auth token was rejected.
	StatusInvalidAuth
	// StatusMissingSession means the realm has no session state for the
	// given SessionID; the client must re-handshake.
	StatusMissingSession
	// StatusSessionError means the realm could not decrypt the Noise
	// payload under the given SessionID.
	StatusSessionError
	// StatusDecodingError means the realm could not deserialize the
	// ClientRequest or the encapsulated SecretsRequest.
	StatusDecodingError
)

// ClientResponse is a realm's reply to a ClientRequest.
type ClientResponse struct {
	Status   ClientResponseStatus `cbor:"1,keyasint"`
	Response NoiseResponse        `cbor:"2,keyasint,omitempty"`
}

// NoiseResponse carries either a handshake response (plus the session
// lifetime the client should honor) or a transport ciphertext.
type NoiseResponse struct {
	Handshake        []byte        `cbor:"1,keyasint,omitempty"`
	SessionLifetime  time.Duration `cbor:"2,keyasint,omitempty"`
	Ciphertext       []byte        `cbor:"3,keyasint,omitempty"`
}

// IsHandshake reports whether this response completes a handshake.
func (n NoiseResponse) IsHandshake() bool { return n.Handshake != nil }

// SecretsRequestKind discriminates the inner, Noise-encrypted request.
type SecretsRequestKind byte

const (
	Register1Kind SecretsRequestKind = iota
	Register2Kind
	Recover1Kind
	Recover2Kind
	DeleteKind
)

// NeedsForwardSecrecy reports whether this request kind must be sent over
// an established Noise transport session rather than piggy-backed on the
// handshake message itself.
func (k SecretsRequestKind) NeedsForwardSecrecy() bool {
	switch k {
	case Register2Kind, Recover2Kind:
		return true
	default:
		return false
	}
}

// SecretsRequest is the Noise-encrypted payload for one of the five
// protocol operations. Exactly one of the typed fields is populated,
// matching Kind.
type SecretsRequest struct {
	Kind      SecretsRequestKind `cbor:"1,keyasint"`
	Register1 *Register1Request  `cbor:"2,keyasint,omitempty"`
	Register2 *Register2Request  `cbor:"3,keyasint,omitempty"`
	Recover1  *Recover1Request   `cbor:"4,keyasint,omitempty"`
	Recover2  *Recover2Request   `cbor:"5,keyasint,omitempty"`
	Delete    *DeleteRequest     `cbor:"6,keyasint,omitempty"`
}

// Register1Request is phase 1 of registration: idempotent, carries no
// cryptographic payload, and exists only to warm the session and confirm
// authorization before the realm commits to a new record in phase 2.
type Register1Request struct{}

// Register1Status enumerates the outcomes of phase 1 of registration.
type Register1Status byte

const (
	Register1Ok Register1Status = iota
)

// Register1Response is the realm's reply to a Register1Request.
type Register1Response struct {
	Status Register1Status `cbor:"1,keyasint"`
}

// Register2Request is phase 2 of registration: it installs a new record on
// the realm under a fresh RegistrationVersion.
type Register2Request struct {
	Version                        RegistrationVersion `cbor:"1,keyasint"`
	OprfKeyShare                   Fixed32              `cbor:"2,keyasint"`
	UnlockKeyCommitment            Fixed32              `cbor:"3,keyasint"`
	UnlockKeyTag                   Fixed32              `cbor:"4,keyasint"`
	EncryptionKeyScalarShare       Fixed32              `cbor:"5,keyasint"`
	EncryptedUserSecret            []byte                `cbor:"6,keyasint"`
	EncryptedUserSecretCommitment  Fixed32              `cbor:"7,keyasint"`
	Policy                         Policy                `cbor:"8,keyasint"`
}

// SecretsResponseKind discriminates the inner response.
type SecretsResponseKind byte

const (
	Register1RespKind SecretsResponseKind = iota
	Register2RespKind
	Recover1RespKind
	Recover2RespKind
	DeleteRespKind
)

// SecretsResponse is the Noise-encrypted reply to a SecretsRequest.
type SecretsResponse struct {
	Kind      SecretsResponseKind  `cbor:"1,keyasint"`
	Register1 *Register1Response   `cbor:"2,keyasint,omitempty"`
	Recover1  *Recover1Response    `cbor:"3,keyasint,omitempty"`
	Recover2  *Recover2Response    `cbor:"4,keyasint,omitempty"`
	Register2 *Register2Response   `cbor:"5,keyasint,omitempty"`
}

// Register2Status enumerates the outcomes of phase 2 of registration.
type Register2Status byte

const (
	Register2Ok Register2Status = iota
)

// Register2Response is the realm's reply to a Register2Request.
type Register2Response struct {
	Status Register2Status `cbor:"1,keyasint"`
}

// Recover1Request carries the client's blinded access key so that a
// realm's reply can include the matching BlindedOprfResult in the same
// round trip; the client derives BlindedInput before learning which
// RegistrationVersion is current (see internal/pinhash).
type Recover1Request struct {
	BlindedInput Fixed32 `cbor:"1,keyasint"`
}

// Recover1Status enumerates the outcomes of phase 1 of recovery.
type Recover1Status byte

const (
	Recover1Ok Recover1Status = iota
	Recover1NotRegistered
	Recover1NoGuesses
	Recover1PartiallyRegistered
)

// Recover1Response is the realm's reply to a Recover1Request. It never
// carries the plaintext EncryptionKeyScalarShare: that is released only by
// Recover2Response, gated on a correct UnlockKeyTag, so that fetching the
// OPRF evaluation and stored ciphertext alone can never yield the
// encryption key without presenting PIN-derived proof to each realm.
type Recover1Response struct {
	Status                        Recover1Status      `cbor:"1,keyasint"`
	Version                       RegistrationVersion `cbor:"2,keyasint,omitempty"`
	BlindedOprfResult             Fixed32             `cbor:"3,keyasint,omitempty"`
	OprfPublicKeyShare            Fixed32             `cbor:"4,keyasint,omitempty"`
	OprfProof                     []byte              `cbor:"5,keyasint,omitempty"`
	UnlockKeyCommitment           Fixed32             `cbor:"6,keyasint,omitempty"`
	GuessesRemaining              uint16              `cbor:"7,keyasint,omitempty"`
	EncryptedUserSecret           []byte              `cbor:"8,keyasint,omitempty"`
	EncryptedUserSecretCommitment Fixed32             `cbor:"9,keyasint,omitempty"`
}

// Recover2Request presents the unlock-key tag proving PIN knowledge.
type Recover2Request struct {
	Version      RegistrationVersion `cbor:"1,keyasint"`
	UnlockKeyTag Fixed32              `cbor:"2,keyasint"`
}

// Recover2Status enumerates the outcomes of phase 2 of recovery.
type Recover2Status byte

const (
	Recover2Ok Recover2Status = iota
	Recover2NotRegistered
	Recover2BadUnlockTag
)

// Recover2Response is the realm's reply to a Recover2Request.
type Recover2Response struct {
	Status                   Recover2Status `cbor:"1,keyasint"`
	EncryptionKeyScalarShare Fixed32        `cbor:"2,keyasint,omitempty"`
	GuessesRemaining         uint16          `cbor:"3,keyasint,omitempty"`
}

// DeleteRequest asks a realm to erase the caller's registration entirely.
type DeleteRequest struct{}

// DeleteResponse is the realm's reply to a DeleteRequest; delete is
// idempotent, so there is only one status.
type DeleteResponse struct{}
