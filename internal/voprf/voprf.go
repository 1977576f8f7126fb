// Package voprf implements a verifiable oblivious pseudorandom function
// based on 2HashDH and a Chaum-Pedersen discrete-log-equality proof, over a
// prime-order group supplied by github.com/bytemare/ecc.
//
// See Jarecki, Kiayias, Krawczyk, "Round-Optimal Password-Protected Secret
// Sharing and T-PAKE in the Password-Only Model" for 2HashDH, and Chaum and
// Pedersen, "Wallet Databases with Observers" for the DLEQ proof.
package voprf

import (
	"crypto/sha512"
	"encoding/binary"
	"fmt"

	"github.com/bytemare/ecc"

	"github.com/pinguard/pinguard/internal/sharing"
)

// Suite is the group and hash used throughout this package: Ristretto255
// with SHA-512, matching the ciphersuite the original protocol specifies.
const Suite = ecc.Ristretto255Sha512

const domainSeparator = "Juicebox_VOPRF_2023_1;"

func group() ecc.Group {
	return ecc.Group(Suite)
}

// PrivateKey is the server's VOPRF key, a scalar in the group's field.
type PrivateKey struct {
	scalar *ecc.Scalar
}

// PublicKey is the public counterpart of a PrivateKey, P = k*B.
type PublicKey struct {
	element *ecc.Element
}

// RandomKey generates a fresh, uniformly random PrivateKey.
func RandomKey() (*PrivateKey, error) {
	s := group().NewScalar().Random()
	return &PrivateKey{scalar: s}, nil
}

// KeyFromScalarBytes reconstructs a PrivateKey from its canonical encoding,
// e.g. a Shamir share reconstructed by internal/sharing.
func KeyFromScalarBytes(b []byte) (*PrivateKey, error) {
	s := group().NewScalar()
	if err := s.Decode(b); err != nil {
		return nil, fmt.Errorf("decoding oprf private key: %w", err)
	}
	return &PrivateKey{scalar: s}, nil
}

// Bytes returns the canonical 32-byte little-endian encoding of the key.
func (k *PrivateKey) Bytes() []byte {
	return k.scalar.Encode()
}

// Scalar exposes the underlying field element, for callers (such as
// internal/sharing) that need to split or recombine it directly rather
// than round-tripping through its byte encoding.
func (k *PrivateKey) Scalar() *ecc.Scalar {
	return k.scalar
}

// String never reveals the private scalar through %v/%s formatting or
// accidental logging.
func (k *PrivateKey) String() string { return "REDACTED" }

// GoString never reveals the private scalar through %#v formatting.
func (k *PrivateKey) GoString() string { return "REDACTED" }

// Public derives the public key P = k*B.
func (k *PrivateKey) Public() *PublicKey {
	return &PublicKey{element: group().Base().Multiply(k.scalar)}
}

// Bytes returns the canonical 32-byte compressed encoding of the point.
func (p *PublicKey) Bytes() []byte {
	return p.element.Encode()
}

// PublicKeyFromBytes decodes a canonically-compressed public key, rejecting
// non-canonical or small-subgroup encodings.
func PublicKeyFromBytes(b []byte) (*PublicKey, error) {
	e := group().NewElement()
	if err := e.Decode(b); err != nil {
		return nil, fmt.Errorf("decoding oprf public key: %w", err)
	}
	return &PublicKey{element: e}, nil
}

// BlindingFactor is the random scalar produced by Start; it must be kept
// secret until Finalize and then discarded.
type BlindingFactor struct {
	scalar *ecc.Scalar
}

// String never reveals the blinding scalar through %v/%s formatting or
// accidental logging.
func (b *BlindingFactor) String() string { return "REDACTED" }

// GoString never reveals the blinding scalar through %#v formatting.
func (b *BlindingFactor) GoString() string { return "REDACTED" }

// BlindedInput is the point the client sends to the server to evaluate.
type BlindedInput struct {
	element *ecc.Element
}

// Bytes returns the 32-byte canonical compressed encoding.
func (b *BlindedInput) Bytes() []byte { return b.element.Encode() }

// BlindedInputFromBytes decodes a blinded input, rejecting non-canonical
// encodings.
func BlindedInputFromBytes(b []byte) (*BlindedInput, error) {
	e := group().NewElement()
	if err := e.Decode(b); err != nil {
		return nil, fmt.Errorf("decoding blinded input: %w", err)
	}
	return &BlindedInput{element: e}, nil
}

// BlindedOutput is the server's evaluation of a BlindedInput.
type BlindedOutput struct {
	element *ecc.Element
}

// Bytes returns the 32-byte canonical compressed encoding.
func (b *BlindedOutput) Bytes() []byte { return b.element.Encode() }

// BlindedOutputFromBytes decodes a blinded output, rejecting non-canonical
// encodings.
func BlindedOutputFromBytes(b []byte) (*BlindedOutput, error) {
	e := group().NewElement()
	if err := e.Decode(b); err != nil {
		return nil, fmt.Errorf("decoding blinded output: %w", err)
	}
	return &BlindedOutput{element: e}, nil
}

// Output is the 64-byte pseudorandom result of the VOPRF.
type Output [64]byte

func hashToOutput(input []byte, result *ecc.Element) Output {
	h := sha512.New()
	h.Write([]byte(domainSeparator))
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(input)))
	h.Write(lenBuf[:])
	h.Write(input)
	h.Write(result.Encode())

	var out Output
	copy(out[:], h.Sum(nil))
	return out
}

func hashToGroup(input []byte) *ecc.Element {
	return group().HashToGroup(input, []byte(domainSeparator+"HashToGroup"))
}

// Start begins the client's side of the protocol: it hashes input to a
// group element and blinds it with a fresh random scalar. The server never
// sees input; it only sees the returned BlindedInput.
func Start(input []byte) (*BlindingFactor, *BlindedInput, error) {
	b := group().NewScalar().Random()
	point := hashToGroup(input)
	blinded := point.Multiply(b)

	return &BlindingFactor{scalar: b}, &BlindedInput{element: blinded}, nil
}

// BlindEvaluate runs the server's side of the protocol on a blinded input,
// returning the blinded output and a DLEQ proof that logB(P) == logB0(B1).
func BlindEvaluate(key *PrivateKey, pub *PublicKey, blinded *BlindedInput) (*BlindedOutput, *Proof, error) {
	out := blinded.element.Multiply(key.scalar)
	proof, err := proveEqualDiscreteLogs(key.scalar, blinded.element, out)
	if err != nil {
		return nil, nil, err
	}
	return &BlindedOutput{element: out}, proof, nil
}

// VerifyProof checks that the server computed BlindEvaluate correctly with
// respect to the given public key, without revealing the private key.
func VerifyProof(blindedInput *BlindedInput, blindedOutput *BlindedOutput, pub *PublicKey, proof *Proof) error {
	ok := verifyEqualDiscreteLogs(pub.element, blindedInput.element, blindedOutput.element, proof)
	if !ok {
		return ErrInvalidProof
	}
	return nil
}

// Finalize completes the client's side of the protocol: it removes the
// blinding factor from the server's blinded output and hashes the result
// together with the original input into the final 64-byte Output.
//
// Callers must have called VerifyProof successfully first.
func Finalize(input []byte, blinding *BlindingFactor, blindedOutput *BlindedOutput) Output {
	inv := blinding.scalar.Copy().Invert()
	result := blindedOutput.element.Multiply(inv)
	return hashToOutput(input, result)
}

// UnobliviousEvaluate computes the same Output as a full client-server
// interaction would, but directly from the private key. Used by a
// registering client, which knows the key it just generated.
func UnobliviousEvaluate(key *PrivateKey, input []byte) Output {
	point := hashToGroup(input)
	result := point.Multiply(key.scalar)
	return hashToOutput(input, result)
}

// ErrInvalidProof indicates a DLEQ proof failed verification: either the
// server is faulty/malicious, or the wire data was corrupted.
var ErrInvalidProof = fmt.Errorf("voprf: invalid discrete-log-equality proof")

// Unblind removes a blinding factor from a BlindedOutput, yielding the
// evaluating key's raw contribution k*H2G(input) without hashing it into
// an Output yet. A realm holding only a Shamir share k_i of the root key
// produces k_i*H2G(input) this way; CombineShares then Lagrange-recombines
// threshold such contributions into the same point the root key would
// have produced directly, before the final hash.
func Unblind(blinding *BlindingFactor, blindedOutput *BlindedOutput) *ecc.Element {
	inv := blinding.scalar.Copy().Invert()
	return blindedOutput.element.Multiply(inv)
}

// UnblindedShare is one realm's unblinded, unhashed contribution toward a
// threshold VOPRF evaluation, keyed by the same Shamir share index used
// when its OprfKeyShare was created.
type UnblindedShare struct {
	Index   uint8
	Element *ecc.Element
}

// CombineShares Lagrange-interpolates at least threshold UnblindedShares
// at x=0 to recover k*H2G(input) without ever reconstructing k itself,
// then finishes the VOPRF by hashing the result together with input —
// exactly the final step UnobliviousEvaluate performs, so a recovering
// client's reconstructed Output is byte-identical to what the registering
// client computed directly.
func CombineShares(input []byte, shares []UnblindedShare) (Output, error) {
	if len(shares) == 0 {
		return Output{}, fmt.Errorf("voprf: no shares to combine")
	}

	indices := make([]uint8, len(shares))
	for i, s := range shares {
		indices[i] = s.Index
	}

	coeffs, err := sharing.LagrangeCoefficientsAtZero(indices)
	if err != nil {
		return Output{}, fmt.Errorf("voprf: combining shares: %w", err)
	}

	acc := shares[0].Element.Multiply(coeffs[0])
	for i := 1; i < len(shares); i++ {
		acc = acc.Add(shares[i].Element.Multiply(coeffs[i]))
	}

	return hashToOutput(input, acc), nil
}
