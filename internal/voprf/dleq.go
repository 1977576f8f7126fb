package voprf

import (
	"crypto/sha512"

	"github.com/bytemare/ecc"
)

// Proof is a non-interactive Chaum-Pedersen proof that logB(P) == logB0(B1)
// for the fixed base point B, the server's public key P, a blinded input B0
// and its blinded output B1. It convinces the client that the server
// evaluated the VOPRF with the key matching P, without revealing the key.
type Proof struct {
	c *ecc.Scalar
	s *ecc.Scalar
}

const proofScalarLen = 32

// Bytes returns the two scalars serialized back-to-back, 32 bytes each.
func (p *Proof) Bytes() []byte {
	out := make([]byte, 0, 2*proofScalarLen)
	out = append(out, p.c.Encode()...)
	out = append(out, p.s.Encode()...)
	return out
}

// ProofFromBytes decodes a Proof from its 64-byte wire encoding.
func ProofFromBytes(b []byte) (*Proof, error) {
	if len(b) != 2*proofScalarLen {
		return nil, ErrInvalidProof
	}

	c := group().NewScalar()
	if err := c.Decode(b[:proofScalarLen]); err != nil {
		return nil, ErrInvalidProof
	}

	s := group().NewScalar()
	if err := s.Decode(b[proofScalarLen:]); err != nil {
		return nil, ErrInvalidProof
	}

	return &Proof{c: c, s: s}, nil
}

func proofChallenge(base, pub, blindedInput, blindedOutput, t1, t2 *ecc.Element) *ecc.Scalar {
	h := sha512.New()
	for _, e := range []*ecc.Element{base, pub, blindedInput, blindedOutput, t1, t2} {
		h.Write(e.Encode())
	}

	return group().HashToScalar(h.Sum(nil), []byte(domainSeparator+"DLEQ"))
}

// proveEqualDiscreteLogs proves knowledge of k such that P = k*B and
// B1 = k*B0, without revealing k. rng quality is provided by
// crypto/rand via ecc.Scalar.Random.
func proveEqualDiscreteLogs(k *ecc.Scalar, blindedInput, blindedOutput *ecc.Element) (*Proof, error) {
	base := group().Base()
	pub := base.Multiply(k)

	nonce := group().NewScalar().Random()
	t1 := base.Multiply(nonce)
	t2 := blindedInput.Multiply(nonce)

	c := proofChallenge(base, pub, blindedInput, blindedOutput, t1, t2)

	// s = nonce + c*k (mod order)
	s := c.Copy().Multiply(k).Add(nonce)

	return &Proof{c: c, s: s}, nil
}

// verifyEqualDiscreteLogs checks a Proof produced by proveEqualDiscreteLogs.
// It recomputes the prover's commitments from the proof's response and
// compares the resulting challenge, in constant time with respect to no
// secret (all inputs here are public).
func verifyEqualDiscreteLogs(pub *ecc.Element, blindedInput, blindedOutput *ecc.Element, proof *Proof) bool {
	base := group().Base()

	// t1' = s*B - c*P
	t1 := base.Multiply(proof.s).Subtract(pub.Multiply(proof.c))
	// t2' = s*B0 - c*B1
	t2 := blindedInput.Multiply(proof.s).Subtract(blindedOutput.Multiply(proof.c))

	expected := proofChallenge(base, pub, blindedInput, blindedOutput, t1, t2)

	return proof.c.Equal(expected) == 1
}
