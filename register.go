package pinguard

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/bytemare/ecc"

	"github.com/pinguard/pinguard/internal/fanout"
	"github.com/pinguard/pinguard/internal/pinhash"
	"github.com/pinguard/pinguard/internal/secretcrypto"
	"github.com/pinguard/pinguard/internal/sharing"
	"github.com/pinguard/pinguard/internal/voprf"
	"github.com/pinguard/pinguard/internal/wire"
)

func group() ecc.Group { return ecc.Group(voprf.Suite) }

// Register establishes a new registration of secret under pin, visible to
// future Recover calls presenting the same pin and userInfo. It overwrites
// any existing registration on every realm that accepts the new record.
func (c *Client) Register(ctx context.Context, pin Pin, secret UserSecret, userInfo UserInfo, policy Policy) *RegisterError {
	cfg := c.configuration
	realms := cfg.Realms
	n := len(realms)

	if _, err := fanout.JoinAtLeastThreshold(ctx, n, cfg.RegisterThreshold,
		func(ctx context.Context, i int) (struct{}, error) {
			return struct{}{}, c.register1OnRealm(ctx, realms[i])
		}, requestErrorPriority); err != nil {
		return registerErrorFromRequest(err)
	}

	version, err := randomRegistrationVersion()
	if err != nil {
		return &RegisterError{Reason: RegisterAssertion}
	}

	accessKey, seedBase, err := pinhash.Stretch(cfg.PinHashingMode, pin, userInfo)
	if err != nil {
		return &RegisterError{Reason: RegisterAssertion}
	}
	defer accessKey.Zero()
	encryptionKeySeed := pinhash.DeriveEncryptionKeySeed(seedBase, version[:])
	defer encryptionKeySeed.Zero()

	oprfRootKey, err := voprf.RandomKey()
	if err != nil {
		return &RegisterError{Reason: RegisterAssertion}
	}

	oprfShares, err := sharing.CreateShares(oprfRootKey.Scalar(), uint8(cfg.RecoverThreshold), uint8(n))
	if err != nil {
		return &RegisterError{Reason: RegisterAssertion}
	}

	oprfResult := voprf.UnobliviousEvaluate(oprfRootKey, accessKey[:])
	unlockKey, unlockKeyCommitment := secretcrypto.DeriveUnlockKeyAndCommitment(oprfResult)
	defer unlockKey.Zero()

	encryptionKeyScalar := group().NewScalar().Random()
	encryptionKeyShares, err := sharing.CreateShares(encryptionKeyScalar, uint8(cfg.RecoverThreshold), uint8(n))
	if err != nil {
		return &RegisterError{Reason: RegisterAssertion}
	}

	encryptionKey := secretcrypto.DeriveEncryptionKey(encryptionKeySeed, encryptionKeyScalar.Encode())
	defer encryptionKey.Zero()
	encryptedSecret, err := secretcrypto.Encrypt(encryptionKey, secret)
	if err != nil {
		return &RegisterError{Reason: RegisterAssertion}
	}

	if _, err := fanout.JoinAtLeastThreshold(ctx, n, cfg.RegisterThreshold,
		func(ctx context.Context, i int) (struct{}, error) {
			realm := realms[i]
			req := wire.Register2Request{
				Version:                  version,
				OprfKeyShare:             scalarToFixed32(oprfShares[i].Value),
				UnlockKeyCommitment:      wire.Fixed32(unlockKeyCommitment),
				UnlockKeyTag:             wire.Fixed32(secretcrypto.UnlockKeyTag(unlockKey, realm.ID)),
				EncryptionKeyScalarShare: scalarToFixed32(encryptionKeyShares[i].Value),
				EncryptedUserSecret:      encryptedSecret,
				EncryptedUserSecretCommitment: wire.Fixed32(secretcrypto.EncryptedUserSecretCommitment(
					unlockKey, realm.ID, scalarToFixed32(encryptionKeyShares[i].Value), encryptedSecret)),
				Policy: policy.toWire(),
			}
			return struct{}{}, c.register2OnRealm(ctx, realm, req)
		}, requestErrorPriority); err != nil {
		return registerErrorFromRequest(err)
	}

	return nil
}

func (c *Client) register1OnRealm(ctx context.Context, realm Realm) error {
	resp, err := c.makeRequest(ctx, realm, wire.SecretsRequest{
		Kind:      wire.Register1Kind,
		Register1: &wire.Register1Request{},
	})
	if err != nil {
		return err
	}
	if resp.Kind != wire.Register1RespKind || resp.Register1 == nil || resp.Register1.Status != wire.Register1Ok {
		return &requestError{kind: requestAssertion}
	}
	return nil
}

func (c *Client) register2OnRealm(ctx context.Context, realm Realm, req wire.Register2Request) error {
	resp, err := c.makeRequest(ctx, realm, wire.SecretsRequest{
		Kind:      wire.Register2Kind,
		Register2: &req,
	})
	if err != nil {
		return err
	}
	if resp.Kind != wire.Register2RespKind || resp.Register2 == nil || resp.Register2.Status != wire.Register2Ok {
		return &requestError{kind: requestAssertion}
	}
	return nil
}

func randomRegistrationVersion() (wire.RegistrationVersion, error) {
	var v wire.RegistrationVersion
	if _, err := rand.Read(v[:]); err != nil {
		return v, fmt.Errorf("pinguard: generating registration version: %w", err)
	}
	return v, nil
}

func scalarToFixed32(s *ecc.Scalar) wire.Fixed32 {
	var out wire.Fixed32
	copy(out[:], s.Encode())
	return out
}

func scalarFromFixed32(f wire.Fixed32) (*ecc.Scalar, error) {
	s := group().NewScalar()
	if err := s.Decode(f[:]); err != nil {
		return nil, fmt.Errorf("pinguard: decoding scalar share: %w", err)
	}
	return s, nil
}
