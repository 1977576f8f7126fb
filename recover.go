package pinguard

import (
	"context"

	"github.com/pinguard/pinguard/internal/fanout"
	"github.com/pinguard/pinguard/internal/pinhash"
	"github.com/pinguard/pinguard/internal/secretcrypto"
	"github.com/pinguard/pinguard/internal/sharing"
	"github.com/pinguard/pinguard/internal/voprf"
	"github.com/pinguard/pinguard/internal/wire"
)

// recover1Outcome is one realm's successful phase-1 reply, along with the
// realm's index, which also indexes the blinding state the client used
// when asking it.
type recover1Outcome struct {
	realmIndex int
	resp       wire.Recover1Response
}

// Recover retrieves the secret registered under pin and userInfo. It tries
// the current configuration first and falls back to previous
// configurations, in order, only when the current one reports
// NotRegistered — so a realm-set or threshold migration doesn't strand
// registrations made under the old configuration.
func (c *Client) Recover(ctx context.Context, pin Pin, userInfo UserInfo) (UserSecret, *RecoverError) {
	secret, rerr := c.recoverWithConfiguration(ctx, c.configuration, pin, userInfo)
	if rerr == nil {
		return secret, nil
	}

	for _, prev := range c.previousConfigurations {
		if rerr.Reason != RecoverNotRegistered {
			return nil, rerr
		}
		secret, rerr = c.recoverWithConfiguration(ctx, prev, pin, userInfo)
		if rerr == nil {
			return secret, nil
		}
	}

	return nil, rerr
}

func (c *Client) recoverWithConfiguration(ctx context.Context, cfg Configuration, pin Pin, userInfo UserInfo) (UserSecret, *RecoverError) {
	n := len(cfg.Realms)

	accessKey, seedBase, err := pinhash.Stretch(cfg.PinHashingMode, pin, userInfo)
	if err != nil {
		return nil, &RecoverError{Reason: RecoverAssertion}
	}
	defer accessKey.Zero()

	blindings := make([]*voprf.BlindingFactor, n)
	blindedInputs := make([]*voprf.BlindedInput, n)
	for i := range cfg.Realms {
		b, bi, err := voprf.Start(accessKey[:])
		if err != nil {
			return nil, &RecoverError{Reason: RecoverAssertion}
		}
		blindings[i] = b
		blindedInputs[i] = bi
	}

	result, err := fanout.JoinAtLeastThreshold(ctx, n, cfg.RecoverThreshold,
		func(ctx context.Context, i int) (recover1Outcome, error) {
			realm := cfg.Realms[i]
			var blinded wire.Fixed32
			copy(blinded[:], blindedInputs[i].Bytes())

			resp, err := c.makeRequest(ctx, realm, wire.SecretsRequest{
				Kind:     wire.Recover1Kind,
				Recover1: &wire.Recover1Request{BlindedInput: blinded},
			})
			if err != nil {
				return recover1Outcome{}, err
			}
			if resp.Kind != wire.Recover1RespKind || resp.Recover1 == nil {
				return recover1Outcome{}, &requestError{kind: requestAssertion}
			}
			return recover1Outcome{realmIndex: i, resp: *resp.Recover1}, nil
		}, requestErrorPriority)
	if err != nil {
		return nil, recoverErrorFromRequest(err)
	}

	var outcomes []recover1Outcome
	for i, completed := range result.Completed {
		if completed {
			outcomes = append(outcomes, result.Values[i])
		}
	}

	chosenVersion, chosenGroup := selectConsensus(outcomes, cfg.RecoverThreshold)
	if chosenGroup == nil {
		return nil, classifyNoConsensus(outcomes)
	}

	shares := make([]voprf.UnblindedShare, 0, len(chosenGroup))
	byRealmIndex := make(map[int]recover1Outcome, len(chosenGroup))
	var minGuesses uint16 = ^uint16(0)
	for _, o := range chosenGroup {
		byRealmIndex[o.realmIndex] = o

		pub, err := voprf.PublicKeyFromBytes(o.resp.OprfPublicKeyShare[:])
		if err != nil {
			return nil, &RecoverError{Reason: RecoverAssertion}
		}
		blindedOut, err := voprf.BlindedOutputFromBytes(o.resp.BlindedOprfResult[:])
		if err != nil {
			return nil, &RecoverError{Reason: RecoverAssertion}
		}
		proof, err := voprf.ProofFromBytes(o.resp.OprfProof)
		if err != nil {
			return nil, &RecoverError{Reason: RecoverAssertion}
		}
		if err := voprf.VerifyProof(blindedInputs[o.realmIndex], blindedOut, pub, proof); err != nil {
			return nil, &RecoverError{Reason: RecoverAssertion}
		}

		unblinded := voprf.Unblind(blindings[o.realmIndex], blindedOut)
		shares = append(shares, voprf.UnblindedShare{Index: uint8(o.realmIndex + 1), Element: unblinded})

		if o.resp.GuessesRemaining < minGuesses {
			minGuesses = o.resp.GuessesRemaining
		}
	}

	oprfResult, err := voprf.CombineShares(accessKey[:], shares)
	if err != nil {
		return nil, &RecoverError{Reason: RecoverAssertion}
	}

	unlockKey, expectedCommitment := secretcrypto.DeriveUnlockKeyAndCommitment(oprfResult)
	defer unlockKey.Zero()
	if !secretcrypto.ConstantTimeEqual(expectedCommitment, [32]byte(chosenGroup[0].resp.UnlockKeyCommitment)) {
		// Each realm already debited this attempt's guess against its
		// budget when it answered Recover1 — it cannot tell a correct
		// guess from an incorrect one until the tag arrives in phase 2,
		// so GuessesRemaining here is already the post-attempt count.
		remaining := minGuesses
		if remaining == ^uint16(0) {
			remaining = 0
		}
		return nil, &RecoverError{Reason: RecoverInvalidPin, GuessesRemaining: &remaining}
	}

	realmIndices := make([]int, len(chosenGroup))
	for i, o := range chosenGroup {
		realmIndices[i] = o.realmIndex
	}

	type recover2Outcome struct {
		realmIndex int
		resp       wire.Recover2Response
	}

	result2, err := fanout.JoinAtLeastThreshold(ctx, len(realmIndices), cfg.RecoverThreshold,
		func(ctx context.Context, i int) (recover2Outcome, error) {
			realmIdx := realmIndices[i]
			realm := cfg.Realms[realmIdx]
			req := wire.Recover2Request{
				Version:      chosenVersion,
				UnlockKeyTag: wire.Fixed32(secretcrypto.UnlockKeyTag(unlockKey, realm.ID)),
			}

			resp, err := c.makeRequest(ctx, realm, wire.SecretsRequest{Kind: wire.Recover2Kind, Recover2: &req})
			if err != nil {
				return recover2Outcome{}, err
			}
			if resp.Kind != wire.Recover2RespKind || resp.Recover2 == nil {
				return recover2Outcome{}, &requestError{kind: requestAssertion}
			}
			if resp.Recover2.Status != wire.Recover2Ok {
				return recover2Outcome{}, &requestError{kind: requestAssertion}
			}

			phase1 := byRealmIndex[realmIdx]
			commitment := secretcrypto.EncryptedUserSecretCommitment(
				unlockKey, realm.ID, [32]byte(resp.Recover2.EncryptionKeyScalarShare), phase1.resp.EncryptedUserSecret)
			if !secretcrypto.ConstantTimeEqual(commitment, [32]byte(phase1.resp.EncryptedUserSecretCommitment)) {
				return recover2Outcome{}, &requestError{kind: requestAssertion}
			}

			return recover2Outcome{realmIndex: realmIdx, resp: *resp.Recover2}, nil
		}, requestErrorPriority)
	if err != nil {
		return nil, recoverErrorFromRequest(err)
	}

	encShares := make([]sharing.Share, 0, len(realmIndices))
	for i, completed := range result2.Completed {
		if !completed {
			continue
		}
		o := result2.Values[i]
		s, derr := scalarFromFixed32(o.resp.EncryptionKeyScalarShare)
		if derr != nil {
			return nil, &RecoverError{Reason: RecoverAssertion}
		}
		encShares = append(encShares, sharing.Share{Index: uint8(o.realmIndex + 1), Value: s})
	}

	encryptionKeyScalar, err := sharing.Reconstruct(encShares, uint8(cfg.RecoverThreshold))
	if err != nil {
		return nil, &RecoverError{Reason: RecoverAssertion}
	}

	encryptionKeySeed := pinhash.DeriveEncryptionKeySeed(seedBase, chosenVersion[:])
	defer encryptionKeySeed.Zero()

	encryptionKey := secretcrypto.DeriveEncryptionKey(encryptionKeySeed, encryptionKeyScalar.Encode())
	defer encryptionKey.Zero()

	plaintext, err := secretcrypto.Decrypt(encryptionKey, chosenGroup[0].resp.EncryptedUserSecret)
	if err != nil {
		return nil, &RecoverError{Reason: RecoverAssertion}
	}

	return UserSecret(plaintext), nil
}

// selectConsensus looks for a RegistrationVersion reported Ok by at least
// threshold realms, all reporting the same UnlockKeyCommitment. Realms
// outside the winning version/commitment pair are excluded from the rest
// of recovery, per spec.
func selectConsensus(outcomes []recover1Outcome, threshold int) (wire.RegistrationVersion, []recover1Outcome) {
	groups := map[wire.RegistrationVersion][]recover1Outcome{}
	for _, o := range outcomes {
		if o.resp.Status != wire.Recover1Ok {
			continue
		}
		groups[o.resp.Version] = append(groups[o.resp.Version], o)
	}

	for version, group := range groups {
		if len(group) < threshold {
			continue
		}
		commitment := group[0].resp.UnlockKeyCommitment
		agree := true
		for _, o := range group[1:] {
			if o.resp.UnlockKeyCommitment != commitment {
				agree = false
				break
			}
		}
		if agree {
			return version, group
		}
	}

	return wire.RegistrationVersion{}, nil
}

// classifyNoConsensus picks the most informative error when no version
// reached consensus: no outcomes at all is Transient; any NoGuesses reply
// yields NoGuesses; NotRegistered is returned only when every reply is
// NotRegistered; any other mix is a residual Assertion.
func classifyNoConsensus(outcomes []recover1Outcome) *RecoverError {
	if len(outcomes) == 0 {
		return &RecoverError{Reason: RecoverTransient}
	}

	sawNoGuesses := false
	allNotRegistered := true
	for _, o := range outcomes {
		switch o.resp.Status {
		case wire.Recover1NoGuesses:
			sawNoGuesses = true
			allNotRegistered = false
		case wire.Recover1NotRegistered:
		default:
			allNotRegistered = false
		}
	}

	if sawNoGuesses {
		return &RecoverError{Reason: RecoverNoGuesses}
	}
	if allNotRegistered {
		return &RecoverError{Reason: RecoverNotRegistered}
	}
	return &RecoverError{Reason: RecoverAssertion}
}
