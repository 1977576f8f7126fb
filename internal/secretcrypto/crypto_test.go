package secretcrypto

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnlockKeyAndCommitmentAreIndependent(t *testing.T) {
	var oprfResult [64]byte
	for i := range oprfResult {
		oprfResult[i] = byte(i)
	}

	key, commitment := DeriveUnlockKeyAndCommitment(oprfResult)
	require.NotEqual(t, key[:], commitment[:])

	key2, commitment2 := DeriveUnlockKeyAndCommitment(oprfResult)
	require.Equal(t, key, key2)
	require.Equal(t, commitment, commitment2)
}

func TestTagsDifferPerRealm(t *testing.T) {
	var unlockKey UnlockKey
	copy(unlockKey[:], "test-unlock-key-32-bytes-long!!!")

	tagA := UnlockKeyTag(unlockKey, [16]byte{1})
	tagB := UnlockKeyTag(unlockKey, [16]byte{2})
	require.NotEqual(t, tagA, tagB)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	var key EncryptionKey
	copy(key[:], "0123456789abcdef0123456789abcdef")

	plaintext := []byte("hello, this is a user secret")
	ciphertext, err := Encrypt(key, plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ciphertext)

	got, err := Decrypt(key, ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestDecryptFailsWithWrongKey(t *testing.T) {
	var key, wrongKey EncryptionKey
	copy(key[:], "0123456789abcdef0123456789abcdef")
	copy(wrongKey[:], "ffffffffffffffffffffffffffffffff")

	ciphertext, err := Encrypt(key, []byte("secret"))
	require.NoError(t, err)

	_, err = Decrypt(wrongKey, ciphertext)
	require.Error(t, err)
}

func TestSecretTypesFormatAsRedacted(t *testing.T) {
	var unlockKey UnlockKey
	copy(unlockKey[:], "test-unlock-key-32-bytes-long!!!")
	require.Equal(t, "REDACTED", fmt.Sprintf("%v", unlockKey))
	require.Equal(t, "REDACTED", fmt.Sprintf("%#v", unlockKey))

	var encKey EncryptionKey
	copy(encKey[:], "0123456789abcdef0123456789abcdef")
	require.Equal(t, "REDACTED", fmt.Sprintf("%v", encKey))
	require.Equal(t, "REDACTED", fmt.Sprintf("%#v", encKey))
}

func TestConstantTimeEqual(t *testing.T) {
	a := [32]byte{1, 2, 3}
	b := [32]byte{1, 2, 3}
	c := [32]byte{1, 2, 4}

	require.True(t, ConstantTimeEqual(a, b))
	require.False(t, ConstantTimeEqual(a, c))
}
