package pinhash

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashIsDeterministic(t *testing.T) {
	pin := []byte("1234")
	version := []byte("0123456789abcdef")
	userInfo := []byte("user@example.com")

	a1, s1, err := Hash(NoHash, pin, version, userInfo)
	require.NoError(t, err)

	a2, s2, err := Hash(NoHash, pin, version, userInfo)
	require.NoError(t, err)

	require.Equal(t, a1, a2)
	require.Equal(t, s1, s2)
}

func TestAccessKeyIsVersionIndependent(t *testing.T) {
	pin := []byte("1234")
	userInfo := []byte("user@example.com")

	a1, _, err := Hash(NoHash, pin, []byte("version-one-16by"), userInfo)
	require.NoError(t, err)

	a2, _, err := Hash(NoHash, pin, []byte("version-two-16by"), userInfo)
	require.NoError(t, err)

	require.Equal(t, a1, a2)
}

func TestEncryptionKeySeedDivergesByVersion(t *testing.T) {
	pin := []byte("1234")
	userInfo := []byte("user@example.com")

	_, s1, err := Hash(NoHash, pin, []byte("version-one-16by"), userInfo)
	require.NoError(t, err)

	_, s2, err := Hash(NoHash, pin, []byte("version-two-16by"), userInfo)
	require.NoError(t, err)

	require.NotEqual(t, s1, s2)
}

func TestAccessKeyAndSeedAreIndependent(t *testing.T) {
	a, s, err := Hash(NoHash, []byte("1234"), []byte("v"), []byte("u"))
	require.NoError(t, err)
	require.NotEqual(t, a[:], s[:])
}

func TestUnknownModeErrors(t *testing.T) {
	_, _, err := Hash(Mode(99), []byte("1234"), []byte("v"), []byte("u"))
	require.Error(t, err)
}

func TestSecretTypesFormatAsRedacted(t *testing.T) {
	access, seed, err := Hash(NoHash, []byte("1234"), []byte("v"), []byte("u"))
	require.NoError(t, err)

	require.Equal(t, "REDACTED", fmt.Sprintf("%v", access))
	require.Equal(t, "REDACTED", fmt.Sprintf("%#v", access))
	require.Equal(t, "REDACTED", fmt.Sprintf("%v", seed))
	require.Equal(t, "REDACTED", fmt.Sprintf("%#v", seed))

	_, base, err := Stretch(NoHash, []byte("1234"), []byte("u"))
	require.NoError(t, err)
	require.Equal(t, "REDACTED", fmt.Sprintf("%v", base))
}

func TestStretchIsReusableAcrossVersions(t *testing.T) {
	access, base, err := Stretch(NoHash, []byte("1234"), []byte("user@example.com"))
	require.NoError(t, err)

	seedA := DeriveEncryptionKeySeed(base, []byte("version-a"))
	seedB := DeriveEncryptionKeySeed(base, []byte("version-b"))
	require.NotEqual(t, seedA, seedB)

	accessAgain, _, err := Stretch(NoHash, []byte("1234"), []byte("user@example.com"))
	require.NoError(t, err)
	require.Equal(t, access, accessAgain)
}
