package seal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealer_SignVerify(t *testing.T) {
	sealer, err := NewSealer()
	require.NoError(t, err)

	payload := []byte("archived response plan record")
	sig := sealer.Sign(payload)
	require.Len(t, sig, SignatureSize)

	assert.True(t, sealer.Verify(payload, sig))
	assert.False(t, sealer.Verify([]byte("tampered record"), sig))
	assert.False(t, sealer.Verify(payload, sig[:SignatureSize-1]))

	// Flipping one byte of the signature invalidates it
	sig[0] ^= 0xff
	assert.False(t, sealer.Verify(payload, sig))
}

func TestVerifier_MatchesSealer(t *testing.T) {
	sealer, err := NewSealer()
	require.NoError(t, err)

	pub, err := sealer.PublicKey()
	require.NoError(t, err)
	verifier, err := NewVerifier(pub)
	require.NoError(t, err)

	payload := []byte("audit trail entry")
	sig := sealer.Sign(payload)
	assert.True(t, verifier.Verify(payload, sig))

	// A signature from a different key does not verify
	other, err := NewSealer()
	require.NoError(t, err)
	assert.False(t, verifier.Verify(payload, other.Sign(payload)))
}

func TestLoadSealer_PersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seal.key")

	first, err := LoadSealer(path)
	require.NoError(t, err)

	payload := []byte("record sealed before restart")
	sig := first.Sign(payload)

	// Reloading from the persisted key yields the same identity
	second, err := LoadSealer(path)
	require.NoError(t, err)
	assert.True(t, second.Verify(payload, sig))

	firstPub, err := first.PublicKey()
	require.NoError(t, err)
	secondPub, err := second.PublicKey()
	require.NoError(t, err)
	assert.Equal(t, firstPub, secondPub)
}

func TestNewVerifier_RejectsGarbage(t *testing.T) {
	_, err := NewVerifier([]byte("not a key"))
	assert.Error(t, err)
}
