package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEd25519Signer_SignVerifyRoundtrip(t *testing.T) {
	s, err := NewEd25519Signer()
	require.NoError(t, err)

	data := []byte("request-hash")
	sig, err := s.Sign(data)
	require.NoError(t, err)

	ok, err := Verify(s.PublicKey(), sig, data)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify(s.PublicKey(), sig, []byte("tampered"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEd25519Signer_AddressStableAndDistinct(t *testing.T) {
	a, err := NewEd25519Signer()
	require.NoError(t, err)
	b, err := NewEd25519Signer()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a.Address(), "0x"))
	assert.Len(t, a.Address(), 2+40)
	assert.Equal(t, a.Address(), a.Address())
	assert.NotEqual(t, a.Address(), b.Address())
}

func TestVerify_RejectsMalformedInput(t *testing.T) {
	_, err := Verify("not-hex", "00", []byte("x"))
	assert.Error(t, err)

	_, err = Verify("abcd", "00", []byte("x"))
	assert.Error(t, err) // wrong key size

	s, err := NewEd25519Signer()
	require.NoError(t, err)
	_, err = Verify(s.PublicKey(), "zz", []byte("x"))
	assert.Error(t, err)
}
