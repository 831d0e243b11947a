package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_AddressShape(t *testing.T) {
	kp, err := Generate("suzy")
	require.NoError(t, err)

	assert.True(t, ValidAddress(kp.Address))
	assert.Equal(t, "suzy", ShortName(kp.Address))
	assert.NoError(t, kp.Validate())
}

func TestGenerate_RejectsBadNames(t *testing.T) {
	for _, name := range []string{"", "ab", "muchtoolongshortname", "1abc", "AB12", "a-b"} {
		_, err := Generate(name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
}

func TestSignVerify(t *testing.T) {
	kp, err := Generate("suzy")
	require.NoError(t, err)
	other, err := Generate("fred")
	require.NoError(t, err)

	msg := []byte("path\nhash\n")
	sig, err := kp.Sign(msg)
	require.NoError(t, err)

	assert.NoError(t, Verify(kp.Address, msg, sig))
	assert.ErrorIs(t, Verify(kp.Address, []byte("tampered"), sig), ErrBadSignature)
	assert.ErrorIs(t, Verify(other.Address, msg, sig), ErrBadSignature)
	assert.ErrorIs(t, Verify("not-an-address", msg, sig), ErrInvalidAddress)
}

func TestValidate_MismatchedSecret(t *testing.T) {
	a, err := Generate("suzy")
	require.NoError(t, err)
	b, err := Generate("fred")
	require.NoError(t, err)

	mixed := &Keypair{Address: a.Address, Secret: b.Secret}
	assert.ErrorIs(t, mixed.Validate(), ErrInvalidSecret)
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "suzy.json")
	kp, err := Generate("suzy")
	require.NoError(t, err)
	require.NoError(t, kp.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, kp, loaded)
}

func TestBase32RoundTrip(t *testing.T) {
	raw := []byte{0, 1, 2, 250, 251, 252}
	enc := EncodeBase32(raw)
	assert.Equal(t, byte('b'), enc[0])

	dec, err := DecodeBase32(enc)
	require.NoError(t, err)
	assert.Equal(t, raw, dec)

	_, err = DecodeBase32("xyz")
	assert.Error(t, err)
}
