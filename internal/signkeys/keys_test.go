package signkeys_test

import (
	"credential-registry/internal/signkeys"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey(t *testing.T) {

	keys, err := signkeys.GenerateKeys()
	assert.NoError(t, err)
	assert.NotEmpty(t, keys.PrivateKey)
	assert.NotEmpty(t, keys.PublicKey)

	priv := secp256k1.PrivKeyFromBytes(keys.PrivateKey.AsBytes())

	assert.Equal(t, priv.PubKey().SerializeUncompressed(), keys.PublicKey.AsBytes())
}

func TestKeysFromHex(t *testing.T) {
	keys, err := signkeys.GenerateKeys()
	require.NoError(t, err)

	restored, err := signkeys.KeysFromHex(keys.PrivateKey.AsHex())
	require.NoError(t, err)
	assert.Equal(t, keys.PublicKey.AsBytes(), restored.PublicKey.AsBytes())
	assert.Equal(t, keys.Address(), restored.Address())

	_, err = signkeys.KeysFromHex("abcd")
	assert.Error(t, err)
}

func TestNormalizeAddress(t *testing.T) {
	keys, err := signkeys.GenerateKeys()
	require.NoError(t, err)

	priv := secp256k1.PrivKeyFromBytes(keys.PrivateKey.AsBytes())
	compressed := hex.EncodeToString(priv.PubKey().SerializeCompressed())

	fromUncompressed, err := signkeys.NormalizeAddress(keys.PublicKey.AsHex())
	require.NoError(t, err)
	assert.Equal(t, compressed, fromUncompressed)

	fromUpper, err := signkeys.NormalizeAddress("0x" + strings.ToUpper(compressed))
	require.NoError(t, err)
	assert.Equal(t, compressed, fromUpper)

	_, err = signkeys.NormalizeAddress("not-a-key")
	assert.Error(t, err)

	_, err = signkeys.NormalizeAddress("05" + strings.Repeat("11", 32))
	assert.Error(t, err)
}
