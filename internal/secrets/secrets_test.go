package secrets

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testKey(b byte) []byte { return bytes.Repeat([]byte{b}, 32) }

func TestSealUnseal(t *testing.T) {
	key := testKey(7)
	sealed, err := Seal([]byte("access-token"), key)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, "v1:"))

	plain, err := Unseal(sealed, key)
	require.NoError(t, err)
	assert.Equal(t, "access-token", string(plain))

	again, err := Seal([]byte("access-token"), key)
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ between seals")
}

func TestUnsealRejects(t *testing.T) {
	key := testKey(1)
	sealed, err := Seal([]byte("secret"), key)
	require.NoError(t, err)

	_, err = Unseal(sealed, testKey(2))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = Unseal(strings.TrimPrefix(sealed, "v1:"), key)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = Unseal("v1:!!!", key)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = Unseal("v1:AAAA", key)
	assert.ErrorIs(t, err, ErrInvalidToken)

	tampered := []byte(sealed)
	if tampered[10] == 'A' {
		tampered[10] = 'B'
	} else {
		tampered[10] = 'A'
	}
	_, err = Unseal(string(tampered), key)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestKeySize(t *testing.T) {
	_, err := Seal([]byte("x"), []byte("short"))
	assert.ErrorIs(t, err, ErrKeySize)
	_, err = Unseal("v1:AAAA", []byte("short"))
	assert.ErrorIs(t, err, ErrKeySize)
}

func TestAPITokenHashing(t *testing.T) {
	tok := NewAPIToken()
	assert.True(t, strings.HasPrefix(tok, "thr_"))
	assert.Len(t, tok, len("thr_")+32)

	hash, err := HashToken(tok, bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, CheckToken(tok, hash))
	assert.False(t, CheckToken(tok+"x", hash))
}
