package icrypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAADRecord(t *testing.T) {
	a1 := AADRecord("__accounts", "ACCOUNT", "u-1", 1)
	a2 := AADRecord("__accounts", "ACCOUNT", "u-1", 1)
	assert.Equal(t, a1, a2, "AADRecord should be deterministic")

	assert.NotEqual(t, a1, AADRecord("__accounts", "ACCOUNT", "u-2", 1))
	assert.NotEqual(t, a1, AADRecord("__accounts", "ACCOUNT", "u-1", 2))

	// Length prefixes keep ("ab","c") and ("a","bc") apart.
	assert.NotEqual(t, AADRecord("ab", "c", "x", 1), AADRecord("a", "bc", "x", 1))
}

func TestDeriveKeys(t *testing.T) {
	secret := bytes.Repeat([]byte{7}, MinSecretLen)

	rk1, err := DeriveRecordKey(secret, "__accounts")
	require.NoError(t, err)
	assert.Len(t, rk1, 32)

	rk2, err := DeriveRecordKey(secret, "__sessions")
	require.NoError(t, err)
	assert.NotEqual(t, rk1, rk2, "namespaces must get distinct keys")

	sk, err := DeriveSigningKey(secret)
	require.NoError(t, err)
	wk, err := DeriveSessionWrappingKey(secret)
	require.NoError(t, err)
	assert.NotEqual(t, sk, wk)
	assert.NotEqual(t, sk, rk1)

	again, err := DeriveSigningKey(secret)
	require.NoError(t, err)
	assert.Equal(t, sk, again)
}

func TestDeriveKeysRejectsShortSecret(t *testing.T) {
	short := []byte("too-short")
	_, err := DeriveRecordKey(short, "ns")
	assert.ErrorIs(t, err, ErrShortSecret)
	_, err = DeriveSigningKey(short)
	assert.ErrorIs(t, err, ErrShortSecret)
	_, err = DeriveSessionWrappingKey(short)
	assert.ErrorIs(t, err, ErrShortSecret)
}
