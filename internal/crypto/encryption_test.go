package crypto

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	em, err := NewEncryptionManagerWithKey(bytes.Repeat([]byte{7}, 32), nil)
	require.NoError(t, err)

	for _, plain := range []string{"skey-value", "中文刷新令牌", ""} {
		sealed, err := em.Encrypt(plain)
		require.NoError(t, err)
		if plain != "" {
			assert.NotEqual(t, plain, sealed)
		}

		opened, err := em.Decrypt(sealed)
		require.NoError(t, err)
		assert.Equal(t, plain, opened)
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	em, err := NewEncryptionManagerWithKey(bytes.Repeat([]byte{1}, 32), nil)
	require.NoError(t, err)

	a, err := em.Encrypt("same")
	require.NoError(t, err)
	b, err := em.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	em, err := NewEncryptionManagerWithKey(bytes.Repeat([]byte{2}, 32), nil)
	require.NoError(t, err)

	_, err = em.Decrypt("not base64!!")
	assert.Error(t, err)

	_, err = em.Decrypt(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	other, err := NewEncryptionManagerWithKey(bytes.Repeat([]byte{3}, 32), nil)
	require.NoError(t, err)
	sealed, err := other.Encrypt("secret")
	require.NoError(t, err)
	_, err = em.Decrypt(sealed)
	assert.Error(t, err)
}

func TestInvalidKeySize(t *testing.T) {
	_, err := NewEncryptionManagerWithKey([]byte("short"), nil)
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestKeySources(t *testing.T) {
	t.Run("passphrase is deterministic", func(t *testing.T) {
		a, err := DeriveKey("correct horse")
		require.NoError(t, err)
		b, err := DeriveKey("correct horse")
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.Len(t, a, 32)

		em1, err := NewEncryptionManager("correct horse", "", nil)
		require.NoError(t, err)
		em2, err := NewEncryptionManager("correct horse", "", nil)
		require.NoError(t, err)
		sealed, err := em1.Encrypt("rt")
		require.NoError(t, err)
		opened, err := em2.Decrypt(sealed)
		require.NoError(t, err)
		assert.Equal(t, "rt", opened)
	})

	t.Run("key file is created and reused", func(t *testing.T) {
		dir := t.TempDir()
		em1, err := NewEncryptionManager("", dir, nil)
		require.NoError(t, err)
		_, err = os.Stat(filepath.Join(dir, "encryption.key"))
		require.NoError(t, err)

		sealed, err := em1.Encrypt("gid")
		require.NoError(t, err)

		em2, err := NewEncryptionManager("", dir, nil)
		require.NoError(t, err)
		opened, err := em2.Decrypt(sealed)
		require.NoError(t, err)
		assert.Equal(t, "gid", opened)
	})
}
