package executor

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKeypair(t *testing.T, key ed25519.PrivateKey) string {
	t.Helper()
	raw, err := json.Marshal([]byte(key))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "signer.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path
}

func TestLocalSigner(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := NewLocalSigner(writeKeypair(t, priv))
	require.NoError(t, err)

	t.Run("PublicKeyIsBase58", func(t *testing.T) {
		addr := signer.PublicKey()
		assert.NotEmpty(t, addr)
		for _, c := range addr {
			assert.NotContains(t, "0OIl", string(c))
		}
	})

	t.Run("SignProducesVerifiableWireFormat", func(t *testing.T) {
		message := []byte("transaction-message-bytes")
		signed, err := signer.Sign(message)
		require.NoError(t, err)

		// 线格式：1 字节签名计数 + 64 字节签名 + 原消息。
		require.Len(t, signed, 1+ed25519.SignatureSize+len(message))
		assert.Equal(t, byte(0x01), signed[0])
		sig := signed[1 : 1+ed25519.SignatureSize]
		assert.Equal(t, message, signed[1+ed25519.SignatureSize:])
		assert.True(t, ed25519.Verify(pub, message, sig))
	})

	t.Run("EmptyMessageRejected", func(t *testing.T) {
		_, err := signer.Sign(nil)
		assert.Error(t, err)
	})
}

func TestNewLocalSigner_Invalid(t *testing.T) {
	t.Run("MissingFile", func(t *testing.T) {
		_, err := NewLocalSigner(filepath.Join(t.TempDir(), "nope.json"))
		assert.Error(t, err)
	})

	t.Run("WrongLength", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "short.json")
		require.NoError(t, os.WriteFile(path, []byte(`[1,2,3]`), 0o600))
		_, err := NewLocalSigner(path)
		assert.Error(t, err)
	})

	t.Run("NotJSON", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))
		_, err := NewLocalSigner(path)
		assert.Error(t, err)
	})
}
