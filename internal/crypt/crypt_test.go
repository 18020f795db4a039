package crypt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := New("correct horse battery staple")
	require.NoError(t, err)

	ciphertext, err := c.Encrypt("rcon-password-123")
	require.NoError(t, err)

	plaintext, err := c.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "rcon-password-123", plaintext)
}

func TestEncryptEnvelopeShape(t *testing.T) {
	c, err := New("key")
	require.NoError(t, err)

	ciphertext, err := c.Encrypt("secret")
	require.NoError(t, err)

	var env map[string]string
	require.NoError(t, json.Unmarshal([]byte(ciphertext), &env))
	assert.Equal(t, "aes-256-gcm", env["algorithm"])
	assert.NotEmpty(t, env["iv"])
	assert.NotEmpty(t, env["data"])
	assert.NotEmpty(t, env["authTag"])
}

func TestEncryptUniqueIVs(t *testing.T) {
	c, err := New("key")
	require.NoError(t, err)

	first, err := c.Encrypt("same plaintext")
	require.NoError(t, err)
	second, err := c.Encrypt("same plaintext")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestDecryptWrongKey(t *testing.T) {
	c1, err := New("key one")
	require.NoError(t, err)
	c2, err := New("key two")
	require.NoError(t, err)

	ciphertext, err := c1.Encrypt("secret")
	require.NoError(t, err)

	_, err = c2.Decrypt(ciphertext)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestDecryptTampered(t *testing.T) {
	c, err := New("key")
	require.NoError(t, err)

	ciphertext, err := c.Encrypt("secret")
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal([]byte(ciphertext), &env))
	env.AuthTag = env.IV // definitely not the right tag
	tampered, err := json.Marshal(env)
	require.NoError(t, err)

	_, err = c.Decrypt(string(tampered))
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestDecryptGarbage(t *testing.T) {
	c, err := New("key")
	require.NoError(t, err)

	_, err = c.Decrypt("not json at all")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = c.Decrypt(`{"algorithm":"rot13","iv":"","data":"","authTag":""}`)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestNewRejectsEmptyPassphrase(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
