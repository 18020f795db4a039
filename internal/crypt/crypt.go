// Package crypt encrypts RCON credentials at rest with AES-256-GCM.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var ErrInvalidCiphertext = errors.New("invalid ciphertext")

// envelope is the stored JSON form. All byte fields are base64.
type envelope struct {
	Algorithm string `json:"algorithm"`
	IV        string `json:"iv"`
	Data      string `json:"data"`
	AuthTag   string `json:"authTag"`
}

const algorithmName = "aes-256-gcm"

// Cipher wraps one derived key. The key material comes from the
// ENCRYPTION_KEY environment variable and is hashed to 32 bytes, so any
// passphrase length works.
type Cipher struct {
	key [32]byte
}

// New derives a cipher from a passphrase. An empty passphrase is refused
// because it silently downgrades every stored credential.
func New(passphrase string) (*Cipher, error) {
	if passphrase == "" {
		return nil, errors.New("encryption key is empty")
	}
	return &Cipher{key: sha256.Sum256([]byte(passphrase))}, nil
}

// Encrypt seals plaintext into the JSON envelope form.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("creating gcm: %w", err)
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("generating iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	// Seal appends the 16-byte tag; the envelope stores it separately.
	tagStart := len(sealed) - gcm.Overhead()

	env := envelope{
		Algorithm: algorithmName,
		IV:        base64.StdEncoding.EncodeToString(iv),
		Data:      base64.StdEncoding.EncodeToString(sealed[:tagStart]),
		AuthTag:   base64.StdEncoding.EncodeToString(sealed[tagStart:]),
	}
	out, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encoding envelope: %w", err)
	}
	return string(out), nil
}

// Decrypt opens an envelope produced by Encrypt. Any tampering, including a
// wrong key, yields ErrInvalidCiphertext.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	var env envelope
	if err := json.Unmarshal([]byte(ciphertext), &env); err != nil {
		return "", ErrInvalidCiphertext
	}
	if env.Algorithm != algorithmName {
		return "", fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidCiphertext, env.Algorithm)
	}

	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	data, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	tag, err := base64.StdEncoding.DecodeString(env.AuthTag)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("creating gcm: %w", err)
	}
	if len(iv) != gcm.NonceSize() {
		return "", ErrInvalidCiphertext
	}

	plaintext, err := gcm.Open(nil, iv, append(data, tag...), nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plaintext), nil
}
