package secretbox

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Decrypter turns a stored credential ciphertext back into plaintext.
type Decrypter interface {
	Decrypt(ciphertext string) ([]byte, error)
}

var ErrMalformed = errors.New("secretbox: malformed ciphertext")

// Box seals values with XChaCha20-Poly1305. Ciphertexts are
// base64(nonce || sealed) so they fit in a text column.
type Box struct {
	aead cipher.AEAD
}

// New builds a Box from a raw 32-byte key.
func New(key []byte) (*Box, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("secretbox: %w", err)
	}
	return &Box{aead: aead}, nil
}

// FromSecret accepts either a base64 encoded 32-byte key or an arbitrary
// passphrase, which is stretched with HKDF-SHA256.
func FromSecret(secret string) (*Box, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("secretbox: empty key")
	}
	if raw, err := base64.StdEncoding.DecodeString(secret); err == nil && len(raw) == chacha20poly1305.KeySize {
		return New(raw)
	}
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("catalog-sync credentials v1"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("secretbox: derive key: %w", err)
	}
	return New(key)
}

func (b *Box) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, b.aead.NonceSize(), b.aead.NonceSize()+len(plaintext)+b.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secretbox: nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (b *Box) Decrypt(ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return nil, ErrMalformed
	}
	ns := b.aead.NonceSize()
	if len(raw) < ns+b.aead.Overhead() {
		return nil, ErrMalformed
	}
	plain, err := b.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("secretbox: open: %w", err)
	}
	return plain, nil
}
