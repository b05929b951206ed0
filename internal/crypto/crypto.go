// Package crypto encrypts the persisted state document at rest.
//
// Documents are sealed with AES-256-GCM. The key is derived from a passphrase
// with PBKDF2 and a random salt that is stored in the sealed document, so the
// same passphrase never produces the same key twice.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 16
	iterations = 100000
	keySize    = 32 // AES-256
)

// magic prefixes every sealed document.
var magic = []byte("HGENC1:")

// ErrDecrypt is returned when a sealed document cannot be opened, typically
// because the passphrase is wrong or the data was altered.
var ErrDecrypt = errors.New("crypto: cannot decrypt document")

// Encryptor seals and opens documents with a passphrase.
type Encryptor struct {
	passphrase []byte
}

// NewEncryptor creates an encryptor. An empty passphrase returns nil, and a
// nil Encryptor passes data through unchanged.
func NewEncryptor(passphrase string) *Encryptor {
	if passphrase == "" {
		return nil
	}
	return &Encryptor{passphrase: []byte(passphrase)}
}

func (e *Encryptor) gcm(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(e.passphrase, salt, iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// IsSealed reports whether data was produced by Seal.
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, magic)
}

// Seal encrypts plaintext into a self-describing, base64 text document.
func (e *Encryptor) Seal(plaintext []byte) ([]byte, error) {
	if e == nil {
		return plaintext, nil
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	gcm, err := e.gcm(salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	// layout: salt | nonce | ciphertext
	raw := append(salt, nonce...)
	raw = gcm.Seal(raw, nonce, plaintext, magic)

	out := make([]byte, len(magic)+base64.StdEncoding.EncodedLen(len(raw)))
	copy(out, magic)
	base64.StdEncoding.Encode(out[len(magic):], raw)
	return out, nil
}

// Open decrypts a document produced by Seal. Data without the sealed prefix
// is returned unchanged so an existing plaintext state stays readable after
// encryption is switched on.
func (e *Encryptor) Open(data []byte) ([]byte, error) {
	if !IsSealed(data) {
		return data, nil
	}
	if e == nil {
		return nil, fmt.Errorf("%w: document is encrypted but no key is configured", ErrDecrypt)
	}

	raw, err := base64.StdEncoding.DecodeString(string(data[len(magic):]))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(raw) < saltSize {
		return nil, fmt.Errorf("%w: document too short", ErrDecrypt)
	}

	salt := raw[:saltSize]
	gcm, err := e.gcm(salt)
	if err != nil {
		return nil, err
	}
	rest := raw[saltSize:]
	if len(rest) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: document too short", ErrDecrypt)
	}

	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, magic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}
