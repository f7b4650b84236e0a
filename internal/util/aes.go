package util

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

// AESKeySize is the key length for AES-256.
const AESKeySize = 32

// ErrShortCiphertext is returned by OpenAES when the input cannot hold a nonce.
var ErrShortCiphertext = errors.New("ciphertext shorter than nonce")

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != AESKeySize {
		return nil, fmt.Errorf("invalid AES key size: got %d, want %d", len(key), AESKeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// SealAES encrypts plaintext with AES-256-GCM under a random nonce bound to
// aad. The result is nonce || ciphertext || tag.
func SealAES(plaintext, key, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize(), gcm.NonceSize()+len(plaintext)+gcm.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

// OpenAES reverses SealAES. It fails if aad differs from the one sealed.
func OpenAES(sealed, key, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	n := gcm.NonceSize()
	if len(sealed) < n {
		return nil, ErrShortCiphertext
	}
	plaintext, err := gcm.Open(nil, sealed[:n], sealed[n:], aad)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return plaintext, nil
}
