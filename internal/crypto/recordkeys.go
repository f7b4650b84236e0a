package icrypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MinSecretLen is the minimum length of the server secret every other key is
// derived from.
const MinSecretLen = 32

const (
	derivedKeyLen = 32

	recordKeyInfo   = "recoverydesk:record-key:v1"
	signingKeyInfo  = "recoverydesk:signing-key:v1"
	sessionWrapInfo = "recoverydesk:session-wrap-key:v1"
)

var ErrShortSecret = errors.New("server secret must be at least 32 bytes")

// DeriveRecordKey derives the key that seals records in one storage namespace.
func DeriveRecordKey(secret []byte, namespace string) ([]byte, error) {
	return derive(secret, []byte(namespace), recordKeyInfo)
}

// DeriveSigningKey derives the HMAC key for access and challenge tokens.
func DeriveSigningKey(secret []byte) ([]byte, error) {
	return derive(secret, nil, signingKeyInfo)
}

// DeriveSessionWrappingKey derives the key that wraps the persistent server
// session key.
func DeriveSessionWrappingKey(secret []byte) ([]byte, error) {
	return derive(secret, nil, sessionWrapInfo)
}

// derive expands secret with HKDF-SHA256 into a 32-byte key separated by
// salt and info.
func derive(secret, salt []byte, info string) ([]byte, error) {
	if len(secret) < MinSecretLen {
		return nil, ErrShortSecret
	}
	r := hkdf.New(sha256.New, secret, salt, []byte(info))
	key := make([]byte, derivedKeyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("reading from HKDF: %w", err)
	}
	return key, nil
}
