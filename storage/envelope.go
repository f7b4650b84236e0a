package storage

import (
	"bytes"
	"fmt"

	"github.com/jmcleod/recoverydesk/internal/util"
)

const (
	SchemeAES256GCM = "aes256gcm"
	SchemeRaw       = "raw"

	gcmNonceSize = 12
)

// Envelope is a stored record. Sealed envelopes hold AES-256-GCM ciphertext;
// raw envelopes hold plaintext in Ciphertext and no nonce.
type Envelope struct {
	Ver        int    `json:"ver"`
	Scheme     string `json:"scheme"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	Version    uint64 `json:"version,omitempty"`
}

// SealRecord encrypts plaintext into an Envelope using the given record key and AAD.
func SealRecord(recordKey, plaintext, aad []byte, version ...uint64) (*Envelope, error) {
	sealed, err := util.SealAES(plaintext, recordKey, aad)
	if err != nil {
		return nil, err
	}
	nonce, ciphertext := sealed[:gcmNonceSize], sealed[gcmNonceSize:]

	env := &Envelope{
		Ver:        1,
		Scheme:     SchemeAES256GCM,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}
	if len(version) > 0 {
		env.Version = version[0]
	}
	return env, nil
}

// OpenRecord decrypts an Envelope using the given record key and AAD.
func OpenRecord(recordKey []byte, envelope *Envelope, aad []byte) ([]byte, error) {
	if envelope.Ver != 1 {
		return nil, fmt.Errorf("unsupported envelope version: %d", envelope.Ver)
	}
	if envelope.Scheme != SchemeAES256GCM {
		return nil, fmt.Errorf("unsupported envelope scheme: %s", envelope.Scheme)
	}

	sealed := make([]byte, 0, len(envelope.Nonce)+len(envelope.Ciphertext))
	sealed = append(sealed, envelope.Nonce...)
	sealed = append(sealed, envelope.Ciphertext...)
	return util.OpenAES(sealed, recordKey, aad)
}

// RawRecord wraps plaintext in an unsealed envelope.
func RawRecord(plaintext []byte, version ...uint64) *Envelope {
	env := &Envelope{
		Ver:        1,
		Scheme:     SchemeRaw,
		Ciphertext: bytes.Clone(plaintext),
	}
	if len(version) > 0 {
		env.Version = version[0]
	}
	return env
}

// OpenRaw returns the plaintext of an unsealed envelope.
func OpenRaw(envelope *Envelope) ([]byte, error) {
	if envelope.Ver != 1 {
		return nil, fmt.Errorf("unsupported envelope version: %d", envelope.Ver)
	}
	if envelope.Scheme != SchemeRaw {
		return nil, fmt.Errorf("unsupported envelope scheme: %s", envelope.Scheme)
	}
	return bytes.Clone(envelope.Ciphertext), nil
}
