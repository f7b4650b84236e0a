package util

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrInvalidHash is returned when an encoded password hash cannot be parsed.
var ErrInvalidHash = errors.New("invalid password hash encoding")

const passwordSaltLen = 16

type Argon2idParams struct {
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
	KeyLen      uint32 `json:"key_len"`
}

func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        1,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		KeyLen:      32,
	}
}

func DeriveArgon2idKey(passphrase string, salt []byte, params Argon2idParams) ([]byte, error) {
	if params.KeyLen != 32 {
		return nil, fmt.Errorf("argon2id key length must be 32 bytes")
	}
	key := argon2.IDKey([]byte(passphrase), salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen)
	return key, nil
}

func CompareArgon2idKey(passphrase string, salt []byte, params Argon2idParams, expectedKey []byte) (bool, error) {
	key, err := DeriveArgon2idKey(passphrase, salt, params)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(key, expectedKey) == 1, nil
}

// HashPassword derives an argon2id key from the NFKD-normalized password with a
// fresh random salt and returns it in the PHC string format:
//
//	$argon2id$v=19$m=65536,t=1,p=4$<salt>$<key>
func HashPassword(password string, params Argon2idParams) (string, error) {
	salt, err := RandomBytes(passwordSaltLen)
	if err != nil {
		return "", err
	}
	key, err := DeriveArgon2idKey(Normalize(password), salt, params)
	if err != nil {
		return "", err
	}
	defer WipeBytes(key)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, params.MemoryKiB, params.Time, params.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

// VerifyPassword reports whether password matches an encoded hash produced by
// HashPassword. The comparison is constant time.
func VerifyPassword(password, encoded string) (bool, error) {
	params, salt, key, err := decodePasswordHash(encoded)
	if err != nil {
		return false, err
	}
	return CompareArgon2idKey(Normalize(password), salt, params, key)
}

func decodePasswordHash(encoded string) (Argon2idParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	var params Argon2idParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.MemoryKiB, &params.Time, &params.Parallelism); err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil || len(key) != 32 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	params.KeyLen = uint32(len(key))
	return params, salt, key, nil
}
