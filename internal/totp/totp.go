// Package totp implements RFC 6238 time-based one-time passwords as used by
// authenticator apps: HMAC-SHA1, 6 digits, 30 second period.
package totp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jmcleod/recoverydesk/internal/util"
)

const (
	secretBytes = 20
	Digits      = 6
	Period      = 30
	// Window is the number of periods either side of now that are accepted.
	Window = 1
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateSecret returns a fresh base32 secret.
func GenerateSecret() (string, error) {
	raw, err := util.RandomBytes(secretBytes)
	if err != nil {
		return "", err
	}
	return b32.EncodeToString(raw), nil
}

func normalizeCode(code string) string {
	return strings.TrimSpace(strings.ReplaceAll(code, " ", ""))
}

func validCode(code string) bool {
	if len(code) != Digits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Verify reports whether code is valid for secret at now, tolerating Window
// periods of clock skew.
func Verify(secret, code string, now time.Time) bool {
	code = normalizeCode(code)
	if !validCode(code) {
		return false
	}
	for i := -Window; i <= Window; i++ {
		at := now.Add(time.Duration(i*Period) * time.Second)
		expected, err := CodeAt(secret, at)
		if err != nil {
			return false
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return true
		}
	}
	return false
}

// CodeAt computes the code for secret in the period containing at.
func CodeAt(secret string, at time.Time) (string, error) {
	decoded, err := b32.DecodeString(strings.ToUpper(secret))
	if err != nil {
		return "", err
	}

	counter := uint64(at.Unix() / Period)
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, decoded)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)
	offset := sum[len(sum)-1] & 0x0f
	binCode := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)
	otp := binCode % 1000000
	return fmt.Sprintf("%06d", otp), nil
}

// URL returns the otpauth:// provisioning URI rendered as a QR code by
// authenticator apps.
func URL(issuer, secret, accountLabel string) string {
	label := url.PathEscape(issuer + ":" + accountLabel)
	values := url.Values{}
	values.Set("secret", secret)
	values.Set("issuer", issuer)
	values.Set("algorithm", "SHA1")
	values.Set("digits", strconv.Itoa(Digits))
	values.Set("period", strconv.Itoa(Period))
	return "otpauth://totp/" + label + "?" + values.Encode()
}
