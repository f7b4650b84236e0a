package util

import (
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

func Normalize(s string) string {
	return norm.NFKD.String(s)
}

// NormalizeEmail folds an address to the form used for lookups and uniqueness.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(email)))
}

func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

func HexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
