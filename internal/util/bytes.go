package util

// WipeBytes best-effort zeroes b in place.
func WipeBytes(b []byte) {
	clear(b)
}
