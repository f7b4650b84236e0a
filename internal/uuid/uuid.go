// Package uuid wraps github.com/google/uuid for identifiers issued by the service.
package uuid

import "github.com/google/uuid"

// New returns a random (version 4) UUID string.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	return uuid.Validate(s) == nil
}
