package authapi

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMalformedResponse is returned when a 2xx response body cannot be
// decoded or matches none of the expected shapes.
var ErrMalformedResponse = errors.New("malformed response")

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
}

// IsStatus reports whether err is an *APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// Message extracts a human-readable message from err. Server messages are
// returned verbatim; anything else (transport failures, decoding errors)
// yields fallback.
func Message(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func newAPIError(status int, body errorBody) *APIError {
	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	if msg == "" {
		msg = "request failed"
	}
	return &APIError{StatusCode: status, Message: msg}
}
