package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/jmcleod/recoverydesk/storage"
)

var (
	ErrEmailTaken        = errors.New("an account with this email already exists")
	ErrAccountNotFound   = errors.New("account not found")
	ErrInvalidActionLink = errors.New("invalid or expired link")
	ErrInvalidToken      = errors.New("invalid or expired token")
)

const maxAuthBodySize = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Message: msg})
}

func writeMessage(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, MessageResponse{Message: msg})
}

// writeInternalError logs err and answers 500 with msg. The error text never
// reaches the client.
func writeInternalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, msg)
}

// decodeJSON reads a size-limited JSON body into T. On failure it writes a
// 400 (or 413) and reports false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, limit int64) (T, bool) {
	var v T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	if err := dec.Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "request body is required")
		default:
			writeError(w, http.StatusBadRequest, "invalid JSON body")
		}
		return v, false
	}
	return v, true
}

func mapError(w http.ResponseWriter, err error) {
	var invalid validationError
	switch {
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, invalid.Error())
	case errors.Is(err, ErrEmailTaken):
		writeError(w, http.StatusConflict, ErrEmailTaken.Error())
	case errors.Is(err, ErrInvalidActionLink):
		writeError(w, http.StatusBadRequest, ErrInvalidActionLink.Error())
	case errors.Is(err, ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, ErrInvalidToken.Error())
	case errors.Is(err, ErrAccountNotFound), storage.IsNotFound(err):
		writeError(w, http.StatusNotFound, ErrAccountNotFound.Error())
	case errors.Is(err, storage.ErrCASFailed):
		writeError(w, http.StatusConflict, "account was modified concurrently; retry")
	default:
		writeInternalError(w, "internal server error", err)
	}
}
