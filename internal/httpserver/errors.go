package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"confcrm/internal/domain"
)

const (
	ErrInvalidJSON      = "invalid json"
	ErrDependency       = "dependency error"
	ErrInternal         = "internal error"
	ErrUnauthorized     = "unauthorized"
	ErrInvalidSignature = "invalid signature"
	ErrValidation       = "validation failed"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeError maps domain errors onto status codes. Anything unrecognised is
// logged and hidden behind a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ErrValidation, Details: ve.Problems})
	case errors.Is(err, domain.ErrNotFound):
		writeMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrConflict):
		writeMessage(w, http.StatusConflict, err.Error())
	default:
		slog.Error("request failed", "err", err, "method", r.Method, "path", r.URL.Path)
		writeMessage(w, http.StatusInternalServerError, ErrInternal)
	}
}

// dependencyError is writeError for calls that go out to a third party:
// validation and not-found keep their codes, everything else is a 502.
func dependencyError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	if errors.As(err, &ve) || errors.Is(err, domain.ErrNotFound) {
		writeError(w, r, err)
		return
	}
	slog.Warn("dependency call failed", "err", err, "path", r.URL.Path)
	writeMessage(w, http.StatusBadGateway, ErrDependency)
}

// decodeJSON reads a bounded JSON body into v and writes the 400 itself.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeMessage(w, http.StatusBadRequest, ErrInvalidJSON)
		return false
	}
	return true
}
