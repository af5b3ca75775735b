package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/ada-core/internal/remote"
)

// Error codes returned in the "code" field of error bodies.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeUnknownCommand = "unknown_command"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeInternal       = "internal_error"
)

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // client may have gone
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes {"error": {...}}, echoing the request id the
// middleware put on the response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]ErrorBody{
		"error": {Code: code, Message: message, RequestID: w.Header().Get("X-Request-ID")},
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// controlFailure classifies a Controller.Submit error. Unexpected errors
// get a generic message; the caller logs the original.
func controlFailure(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, remote.ErrUnknownCommand):
		return http.StatusBadRequest, ErrCodeUnknownCommand, err.Error()
	case errors.Is(err, remote.ErrMalformed):
		return http.StatusBadRequest, ErrCodeBadRequest, err.Error()
	case errors.Is(err, remote.ErrRateLimited):
		return http.StatusTooManyRequests, ErrCodeRateLimited, err.Error()
	default:
		return http.StatusInternalServerError, ErrCodeInternal, "failed to queue command"
	}
}
