package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tjfontaine/cassette-replay/internal/cassette"
	"github.com/tjfontaine/cassette-replay/internal/fetch"
	"github.com/tjfontaine/cassette-replay/internal/library"
	"github.com/tjfontaine/cassette-replay/internal/storage"
)

// Error types reported in JSON error bodies.
const (
	ErrorTypeInvalidRequest = "invalid_request_error"
	ErrorTypeNotFound       = "not_found_error"
	ErrorTypeFixture        = "fixture_error"
	ErrorTypeUpstream       = "upstream_error"
	ErrorTypeServer         = "api_error"
)

// RequestError is a client mistake detected by a handler.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string { return e.Message }

type errorBody struct {
	Type  string      `json:"type"`
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// StatusCode maps an error to its HTTP status and error type.
func StatusCode(err error) (int, string) {
	var (
		reqErr  *RequestError
		invalid *library.InvalidNameError
		fetchEr *fetch.FetchError
	)
	switch {
	case errors.As(err, &reqErr), errors.As(err, &invalid):
		return http.StatusBadRequest, ErrorTypeInvalidRequest
	case errors.Is(err, library.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, ErrorTypeNotFound
	case errors.As(err, &fetchEr):
		return http.StatusBadGateway, ErrorTypeUpstream
	case cassette.IsFatal(err):
		return http.StatusUnprocessableEntity, ErrorTypeFixture
	default:
		return http.StatusInternalServerError, ErrorTypeServer
	}
}

// WriteError writes err as a JSON error response.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)

	status, errType := StatusCode(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{
		Type:  "error",
		Error: errorDetail{Type: errType, Message: message},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
