package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"layerforge/core"
)

// errorBody is the JSON error envelope every failing endpoint returns.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// statusFor maps the failure taxonomy to HTTP statuses. Unrecognized errors
// are internal failures.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrWeightsUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrResourceExhausted):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	detail := errorDetail{Code: "internal", Message: "internal server error"}
	var de *core.DomainError
	if errors.As(err, &de) {
		detail = errorDetail{Code: de.Code, Message: de.Message, Suggestions: de.Suggestions}
	}
	if status == http.StatusInternalServerError && detail.Code == "internal" {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON parses a request body, rejecting trailing garbage.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return core.InvalidInputf("malformed request body: %v", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return core.InvalidInputf("malformed request body: trailing data after JSON value")
	}
	return nil
}
