package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"cryptoLedger/internal/ports"
)

// ErrorBody is the payload of an error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Common error codes
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeDataQuality        = "DATA_QUALITY"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

func respondError(w http.ResponseWriter, statusCode int, code, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// mapServiceError maps service errors to HTTP status codes.
func mapServiceError(err error) (int, string) {
	switch {
	case errors.Is(err, ports.ErrInvalidRequest):
		return http.StatusBadRequest, ErrCodeInvalidInput
	case errors.Is(err, ports.ErrUnmappedTxnType), errors.Is(err, ports.ErrMalformedRecord):
		return http.StatusUnprocessableEntity, ErrCodeDataQuality
	case errors.Is(err, ports.ErrPriceUnavailable),
		errors.Is(err, ports.ErrDBConnection),
		errors.Is(err, ports.ErrExchangeUnavailable),
		errors.Is(err, ports.ErrConnectionFailed),
		errors.Is(err, ports.ErrRateLimited),
		errors.Is(err, ports.ErrTimeout):
		return http.StatusServiceUnavailable, ErrCodeServiceUnavailable
	default:
		return http.StatusInternalServerError, ErrCodeInternalError
	}
}

func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := mapServiceError(err)
	fields := map[string]interface{}{"status": status}
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), err, "Request failed", fields)
	} else {
		s.logger.Warn(r.Context(), "Request rejected", mergeFields(fields, map[string]interface{}{"error": err.Error()}))
	}
	respondError(w, status, code, err.Error())
}

func mergeFields(a, b map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
