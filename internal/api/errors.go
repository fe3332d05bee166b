package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/thingbridge/internal/bridge"
	"github.com/nerrad567/thingbridge/internal/envelope"
	"github.com/nerrad567/thingbridge/internal/thing"
	"github.com/nerrad567/thingbridge/internal/tlv"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeConflict    = "conflict"
	ErrCodeInternal    = "internal_error"
	ErrCodeUnavailable = "unavailable"
	ErrCodeBadGateway  = "bad_gateway"
	ErrCodeRateLimited = "rate_limited"
	ErrCodeUnsupported = "unsupported"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// statusFor maps a bridge or codec error to an HTTP status and code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, bridge.ErrThingNotFound), errors.Is(err, thing.ErrThingNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, envelope.ErrInvalidArgument), errors.Is(err, tlv.ErrPayloadTooLarge):
		return http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, bridge.ErrNotConnected), errors.Is(err, bridge.ErrLinkDropped):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, bridge.ErrTransportFailure):
		return http.StatusBadGateway, ErrCodeBadGateway
	case errors.Is(err, bridge.ErrRateLimited):
		return http.StatusTooManyRequests, ErrCodeRateLimited
	case errors.Is(err, bridge.ErrUnsupportedRequest):
		return http.StatusUnprocessableEntity, ErrCodeUnsupported
	case errors.Is(err, bridge.ErrStopped):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// writeOperationError writes the response for a failed thing operation.
func writeOperationError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	writeError(w, status, code, err.Error())
}
