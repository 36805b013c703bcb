package response

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/TrTueTah/ventidole-core/pkg/errors"
)

// Envelope is the fixed wire contract for every HTTP response: a status
// code, a human-readable message and a data payload. Errors carry an
// error code and null data instead.
type Envelope struct {
	StatusCode int            `json:"statusCode"`
	Message    string         `json:"message"`
	Data       any            `json:"data"`
	ErrorCode  apperrors.Code `json:"errorCode,omitempty"`
}

func Of(data any) Envelope {
	return Envelope{StatusCode: http.StatusOK, Message: "OK", Data: data}
}

func Created(data any) Envelope {
	return Envelope{StatusCode: http.StatusCreated, Message: "CREATED", Data: data}
}

func OK() Envelope {
	return Envelope{StatusCode: http.StatusOK, Message: "OK", Data: nil}
}

func Exception(err error) Envelope {
	code := apperrors.CodeOf(err)
	return Envelope{
		StatusCode: HTTPStatus(code),
		Message:    apperrors.MessageOf(err),
		Data:       nil,
		ErrorCode:  code,
	}
}

// HTTPStatus maps a taxonomy code onto an HTTP status.
func HTTPStatus(code apperrors.Code) int {
	switch code {
	case apperrors.CodeUnauthenticated:
		return http.StatusUnauthorized
	case apperrors.CodeUnauthorized, apperrors.CodePermissionDenied:
		return http.StatusForbidden
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case apperrors.CodeConflict, apperrors.CodeAlreadyExists:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes the envelope with its own status code.
func WriteJSON(w http.ResponseWriter, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(env.StatusCode)
	json.NewEncoder(w).Encode(env)
}

// WriteData is the success shorthand used by handlers.
func WriteData(w http.ResponseWriter, data any) {
	WriteJSON(w, Of(data))
}

// WriteError maps a domain error onto the envelope.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, Exception(err))
}
