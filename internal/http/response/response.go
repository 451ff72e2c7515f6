package response

import (
	"encoding/json"
	"net/http"

	"github.com/northgate/transfer-bookings/internal/domain"
	"github.com/northgate/transfer-bookings/pkg/logger"
)

// Envelope is the uniform result shape for every exposed operation:
// {success, data} on success, {success:false, error:{code,message}} on
// failure.
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func OK(w http.ResponseWriter, statusCode int, data any) {
	write(w, statusCode, Envelope{Success: true, Data: data})
}

func Fail(w http.ResponseWriter, statusCode int, code, message string) {
	write(w, statusCode, Envelope{Success: false, Error: &ErrorBody{Code: code, Message: message}})
}

// FromError maps a service error onto the envelope with the right HTTP
// status for its stable code.
func FromError(w http.ResponseWriter, err error) {
	de, ok := domain.AsError(err)
	if !ok {
		Fail(w, http.StatusInternalServerError, domain.CodeInternalError, "internal error")
		return
	}
	write(w, statusFor(de.Code), Envelope{
		Success: false,
		Error:   &ErrorBody{Code: de.Code, Message: de.Message, Fields: de.Fields},
	})
}

func statusFor(code string) int {
	switch code {
	case domain.CodeValidationError:
		return http.StatusBadRequest
	case domain.CodeBookingNotFound:
		return http.StatusNotFound
	case domain.CodeBookingNotUpdatable,
		domain.CodeBookingNotAssignable,
		domain.CodeDriverNotAvailable,
		domain.CodeBookingNotCancellable:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func write(w http.ResponseWriter, statusCode int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}
