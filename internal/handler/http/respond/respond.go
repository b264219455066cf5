// Package respond writes JSON responses for the ops API and maps domain
// errors to status codes without leaking internal details.
package respond

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"notify-pipeline/internal/domain/entity"
	"notify-pipeline/internal/infra/queue"
)

// JSON writes v with the given status code. A nil v writes no body.
func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			// headers are already sent
			slog.Default().Error("failed to encode JSON response",
				slog.Int("status_code", code),
				slog.Any("error", err))
		}
	}
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// Error writes err as a JSON error body. Server errors are logged with
// credentials masked and answered with a generic message.
func Error(w http.ResponseWriter, code int, err error) {
	if err == nil {
		return
	}
	if code >= http.StatusInternalServerError {
		slog.Default().Error("internal server error",
			slog.Int("code", code),
			slog.String("error", SanitizeError(err)))
		JSON(w, code, errorBody{Error: "internal server error"})
		return
	}
	body := errorBody{Error: err.Error()}
	var ve *entity.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
	}
	JSON(w, code, body)
}

// StatusFor maps a use-case error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, entity.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, entity.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, queue.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromError writes err with the status StatusFor assigns to it.
func FromError(w http.ResponseWriter, err error) {
	code := StatusFor(err)
	if code == http.StatusServiceUnavailable {
		JSON(w, code, errorBody{Error: "dispatch queue is full, retry later"})
		return
	}
	Error(w, code, err)
}
