package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"notify-pipeline/internal/domain/entity"
	"notify-pipeline/internal/infra/queue"
)

func TestJSON(t *testing.T) {
	tests := []struct {
		name         string
		code         int
		data         any
		expectedBody string
	}{
		{name: "map", code: http.StatusOK, data: map[string]string{"message": "success"}, expectedBody: `{"message":"success"}`},
		{name: "struct", code: http.StatusCreated, data: struct{ ID int }{ID: 123}, expectedBody: `{"ID":123}`},
		{name: "nil", code: http.StatusNoContent, data: nil, expectedBody: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			JSON(w, tt.code, tt.data)

			if w.Code != tt.code {
				t.Errorf("Code = %v, want %v", w.Code, tt.code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %v, want application/json", ct)
			}
			if body := strings.TrimSpace(w.Body.String()); body != tt.expectedBody {
				t.Errorf("Body = %v, want %v", body, tt.expectedBody)
			}
		})
	}
}

func TestJSON_EncodingError(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusOK, make(chan int))
	if w.Code != http.StatusOK {
		t.Errorf("Code = %v, want %v", w.Code, http.StatusOK)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: http.StatusOK},
		{name: "validation", err: &entity.ValidationError{Field: "recipients", Message: "is required"}, want: http.StatusBadRequest},
		{name: "wrapped validation", err: fmt.Errorf("dispatch: %w", &entity.ValidationError{Field: "kind"}), want: http.StatusBadRequest},
		{name: "not found", err: &entity.NotFoundError{Resource: "schedule", Key: "4"}, want: http.StatusNotFound},
		{name: "transition", err: fmt.Errorf("%w: draft -> disabled", entity.ErrInvalidTransition), want: http.StatusConflict},
		{name: "queue full", err: queue.ErrQueueFull, want: http.StatusServiceUnavailable},
		{name: "other", err: errors.New("db down"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusFor(tt.err); got != tt.want {
				t.Errorf("StatusFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFromError(t *testing.T) {
	t.Run("validation exposes field", func(t *testing.T) {
		w := httptest.NewRecorder()
		FromError(w, &entity.ValidationError{Field: "cron_expr", Message: "is required"})

		if w.Code != http.StatusBadRequest {
			t.Fatalf("Code = %d, want 400", w.Code)
		}
		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body["field"] != "cron_expr" {
			t.Errorf("field = %q, want cron_expr", body["field"])
		}
	})

	t.Run("internal error is masked", func(t *testing.T) {
		w := httptest.NewRecorder()
		FromError(w, errors.New("dial postgres://u:secret@db/notify"))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("Code = %d, want 500", w.Code)
		}
		if strings.Contains(w.Body.String(), "secret") {
			t.Errorf("body leaks internals: %s", w.Body.String())
		}
		if !strings.Contains(w.Body.String(), "internal server error") {
			t.Errorf("body = %s", w.Body.String())
		}
	})

	t.Run("queue full", func(t *testing.T) {
		w := httptest.NewRecorder()
		FromError(w, fmt.Errorf("enqueue: %w", queue.ErrQueueFull))
		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("Code = %d, want 503", w.Code)
		}
	})
}
