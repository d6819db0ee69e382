package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/HerbHall/phonebook/internal/apierr"
	"github.com/HerbHall/phonebook/pkg/models"
)

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestWriteData(t *testing.T) {
	w := httptest.NewRecorder()
	WriteData(w, http.StatusCreated, "contact created", map[string]string{"id": "abc"})

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q, want application/json", ct)
	}
	body := decodeEnvelope(t, w)
	if body["success"] != true {
		t.Errorf("success = %v, want true", body["success"])
	}
	if body["message"] != "contact created" {
		t.Errorf("message = %v", body["message"])
	}
	if _, ok := body["errors"]; ok {
		t.Error("errors should be omitted on success")
	}
}

func TestWritePage(t *testing.T) {
	w := httptest.NewRecorder()
	WritePage(w, &models.Page[models.Contact]{
		Items:      []models.Contact{},
		Pagination: models.NewPagination(1, 10, 0),
	})
	body := decodeEnvelope(t, w)

	data, ok := body["data"].([]any)
	if !ok || len(data) != 0 {
		t.Errorf("data = %v, want empty array", body["data"])
	}
	p, ok := body["pagination"].(map[string]any)
	if !ok {
		t.Fatalf("pagination missing: %v", body)
	}
	if p["pages"] != float64(0) || p["hasNextPage"] != false {
		t.Errorf("pagination = %v", p)
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expose     bool
		wantStatus int
		wantMsg    string
		wantErrors int
	}{
		{"validation", apierr.NewValidation(
			apierr.FieldError{Field: "name", Message: "is required"},
			apierr.FieldError{Field: "phone", Message: "is required"},
		), false, http.StatusBadRequest, "validation failed", 2},
		{"conflict", apierr.NewConflict(apierr.FieldError{Field: "phone", Message: "already used"}), false, http.StatusBadRequest, "contact already exists", 1},
		{"not found", fmt.Errorf("contact x: %w", apierr.ErrNotFound), false, http.StatusNotFound, "contact x: not found", 0},
		{"storage hidden", fmt.Errorf("disk full: %w", apierr.ErrStorage), false, http.StatusInternalServerError, "internal server error", 0},
		{"storage exposed", fmt.Errorf("disk full: %w", apierr.ErrStorage), true, http.StatusInternalServerError, "disk full: storage failure", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err, tt.expose)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			body := decodeEnvelope(t, w)
			if body["success"] != false {
				t.Errorf("success = %v, want false", body["success"])
			}
			if body["message"] != tt.wantMsg {
				t.Errorf("message = %v, want %q", body["message"], tt.wantMsg)
			}
			errs, _ := body["errors"].([]any)
			if len(errs) != tt.wantErrors {
				t.Errorf("errors = %v, want %d items", body["errors"], tt.wantErrors)
			}
		})
	}
}

func TestFailHelpers(t *testing.T) {
	tests := []struct {
		name   string
		fn     func(http.ResponseWriter, string)
		status int
	}{
		{"NotFound", NotFound, http.StatusNotFound},
		{"BadRequest", BadRequest, http.StatusBadRequest},
		{"InternalError", InternalError, http.StatusInternalServerError},
		{"RateLimited", RateLimited, http.StatusTooManyRequests},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.fn(w, "detail")
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			body := decodeEnvelope(t, w)
			if body["success"] != false || body["message"] != "detail" {
				t.Errorf("body = %v", body)
			}
		})
	}
}
