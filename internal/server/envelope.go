package server

import (
	"encoding/json"
	"net/http"

	"github.com/HerbHall/phonebook/internal/apierr"
	"github.com/HerbHall/phonebook/pkg/models"
)

// Envelope is the uniform JSON body of every API response.
type Envelope struct {
	Success    bool               `json:"success"`
	Message    string             `json:"message,omitempty"`
	Data       any                `json:"data,omitempty"`
	Pagination *models.Pagination `json:"pagination,omitempty"`
	Errors     []string           `json:"errors,omitempty"`
}

// WriteEnvelope writes env as JSON with the given status.
func WriteEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// WriteData writes a successful envelope carrying data.
func WriteData(w http.ResponseWriter, status int, message string, data any) {
	WriteEnvelope(w, status, Envelope{Success: true, Message: message, Data: data})
}

// WritePage writes a successful list envelope.
func WritePage[T any](w http.ResponseWriter, page *models.Page[T]) {
	p := page.Pagination
	WriteEnvelope(w, http.StatusOK, Envelope{Success: true, Data: page.Items, Pagination: &p})
}

// WriteError maps err onto a status and a failure envelope. Internal detail
// is only included when expose is set.
func WriteError(w http.ResponseWriter, err error, expose bool) {
	WriteEnvelope(w, apierr.StatusCode(err), Envelope{
		Success: false,
		Message: apierr.Message(err, expose),
		Errors:  apierr.Details(err),
	})
}

// Fail writes a failure envelope with a fixed message.
func Fail(w http.ResponseWriter, status int, message string) {
	WriteEnvelope(w, status, Envelope{Success: false, Message: message})
}

// NotFound writes a 404 failure envelope.
func NotFound(w http.ResponseWriter, message string) {
	Fail(w, http.StatusNotFound, message)
}

// BadRequest writes a 400 failure envelope.
func BadRequest(w http.ResponseWriter, message string) {
	Fail(w, http.StatusBadRequest, message)
}

// InternalError writes a 500 failure envelope.
func InternalError(w http.ResponseWriter, message string) {
	Fail(w, http.StatusInternalServerError, message)
}

// RateLimited writes a 429 failure envelope.
func RateLimited(w http.ResponseWriter, message string) {
	Fail(w, http.StatusTooManyRequests, message)
}
