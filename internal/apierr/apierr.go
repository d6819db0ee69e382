// Package apierr defines the error taxonomy shared by the contact and avatar
// services and its mapping onto HTTP status codes.
package apierr

import (
	"errors"
	"net/http"
	"strings"
)

// Sentinel error kinds. Wrap them with fmt.Errorf("...: %w", ErrX) to add detail.
var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidQuery         = errors.New("invalid query")
	ErrConflict             = errors.New("conflict")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrPayloadTooLarge      = errors.New("payload too large")
	ErrStorage              = errors.New("storage failure")
	ErrValidation           = errors.New("validation failed")
)

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (f FieldError) String() string {
	if f.Field == "" {
		return f.Message
	}
	return f.Field + ": " + f.Message
}

// ValidationError is an itemized, client-fixable input problem.
type ValidationError struct {
	Fields []FieldError
	// Kind is ErrValidation unless a more specific kind (ErrConflict) applies.
	Kind error
}

// NewValidation returns a ValidationError carrying fields.
func NewValidation(fields ...FieldError) *ValidationError {
	return &ValidationError{Fields: fields, Kind: ErrValidation}
}

// NewConflict returns an itemized ValidationError of kind ErrConflict.
func NewConflict(fields ...FieldError) *ValidationError {
	return &ValidationError{Fields: fields, Kind: ErrConflict}
}

func (e *ValidationError) Error() string {
	return e.Kind.Error() + ": " + strings.Join(e.Messages(), "; ")
}

// Unwrap exposes the kind so errors.Is(err, ErrValidation) works.
func (e *ValidationError) Unwrap() error { return e.Kind }

// Messages returns one human-readable line per invalid field.
func (e *ValidationError) Messages() []string {
	out := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		out = append(out, f.String())
	}
	return out
}

// StatusCode maps err to the HTTP status returned to clients.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrInvalidQuery):
		// Duplicate phones are reported with the validation failures of POST.
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-facing message for err. Storage and unknown
// errors are reduced to a generic message unless expose is set.
func Message(err error, expose bool) string {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		if ve.Kind == ErrConflict {
			return "contact already exists"
		}
		return "validation failed"
	case StatusCode(err) == http.StatusInternalServerError:
		if expose {
			return err.Error()
		}
		return "internal server error"
	default:
		return err.Error()
	}
}

// Details returns the itemized field messages for validation errors, or nil.
func Details(err error) []string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Messages()
	}
	return nil
}
