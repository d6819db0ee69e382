package contacts

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/HerbHall/phonebook/internal/apierr"
	"github.com/HerbHall/phonebook/pkg/models"
	"github.com/go-playground/validator/v10"
)

// MinPhoneDigits is the fewest digits a phone number may contain.
const MinPhoneDigits = 8

var phonePattern = regexp.MustCompile(`^[0-9+\-\s()]+$`)

// ValidPhone reports whether phone uses only digits, '+', '-', spaces and
// parentheses and contains at least MinPhoneDigits digits.
func ValidPhone(phone string) bool {
	return phonePattern.MatchString(phone) && len(models.PhoneDigits(phone)) >= MinPhoneDigits
}

// newValidator returns a validator that reports JSON field names and knows
// the "phone" rule.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return ValidPhone(fl.Field().String())
	})
	return v
}

// validateInput checks a create request.
func (s *Service) validateInput(in models.ContactInput) error {
	return s.fieldErrors(s.validate.Struct(in))
}

// validatePatch checks an update request. Provided name and phone values
// must not be blank; the struct rules skip empty values.
func (s *Service) validatePatch(p models.ContactPatch) error {
	var fields []apierr.FieldError
	if p.Name != nil && *p.Name == "" {
		fields = append(fields, apierr.FieldError{Field: "name", Message: "is required"})
	}
	if p.Phone != nil && *p.Phone == "" {
		fields = append(fields, apierr.FieldError{Field: "phone", Message: "is required"})
	}
	if err := s.validate.Struct(p); err != nil {
		var ve *apierr.ValidationError
		if !errors.As(s.fieldErrors(err), &ve) {
			return err
		}
		fields = append(fields, ve.Fields...)
	}
	if len(fields) > 0 {
		return apierr.NewValidation(fields...)
	}
	return nil
}

// fieldErrors converts validator output into an itemized ValidationError.
func (s *Service) fieldErrors(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate: %w", err)
	}
	fields := make([]apierr.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, apierr.FieldError{Field: fe.Field(), Message: ruleMessage(fe)})
	}
	return apierr.NewValidation(fields...)
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "email":
		return "must be a valid email address"
	case "phone":
		return fmt.Sprintf("may contain only digits, spaces, +, - and parentheses, with at least %d digits", MinPhoneDigits)
	default:
		return "is invalid (" + fe.Tag() + ")"
	}
}
