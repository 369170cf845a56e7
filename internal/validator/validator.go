package validator

import (
	"fmt"
	"strings"

	govalidator "github.com/go-playground/validator/v10"
)

// ValidationError describes one violation. Validation is exhaustive: callers
// always receive every violation found, never just the first.
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
	Rule    string      `json:"rule,omitempty"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "; ")
}

// HasErrors reports whether any violation was collected.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: message, Value: value}
}

// NewRangeError marks an out-of-range point value.
func NewRangeError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: message, Value: value, Rule: "point_range"}
}

// ToValidationErrors converts go-playground validator output into the
// structured error list.
func ToValidationErrors(err error) ValidationErrors {
	if err == nil {
		return nil
	}
	var out ValidationErrors
	if verrs, ok := err.(govalidator.ValidationErrors); ok {
		for _, fe := range verrs {
			out = append(out, ValidationError{
				Field:   strings.ToLower(fe.Field()),
				Message: messageForTag(fe),
				Value:   fe.Value(),
				Rule:    fe.Tag(),
			})
		}
		return out
	}
	return ValidationErrors{{Field: "request", Message: err.Error(), Rule: "invalid"}}
}

func messageForTag(fe govalidator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// Validator wraps struct-tag validation. Business/hierarchy rules live in
// SchemeValidator.
type Validator struct {
	validate *govalidator.Validate
}

func New() *Validator {
	v := govalidator.New()

	// Export format validation
	v.RegisterValidation("export_format", func(fl govalidator.FieldLevel) bool {
		switch fl.Field().String() {
		case "csv", "json", "xlsx":
			return true
		}
		return false
	})

	return &Validator{validate: v}
}

// Struct runs tag validation and returns all violations.
func (v *Validator) Struct(s interface{}) ValidationErrors {
	if err := v.validate.Struct(s); err != nil {
		return ToValidationErrors(err)
	}
	return nil
}
