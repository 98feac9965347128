package hosts

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// ValidationError represents a field-level validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors holds multiple validation errors
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// Error implements the error interface for ValidationErrors
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return "validation failed"
	}
	messages := make([]string, len(v.Errors))
	for i, e := range v.Errors {
		messages[i] = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

func (v *ValidationErrors) add(field, message string) {
	v.Errors = append(v.Errors, ValidationError{Field: field, Message: message})
}

// Validate checks every submitted host record. It returns *ValidationErrors
// listing each offending field as hosts[i].<field>.
func Validate(hosts []Host) error {
	errs := &ValidationErrors{}
	seen := make(map[string]int, len(hosts))

	for i, h := range hosts {
		prefix := fmt.Sprintf("hosts[%d]", i)

		if err := validate.Struct(h); err != nil {
			fieldErrs, ok := err.(validator.ValidationErrors)
			if !ok {
				return err
			}
			for _, e := range fieldErrs {
				errs.add(prefix+"."+e.Field(), formatValidationMessage(e))
			}
		}

		if h.Port != "" {
			if port, err := strconv.ParseUint(h.Port, 10, 16); err != nil || port == 0 {
				errs.add(prefix+".port", "port must be a whole number between 1 and 65535")
			}
		}

		if h.Name != "" {
			if first, dup := seen[h.Name]; dup {
				errs.add(prefix+".name", fmt.Sprintf("name %q already used by hosts[%d]", h.Name, first))
			} else {
				seen[h.Name] = i
			}
		}
	}

	if len(errs.Errors) > 0 {
		return errs
	}
	return nil
}

// formatValidationMessage creates human-readable error messages
func formatValidationMessage(e validator.FieldError) string {
	field := e.Field()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "ip|hostname_rfc1123":
		return fmt.Sprintf("%s must be an IP address or hostname", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, e.Tag())
	}
}
