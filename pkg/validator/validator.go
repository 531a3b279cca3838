// Package validator decodes and validates JSON request bodies with
// go-playground/validator and renders failures as 400/422 responses.
package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/ghuser/entitlements/pkg/httpx"
)

var (
	validate *validator.Validate

	enumMu sync.RWMutex
	enums  = map[string][]string{}
)

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
}

// RegisterEnum adds a validation tag that accepts any of values, ignoring
// case and surrounding blanks. An empty string passes so the tag composes
// with omitempty and required.
func RegisterEnum(tag string, values ...string) error {
	enumMu.Lock()
	enums[tag] = append([]string(nil), values...)
	enumMu.Unlock()

	return validate.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		s := strings.TrimSpace(fl.Field().String())
		if s == "" {
			return true
		}
		for _, v := range enumValues(tag) {
			if strings.EqualFold(s, v) {
				return true
			}
		}
		return false
	})
}

func enumValues(tag string) []string {
	enumMu.RLock()
	defer enumMu.RUnlock()
	return enums[tag]
}

// Validate runs struct-level validation using go-playground/validator tags.
func Validate(s any) error {
	return validate.Struct(s)
}

// Var validates a single value against tag, e.g. Var(limit, "gte=1,lte=500").
func Var(v any, tag string) error {
	return validate.Var(v, tag)
}

// FormatValidationErrors converts validator.ValidationErrors into a map of
// field name to message. Any other error yields an empty map.
func FormatValidationErrors(err error) map[string]string {
	errs := make(map[string]string)
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return errs
	}
	for _, e := range ve {
		errs[e.Field()] = FieldMessage(e)
	}
	return errs
}

// FieldMessage renders one failed constraint.
func FieldMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "uuid", "uuid4":
		return "Must be a valid UUID"
	case "min":
		return fmt.Sprintf("Minimum length is %s", e.Param())
	case "max":
		return fmt.Sprintf("Maximum length is %s", e.Param())
	case "oneof":
		return fmt.Sprintf("Must be one of: %s", e.Param())
	case "gte":
		return fmt.Sprintf("Must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("Must be less than or equal to %s", e.Param())
	}
	if values := enumValues(e.Tag()); values != nil {
		return fmt.Sprintf("Must be one of: %s", strings.Join(values, " "))
	}
	return fmt.Sprintf("Validation failed on '%s'", e.Tag())
}

// ValidateRequest decodes the JSON request body into T, validates it, and
// writes an error response if either step fails. Unknown fields and
// trailing data are rejected as malformed.
func ValidateRequest[T any](w http.ResponseWriter, r *http.Request) (*T, bool) {
	var req T
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "Invalid JSON")
		return nil, false
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		httpx.JSONError(w, http.StatusBadRequest, "Invalid JSON")
		return nil, false
	}
	if err := Validate(&req); err != nil {
		httpx.JSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "Validation failed",
			"fields": FormatValidationErrors(err),
		})
		return nil, false
	}
	return &req, true
}
