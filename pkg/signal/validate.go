package signal

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sparedes88/projector/pkg/broadcast"
)

// ErrUnauthorized is returned when a write lacks the tenant control key
var ErrUnauthorized = errors.New("control key required")

// FieldError is used to indicate an error with a specific request field
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError is a request that failed field validation.
// It unwraps to broadcast.ErrInvalid.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Error)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return broadcast.ErrInvalid
}

func newValidator() *validator.Validate {
	v := validator.New()

	// Use JSON tag names for errors instead of Go struct names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// check validates v and converts validator errors to a ValidationError
func check(v *validator.Validate, req interface{}) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", broadcast.ErrInvalid, err)
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{
			Field: trimNamespace(fe.Namespace()),
			Error: describe(fe),
		})
	}
	return out
}

// trimNamespace drops the root struct name: "styleRequest.style.font.size" -> "style.font.size"
func trimNamespace(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	case "url":
		return "must be a valid URL"
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	}
	return "failed " + fe.Tag()
}

// codeFor maps an error to the code sent to clients
func codeFor(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrAssistUnavailable):
		return "assist-unavailable"
	case errors.Is(err, ErrAssistFailed):
		return "no-result"
	}
	return broadcast.Code(err)
}
