package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/warp/referral-ledger/generic"
)

func newValidator() *validator.Validate {
	v := validator.New()
	// Report json names ("payment_method") instead of Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and checks its validate tags. Every
// failure is a ValidationError.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return generic.Invalid("", "invalid JSON body: %v", err)
	}

	if err := h.validate.Struct(dst); err != nil {
		var errs validator.ValidationErrors
		if !errors.As(err, &errs) || len(errs) == 0 {
			return generic.Invalid("", "%v", err)
		}
		return fieldError(errs[0])
	}
	return nil
}

func fieldError(e validator.FieldError) error {
	switch e.Tag() {
	case "required":
		return generic.Invalid(e.Field(), "is required")
	case "email":
		return generic.Invalid(e.Field(), "must be a valid email address")
	case "oneof":
		return generic.Invalid(e.Field(), "must be one of: %s", e.Param())
	case "min":
		return generic.Invalid(e.Field(), "must be at least %s characters long", e.Param())
	case "max":
		return generic.Invalid(e.Field(), "must be at most %s characters long", e.Param())
	case "gte":
		return generic.Invalid(e.Field(), "must be at least %s", e.Param())
	default:
		return generic.Invalid(e.Field(), "failed on the '%s' tag", e.Tag())
	}
}
