package common

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
)

var (
	indianMobile  = regexp.MustCompile(`^(\+91[\-\s]?)?[0]?(91)?[6-9]\d{9}$`)
	indianPincode = regexp.MustCompile(`^[1-9][0-9]{5}$`)
)

// NewValidator returns a validator that reads json tag names and knows the
// in_mobile and in_pincode rules.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("in_mobile", func(fl validator.FieldLevel) bool {
		return indianMobile.MatchString(strings.TrimSpace(fl.Field().String()))
	})
	_ = v.RegisterValidation("in_pincode", func(fl validator.FieldLevel) bool {
		return indianPincode.MatchString(strings.TrimSpace(fl.Field().String()))
	})
	return v
}

// FieldError describes a single failed validation rule.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// DecodeAndValidate reads a JSON body into dst and validates it. The returned
// error is an AppError ready for WriteError.
func DecodeAndValidate(r *http.Request, v *validator.Validate, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return NewAppError("BAD_REQUEST", "invalid payload", http.StatusBadRequest, err)
	}
	if v == nil {
		return nil
	}
	if err := v.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]FieldError, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, FieldError{Field: trimNamespace(fe.Namespace()), Rule: fe.Tag()})
			}
			return NewAppError("VALIDATION_FAILED", "Validation failed", http.StatusBadRequest, err).WithDetails(fields)
		}
		return NewAppError("VALIDATION_FAILED", "Validation failed", http.StatusBadRequest, err)
	}
	return nil
}

func trimNamespace(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// InvalidField builds the VALIDATION_FAILED error for a single field that
// failed a rule outside the validator.
func InvalidField(field, rule string) error {
	return NewAppError("VALIDATION_FAILED", "Validation failed", http.StatusBadRequest, nil).
		WithDetails([]FieldError{{Field: field, Rule: rule}})
}

// ParseDate accepts RFC 3339 timestamps and bare dates.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("unrecognised date")
}
