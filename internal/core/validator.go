package core

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"farmconnect/internal/types"
)

// Validator wraps go-playground/validator with JSON field names and the
// domain tags used by request bodies.
type Validator struct {
	v *validator.Validate
}

// FieldError describes one failed rule.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// NewValidator registers:
//   - isodate: a YYYY-MM-DD calendar date
//   - market: one of the scraped market labels
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	// Registration only fails for empty tags or nil functions.
	_ = v.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(time.DateOnly, fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("market", func(fl validator.FieldLevel) bool {
		return types.IsKnownMarket(fl.Field().String())
	})
	return &Validator{v: v}
}

// ValidateStruct validates s and reports failures as an AppError with code
// and the failing fields in Details["fields"].
func (val *Validator) ValidateStruct(s any, code types.ErrorCode) error {
	err := val.v.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation could not run", err)
	}

	fields := make([]FieldError, 0, len(verrs))
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := trimRoot(fe.Namespace())
		fields = append(fields, FieldError{Field: field, Rule: fe.Tag(), Param: fe.Param()})
		names = append(names, field)
	}
	return types.NewAppErrorWithDetails(code,
		"invalid request: "+strings.Join(names, ", "),
		err,
		map[string]any{"fields": fields},
	)
}

// trimRoot drops the struct name validator puts in front of every namespace.
func trimRoot(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
