package handlers

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"

	"github.com/familyrx/medtrack/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	mustRegister(v, "civildate", func(fl validator.FieldLevel) bool {
		_, err := domain.ParseDate(fl.Field().String(), time.UTC)
		return err == nil
	})
	mustRegister(v, "timestamp", func(fl validator.FieldLevel) bool {
		_, err := parseTimestamp(fl.Field().String())
		return err == nil
	})
	return v
}

// mustRegister panics on a bad tag so a broken validator fails at start
// rather than on every request using the tag.
func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %q validation: %v", tag, err))
	}
}

// validateRequest checks req against its tags and folds every field
// problem into one validation error. part names the request section.
// Once it passes, uuid-tagged fields are safe for uuid.MustParse.
func validateRequest(part string, req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	var result *multierror.Error
	for _, fe := range fieldErrs {
		result = multierror.Append(result, errors.New(describe(fe)))
	}
	result.ErrorFormat = func(es []error) string {
		msgs := make([]string, len(es))
		for i, e := range es {
			msgs[i] = e.Error()
		}
		return strings.Join(msgs, ", ")
	}
	return domain.Invalid("Request", fmt.Sprintf("Validation error: %s: %s", part, result.Error()))
}

func describe(fe validator.FieldError) string {
	field := fmt.Sprintf("%q", fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s length must be at least %s characters long", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s length must be less than or equal to %s characters long", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "uuid":
		return field + " must be a valid GUID"
	case "civildate":
		return field + " must be a valid date (YYYY-MM-DD)"
	case "timestamp":
		return field + " must be in ISO 8601 date format"
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed the %s rule", field, fe.Tag())
	}
}

// parseTimestamp accepts RFC 3339 with or without fractional seconds.
func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, domain.Invalid("Request", fmt.Sprintf("Validation error: %q is not an ISO 8601 timestamp", s))
	}
	return t, nil
}

func parseOptionalTimestamp(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := parseTimestamp(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseOptionalDate takes the day of timestamps in loc.
func parseOptionalDate(s *string, loc *time.Location) (*domain.Date, error) {
	if s == nil {
		return nil, nil
	}
	d, err := domain.ParseDate(*s, loc)
	if err != nil {
		return nil, domain.Invalid("Request", err.Error())
	}
	return &d, nil
}
