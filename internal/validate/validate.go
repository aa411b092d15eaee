// internal/validate/validate.go
//
// Request validation shared by the HTTP handlers and the CLI.
//
// Context
// -------
// Engines validate their request structs before they open a connection.
// Static rules (required, lengths, positive ids) live in `validate:"…"`
// struct tags and run through go-playground/validator.  Configured caps
// (e.g. archive.max_ids) are checked with MaxItems because they are not
// known at compile time.
//
// Every failure is returned as *apperror.ValidationError so the HTTP edge
// answers 400 without inspecting validator types.
//
// Notes
// -----
// • Field names in errors use the `json` tag when present.
// • Oxford commas, two spaces after periods.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/yanizio/schoolarchive/internal/apperror"
)

//
// validator instance (package-level singleton)
//

var v = newValidator()

func newValidator() *validator.Validate {
	val := validator.New(validator.WithRequiredStructEnabled())
	val.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return val
}

//
// public API
//

// Struct validates s and returns an *apperror.ValidationError listing every
// failed field, or nil.
func Struct(s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &apperror.ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, apperror.FieldError{
			Field:   fe.Field(),
			Message: message(fe),
		})
	}
	return out
}

// MaxItems rejects lists longer than limit.
func MaxItems(field string, n, limit int) error {
	if limit > 0 && n > limit {
		return apperror.Invalid(field, fmt.Sprintf("at most %d items allowed, got %d", limit, n))
	}
	return nil
}

// Join merges validation errors; nil inputs are skipped.
func Join(errs ...error) error {
	out := &apperror.ValidationError{}
	for _, err := range errs {
		if err == nil {
			continue
		}
		var ve *apperror.ValidationError
		if errors.As(err, &ve) {
			out.Fields = append(out.Fields, ve.Fields...)
			continue
		}
		return err
	}
	if len(out.Fields) == 0 {
		return nil
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must have at least " + fe.Param() + " item(s) or characters"
	case "max":
		return "must have at most " + fe.Param() + " item(s) or characters"
	case "gt":
		return "must be greater than " + fe.Param()
	default:
		return "failed " + fe.Tag() + " rule"
	}
}
