// internal/apperror/errors.go
//
// Error taxonomy for the archive and recovery engines.
//
// Context
// -------
// Engines return plain Go errors.  The HTTP edge (internal/httpapi) and the
// CLI need to know which class a failure belongs to, so every class is a
// concrete type or sentinel that survives `fmt.Errorf("…: %w", err)`
// wrapping:
//
//   - SchemaUnavailable  – a required table or column is missing for one
//     entity.  Fatal for that entity only.
//   - ValidationError    – bad input caught before any database work.
//   - ErrUnknownEntity   – the entity key is not configured.
//   - TransactionError   – a database failure mid-cascade.  The transaction
//     has already been rolled back when this is returned.
//
// Not-found ids are never errors; they are part of classification output.
// Duplicate snapshots are resolved by reuse and never surface either.
//
// Notes
// -----
// • Status() is the single place that maps classes to HTTP codes.
// • Oxford commas, two spaces after periods.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUnknownEntity is returned when an entity key has no configuration.
var ErrUnknownEntity = errors.New("unknown entity")

// SchemaUnavailable names the table, and optionally the column, that an
// entity needs but the live schema does not have.
type SchemaUnavailable struct {
	Entity string
	Table  string
	Column string
}

func (e *SchemaUnavailable) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("schema unavailable for %s: column %s.%s not found", e.Entity, e.Table, e.Column)
	}
	return fmt.Sprintf("schema unavailable for %s: table %s not found", e.Entity, e.Table)
}

// FieldError describes a single rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError wraps every rejected field of one request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Invalid is shorthand for a single-field ValidationError.
func Invalid(field, msg string) error {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: msg}}}
}

// TransactionError reports a rolled-back unit of work.  ID is the root id
// being processed, or empty for batch-level failures.
type TransactionError struct {
	Op  string
	ID  string
	Err error
}

func (e *TransactionError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s: rolled back: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("%s: rolled back: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Status maps an error to the HTTP status the API should answer with.
func Status(err error) int {
	var (
		ve *ValidationError
		su *SchemaUnavailable
		te *TransactionError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnknownEntity):
		return http.StatusNotFound
	case errors.As(err, &su):
		return http.StatusUnprocessableEntity
	case errors.As(err, &te):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Code returns a stable machine-readable code for API bodies.
func Code(err error) string {
	var (
		ve *ValidationError
		su *SchemaUnavailable
		te *TransactionError
	)
	switch {
	case errors.As(err, &ve):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrUnknownEntity):
		return "UNKNOWN_ENTITY"
	case errors.As(err, &su):
		return "SCHEMA_UNAVAILABLE"
	case errors.As(err, &te):
		return "TRANSACTION_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}
