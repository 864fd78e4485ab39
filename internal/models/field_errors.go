package models

import (
	"errors"
	"fmt"
	"strings"
)

// FieldError is one failed check against a named field.
type FieldError struct {
	Field string
	Err   error
}

func (f FieldError) Error() string {
	if f.Field == "" {
		return f.Err.Error()
	}
	return fmt.Sprintf("%s: %v", f.Field, f.Err)
}

func (f FieldError) Unwrap() error { return f.Err }

// FieldErrors collects failures so a caller sees every problem at once.
type FieldErrors struct {
	Errors []FieldError
}

// Add records err against field. Nested FieldErrors are flattened with a
// dotted path.
func (v *FieldErrors) Add(field string, err error) {
	if err == nil {
		return
	}
	var nested *FieldErrors
	if errors.As(err, &nested) {
		for _, sub := range nested.Errors {
			v.Errors = append(v.Errors, FieldError{Field: joinField(field, sub.Field), Err: sub.Err})
		}
		return
	}
	v.Errors = append(v.Errors, FieldError{Field: field, Err: err})
}

// Addf records a formatted message against field.
func (v *FieldErrors) Addf(field, format string, args ...any) {
	v.Add(field, fmt.Errorf(format, args...))
}

// Err returns nil when nothing was recorded.
func (v *FieldErrors) Err() error {
	if v == nil || len(v.Errors) == 0 {
		return nil
	}
	return v
}

func (v *FieldErrors) Error() string {
	if v == nil || len(v.Errors) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(v.Errors))
	for i, err := range v.Errors {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "; ")
}

// Unwrap exposes every cause to errors.Is and errors.As.
func (v *FieldErrors) Unwrap() []error {
	if v == nil {
		return nil
	}
	out := make([]error, len(v.Errors))
	for i, err := range v.Errors {
		out[i] = err
	}
	return out
}

func joinField(prefix, field string) string {
	switch {
	case prefix == "":
		return field
	case field == "":
		return prefix
	default:
		return prefix + "." + field
	}
}
