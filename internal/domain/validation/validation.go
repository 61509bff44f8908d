// Package validation holds the required-field checks shared by the domain packages.
package validation

import (
	"errors"
	"strings"
)

// ErrMissingRequiredField is matched with errors.Is on any *Error.
var ErrMissingRequiredField = errors.New("missing required field")

// Error lists every field that failed a required check.
type Error struct {
	Fields []string
}

func (e *Error) Error() string {
	return "validation failed: missing " + strings.Join(e.Fields, ", ")
}

// Unwrap lets callers test for ErrMissingRequiredField.
func (e *Error) Unwrap() error {
	return ErrMissingRequiredField
}

// Field is a named value subject to a required check.
type Field struct {
	Name  string
	Value string
}

// Required returns an *Error naming each blank field, or nil when all are set.
// Whitespace-only values count as blank.
func Required(fields ...Field) error {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.Value) == "" {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &Error{Fields: missing}
}

// Merge folds several validation results into one *Error.
// Non-validation errors are returned as-is on first sight.
func Merge(errs ...error) error {
	var fields []string
	for _, err := range errs {
		if err == nil {
			continue
		}
		var verr *Error
		if !errors.As(err, &verr) {
			return err
		}
		fields = append(fields, verr.Fields...)
	}
	if len(fields) == 0 {
		return nil
	}
	return &Error{Fields: fields}
}
