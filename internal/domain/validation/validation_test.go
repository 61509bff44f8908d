package validation

import (
	"errors"
	"testing"
)

func TestRequired(t *testing.T) {
	err := Required(
		Field{Name: "fish", Value: "Ivanov I.I."},
		Field{Name: "passportSeries", Value: "  "},
		Field{Name: "passportNumber", Value: ""},
	)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errors.Is(err, ErrMissingRequiredField) {
		t.Errorf("expected ErrMissingRequiredField, got %v", err)
	}

	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if len(verr.Fields) != 2 || verr.Fields[0] != "passportSeries" || verr.Fields[1] != "passportNumber" {
		t.Errorf("unexpected fields: %v", verr.Fields)
	}
}

func TestRequiredAllSet(t *testing.T) {
	if err := Required(Field{Name: "a", Value: "x"}); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestMerge(t *testing.T) {
	a := Required(Field{Name: "date"})
	b := Required(Field{Name: "pulse"})

	err := Merge(a, nil, b)
	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if len(verr.Fields) != 2 {
		t.Errorf("expected 2 fields, got %v", verr.Fields)
	}

	other := errors.New("boom")
	if got := Merge(a, other); got != other {
		t.Errorf("expected non-validation error passthrough, got %v", got)
	}
	if Merge(nil, nil) != nil {
		t.Error("expected nil for empty merge")
	}
}
