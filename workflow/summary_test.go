package workflow

import (
	"errors"
	"strings"
	"testing"
)

func TestCascadeSummaryAdd(t *testing.T) {
	a := CascadeSummary{ItemsUpdated: 3, CompositionsRecalced: 2, ServicesUpdated: 1}
	b := CascadeSummary{ItemsUpdated: 1, StagesRecalculated: 4, BudgetsRecalculated: 2}

	got := a.Add(b)
	want := CascadeSummary{ItemsUpdated: 4, CompositionsRecalced: 2, ServicesUpdated: 1, StagesRecalculated: 4, BudgetsRecalculated: 2}
	if got != want {
		t.Errorf("Add = %+v, want %+v", got, want)
	}

	// Add must not mutate the receiver.
	if a.ItemsUpdated != 3 {
		t.Error("Add mutated its receiver")
	}
}

func TestPartialCascadeError(t *testing.T) {
	cause := errors.New("connection reset")
	err := &PartialCascadeError{
		Summary: CascadeSummary{ItemsUpdated: 12, CompositionsRecalced: 3},
		Err:     cause,
	}

	if !errors.Is(err, cause) {
		t.Error("Unwrap should expose the cause")
	}
	msg := err.Error()
	if !strings.Contains(msg, "items=12") || !strings.Contains(msg, "connection reset") {
		t.Errorf("error message should carry counts and cause: %q", msg)
	}

	var partial *PartialCascadeError
	var wrapped error = err
	if !errors.As(wrapped, &partial) {
		t.Fatal("errors.As should match PartialCascadeError")
	}
	if partial.Summary.ItemsUpdated != 12 {
		t.Errorf("partial summary lost: %+v", partial.Summary)
	}
}
