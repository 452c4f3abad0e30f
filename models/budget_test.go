package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestItemTotal(t *testing.T) {
	got := ItemTotal(d(t, "1"), d(t, "130"))
	if !got.Equal(d(t, "130")) {
		t.Errorf("ItemTotal(1, 130) = %s, want 130", got)
	}
	got = ItemTotal(d(t, "1.05"), d(t, "412.50"))
	if !got.Equal(d(t, "433.125")) {
		t.Errorf("ItemTotal(1.05, 412.50) = %s, want 433.125", got)
	}
	// 4dp rounding at the item level.
	got = ItemTotal(d(t, "0.333"), d(t, "0.1111"))
	if !got.Equal(d(t, "0.037")) {
		t.Errorf("ItemTotal(0.333, 0.1111) = %s, want 0.037", got)
	}
}

func TestSumItemTotals(t *testing.T) {
	got := SumItemTotals([]decimal.Decimal{d(t, "433.125"), d(t, "14.72"), d(t, "37.2")})
	if !got.Equal(d(t, "485.045")) {
		t.Errorf("SumItemTotals = %s, want 485.045", got)
	}
	if !SumItemTotals(nil).Equal(decimal.Zero) {
		t.Error("empty sum should be zero")
	}
}

func TestServiceTotal(t *testing.T) {
	got := ServiceTotal(d(t, "50"), d(t, "130"))
	if !got.Equal(d(t, "6500")) {
		t.Errorf("ServiceTotal(50, 130) = %s, want 6500", got)
	}
	got = ServiceTotal(d(t, "3.5"), d(t, "10.111"))
	if !got.Equal(d(t, "35.39")) {
		t.Errorf("ServiceTotal(3.5, 10.111) = %s, want 35.39", got)
	}
}

func TestStageAndBudgetReducers(t *testing.T) {
	// A stage with services 100.00 and 250.50 totals 350.50; a budget with
	// stages 350.50 and 0.00 at 25% BDI bills 438.13.
	stageTotal := SumServiceTotals([]decimal.Decimal{d(t, "100.00"), d(t, "250.50")})
	if !stageTotal.Equal(d(t, "350.50")) {
		t.Fatalf("stage total = %s, want 350.50", stageTotal)
	}
	direct := SumStageTotals([]decimal.Decimal{stageTotal, d(t, "0.00")})
	if !direct.Equal(d(t, "350.50")) {
		t.Fatalf("direct cost = %s, want 350.50", direct)
	}
	withBdi := ApplyBdi(direct, d(t, "25"))
	if !withBdi.Equal(d(t, "438.13")) {
		t.Fatalf("total with BDI = %s, want 438.13", withBdi)
	}
}

func TestApplyBdi(t *testing.T) {
	if got := ApplyBdi(d(t, "1000"), decimal.Zero); !got.Equal(d(t, "1000")) {
		t.Errorf("zero BDI should be identity, got %s", got)
	}
	if got := ApplyBdi(decimal.Zero, d(t, "25")); !got.Equal(decimal.Zero) {
		t.Errorf("zero direct cost stays zero, got %s", got)
	}
	// Half-away-from-zero at the cent.
	if got := ApplyBdi(d(t, "100.10"), d(t, "25")); !got.Equal(d(t, "125.13")) {
		t.Errorf("ApplyBdi(100.10, 25) = %s, want 125.13", got)
	}
}

func TestApplyBdiIdempotentInputs(t *testing.T) {
	// Same inputs must always produce byte-identical output.
	a := ApplyBdi(d(t, "350.50"), d(t, "25"))
	b := ApplyBdi(d(t, "350.50"), d(t, "25"))
	if a.String() != b.String() {
		t.Errorf("ApplyBdi unstable: %s vs %s", a, b)
	}
}
