package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

func TestStateFactor(t *testing.T) {
	cases := []struct {
		uf   string
		want string
	}{
		{"SP", "1.00"},
		{"RJ", "1.08"},
		{"MG", "0.97"},
		{"BA", "0.95"},
		{"CE", "0.92"},
		{"XX", "1"},
		{"", "1"},
	}
	for _, c := range cases {
		got := StateFactor(c.uf)
		if !got.Equal(d(t, c.want)) {
			t.Errorf("StateFactor(%q) = %s, want %s", c.uf, got, c.want)
		}
	}
}

func TestAdjustUnitPrice(t *testing.T) {
	// 115 x 0.92 = 105.80
	got := AdjustUnitPrice(d(t, "115"), "CE")
	if !got.Equal(d(t, "105.8")) {
		t.Errorf("AdjustUnitPrice(115, CE) = %s, want 105.8", got)
	}

	// Unknown state degrades to identity, never errors.
	got = AdjustUnitPrice(d(t, "42.1234"), "ZZ")
	if !got.Equal(d(t, "42.1234")) {
		t.Errorf("unknown state should be identity, got %s", got)
	}

	// Item precision: 4 decimals.
	got = AdjustUnitPrice(d(t, "10.12345"), "SP")
	if !got.Equal(d(t, "10.1235")) {
		t.Errorf("AdjustUnitPrice should round to 4dp, got %s", got)
	}
}

func TestAdjustDisplayPrice(t *testing.T) {
	// Composition-level aggregates shown to users carry 2 decimals.
	got := AdjustDisplayPrice(d(t, "123.456"), "RJ")
	want := d(t, "123.456").Mul(d(t, "1.08")).Round(2)
	if !got.Equal(want) {
		t.Errorf("AdjustDisplayPrice = %s, want %s", got, want)
	}
}

func TestSupportedStates(t *testing.T) {
	states := SupportedStates()
	if len(states) != 5 {
		t.Fatalf("expected 5 supported states, got %d", len(states))
	}
	seen := map[string]bool{}
	for _, uf := range states {
		seen[uf] = true
	}
	for _, uf := range []string{"SP", "RJ", "MG", "BA", "CE"} {
		if !seen[uf] {
			t.Errorf("missing state %s", uf)
		}
	}
}
