package utils

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return d
}

func TestRound4(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1.23455", "1.2346"},
		{"1.23454", "1.2345"},
		{"115", "115"},
		{"0.00005", "0.0001"},
		{"-1.23455", "-1.2346"},
	}
	for _, c := range cases {
		got := Round4(dec(t, c.in))
		if !got.Equal(dec(t, c.want)) {
			t.Errorf("Round4(%s) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestRound2(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"438.125", "438.13"},
		{"438.124", "438.12"},
		{"350.50", "350.50"},
		{"-2.005", "-2.01"},
	}
	for _, c := range cases {
		got := Round2(dec(t, c.in))
		if !got.Equal(dec(t, c.want)) {
			t.Errorf("Round2(%s) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestRoundingIsStable(t *testing.T) {
	// Idempotence of the aggregate functions depends on rounding twice being
	// a no-op.
	v := dec(t, "123.4567")
	if !Round4(Round4(v)).Equal(Round4(v)) {
		t.Error("Round4 is not stable under repetition")
	}
	m := dec(t, "99.995")
	if !Round2(Round2(m)).Equal(Round2(m)) {
		t.Error("Round2 is not stable under repetition")
	}
}

func TestParseDecimal(t *testing.T) {
	if _, err := ParseDecimal("12.5"); err != nil {
		t.Errorf("ParseDecimal valid input: %v", err)
	}
	if _, err := ParseDecimal("abc"); err == nil {
		t.Error("ParseDecimal should fail on non-numeric input")
	}
}

func TestUniqueSlice(t *testing.T) {
	got := UniqueSlice([]int{3, 1, 3, 2, 1})
	if len(got) != 3 {
		t.Fatalf("expected 3 unique values, got %v", got)
	}
}

func TestNilIfEmpty(t *testing.T) {
	if NilIfEmpty("") != nil {
		t.Error("empty string should yield nil")
	}
	if v := NilIfEmpty("x"); v == nil || *v != "x" {
		t.Error("non-empty string should round-trip")
	}
}
