package money

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAndCents(t *testing.T) {
	cases := []struct {
		raw   string
		cents int64
	}{
		{"500", 50000},
		{"500.00", 50000},
		{"0.5", 50},
		{"1234.99", 123499},
		{"0", 0},
	}
	for _, tc := range cases {
		d, err := Parse(tc.raw)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.raw, err)
		}
		cents, err := ToCents(d)
		if err != nil {
			t.Fatalf("cents %q: %v", tc.raw, err)
		}
		if cents != tc.cents {
			t.Fatalf("%q: expected %d cents, got %d", tc.raw, tc.cents, cents)
		}
		if !FromCents(cents).Equal(d) {
			t.Fatalf("%q: round trip mismatch", tc.raw)
		}
	}
}

func TestParse_Rejects(t *testing.T) {
	if _, err := Parse("-1"); !errors.Is(err, ErrNegative) {
		t.Fatalf("expected ErrNegative, got %v", err)
	}
	if _, err := Parse("1.001"); !errors.Is(err, ErrPrecision) {
		t.Fatalf("expected ErrPrecision, got %v", err)
	}
	if _, err := Parse("abc"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestToCents_Overflow(t *testing.T) {
	d, err := Parse("92233720368547758.08")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cents, err := ToCents(d); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got cents=%d err=%v", cents, err)
	}

	d, _ = Parse("92233720368547758.07")
	cents, err := ToCents(d)
	if err != nil || cents != math.MaxInt64 {
		t.Fatalf("expected max int64 cents, got %d err=%v", cents, err)
	}
}

func TestFormat(t *testing.T) {
	if got := Format(decimal.NewFromInt(500)); got != "500.00" {
		t.Fatalf("expected 500.00, got %s", got)
	}
}
