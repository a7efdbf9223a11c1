package transfer

import (
	"math"
	"testing"
)

func TestMinorUnitsAcceptsWholeAmounts(t *testing.T) {
	for _, amount := range []float64{1, 100, 2_500_000} {
		got, err := minorUnits(amount)
		if err != nil {
			t.Fatalf("amount %v: %v", amount, err)
		}
		if got != int64(amount) {
			t.Fatalf("amount %v converted to %d", amount, got)
		}
	}
}

func TestMinorUnitsRejectsUnrepresentableAmounts(t *testing.T) {
	cases := map[string]float64{
		"zero":       0,
		"negative":   -10,
		"fractional": 10.5,
		"nan":        math.NaN(),
		"+inf":       math.Inf(1),
		"-inf":       math.Inf(-1),
		// float64 cannot hold MaxInt64 exactly; the nearest value is 2^63,
		// one past the int64 range.
		"int64 boundary": float64(math.MaxInt64),
		"beyond int64":   math.MaxFloat64,
	}
	for name, amount := range cases {
		if _, err := minorUnits(amount); err == nil {
			t.Fatalf("%s (%v): expected rejection", name, amount)
		}
	}
}
