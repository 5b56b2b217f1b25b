package formulas

import "math"

// CalendarDaysPerYear is the annualization basis for calendar-day CAGR
const CalendarDaysPerYear = 365.0

// CalculateCAGR returns (final/initial)^(365/days) - 1.
//
// Degenerate inputs (no elapsed days, non-positive initial value) give 0;
// a wiped-out final value gives -1.
func CalculateCAGR(initial, final float64, days int) float64 {
	if days <= 0 || initial <= 0 {
		return 0
	}
	if final <= 0 {
		return -1
	}

	cagr := math.Pow(final/initial, CalendarDaysPerYear/float64(days)) - 1
	if math.IsNaN(cagr) || math.IsInf(cagr, 0) {
		return 0
	}
	return cagr
}

// SafeDiv divides a by b, returning 0 instead of NaN or Inf
func SafeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	r := a / b
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}

// Clamp restricts v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
