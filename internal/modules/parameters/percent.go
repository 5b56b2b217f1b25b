// Package parameters resolves fully specified run parameters from layered
// configuration: built-in defaults, a global defaults file, per-ticker
// overrides and request overrides.
//
// Request and file DTOs carry whole-number percents (10 = 10%). The engine
// only ever sees fractions; PercentToFraction is the single conversion point.
package parameters

import "math"

// PercentToFraction converts a whole-number percent to a fraction (10 -> 0.10)
func PercentToFraction(percent float64) float64 {
	return percent / 100
}

// FractionToPercent converts a fraction back to a whole-number percent,
// rounded to six decimals to hide float noise in responses
func FractionToPercent(fraction float64) float64 {
	return math.Round(fraction*100*1e6) / 1e6
}
