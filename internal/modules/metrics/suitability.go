package metrics

import "github.com/aristath/dcabacktest/pkg/formulas"

const (
	activityWeight   = 0.3
	winRateWeight    = 0.3
	efficiencyWeight = 0.4

	// sellsPerMonthTarget is the activity level that earns the full activity score
	sellsPerMonthTarget = 1.0
	// efficiencyTarget is the annualized return on deployed capital that earns
	// the full efficiency score
	efficiencyTarget = 0.20

	daysPerMonth = 30.44
)

// Suitability rates how well an instrument suits grid DCA trading, 0-100
type Suitability struct {
	Score             float64 `json:"score"`
	Interpretation    string  `json:"interpretation"`
	Activity          float64 `json:"activity"`
	WinRate           float64 `json:"win_rate"`
	CapitalEfficiency float64 `json:"capital_efficiency"`
}

// ComputeSuitability blends trading activity, win rate and the annualized
// return earned on the capital actually deployed
func ComputeSuitability(s Summary) Suitability {
	out := Suitability{WinRate: s.WinRate}

	if s.CalendarDays > 0 {
		months := float64(s.CalendarDays) / daysPerMonth
		out.Activity = formulas.Clamp(float64(s.TotalSells)/months/sellsPerMonthTarget, 0, 1)

		returnOnAvg := formulas.SafeDiv(s.RealizedPNL+s.UnrealizedPNL, s.AvgDeployedCapital)
		annualized := returnOnAvg * formulas.CalendarDaysPerYear / float64(s.CalendarDays)
		out.CapitalEfficiency = formulas.Clamp(annualized/efficiencyTarget, 0, 1)
	}

	out.Score = 100 * (activityWeight*out.Activity + winRateWeight*out.WinRate + efficiencyWeight*out.CapitalEfficiency)
	out.Interpretation = Interpret(out.Score)
	return out
}

// Interpret maps a 0-100 score to its band
func Interpret(score float64) string {
	switch {
	case score < 30:
		return "poor"
	case score < 50:
		return "fair"
	case score < 70:
		return "good"
	}
	return "excellent"
}
