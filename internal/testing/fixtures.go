package testing

import (
	"math/rand"
	"time"

	"github.com/aristath/dcabacktest/internal/domain"
)

// FixtureStart is the first date of every generated series
var FixtureStart = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

// Day returns FixtureStart shifted by n calendar days
func Day(n int) time.Time {
	return FixtureStart.AddDate(0, 0, n)
}

// BarsFromCloses builds one bar per close on consecutive calendar days.
// High and low sit 1% around the close.
func BarsFromCloses(closes ...float64) []domain.Bar {
	return BarsFromClosesAt(FixtureStart, closes...)
}

// BarsFromClosesAt is BarsFromCloses with a custom first date
func BarsFromClosesAt(start time.Time, closes ...float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Date:   start.AddDate(0, 0, i),
			Open:   c,
			High:   c * 1.01,
			Low:    c * 0.99,
			Close:  c,
			Volume: 1_000_000,
		}
	}
	return bars
}

// Seq returns n closes starting at from and moving by step each bar
func Seq(from, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = from + float64(i)*step
	}
	return out
}

// Concat joins close series
func Concat(series ...[]float64) []float64 {
	var out []float64
	for _, s := range series {
		out = append(out, s...)
	}
	return out
}

// RandomWalk returns n closes of a seeded multiplicative random walk with the
// given daily volatility. Prices never fall below 1.
func RandomWalk(seed int64, start, dailyVol float64, n int) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	price := start
	for i := range out {
		price *= 1 + rng.NormFloat64()*dailyVol
		if price < 1 {
			price = 1
		}
		out[i] = price
	}
	return out
}

// NewParameterFixture returns default parameters with a small budget so that
// scenario arithmetic stays readable
func NewParameterFixture() domain.Parameters {
	p := domain.DefaultParameters()
	p.LotSizeUSD = 10000
	p.MaxLots = 5
	return p
}
