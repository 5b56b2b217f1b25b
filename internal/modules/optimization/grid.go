// Package optimization sweeps DCA parameter grids and compares named
// strategies on a shared worker pool.
package optimization

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/aristath/dcabacktest/internal/domain"
)

// MaxCombinations bounds the size of a parameter sweep
const MaxCombinations = 1000

// Grid lists the values to try per axis. Every percentage is a fraction.
// Empty axes keep the base value. Combinations are produced with the first
// axis varying slowest.
type Grid struct {
	GridIntervals      []float64             `json:"grid_intervals"`
	ProfitRequirements []float64             `json:"profit_requirements"`
	MomentumSell       []bool                `json:"momentum_sell"`
	MomentumBuy        []bool                `json:"momentum_buy"`
	TrailingBuy        []bool                `json:"trailing_buy"`
	TrailingSell       []bool                `json:"trailing_sell"`
	StopLoss           []float64             `json:"stop_loss"`
	LotSelection       []domain.LotSelection `json:"lot_selection"`
}

// axis applies its i-th value to p and returns a label fragment
type axis struct {
	n     int
	apply func(p *domain.Parameters, i int) string
}

// Size returns the number of combinations the grid expands to
func (g Grid) Size() int {
	n := 1
	for _, l := range []int{
		len(g.GridIntervals), len(g.ProfitRequirements), len(g.MomentumSell),
		len(g.MomentumBuy), len(g.TrailingBuy), len(g.TrailingSell),
		len(g.StopLoss), len(g.LotSelection),
	} {
		if l > 0 {
			n *= l
		}
	}
	return n
}

// Jobs expands the grid over base into one job per combination. Each
// combination is validated; an invalid combination fails the whole sweep.
func (g Grid) Jobs(symbol string, base domain.Parameters) ([]Job, error) {
	if len(g.GridIntervals) == 0 || len(g.ProfitRequirements) == 0 {
		return nil, domain.NewConfigError("grid", "grid_intervals and profit_requirements need at least one value")
	}
	if size := g.Size(); size > MaxCombinations {
		return nil, domain.NewConfigError("grid", fmt.Sprintf("%d combinations exceeds the limit of %d", size, MaxCombinations))
	}

	var axes []axis
	addFloat := func(values []float64, name string, set func(*domain.Parameters, float64)) {
		if len(values) > 0 {
			axes = append(axes, axis{len(values), func(p *domain.Parameters, i int) string {
				set(p, values[i])
				return name + "=" + strconv.FormatFloat(math.Round(values[i]*1e8)/1e6, 'f', -1, 64) + "%"
			}})
		}
	}
	addBool := func(values []bool, name string, set func(*domain.Parameters, bool)) {
		if len(values) > 0 {
			axes = append(axes, axis{len(values), func(p *domain.Parameters, i int) string {
				set(p, values[i])
				return name + "=" + strconv.FormatBool(values[i])
			}})
		}
	}

	addFloat(g.GridIntervals, "grid", func(p *domain.Parameters, v float64) { p.GridIntervalPercent = v })
	addFloat(g.ProfitRequirements, "profit", func(p *domain.Parameters, v float64) { p.ProfitRequirement = v })
	addBool(g.MomentumSell, "momentum_sell", func(p *domain.Parameters, v bool) { p.MomentumSell = v })
	addBool(g.MomentumBuy, "momentum_buy", func(p *domain.Parameters, v bool) { p.MomentumBuy = v })
	addBool(g.TrailingBuy, "trailing_buy", func(p *domain.Parameters, v bool) { p.EnableTrailingBuy = v })
	addBool(g.TrailingSell, "trailing_sell", func(p *domain.Parameters, v bool) { p.EnableTrailingSell = v })
	addFloat(g.StopLoss, "stop_loss", func(p *domain.Parameters, v float64) { p.StopLossPercent = v })
	if values := g.LotSelection; len(values) > 0 {
		axes = append(axes, axis{len(values), func(p *domain.Parameters, i int) string {
			p.LotSelection = values[i]
			return "lots=" + string(values[i])
		}})
	}

	total := g.Size()
	jobs := make([]Job, 0, total)
	idx := make([]int, len(axes))
	for c := 0; c < total; c++ {
		p := base
		label := make([]string, 0, len(axes))
		for a, ax := range axes {
			label = append(label, ax.apply(&p, idx[a]))
		}
		p = p.Normalized()
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("combination %s: %w", strings.Join(label, " "), err)
		}
		jobs = append(jobs, Job{Label: strings.Join(label, " "), Symbol: symbol, Parameters: p})

		// odometer: last axis varies fastest
		for a := len(axes) - 1; a >= 0; a-- {
			idx[a]++
			if idx[a] < axes[a].n {
				break
			}
			idx[a] = 0
		}
	}
	return jobs, nil
}
