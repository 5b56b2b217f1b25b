package market_regime

import (
	"time"

	"github.com/aristath/dcabacktest/internal/domain"
	"github.com/rs/zerolog"
)

// defaultConfirmationBars is how many consecutive readings a new regime needs
const defaultConfirmationBars = 3

// RegimeChange records a confirmed switch
type RegimeChange struct {
	Date     time.Time `json:"date"`
	DayIndex int       `json:"day_index"`
	From     Regime    `json:"from"`
	To       Regime    `json:"to"`
	Reading  Reading   `json:"reading"`
}

// Switcher is the adaptive-strategy state machine. A candidate regime must be
// observed on ConfirmationBars consecutive bars before it becomes current, at
// which point Parameters returns a freshly derived value.
type Switcher struct {
	base       domain.Parameters
	thresholds Thresholds
	profiles   map[Regime]Profile
	confirm    int
	log        zerolog.Logger

	current   Regime
	candidate Regime
	streak    int
	active    domain.Parameters
}

// SwitcherOption customizes a Switcher
type SwitcherOption func(*Switcher)

// WithThresholds overrides the classifier thresholds
func WithThresholds(th Thresholds) SwitcherOption {
	return func(s *Switcher) { s.thresholds = th }
}

// WithProfiles overrides the regime profiles
func WithProfiles(profiles map[Regime]Profile) SwitcherOption {
	return func(s *Switcher) { s.profiles = profiles }
}

// WithConfirmationBars sets the hysteresis length
func WithConfirmationBars(n int) SwitcherOption {
	return func(s *Switcher) {
		if n > 0 {
			s.confirm = n
		}
	}
}

// NewSwitcher creates a switcher that starts in accumulation
func NewSwitcher(base domain.Parameters, log zerolog.Logger, opts ...SwitcherOption) *Switcher {
	s := &Switcher{
		base:       base,
		thresholds: DefaultThresholds(),
		profiles:   DefaultProfiles(),
		confirm:    defaultConfirmationBars,
		log:        log.With().Str("component", "regime_switcher").Logger(),
		current:    RegimeAccumulation,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.active = s.derive(s.current)
	return s
}

// Window returns the number of closes the switcher wants per observation
func (s *Switcher) Window() int {
	return s.thresholds.Window
}

// Current returns the confirmed regime
func (s *Switcher) Current() Regime {
	return s.current
}

// Parameters returns the parameters for the confirmed regime
func (s *Switcher) Parameters() domain.Parameters {
	return s.active
}

// Observe classifies the latest window and returns the change when a new
// regime is confirmed
func (s *Switcher) Observe(date time.Time, dayIndex int, closes []float64) (*RegimeChange, bool) {
	reading := Classify(closes, s.thresholds)

	if reading.Regime == s.current {
		s.candidate = ""
		s.streak = 0
		return nil, false
	}

	if reading.Regime != s.candidate {
		s.candidate = reading.Regime
		s.streak = 0
	}
	s.streak++
	if s.streak < s.confirm {
		return nil, false
	}

	change := &RegimeChange{Date: date, DayIndex: dayIndex, From: s.current, To: reading.Regime, Reading: reading}
	s.current = reading.Regime
	s.candidate = ""
	s.streak = 0
	s.active = s.derive(s.current)

	s.log.Info().
		Str("from", string(change.From)).
		Str("to", string(change.To)).
		Time("date", date).
		Float64("window_return", reading.WindowReturn).
		Msg("Regime switch")

	return change, true
}

func (s *Switcher) derive(regime Regime) domain.Parameters {
	profile, ok := s.profiles[regime]
	if !ok {
		return s.base
	}
	return profile.Apply(s.base)
}
