package parameters

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aristath/dcabacktest/internal/domain"
	"github.com/rs/zerolog"
)

// DefaultsFile is the name of the defaults file inside the config directory
const DefaultsFile = "defaults.json"

// PortfoliosDir is the directory of portfolio files inside the config directory
const PortfoliosDir = "portfolios"

// ErrPortfolioNotFound is returned when no portfolio file has the requested name
var ErrPortfolioNotFound = errors.New("portfolio config not found")

// DefaultsDocument is the on-disk layout of defaults.json
type DefaultsDocument struct {
	Global  Overrides            `json:"global"`
	Tickers map[string]Overrides `json:"tickers"`
}

// Resolver builds immutable run parameters from layered configuration.
// Resolution order: built-in defaults, global file defaults, ticker
// overrides, request overrides.
type Resolver struct {
	dir string
	log zerolog.Logger

	mu   sync.RWMutex
	docs DefaultsDocument
}

// NewResolver creates a resolver reading from configDir. An empty dir
// resolves against built-in defaults only.
func NewResolver(configDir string, log zerolog.Logger) *Resolver {
	return &Resolver{
		dir: configDir,
		log: log.With().Str("component", "parameter_resolver").Logger(),
	}
}

// Load (re)reads defaults.json. A missing file is not an error.
func (r *Resolver) Load() error {
	if r.dir == "" {
		return nil
	}

	path := filepath.Join(r.dir, DefaultsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			r.log.Debug().Str("path", path).Msg("No defaults file, using built-in defaults")
			return nil
		}
		return fmt.Errorf("failed to read defaults: %w", err)
	}

	var doc DefaultsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	tickers := make(map[string]Overrides, len(doc.Tickers))
	for symbol, o := range doc.Tickers {
		tickers[strings.ToUpper(symbol)] = o
	}
	doc.Tickers = tickers

	r.mu.Lock()
	r.docs = doc
	r.mu.Unlock()

	r.log.Info().Str("path", path).Int("tickers", len(tickers)).Msg("Loaded parameter defaults")
	return nil
}

// Defaults returns built-in defaults with the global file layer applied
func (r *Resolver) Defaults() (domain.Parameters, error) {
	r.mu.RLock()
	global := r.docs.Global
	r.mu.RUnlock()

	p, err := global.Apply(domain.DefaultParameters())
	if err != nil {
		return p, fmt.Errorf("global defaults: %w", err)
	}
	return p, nil
}

// Resolve returns the validated parameters for symbol with request applied last
func (r *Resolver) Resolve(symbol string, request Overrides) (domain.Parameters, error) {
	p, err := r.Defaults()
	if err != nil {
		return p, err
	}

	r.mu.RLock()
	ticker, ok := r.docs.Tickers[strings.ToUpper(symbol)]
	r.mu.RUnlock()
	if ok {
		if p, err = ticker.Apply(p); err != nil {
			return p, fmt.Errorf("ticker %s overrides: %w", symbol, err)
		}
	}

	if p, err = request.Apply(p); err != nil {
		return p, err
	}

	p = p.Normalized()
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// TickerOverrides lists the symbols that carry per-ticker overrides
func (r *Resolver) TickerOverrides() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.docs.Tickers))
	for symbol := range r.docs.Tickers {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}
