// Package history stores daily price bars and serves them to the backtest engine.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/dcabacktest/internal/database"
	"github.com/aristath/dcabacktest/internal/domain"
	"github.com/rs/zerolog"
)

// DateLayout is the storage format of bar dates
const DateLayout = "2006-01-02"

// ErrNotFound is returned when a symbol has no stored bars
var ErrNotFound = errors.New("price history not found")

// SymbolInfo describes the stored coverage of one symbol
type SymbolInfo struct {
	Symbol    string `json:"symbol"`
	FirstDate string `json:"first_date"`
	LastDate  string `json:"last_date"`
	Bars      int    `json:"bars"`
}

// Repository provides access to the daily_prices table. It implements
// domain.PriceSource.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

var _ domain.PriceSource = (*Repository)(nil)

// NewRepository creates a new price history repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "history").Logger(),
	}
}

// Upsert inserts or replaces bars for symbol in a single transaction and
// returns the number of rows written. Invalid bars are rejected.
func (r *Repository) Upsert(ctx context.Context, symbol, source string, bars []domain.Bar) (int, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return 0, domain.NewConfigError("symbol", "must not be empty")
	}
	for _, b := range bars {
		if !b.Valid() {
			return 0, domain.NewConfigError("bars", fmt.Sprintf("invalid bar on %s", b.Date.Format(DateLayout)))
		}
	}
	if source == "" {
		source = "csv"
	}

	now := time.Now().Unix()
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO daily_prices
			(symbol, date, open, high, low, close, volume, source, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, b := range bars {
			_, err := stmt.ExecContext(ctx,
				symbol,
				b.Date.UTC().Format(DateLayout),
				b.Open,
				b.High,
				b.Low,
				b.Close,
				b.Volume,
				source,
				now,
			)
			if err != nil {
				return fmt.Errorf("failed to insert bar for %s: %w", b.Date.Format(DateLayout), err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.log.Info().
		Str("symbol", symbol).
		Str("source", source).
		Int("count", len(bars)).
		Msg("Stored daily prices")

	return len(bars), nil
}

// GetBars returns the bars of symbol with start <= date <= end, oldest first.
// A zero start or end leaves that side open. A symbol without any stored bars
// yields ErrNotFound; a known symbol with an empty window yields an empty slice.
func (r *Repository) GetBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	symbol = normalizeSymbol(symbol)

	query := `SELECT date, open, high, low, close, volume FROM daily_prices WHERE symbol = ?`
	args := []interface{}{symbol}
	if !start.IsZero() {
		query += ` AND date >= ?`
		args = append(args, start.UTC().Format(DateLayout))
	}
	if !end.IsZero() {
		query += ` AND date <= ?`
		args = append(args, end.UTC().Format(DateLayout))
	}
	query += ` ORDER BY date ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily prices: %w", err)
	}
	defer rows.Close()

	bars := make([]domain.Bar, 0)
	for rows.Next() {
		var b domain.Bar
		var date string
		if err := rows.Scan(&date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan daily price: %w", err)
		}
		if b.Date, err = time.Parse(DateLayout, date); err != nil {
			return nil, fmt.Errorf("corrupt date %q for %s: %w", date, symbol, err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily prices: %w", err)
	}

	if len(bars) == 0 {
		exists, err := r.hasSymbol(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%s: %w", symbol, ErrNotFound)
		}
	}
	return bars, nil
}

// ListSymbols returns the coverage of every stored symbol, sorted by symbol
func (r *Repository) ListSymbols(ctx context.Context) ([]SymbolInfo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, MIN(date), MAX(date), COUNT(*)
		FROM daily_prices
		GROUP BY symbol
		ORDER BY symbol
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list symbols: %w", err)
	}
	defer rows.Close()

	out := make([]SymbolInfo, 0)
	for rows.Next() {
		var s SymbolInfo
		if err := rows.Scan(&s.Symbol, &s.FirstDate, &s.LastDate, &s.Bars); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating symbols: %w", err)
	}
	return out, nil
}

// Delete removes every bar of symbol and returns how many were deleted
func (r *Repository) Delete(ctx context.Context, symbol string) (int64, error) {
	symbol = normalizeSymbol(symbol)
	result, err := r.db.ExecContext(ctx, "DELETE FROM daily_prices WHERE symbol = ?", symbol)
	if err != nil {
		return 0, fmt.Errorf("failed to delete prices for %s: %w", symbol, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return 0, fmt.Errorf("%s: %w", symbol, ErrNotFound)
	}

	r.log.Info().Str("symbol", symbol).Int64("rows_deleted", n).Msg("Deleted daily prices")
	return n, nil
}

func (r *Repository) hasSymbol(ctx context.Context, symbol string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM daily_prices WHERE symbol = ?", symbol).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check symbol %s: %w", symbol, err)
	}
	return count > 0, nil
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
