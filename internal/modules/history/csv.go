package history

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/dcabacktest/internal/domain"
)

var csvDateLayouts = []string{
	DateLayout,
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// ImportReport summarizes a parsed CSV file
type ImportReport struct {
	Rows    int `json:"rows"`
	Bars    int `json:"bars"`
	Skipped int `json:"skipped"`
}

// ParseCSV reads date,open,high,low,close,volume records. Columns are located
// by header name (case-insensitive); only date and close are required. Missing
// open/high/low fall back to the close. Rows whose date or close do not parse
// are skipped and counted. The result is sorted by date, and a later duplicate
// date replaces an earlier one.
func ParseCSV(r io.Reader) ([]domain.Bar, ImportReport, error) {
	var report ImportReport

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, report, domain.NewConfigError("csv", "empty file")
		}
		return nil, report, fmt.Errorf("failed to read csv header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	dateCol, ok := cols["date"]
	if !ok {
		return nil, report, domain.NewConfigError("csv", "missing date column")
	}
	closeCol, ok := cols["close"]
	if !ok {
		return nil, report, domain.NewConfigError("csv", "missing close column")
	}

	byDate := make(map[time.Time]domain.Bar)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, report, fmt.Errorf("failed to read csv line %d: %w", report.Rows+2, err)
		}
		report.Rows++

		date, err := parseDate(field(record, dateCol))
		if err != nil {
			report.Skipped++
			continue
		}
		closePrice, err := strconv.ParseFloat(field(record, closeCol), 64)
		if err != nil {
			report.Skipped++
			continue
		}

		bar := domain.Bar{
			Date:  date,
			Open:  optionalFloat(record, cols, "open", closePrice),
			High:  optionalFloat(record, cols, "high", closePrice),
			Low:   optionalFloat(record, cols, "low", closePrice),
			Close: closePrice,
		}
		bar.Volume = optionalFloat(record, cols, "volume", 0)
		if !bar.Valid() {
			report.Skipped++
			continue
		}
		byDate[date] = bar
	}

	bars := make([]domain.Bar, 0, len(byDate))
	for _, b := range byDate {
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	report.Bars = len(bars)

	return bars, report, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range csvDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func field(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func optionalFloat(record []string, cols map[string]int, name string, fallback float64) float64 {
	i, ok := cols[name]
	if !ok {
		return fallback
	}
	v, err := strconv.ParseFloat(field(record, i), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fallback
	}
	if v == 0 && name != "volume" {
		return fallback
	}
	return v
}

// ImportCSV parses r and stores the resulting bars for symbol
func (r *Repository) ImportCSV(ctx context.Context, symbol string, in io.Reader) (ImportReport, error) {
	bars, report, err := ParseCSV(in)
	if err != nil {
		return report, err
	}
	if len(bars) == 0 {
		return report, fmt.Errorf("%s: %w", normalizeSymbol(symbol), domain.ErrNoPriceData)
	}
	if _, err := r.Upsert(ctx, symbol, "csv", bars); err != nil {
		return report, err
	}
	if report.Skipped > 0 {
		r.log.Warn().
			Str("symbol", normalizeSymbol(symbol)).
			Int("skipped", report.Skipped).
			Msg("Skipped unparseable CSV rows")
	}
	return report, nil
}
