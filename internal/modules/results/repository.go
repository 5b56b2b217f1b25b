// Package results persists completed backtest runs.
//
// Each run keeps a JSON summary (queryable, returned by list endpoints) and
// the full result (transactions, snapshots) as a msgpack payload.
package results

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned when no run has the requested id
var ErrNotFound = errors.New("backtest run not found")

// Kind identifies what produced a run
type Kind string

const (
	KindSingle    Kind = "dca"
	KindPortfolio Kind = "portfolio"
	KindBatch     Kind = "batch"
	KindCompare   Kind = "compare"
)

// Run is the stored metadata of one backtest run
type Run struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	Label       string          `json:"label,omitempty"`
	Symbols     []string        `json:"symbols"`
	StartDate   string          `json:"start_date,omitempty"`
	EndDate     string          `json:"end_date,omitempty"`
	TotalReturn float64         `json:"total_return"`
	Summary     json.RawMessage `json:"summary"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Repository handles persistence of backtest runs
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new results repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "results").Logger(),
	}
}

// Save stores a run. summary is encoded as JSON and payload as msgpack.
// The ID and CreatedAt of run are assigned here and returned.
func (r *Repository) Save(ctx context.Context, run Run, summary, payload interface{}) (Run, error) {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return run, fmt.Errorf("failed to encode run summary: %w", err)
	}
	blob, err := encodePayload(payload)
	if err != nil {
		return run, err
	}

	run.ID = uuid.New().String()
	run.CreatedAt = time.Now().UTC()
	run.Summary = summaryJSON
	if run.Symbols == nil {
		run.Symbols = []string{}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO backtest_runs
		(id, kind, label, symbols, start_date, end_date, total_return, summary_json, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		string(run.Kind),
		run.Label,
		strings.Join(run.Symbols, ","),
		run.StartDate,
		run.EndDate,
		run.TotalReturn,
		string(summaryJSON),
		blob,
		run.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return run, fmt.Errorf("failed to insert backtest run: %w", err)
	}

	r.log.Debug().
		Str("id", run.ID).
		Str("kind", string(run.Kind)).
		Int("payload_bytes", len(blob)).
		Msg("Saved backtest run")

	return run, nil
}

// Get returns the metadata and summary of a run
func (r *Repository) Get(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, kind, label, symbols, start_date, end_date, total_return, summary_json, created_at
		FROM backtest_runs
		WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get backtest run: %w", err)
	}
	return run, nil
}

// LoadPayload decodes the full result of run id into v
func (r *Repository) LoadPayload(ctx context.Context, id string, v interface{}) error {
	var blob []byte
	err := r.db.QueryRowContext(ctx, "SELECT payload FROM backtest_runs WHERE id = ?", id).Scan(&blob)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load run payload: %w", err)
	}
	return decodePayload(blob, v)
}

// List returns the most recent runs, newest first. An empty kind lists all
// kinds; limit <= 0 means 50.
func (r *Repository) List(ctx context.Context, kind Kind, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, kind, label, symbols, start_date, end_date, total_return, summary_json, created_at
		FROM backtest_runs`
	args := []interface{}{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list backtest runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backtest run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backtest runs: %w", err)
	}
	return runs, nil
}

// Delete removes a run
func (r *Repository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM backtest_runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete backtest run: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var kind, symbols, summary string
	var createdAt int64

	err := s.Scan(
		&run.ID,
		&kind,
		&run.Label,
		&symbols,
		&run.StartDate,
		&run.EndDate,
		&run.TotalReturn,
		&summary,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	run.Kind = Kind(kind)
	run.Symbols = []string{}
	if symbols != "" {
		run.Symbols = strings.Split(symbols, ",")
	}
	run.Summary = json.RawMessage(summary)
	run.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &run, nil
}

// Payloads reuse the json struct tags so one set of tags describes both
// encodings.
func encodePayload(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode run payload: %w", err)
	}
	return buf.Bytes(), nil
}

func decodePayload(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to decode run payload: %w", err)
	}
	return nil
}
