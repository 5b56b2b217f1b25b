package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildConnectionString(t *testing.T) {
	modernc := buildConnectionString("/tmp/h.db", DriverModernc, ProfileStandard)
	assert.Equal(t, "/tmp/h.db?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", modernc)

	mattn := buildConnectionString("/tmp/r.db", DriverMattn, ProfileLedger)
	assert.Equal(t, "/tmp/r.db?_journal_mode=WAL&_foreign_keys=1&_busy_timeout=5000&_synchronous=FULL", mattn)
}

func TestNew_RejectsUnknownDriver(t *testing.T) {
	_, err := New(Config{Path: filepath.Join(t.TempDir(), "x.db"), Driver: "postgres"})
	assert.Error(t, err)
}

func TestMigrate_CreatesTables(t *testing.T) {
	for _, name := range []string{"history", "results"} {
		t.Run(name, func(t *testing.T) {
			db, err := New(Config{Path: filepath.Join(t.TempDir(), name+".db"), Name: name})
			require.NoError(t, err)
			defer db.Close()

			require.NoError(t, db.Migrate())
			// idempotent
			require.NoError(t, db.Migrate())

			var count int
			err = db.Conn().QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table'`).Scan(&count)
			require.NoError(t, err)
			assert.Equal(t, 1, count)

			require.NoError(t, db.HealthCheck(context.Background()))
			stats, err := db.GetStats()
			require.NoError(t, err)
			assert.Equal(t, name, stats.Name)
			assert.Positive(t, stats.PageCount)
		})
	}
}

func TestWithTransaction_RollsBack(t *testing.T) {
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "tx.db"), Name: "scratch"})
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Conn().Exec(`CREATE TABLE t (v INTEGER)`)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO t (v) VALUES (1)`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		panic("kaboom")
	})
	assert.Error(t, err)

	var count int
	require.NoError(t, db.Conn().QueryRow(`SELECT COUNT(*) FROM t`).Scan(&count))
	assert.Equal(t, 0, count)
}
