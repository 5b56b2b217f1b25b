package scheduler

import (
	"github.com/aristath/dcabacktest/internal/database"
	"github.com/rs/zerolog"
)

// walWarnFrames is the WAL size above which a checkpoint is forced
const walWarnFrames = 1000

// CheckpointJob monitors WAL growth and truncates oversized logs.
// Large batch sweeps append many runs to the results database in bursts.
type CheckpointJob struct {
	log       zerolog.Logger
	databases []*database.DB
}

// NewCheckpointJob creates a new CheckpointJob. Nil databases are skipped.
func NewCheckpointJob(log zerolog.Logger, databases ...*database.DB) *CheckpointJob {
	return &CheckpointJob{
		log:       log.With().Str("job", "wal_checkpoint").Logger(),
		databases: databases,
	}
}

// Name returns the job name
func (j *CheckpointJob) Name() string {
	return "wal_checkpoint"
}

// Run checks each WAL and truncates it when it grew past walWarnFrames
func (j *CheckpointJob) Run() error {
	checked := 0
	for _, db := range j.databases {
		if db == nil {
			continue
		}

		// PRAGMA wal_checkpoint returns: busy, log, checkpointed
		var busy, frames, checkpointed int
		err := db.Conn().QueryRow("PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &frames, &checkpointed)
		if err != nil {
			j.log.Warn().
				Err(err).
				Str("database", db.Name()).
				Msg("Failed to check WAL checkpoint")
			continue
		}
		checked++

		if frames <= walWarnFrames {
			j.log.Debug().
				Str("database", db.Name()).
				Int("wal_frames", frames).
				Msg("WAL checkpoint status OK")
			continue
		}

		j.log.Info().
			Str("database", db.Name()).
			Int("wal_frames", frames).
			Int("checkpointed", checkpointed).
			Msg("WAL file is large, truncating")
		if _, err := db.Conn().Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to truncate WAL")
		}
	}

	j.log.Debug().Int("checked", checked).Msg("WAL checkpoint check completed")
	return nil
}
