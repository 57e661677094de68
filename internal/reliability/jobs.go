package reliability

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/attachments/internal/database"
)

// ObjectUploader stores a stream under a key. Satisfied by *S3Uploader.
type ObjectUploader interface {
	Upload(ctx context.Context, key string, body io.Reader) error
}

// BackupJob snapshots the databases and uploads the archive.
type BackupJob struct {
	backup   *BackupService
	uploader ObjectUploader
	prefix   string
	timeout  time.Duration
	log      zerolog.Logger
}

// NewBackupJob creates the scheduled backup job. Objects are stored below prefix.
func NewBackupJob(backup *BackupService, uploader ObjectUploader, prefix string, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		backup:   backup,
		uploader: uploader,
		prefix:   prefix,
		timeout:  30 * time.Minute,
		log:      log.With().Str("job", "backup").Logger(),
	}
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "database_backup"
}

// Run executes one backup
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	snapshot, err := j.backup.CreateSnapshot(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := snapshot.Remove(); err != nil {
			j.log.Warn().Err(err).Msg("Failed to remove backup staging directory")
		}
	}()

	file, err := os.Open(snapshot.Path)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	key := path.Join(j.prefix, snapshot.Name)
	if err := j.uploader.Upload(ctx, key, file); err != nil {
		return err
	}

	j.log.Info().Str("key", key).Int64("size_bytes", snapshot.Size).Msg("Backup uploaded")
	return nil
}

// MaintenanceJob checkpoints the WAL and pings every database.
type MaintenanceJob struct {
	databases []*database.DB
	log       zerolog.Logger
}

// NewMaintenanceJob creates the database maintenance job
func NewMaintenanceJob(databases []*database.DB, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		databases: databases,
		log:       log.With().Str("job", "maintenance").Logger(),
	}
}

// Name returns the job name
func (j *MaintenanceJob) Name() string {
	return "database_maintenance"
}

// Run executes the maintenance pass. Individual failures are logged; the
// last one is returned.
func (j *MaintenanceJob) Run() error {
	var lastErr error
	for _, db := range j.databases {
		if err := db.QuickCheck(context.Background()); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("Database unreachable")
			lastErr = err
			continue
		}

		// PRAGMA wal_checkpoint returns: busy, log, checkpointed
		var busy, walFrames, checkpointed int
		err := db.Conn().QueryRow("PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &walFrames, &checkpointed)
		if err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to checkpoint WAL")
			lastErr = err
			continue
		}

		if walFrames > 1000 {
			j.log.Warn().
				Str("database", db.Name()).
				Int("wal_frames", walFrames).
				Int("checkpointed", checkpointed).
				Msg("WAL file is large")
		} else {
			j.log.Debug().Str("database", db.Name()).Int("wal_frames", walFrames).Msg("WAL checkpoint OK")
		}
	}
	return lastErr
}
