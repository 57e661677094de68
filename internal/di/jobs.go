package di

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/attachments/internal/config"
	"github.com/aristath/attachments/internal/reliability"
)

// MaintenanceSchedule runs integrity checks and WAL checkpoints
const MaintenanceSchedule = "@hourly"

// RegisterJobs creates the scheduler and registers maintenance and, when enabled, backups.
// The scheduler is not started here.
func RegisterJobs(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	container.Scheduler = reliability.NewScheduler(log)

	container.MaintenanceJob = reliability.NewMaintenanceJob(container.Databases(), log)
	if err := container.Scheduler.AddJob(MaintenanceSchedule, container.MaintenanceJob); err != nil {
		return fmt.Errorf("failed to register maintenance job: %w", err)
	}

	if !cfg.Backup.Enabled {
		log.Info().Msg("Database backups disabled")
		return nil
	}

	uploader, err := reliability.NewS3Uploader(ctx, cfg.Backup, log)
	if err != nil {
		return fmt.Errorf("failed to create backup uploader: %w", err)
	}
	backupService := reliability.NewBackupService(container.Databases(), cfg.DataDir, log)
	container.BackupJob = reliability.NewBackupJob(backupService, uploader, cfg.Backup.Prefix, log)
	if err := container.Scheduler.AddJob(cfg.Backup.Schedule, container.BackupJob); err != nil {
		return fmt.Errorf("failed to register backup job: %w", err)
	}

	log.Info().
		Str("schedule", cfg.Backup.Schedule).
		Str("bucket", cfg.Backup.Bucket).
		Msg("Database backups scheduled")
	return nil
}
