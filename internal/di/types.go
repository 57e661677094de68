// Package di wires databases, repositories, services and jobs into one Container.
package di

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aristath/attachments/internal/database"
	"github.com/aristath/attachments/internal/events"
	"github.com/aristath/attachments/internal/modules/attachments"
	"github.com/aristath/attachments/internal/modules/expansion"
	"github.com/aristath/attachments/internal/modules/mappings"
	"github.com/aristath/attachments/internal/modules/portfolio"
	"github.com/aristath/attachments/internal/modules/trading"
	"github.com/aristath/attachments/internal/reliability"
)

// Container holds all dependencies for the application.
// It is created by Wire() and handed to the server.
type Container struct {
	// Databases
	LedgerDB    *database.DB // trades, orders
	PortfolioDB *database.DB // positions, account access
	MappingsDB  *database.DB // position attachment mappings

	// Repositories
	MappingsRepo *mappings.Repository
	TradeRepo    *trading.TradeRepository
	OrderRepo    *trading.OrderRepository
	PositionRepo *portfolio.PositionRepository

	// Services
	EventBus           *events.Bus
	EventManager       *events.Manager
	MappingsClient     *mappings.Client
	MetricsRegistry    *prometheus.Registry
	AttachmentMetrics  *attachments.Metrics
	AttachmentRegistry *attachments.Registry
	ExpansionStore     *expansion.Store

	// Jobs
	Scheduler      *reliability.Scheduler
	MaintenanceJob *reliability.MaintenanceJob
	BackupJob      *reliability.BackupJob // nil unless backups are enabled
}

// Databases returns every open database in a fixed order
func (c *Container) Databases() []*database.DB {
	var dbs []*database.DB
	for _, db := range []*database.DB{c.LedgerDB, c.PortfolioDB, c.MappingsDB} {
		if db != nil {
			dbs = append(dbs, db)
		}
	}
	return dbs
}

// Close stops the scheduler and closes every database.
// Safe to call on a partially initialized container.
func (c *Container) Close() error {
	if c == nil {
		return nil
	}
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}

	var errs []error
	for _, db := range c.Databases() {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
