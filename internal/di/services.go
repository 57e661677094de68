package di

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/aristath/attachments/internal/events"
	"github.com/aristath/attachments/internal/modules/attachments"
	"github.com/aristath/attachments/internal/modules/expansion"
	"github.com/aristath/attachments/internal/modules/mappings"
)

// InitializeServices creates the event bus, metrics and per-user session stores
func InitializeServices(container *Container, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}
	if container.MappingsRepo == nil {
		return fmt.Errorf("repositories must be initialized before services")
	}

	container.EventBus = events.NewBus()
	container.EventManager = events.NewManager(container.EventBus, log)

	// Own registry so tests and multiple containers never collide on registration
	container.MetricsRegistry = prometheus.NewRegistry()
	container.MetricsRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	container.AttachmentMetrics = attachments.NewMetrics(container.MetricsRegistry)

	container.MappingsClient = mappings.NewClient(container.MappingsRepo, container.EventManager, log)

	container.AttachmentRegistry = attachments.NewRegistry(
		container.MappingsClient,
		container.TradeRepo,
		container.OrderRepo,
		container.PositionRepo,
		container.AttachmentMetrics,
		container.EventManager,
		log,
	)

	container.ExpansionStore = expansion.NewStore(container.EventManager, log)

	log.Debug().Msg("Services initialized")
	return nil
}
