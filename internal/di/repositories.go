package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/attachments/internal/modules/mappings"
	"github.com/aristath/attachments/internal/modules/portfolio"
	"github.com/aristath/attachments/internal/modules/trading"
)

// InitializeRepositories creates the data access layer on top of the open databases
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}
	if container.LedgerDB == nil || container.PortfolioDB == nil || container.MappingsDB == nil {
		return fmt.Errorf("databases must be initialized before repositories")
	}

	container.MappingsRepo = mappings.NewRepository(container.MappingsDB.Conn(), log)
	container.TradeRepo = trading.NewTradeRepository(container.LedgerDB.Conn(), log)
	container.OrderRepo = trading.NewOrderRepository(container.LedgerDB.Conn(), log)
	container.PositionRepo = portfolio.NewPositionRepository(container.PortfolioDB.Conn(), log)

	log.Debug().Msg("Repositories initialized")
	return nil
}
