package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/attachments/internal/config"
	"github.com/aristath/attachments/internal/database"
)

// InitializeDatabases opens the three databases and applies their schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	specs := []struct {
		name    string
		profile database.DatabaseProfile
		target  **database.DB
	}{
		// ledger.db - trade and order history, maximum durability
		{database.NameLedger, database.ProfileLedger, &container.LedgerDB},
		// portfolio.db - positions and account access
		{database.NamePortfolio, database.ProfileStandard, &container.PortfolioDB},
		// mappings.db - user maintained attachments
		{database.NameMappings, database.ProfileStandard, &container.MappingsDB},
	}

	for _, spec := range specs {
		db, err := database.New(database.Config{
			Path:    cfg.DatabasePath(spec.name),
			Profile: spec.profile,
			Name:    spec.name,
		})
		if err != nil {
			_ = container.Close()
			return nil, fmt.Errorf("failed to initialize %s database: %w", spec.name, err)
		}
		*spec.target = db

		if err := db.Migrate(); err != nil {
			_ = container.Close()
			return nil, fmt.Errorf("failed to migrate %s database: %w", spec.name, err)
		}
	}

	log.Info().Str("data_dir", cfg.DataDir).Msg("Databases initialized")
	return container, nil
}
