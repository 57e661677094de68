package database

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTempDB(t *testing.T, name string) *DB {
	t.Helper()
	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: ProfileStandard,
		Name:    name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrate_CreatesTables(t *testing.T) {
	testCases := []struct {
		name   string
		tables []string
	}{
		{NameLedger, []string{"trades", "orders"}},
		{NamePortfolio, []string{"positions", "user_account_access"}},
		{NameMappings, []string{"position_trade_mappings", "position_position_mappings", "position_order_mappings"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			db := newTempDB(t, tc.name)
			require.NoError(t, db.Migrate())
			// Schemas are idempotent
			require.NoError(t, db.Migrate())

			for _, table := range tc.tables {
				var count int
				err := db.Conn().QueryRow(
					"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table,
				).Scan(&count)
				require.NoError(t, err)
				assert.Equal(t, 1, count, "table %s", table)
			}
		})
	}
}

func TestMigrate_UnknownNameIsNoop(t *testing.T) {
	db := newTempDB(t, "scratch")
	assert.NoError(t, db.Migrate())
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	db := newTempDB(t, NameLedger)
	require.NoError(t, db.Migrate())

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO trades (tradeID, symbol) VALUES ('t1', 'AAPL')`); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)

	var count int
	require.NoError(t, db.Conn().QueryRow(`SELECT COUNT(*) FROM trades`).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestWithTransaction_RecoversPanic(t *testing.T) {
	db := newTempDB(t, NameLedger)

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in transaction")
}

func TestVacuumInto_WritesCopy(t *testing.T) {
	db := newTempDB(t, NameMappings)
	require.NoError(t, db.Migrate())

	dest := filepath.Join(t.TempDir(), "copy.db")
	require.NoError(t, db.VacuumInto(context.Background(), dest))

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Greater(t, stats.PageSize, int64(0))
}

