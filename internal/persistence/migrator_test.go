package persistence_test

import (
	"MarginTrading/internal/persistence"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations_PairedUpAndDown(t *testing.T) {
	files, err := persistence.EmbeddedMigrations()
	require.NoError(t, err)

	ups, err := fs.Glob(files, "*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(files, "*.down.sql")
	require.NoError(t, err)

	require.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups), "every migration can be rolled back")
	assert.Contains(t, ups, "000001_trading_engine_snapshots.up.sql")
}
