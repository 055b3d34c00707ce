package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PipeOpsHQ/opsbrain/internal/config"
	"github.com/PipeOpsHQ/opsbrain/ledger"
)

func TestOpenSQLite(t *testing.T) {
	s := config.Defaults()
	s.DBPath = filepath.Join(t.TempDir(), "nested", "opsbrain.db")

	stores, err := Open(s)
	require.NoError(t, err)
	defer stores.Close()

	assert.Nil(t, stores.Claimer)
	_, err = stores.SQLite.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestOpenFallsBackWhenRedisUnavailable(t *testing.T) {
	s := config.Defaults()
	s.DBPath = filepath.Join(t.TempDir(), "opsbrain.db")
	s.RedisAddr = "127.0.0.1:1"

	stores, err := Open(s)
	require.NoError(t, err)
	defer stores.Close()

	assert.NotNil(t, stores.SQLite)
	assert.Nil(t, stores.Claimer)
}

func TestOpenRequiresPath(t *testing.T) {
	s := config.Defaults()
	s.DBPath = ""
	_, err := Open(s)
	assert.Error(t, err)
}
