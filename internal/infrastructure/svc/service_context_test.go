package svc

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xledger/internal/application/service"
	"xledger/internal/infrastructure/config"
)

func testConfig(t *testing.T, driver string) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.App.Account = "main"
	cfg.App.Quote = "EUR"
	cfg.Storage.Driver = driver
	cfg.Storage.SQLite.Path = filepath.Join(t.TempDir(), "ledger.db")
	cfg.Sync.MaxAttempts = 1
	cfg.Sync.RunRetentionMinutes = 1
	cfg.Sync.LockTTLSeconds = 60
	return cfg
}

func TestServiceContextWithSQLite(t *testing.T) {
	sc, err := New(context.Background(), testConfig(t, config.DriverSQLite), Options{})
	require.NoError(t, err)
	defer sc.Close()

	require.NotNil(t, sc.Ledger())
	require.NotNil(t, sc.Hub())

	res, err := sc.Container().QueryService().Query(context.Background(), service.QueryRequest{})
	require.NoError(t, err)
	assert.Empty(t, res.Items)

	_, err = sc.SyncService()
	assert.ErrorIs(t, err, ErrNoExchangeConfigured)
}

func TestServiceContextUnknownDriver(t *testing.T) {
	_, err := New(context.Background(), testConfig(t, "mysql"), Options{})
	assert.ErrorIs(t, err, ErrStorageInitFailed)
}

func TestServiceContextCloseIsIdempotent(t *testing.T) {
	sc, err := New(context.Background(), testConfig(t, config.DriverMemory), Options{})
	require.NoError(t, err)
	assert.NoError(t, sc.Close())
	assert.NoError(t, sc.Close())
}
