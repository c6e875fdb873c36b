package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("CONFLICT_SIGNIFICANT_FIELDS", "")

	cfg := Load()
	assert.Equal(t, "8095", cfg.Port)
	assert.Contains(t, cfg.DatabaseURL, "@db.internal:5432/catalog_overrides")
	assert.Equal(t, 10*time.Second, cfg.SyncPollInterval)
	assert.Equal(t, []string{"sku", "ean"}, cfg.ConflictSignificantFields)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SYNC_POLL_INTERVAL", "3s")
	t.Setenv("SHOP_API_RATE_LIMIT", "2.5")
	t.Setenv("SYNC_POLL_BATCH", "not-a-number")
	t.Setenv("CONFLICT_SIGNIFICANT_FIELDS", "sku, name ,")

	cfg := Load()
	assert.Equal(t, 3*time.Second, cfg.SyncPollInterval)
	assert.Equal(t, 2.5, cfg.ShopAPIRateLimit)
	assert.Equal(t, 100, cfg.SyncPollBatch)
	assert.Equal(t, []string{"sku", "name"}, cfg.ConflictSignificantFields)
}

func TestInitDB_SQLite(t *testing.T) {
	db, err := InitDB(&Config{DatabaseURL: "sqlite:file:config_test?mode=memory&cache=shared", Environment: "production"})
	require.NoError(t, err)
	assert.True(t, db.Migrator().HasTable("product_shop_data"))
	assert.True(t, db.Migrator().HasTable("category_mappings"))
}
