package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"catalog-override-service/internal/models"
)

// Config holds all configuration for the catalog override service
type Config struct {
	// Server
	Port        string
	Environment string

	// Database
	DatabaseURL string

	// Cache / messaging
	RedisURL string
	NATSURL  string

	// GCP
	GCPProjectID string

	// Sync Settings
	SyncPollInterval time.Duration
	SyncPollBatch    int
	SyncJobTimeout   time.Duration

	// Editing sessions
	SessionIdleTTL time.Duration

	// Shop API
	ShopAPIRateLimit  float64 // requests per second
	ShopAPITimeout    time.Duration
	ShopAPILanguageID int64

	// Fields whose divergence on pull is always treated as a conflict
	ConflictSignificantFields []string

	CORSAllowedOrigins []string
}

// Load loads configuration from environment variables
func Load() *Config {
	databaseURL := getEnv("DATABASE_URL", "")
	if databaseURL == "" {
		databaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			getEnv("DB_USER", "postgres"),
			getEnv("DB_PASSWORD", "postgres"),
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			getEnv("DB_NAME", "catalog_overrides"),
			getEnv("DB_SSLMODE", "disable"),
		)
	}

	config := &Config{
		Port:        getEnv("PORT", "8095"),
		Environment: getEnv("ENVIRONMENT", "development"),
		DatabaseURL: databaseURL,

		RedisURL: getEnv("REDIS_URL", ""),
		NATSURL:  getEnv("NATS_URL", ""),

		GCPProjectID: getEnv("GCP_PROJECT_ID", ""),

		SyncPollInterval: getEnvAsDuration("SYNC_POLL_INTERVAL", 10*time.Second),
		SyncPollBatch:    getEnvAsInt("SYNC_POLL_BATCH", 100),
		SyncJobTimeout:   getEnvAsDuration("SYNC_JOB_TIMEOUT", 30*time.Minute),

		SessionIdleTTL: getEnvAsDuration("SESSION_IDLE_TTL", 2*time.Hour),

		ShopAPIRateLimit:  getEnvAsFloat("SHOP_API_RATE_LIMIT", 5),
		ShopAPITimeout:    getEnvAsDuration("SHOP_API_TIMEOUT", 30*time.Second),
		ShopAPILanguageID: int64(getEnvAsInt("SHOP_API_LANGUAGE_ID", 1)),

		ConflictSignificantFields: getEnvAsList("CONFLICT_SIGNIFICANT_FIELDS", []string{"sku", "ean"}),
		CORSAllowedOrigins:        getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
	}

	if config.GCPProjectID == "" {
		log.Println("Warning: GCP_PROJECT_ID not set, shop API keys must be stored inline")
	}

	return config
}

// InitDB opens the database and migrates the schema.
// A DATABASE_URL starting with "sqlite:" opens a local SQLite file instead of PostgreSQL.
func InitDB(cfg *Config) (*gorm.DB, error) {
	logLevel := logger.Info
	if cfg.Environment == "production" {
		logLevel = logger.Error
	}
	gormConfig := &gorm.Config{Logger: logger.Default.LogMode(logLevel)}

	var dialector gorm.Dialector
	if path, ok := strings.CutPrefix(cfg.DatabaseURL, "sqlite:"); ok {
		dialector = sqlite.Open(path)
	} else {
		dialector = postgres.Open(cfg.DatabaseURL)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return db, nil
}

// Migrate creates or updates every table the service owns
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Shop{},
		&models.Product{},
		&models.ProductShopData{},
		&models.Category{},
		&models.CategoryMapping{},
		&models.SyncJob{},
		&models.SyncLog{},
	)
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

// getEnvAsList splits a comma-separated variable, dropping blanks
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
