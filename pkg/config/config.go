// pkg/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config represents the application configuration
type Config struct {
	// Pipeline locations
	InputPath        string // CSV file or snowflake://SCHEMA.TABLE, postgres://schema.table, sqlite://file.db#table
	TablePath        string // directory holding the SQLite table store
	ExpectationsPath string // rule catalog (JSON or YAML)

	// Storage
	StoreDriver string
	SQLite      *SQLiteConfig
	Postgres    *PostgresConfig
	Snowflake   *SnowflakeConfig

	// Source settings
	SourceOrderBy string // column used to page SQL table sources

	// Processing settings
	BatchSize      int
	RetryAttempts  int
	RetryDelay     time.Duration
	WorkerPoolSize int
	AuditEnabled   bool
	VerifyBatches  bool

	// Scheduling and metrics
	Schedule    string // cron schedule, empty means run once
	MetricsAddr string // listen address for /metrics, empty disables

	// Logging
	LogLevel  string
	LogFormat string
}

// LoadConfig loads configuration from a .env file (when present) and
// environment variables
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{
		InputPath:        getEnv("INPUT_PATH", ""),
		TablePath:        getEnv("TABLE_PATH", ""),
		ExpectationsPath: getEnv("EXPECTATIONS_PATH", ""),
		StoreDriver:      strings.ToLower(getEnv("STORE_DRIVER", StoreSQLite)),
		SourceOrderBy:    getEnv("SOURCE_ORDER_BY", ""),
		BatchSize:        getEnvAsInt("BATCH_SIZE", 5000),
		RetryAttempts:    getEnvAsInt("RETRY_ATTEMPTS", 3),
		RetryDelay:       time.Duration(getEnvAsInt("RETRY_DELAY_MS", 1000)) * time.Millisecond,
		WorkerPoolSize:   getEnvAsInt("WORKER_POOL_SIZE", 0), // 0 means use runtime.NumCPU()
		AuditEnabled:     getEnvAsBool("AUDIT_ENABLED", true),
		VerifyBatches:    getEnvAsBool("VERIFY_BATCHES", true),
		Schedule:         getEnv("SCHEDULE", ""),
		MetricsAddr:      getEnv("METRICS_ADDR", ""),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.LoadDatabases(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDatabases loads the connection settings the current store driver and
// input location need. It is called again after CLI flags change them.
func (c *Config) LoadDatabases() error {
	input := ParseInput(c.InputPath)

	if c.StoreDriver == StoreSQLite || input.Kind == InputSQLite {
		c.SQLite = LoadSQLiteConfig(c.TablePath)
	}

	if c.StoreDriver == StorePostgres || input.Kind == InputPostgres {
		pgConfig, err := LoadPostgresConfig()
		if err != nil {
			return errors.New("failed to load PostgreSQL configuration: " + err.Error())
		}
		c.Postgres = pgConfig
	}

	if input.Kind == InputSnowflake {
		snowConfig, err := LoadSnowflakeConfig()
		if err != nil {
			return errors.New("failed to load Snowflake configuration: " + err.Error())
		}
		c.Snowflake = snowConfig
	}

	return nil
}

// Validate ensures all required configuration is present and valid
func (c *Config) Validate() error {
	if c.InputPath == "" {
		return errors.New("input path is required")
	}

	if c.ExpectationsPath == "" {
		return errors.New("expectations path is required")
	}

	switch c.StoreDriver {
	case StoreSQLite:
		if c.TablePath == "" {
			return errors.New("table path is required for the sqlite store")
		}
	case StorePostgres:
		if c.Postgres == nil {
			return errors.New("postgreSQL configuration is required")
		}
	default:
		return fmt.Errorf("unsupported store driver %q", c.StoreDriver)
	}

	input := ParseInput(c.InputPath)
	if input.Kind == InputSnowflake && c.Snowflake == nil {
		return errors.New("snowflake configuration is required for snowflake input")
	}
	if input.Kind != InputCSV && input.Table == "" {
		return fmt.Errorf("input %q does not name a table", c.InputPath)
	}

	if c.BatchSize <= 0 {
		return errors.New("batch size must be positive")
	}

	if c.RetryAttempts < 0 {
		return errors.New("retry attempts cannot be negative")
	}

	return nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
