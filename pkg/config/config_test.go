// pkg/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/snowflakedb/gosnowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"INPUT_PATH", "TABLE_PATH", "EXPECTATIONS_PATH", "STORE_DRIVER", "SOURCE_ORDER_BY",
		"BATCH_SIZE", "RETRY_ATTEMPTS", "RETRY_DELAY_MS", "WORKER_POOL_SIZE",
		"AUDIT_ENABLED", "VERIFY_BATCHES", "SCHEDULE", "METRICS_ADDR", "LOG_LEVEL", "LOG_FORMAT",
		"SQLITE_FILE", "SQLITE_BUSY_TIMEOUT_MS", "SQLITE_JOURNAL_MODE",
		"POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB", "POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_STATEMENT_TIMEOUT_SECONDS",
		"SNOWFLAKE_USER", "SNOWFLAKE_PASSWORD", "SNOWFLAKE_ACCOUNT", "SNOWFLAKE_WAREHOUSE",
		"SNOWFLAKE_DATABASE", "SNOWFLAKE_AUTHENTICATOR",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("TABLE_PATH", "/var/lib/pii")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, StoreSQLite, cfg.StoreDriver)
	assert.Equal(t, 5000, cfg.BatchSize)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, time.Second, cfg.RetryDelay)
	assert.Equal(t, 0, cfg.WorkerPoolSize)
	assert.True(t, cfg.AuditEnabled)
	assert.True(t, cfg.VerifyBatches)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)

	require.NotNil(t, cfg.SQLite)
	assert.Equal(t, "/var/lib/pii/pii.db", cfg.SQLite.Path)
	assert.Nil(t, cfg.Postgres)
	assert.Nil(t, cfg.Snowflake)
}

func TestLoadConfigOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("BATCH_SIZE", "250")
	t.Setenv("RETRY_DELAY_MS", "20")
	t.Setenv("AUDIT_ENABLED", "false")
	t.Setenv("RETRY_ATTEMPTS", "not-a-number")
	t.Setenv("STORE_DRIVER", "POSTGRES")
	t.Setenv("POSTGRES_USER", "pii")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_DB", "warehouse")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.BatchSize)
	assert.Equal(t, 20*time.Millisecond, cfg.RetryDelay)
	assert.False(t, cfg.AuditEnabled)
	assert.Equal(t, 3, cfg.RetryAttempts, "unparsable values fall back to the default")
	assert.Equal(t, StorePostgres, cfg.StoreDriver)
	require.NotNil(t, cfg.Postgres)
	assert.Equal(t, "host=localhost port=5432 user=pii password=secret dbname=warehouse sslmode=disable statement_timeout=300000",
		cfg.Postgres.ConnectionString())
}

func TestLoadConfigMissingPostgres(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "postgres")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POSTGRES_USER")
}

func TestLoadConfigSnowflakeInput(t *testing.T) {
	clearEnv(t)
	t.Setenv("INPUT_PATH", "snowflake://STAGING.CUSTOMERS")
	t.Setenv("SNOWFLAKE_USER", "loader")
	t.Setenv("SNOWFLAKE_PASSWORD", "secret")
	t.Setenv("SNOWFLAKE_ACCOUNT", "acme-xy12345")
	t.Setenv("SNOWFLAKE_WAREHOUSE", "COMPUTE_WH")
	t.Setenv("SNOWFLAKE_DATABASE", "RAW")
	t.Setenv("SNOWFLAKE_AUTHENTICATOR", "JWT")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.NotNil(t, cfg.Snowflake)
	assert.Equal(t, gosnowflake.AuthTypeJwt, cfg.Snowflake.Authenticator)
	assert.Equal(t, 4, cfg.Snowflake.MaxOpenConns)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			InputPath:        "customers.csv",
			TablePath:        "tables",
			ExpectationsPath: "rules.json",
			StoreDriver:      StoreSQLite,
			BatchSize:        10,
			RetryAttempts:    1,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing input", mutate: func(c *Config) { c.InputPath = "" }, wantErr: "input path"},
		{name: "missing expectations", mutate: func(c *Config) { c.ExpectationsPath = "" }, wantErr: "expectations path"},
		{name: "missing table path", mutate: func(c *Config) { c.TablePath = "" }, wantErr: "table path"},
		{name: "postgres without settings", mutate: func(c *Config) { c.StoreDriver = StorePostgres }, wantErr: "postgreSQL"},
		{name: "unknown driver", mutate: func(c *Config) { c.StoreDriver = "mysql" }, wantErr: "unsupported store driver"},
		{name: "snowflake without settings", mutate: func(c *Config) { c.InputPath = "snowflake://S.T" }, wantErr: "snowflake configuration"},
		{name: "table input without table", mutate: func(c *Config) { c.InputPath = "sqlite://staging.db" }, wantErr: "does not name a table"},
		{name: "zero batch size", mutate: func(c *Config) { c.BatchSize = 0 }, wantErr: "batch size"},
		{name: "negative retries", mutate: func(c *Config) { c.RetryAttempts = -1 }, wantErr: "retry attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseInput(t *testing.T) {
	tests := []struct {
		location string
		want     InputSpec
	}{
		{"data/customers.csv", InputSpec{Kind: InputCSV, Path: "data/customers.csv"}},
		{"snowflake://STAGING.CUSTOMERS", InputSpec{Kind: InputSnowflake, Schema: "STAGING", Table: "CUSTOMERS"}},
		{"postgres://customers", InputSpec{Kind: InputPostgres, Table: "customers"}},
		{"sqlite://staging.db#customers", InputSpec{Kind: InputSQLite, Path: "staging.db", Table: "customers"}},
	}

	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseInput(tt.location))
		})
	}
}

func TestSQLiteDSN(t *testing.T) {
	cfg := &SQLiteConfig{Path: "/tmp/pii.db", BusyTimeout: 5 * time.Second, JournalMode: "WAL"}
	assert.Equal(t,
		"file:/tmp/pii.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
		cfg.DSN())

	bare := &SQLiteConfig{Path: "x.db"}
	assert.Equal(t, "file:x.db?_pragma=foreign_keys(1)", bare.DSN())
}

func TestPostgresStatementTimeout(t *testing.T) {
	clearEnv(t)
	t.Setenv("POSTGRES_USER", "pii")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_DB", "warehouse")
	t.Setenv("POSTGRES_STATEMENT_TIMEOUT_SECONDS", "45")

	cfg, err := LoadPostgresConfig()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.StatementTimeout)
	assert.Contains(t, cfg.ConnectionString(), " statement_timeout=45000")

	cfg.StatementTimeout = 0
	assert.NotContains(t, cfg.ConnectionString(), "statement_timeout")
}
