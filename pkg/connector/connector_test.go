// pkg/connector/connector_test.go
package connector

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/David-Botos/pii-redact/pkg/config"
)

func newSQLiteConfig(t *testing.T) *config.SQLiteConfig {
	t.Helper()
	return &config.SQLiteConfig{
		Path:        filepath.Join(t.TempDir(), "nested", "pii.db"),
		BusyTimeout: time.Second,
		JournalMode: "WAL",
	}
}

func TestSQLiteConnector(t *testing.T) {
	ctx := context.Background()

	conn, err := NewSQLiteConnector(ctx, newSQLiteConfig(t))
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "sqlite", conn.DriverName())
	assert.Equal(t, DialectSQLite, conn.Dialect())
	require.NoError(t, conn.Validate(ctx))

	db := SQLX(conn)
	_, err = db.ExecContext(ctx, "CREATE TABLE t (a TEXT)")
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, db.Rebind("INSERT INTO t (a) VALUES (?)"), "x")
	require.NoError(t, err)

	var count int
	require.NoError(t, db.GetContext(ctx, &count, "SELECT COUNT(*) FROM t"))
	assert.Equal(t, 1, count)

	assert.Equal(t, 1, GetConnectionStats(conn.DB()).MaxOpenConns)
}

func TestSQLiteConnectorRequiresPath(t *testing.T) {
	_, err := NewSQLiteConnector(context.Background(), &config.SQLiteConfig{})
	assert.Error(t, err)
}

func TestFactory(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{
		StoreDriver: config.StoreSQLite,
		SQLite:      newSQLiteConfig(t),
	}
	factory := NewConnectorFactory(cfg, zap.NewNop())

	store, err := factory.CreateStoreConnector(ctx)
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, DialectSQLite, store.Dialect())

	input, err := factory.CreateInputConnector(ctx, config.InputSpec{
		Kind:  config.InputSQLite,
		Path:  filepath.Join(t.TempDir(), "input.db"),
		Table: "people",
	})
	require.NoError(t, err)
	defer input.Close()

	_, err = factory.CreateInputConnector(ctx, config.InputSpec{Kind: config.InputCSV, Path: "x.csv"})
	assert.Error(t, err)

	cfg.StoreDriver = "mysql"
	_, err = factory.CreateStoreConnector(ctx)
	assert.Error(t, err)
}
