// pkg/connector/factory.go
package connector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/David-Botos/pii-redact/pkg/config"
)

// ConnectorFactory creates database connectors
type ConnectorFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewConnectorFactory creates a new connector factory
func NewConnectorFactory(cfg *config.Config, logger *zap.Logger) *ConnectorFactory {
	return &ConnectorFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateStoreConnector creates the connector backing the table store
func (f *ConnectorFactory) CreateStoreConnector(ctx context.Context) (DatabaseConnector, error) {
	switch f.cfg.StoreDriver {
	case config.StoreSQLite:
		f.logger.Info("Creating SQLite store connector")
		conn, err := NewSQLiteConnector(ctx, f.cfg.SQLite)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite connector: %w", err)
		}
		return conn, nil
	case config.StorePostgres:
		f.logger.Info("Creating PostgreSQL store connector")
		conn, err := NewPostgresConnector(ctx, f.cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to create PostgreSQL connector: %w", err)
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", f.cfg.StoreDriver)
	}
}

// CreateInputConnector creates a connector for a table input. CSV inputs
// need no connector.
func (f *ConnectorFactory) CreateInputConnector(ctx context.Context, input config.InputSpec) (DatabaseConnector, error) {
	switch input.Kind {
	case config.InputSnowflake:
		f.logger.Info("Creating Snowflake connector")
		conn, err := NewSnowflakeConnector(ctx, f.cfg.Snowflake)
		if err != nil {
			return nil, fmt.Errorf("failed to create Snowflake connector: %w", err)
		}
		return conn, nil
	case config.InputPostgres:
		f.logger.Info("Creating PostgreSQL input connector")
		conn, err := NewPostgresConnector(ctx, f.cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to create PostgreSQL connector: %w", err)
		}
		return conn, nil
	case config.InputSQLite:
		f.logger.Info("Creating SQLite input connector", zap.String("path", input.Path))
		cfg := *f.cfg.SQLite
		cfg.Path = input.Path
		conn, err := NewSQLiteConnector(ctx, &cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite connector: %w", err)
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("input kind %q has no database connector", input.Kind)
	}
}
