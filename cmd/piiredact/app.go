// cmd/piiredact/app.go
package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/David-Botos/pii-redact/pkg/config"
	"github.com/David-Botos/pii-redact/pkg/connector"
	"github.com/David-Botos/pii-redact/pkg/pipeline"
	"github.com/David-Botos/pii-redact/pkg/rules"
	"github.com/David-Botos/pii-redact/pkg/source"
	"github.com/David-Botos/pii-redact/pkg/store"
)

// app holds the connections and the pipeline of one command invocation
type app struct {
	logger   *zap.Logger
	store    connector.DatabaseConnector
	input    connector.DatabaseConnector
	pipeline *pipeline.Pipeline
}

// setup connects to the store and input and compiles the pipeline. A
// read-only setup never creates or alters a table.
func setup(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer, readOnly bool) (*app, error) {
	a := &app{logger: logger}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	catalog, err := rules.Load(cfg.ExpectationsPath)
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded rule catalog",
		zap.String("path", cfg.ExpectationsPath),
		zap.String("dialect", catalog.Dialect),
		zap.Strings("rules", catalog.Names()))

	factory := connector.NewConnectorFactory(cfg, logger)

	a.store, err = factory.CreateStoreConnector(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.store.Validate(ctx); err != nil {
		return nil, fmt.Errorf("table store is not usable: %w", err)
	}

	tables, err := store.New(connector.SQLX(a.store), logger)
	if err != nil {
		return nil, err
	}

	src, err := a.openSource(ctx, factory, cfg)
	if err != nil {
		return nil, err
	}

	opts := pipeline.OptionsFromConfig(cfg)
	opts.ReadOnly = readOnly

	a.pipeline, err = pipeline.New(ctx, src, tables, catalog, pipeline.NewMetrics(reg), logger, opts)
	if err != nil {
		return nil, err
	}

	ready = true
	return a, nil
}

// openSource opens the CSV file or database table named by the input path
func (a *app) openSource(ctx context.Context, factory *connector.ConnectorFactory, cfg *config.Config) (source.Source, error) {
	input := config.ParseInput(cfg.InputPath)
	if input.Kind == config.InputCSV {
		return source.NewCSVSource(input.Path, a.logger)
	}

	conn, err := factory.CreateInputConnector(ctx, input)
	if err != nil {
		return nil, err
	}
	a.input = conn

	return source.NewTableSource(connector.SQLX(conn), input.Schema, input.Table, cfg.SourceOrderBy, a.logger)
}

// Close releases the pipeline and both connections
func (a *app) Close() {
	if a.pipeline != nil {
		if err := a.pipeline.Close(); err != nil {
			a.logger.Warn("Failed to close pipeline", zap.Error(err))
		}
	}
	for _, conn := range []connector.DatabaseConnector{a.input, a.store} {
		if conn == nil {
			continue
		}
		if err := conn.Close(); err != nil {
			a.logger.Warn("Failed to close connection", zap.Error(err))
		}
	}
}
