// pkg/source/table.go
package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/David-Botos/pii-redact/pkg/converter"
	"github.com/David-Botos/pii-redact/pkg/model"
)

// TableSource pages through a database table with LIMIT/OFFSET. Paging is
// ordered by orderBy, or by every column in position when it is empty.
type TableSource struct {
	db        *sqlx.DB
	meta      model.TableMetadata
	qualified string
	orderBy   string
	logger    *zap.Logger
}

// NewTableSource creates a source over schema.table (schema may be empty)
func NewTableSource(db *sqlx.DB, schema, table, orderBy string, logger *zap.Logger) (*TableSource, error) {
	if table == "" {
		return nil, fmt.Errorf("table name is required")
	}

	qualified := pq.QuoteIdentifier(table)
	if schema != "" {
		qualified = pq.QuoteIdentifier(schema) + "." + qualified
	}

	return &TableSource{
		db:        db,
		meta:      model.TableMetadata{Schema: schema, Table: table},
		qualified: qualified,
		orderBy:   orderBy,
		logger:    logger.Named("table-source"),
	}, nil
}

// Name returns the qualified table name
func (s *TableSource) Name() string {
	return s.meta.FullName()
}

// Columns reads the table's column types from an empty result set. The
// schema is read once; the order column is resolved against it
// case-insensitively since Snowflake reports upper-case names.
func (s *TableSource) Columns(ctx context.Context) ([]model.Column, error) {
	if s.meta.Columns != nil {
		return s.meta.Columns, nil
	}

	rows, err := s.db.QueryxContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT 0", s.qualified))
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", s.Name(), err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to read column types of %s: %w", s.Name(), err)
	}

	columns := make([]model.Column, len(types))
	for i, ct := range types {
		nullable, ok := ct.Nullable()
		dataType := ct.DatabaseTypeName()
		if dataType == "" {
			dataType = "TEXT"
		}
		columns[i] = model.Column{
			Name:     ct.Name(),
			DataType: dataType,
			Nullable: nullable || !ok,
		}
	}

	if err := checkColumnNames(s.Name(), columns); err != nil {
		return nil, err
	}

	meta := model.TableMetadata{Schema: s.meta.Schema, Table: s.meta.Table, Columns: columns}
	if s.orderBy != "" {
		col := meta.GetColumnByName(s.orderBy)
		if col == nil {
			return nil, model.NewConfigError(s.Name(), fmt.Sprintf("order column %q not found", s.orderBy), nil)
		}
		s.orderBy = col.Name
	}

	s.meta = meta
	return columns, nil
}

// orderClause returns the ORDER BY used for paging
func (s *TableSource) orderClause(columnCount int) string {
	if s.orderBy != "" {
		return pq.QuoteIdentifier(s.orderBy)
	}
	positions := make([]string, columnCount)
	for i := range positions {
		positions[i] = fmt.Sprintf("%d", i+1)
	}
	return strings.Join(positions, ", ")
}

// ReadBatch reads one page of the table
func (s *TableSource) ReadBatch(ctx context.Context, offset int64, limit int) (*Batch, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("batch limit must be positive, got %d", limit)
	}

	columns, err := s.Columns(ctx)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT * FROM %s ORDER BY %s LIMIT %d OFFSET %d",
		s.qualified, s.orderClause(len(columns)), limit, offset)

	rows, err := s.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("batch query on %s failed at offset %d: %w", s.Name(), offset, err)
	}
	defer rows.Close()

	records := make([]model.Record, 0, limit)
	for rows.Next() {
		raw := make(map[string]interface{}, len(columns))
		if err := rows.MapScan(raw); err != nil {
			return nil, fmt.Errorf("row processing failed at offset %d: %w", offset, err)
		}

		record := make(model.Record, len(raw))
		for k, v := range raw {
			record[k] = converter.NormalizeValue(v)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows at offset %d: %w", offset, err)
	}

	s.logger.Debug("Read batch",
		zap.String("table", s.Name()),
		zap.Int64("offset", offset),
		zap.Int("rows", len(records)))

	return newBatch(s.Name(), offset, records), nil
}
