// pkg/store/store.go

// Package store persists the pipeline's durable tables. Tables are append
// only; every append is tagged with a batch id and recorded in a commit log
// in the same transaction, so replaying a batch is a no-op.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/David-Botos/pii-redact/pkg/converter"
	"github.com/David-Botos/pii-redact/pkg/model"
)

// TableStore is the tabular storage substrate shared by every pipeline stage
type TableStore struct {
	db        *sqlx.DB
	dialect   string
	converter *converter.TypeConverter
	logger    *zap.Logger

	mu      sync.RWMutex
	schemas map[string][]storedColumn
}

// DialectForDriver maps a database/sql driver name to a store dialect
func DialectForDriver(driverName string) (string, error) {
	switch driverName {
	case "sqlite", "sqlite3":
		return converter.DialectSQLite, nil
	case "pgx", "postgres":
		return converter.DialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported store driver %q", driverName)
	}
}

// New creates a TableStore over an open database
func New(db *sqlx.DB, logger *zap.Logger) (*TableStore, error) {
	if db == nil {
		return nil, errors.New("database connection cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	dialect, err := DialectForDriver(db.DriverName())
	if err != nil {
		return nil, err
	}

	return &TableStore{
		db:        db,
		dialect:   dialect,
		converter: converter.NewTypeConverter(logger),
		logger:    logger.Named("store"),
		schemas:   make(map[string][]storedColumn),
	}, nil
}

// Dialect returns the store dialect
func (s *TableStore) Dialect() string {
	return s.dialect
}

// Init creates the bookkeeping tables
func (s *TableStore) Init(ctx context.Context) error {
	for _, ddl := range s.bookkeepingDDL() {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create bookkeeping table: %w", err)
		}
	}
	s.logger.Debug("Ensured bookkeeping tables exist")
	return nil
}

// EnsureTable creates a data table or, when it exists, checks that its
// column set matches. Column types come from the source types.
func (s *TableStore) EnsureTable(ctx context.Context, table string, columns []model.Column) error {
	names := make([]string, 0, len(columns))
	for _, c := range columns {
		if c.Name == SeqColumn || c.Name == BatchColumn {
			return model.NewConfigError(c.Name, "column name is reserved for bookkeeping", nil)
		}
		names = append(names, c.Name)
	}

	existing, err := s.describe(ctx, table)
	if err != nil {
		return err
	}

	if len(existing) == 0 {
		ddl, err := s.createTableDDL(table, columns)
		if err != nil {
			return fmt.Errorf("failed to build table %s: %w", table, err)
		}
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create table %s: %w", table, err)
		}
		s.logger.Info("Created table", zap.String("table", table), zap.Int("columns", len(columns)))

		existing, err = s.describe(ctx, table)
		if err != nil {
			return err
		}
	}

	actual := make([]string, 0, len(existing))
	for _, c := range existing {
		actual = append(actual, c.Name)
	}
	if err := diffColumns(table, names, actual); err != nil {
		return err
	}

	s.mu.Lock()
	s.schemas[table] = existing
	s.mu.Unlock()
	return nil
}

// TableColumns returns the user columns of a table in creation order
func (s *TableStore) TableColumns(ctx context.Context, table string) ([]string, error) {
	cols, err := s.describe(ctx, table)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		names = append(names, c.Name)
	}
	return names, nil
}

// schema returns the cached columns of a table prepared by EnsureTable
func (s *TableStore) schema(table string) ([]storedColumn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cols, ok := s.schemas[table]
	if !ok {
		return nil, fmt.Errorf("table %s has not been ensured", table)
	}
	return cols, nil
}

// Append writes a batch of records to a table. It returns false without
// writing when the batch is already committed to that table.
func (s *TableStore) Append(ctx context.Context, table, batchID string, records []model.Record) (bool, error) {
	return s.AppendWithAudit(ctx, table, batchID, records, nil)
}

// AppendWithAudit is Append plus audit rows written in the same transaction
func (s *TableStore) AppendWithAudit(
	ctx context.Context,
	table, batchID string,
	records []model.Record,
	operations []model.RedactionOperation,
) (appended bool, err error) {
	cols, err := s.schema(table)
	if err != nil {
		return false, err
	}

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	for i, rec := range records {
		if err := diffColumns(table, names, rec.Keys()); err != nil {
			return false, fmt.Errorf("record %d: %w", i, err)
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Error("Failed to rollback transaction",
					zap.Error(rbErr),
					zap.NamedError("cause", err))
			}
		}
	}()

	var committed int
	err = tx.GetContext(ctx, &committed, s.db.Rebind(fmt.Sprintf(
		"SELECT COUNT(*) FROM %s WHERE table_name = ? AND batch_id = ?", quote(CommitsTable))),
		table, batchID)
	if err != nil {
		return false, fmt.Errorf("failed to check commit log: %w", err)
	}
	if committed > 0 {
		err = tx.Rollback()
		s.logger.Debug("Batch already committed", zap.String("table", table), zap.String("batch_id", batchID))
		return false, err
	}

	if len(records) > 0 {
		if err = s.insertRecords(ctx, tx, table, batchID, cols, records); err != nil {
			return false, err
		}
	}

	if len(operations) > 0 {
		if err = s.insertAudit(ctx, tx, operations); err != nil {
			return false, err
		}
	}

	_, err = tx.ExecContext(ctx, s.db.Rebind(fmt.Sprintf(
		"INSERT INTO %s (table_name, batch_id, row_count) VALUES (?, ?, ?)", quote(CommitsTable))),
		table, batchID, len(records))
	if err != nil {
		return false, fmt.Errorf("failed to record commit: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug("Appended batch",
		zap.String("table", table),
		zap.String("batch_id", batchID),
		zap.Int("rows", len(records)),
		zap.Int("audit_rows", len(operations)))
	return true, nil
}

// insertRecords inserts rows with a prepared statement inside tx
func (s *TableStore) insertRecords(
	ctx context.Context,
	tx *sqlx.Tx,
	table, batchID string,
	cols []storedColumn,
	records []model.Record,
) error {
	quoted := make([]string, 0, len(cols)+1)
	placeholders := make([]string, 0, len(cols)+1)
	quoted = append(quoted, quote(BatchColumn))
	placeholders = append(placeholders, "?")
	for _, c := range cols {
		quoted = append(quoted, quote(c.Name))
		placeholders = append(placeholders, "?")
	}

	query := s.db.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", ")))

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare insert into %s: %w", table, err)
	}
	defer stmt.Close()

	for i, rec := range records {
		args := make([]interface{}, 0, len(cols)+1)
		args = append(args, batchID)
		for _, c := range cols {
			value, err := s.converter.ConvertValue(s.dialect, rec[c.Name], c.Type, c.Name)
			if err != nil {
				return fmt.Errorf("record %d column %s: %w", i, c.Name, err)
			}
			args = append(args, value)
		}

		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert into %s: %w", table, err)
		}
	}
	return nil
}

// IsCommitted reports whether a batch has been committed to a table
func (s *TableStore) IsCommitted(ctx context.Context, table, batchID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, s.db.Rebind(fmt.Sprintf(
		"SELECT COUNT(*) FROM %s WHERE table_name = ? AND batch_id = ?", quote(CommitsTable))),
		table, batchID)
	if err != nil {
		return false, fmt.Errorf("failed to check commit log: %w", err)
	}
	return count > 0, nil
}

// ReadBatch returns the rows a batch appended to a table, in append order
func (s *TableStore) ReadBatch(ctx context.Context, table, batchID string) ([]model.StoredRecord, error) {
	query := s.db.Rebind(fmt.Sprintf("SELECT * FROM %s WHERE %s = ? ORDER BY %s",
		quote(table), quote(BatchColumn), quote(SeqColumn)))
	return s.query(ctx, query, batchID)
}

// ReadAll returns every row of a table in append order
func (s *TableStore) ReadAll(ctx context.Context, table string) ([]model.StoredRecord, error) {
	query := fmt.Sprintf("SELECT * FROM %s ORDER BY %s", quote(table), quote(SeqColumn))
	return s.query(ctx, query)
}

// query runs a SELECT * and converts each row into a StoredRecord
func (s *TableStore) query(ctx context.Context, query string, args ...interface{}) ([]model.StoredRecord, error) {
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	defer rows.Close()

	var out []model.StoredRecord
	for rows.Next() {
		raw := make(map[string]interface{})
		if err := rows.MapScan(raw); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		seq, err := toInt64(raw[SeqColumn])
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", SeqColumn, err)
		}

		record := make(model.Record, len(raw))
		for k, v := range raw {
			if k == SeqColumn || k == BatchColumn {
				continue
			}
			record[k] = converter.NormalizeValue(v)
		}
		out = append(out, model.StoredRecord{Seq: seq, Record: record})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// Count returns the number of rows in a table
func (s *TableStore) Count(ctx context.Context, table string) (int64, error) {
	var count int64
	if err := s.db.GetContext(ctx, &count, fmt.Sprintf("SELECT COUNT(*) FROM %s", quote(table))); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return count, nil
}

// CountBatch returns the number of rows a batch appended to a table
func (s *TableStore) CountBatch(ctx context.Context, table, batchID string) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, s.db.Rebind(fmt.Sprintf(
		"SELECT COUNT(*) FROM %s WHERE %s = ?", quote(table), quote(BatchColumn))), batchID)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s batch %s: %w", table, batchID, err)
	}
	return count, nil
}

// ScanFailedNames returns the distinct failed expectation names of rows
// appended after afterSeq, along with the highest offset scanned
func (s *TableStore) ScanFailedNames(ctx context.Context, table string, afterSeq int64) ([]string, int64, error) {
	var maxSeq int64
	err := s.db.GetContext(ctx, &maxSeq, s.db.Rebind(fmt.Sprintf(
		"SELECT COALESCE(MAX(%s), 0) FROM %s WHERE %s > ?",
		quote(SeqColumn), quote(table), quote(SeqColumn))), afterSeq)
	if err != nil {
		return nil, afterSeq, fmt.Errorf("failed to read %s offset: %w", table, err)
	}
	if maxSeq <= afterSeq {
		return nil, afterSeq, nil
	}

	var encoded []sql.NullString
	err = s.db.SelectContext(ctx, &encoded, s.db.Rebind(fmt.Sprintf(
		"SELECT DISTINCT %s FROM %s WHERE %s > ? AND %s <= ?",
		quote(model.FailedExpectationsColumn), quote(table), quote(SeqColumn), quote(SeqColumn))),
		afterSeq, maxSeq)
	if err != nil {
		return nil, afterSeq, fmt.Errorf("failed to scan failed expectations: %w", err)
	}

	seen := make(map[string]bool)
	var names []string
	for _, e := range encoded {
		if !e.Valid {
			continue
		}
		failed, err := model.DecodeFailedExpectations(e.String)
		if err != nil {
			return nil, afterSeq, err
		}
		for _, name := range failed {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}

	return names, maxSeq, nil
}

// SetProperty upserts a table property
func (s *TableStore) SetProperty(ctx context.Context, table, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(fmt.Sprintf(
		`INSERT INTO %s (table_name, key, value) VALUES (?, ?, ?)
		ON CONFLICT (table_name, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		quote(PropertiesTable))), table, key, value)
	if err != nil {
		return fmt.Errorf("failed to set property %s on %s: %w", key, table, err)
	}
	return nil
}

// Property reads a table property
func (s *TableStore) Property(ctx context.Context, table, key string) (string, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, s.db.Rebind(fmt.Sprintf(
		"SELECT value FROM %s WHERE table_name = ? AND key = ?", quote(PropertiesTable))), table, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read property %s on %s: %w", key, table, err)
	}
	return value, true, nil
}

// Checkpoint returns the next source offset to process, zero when the
// source has never been checkpointed
func (s *TableStore) Checkpoint(ctx context.Context, source string) (int64, error) {
	var offset int64
	err := s.db.GetContext(ctx, &offset, s.db.Rebind(fmt.Sprintf(
		"SELECT next_offset FROM %s WHERE source = ?", quote(CheckpointsTable))), source)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read checkpoint for %s: %w", source, err)
	}
	return offset, nil
}

// SaveCheckpoint records the next offset after a fully committed batch and
// clears the source's pending batch in the same transaction
func (s *TableStore) SaveCheckpoint(ctx context.Context, source string, nextOffset int64, batchID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin checkpoint transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.db.Rebind(fmt.Sprintf(
		`INSERT INTO %s (source, next_offset, batch_id) VALUES (?, ?, ?)
		ON CONFLICT (source) DO UPDATE SET next_offset = excluded.next_offset,
			batch_id = excluded.batch_id, updated_at = CURRENT_TIMESTAMP`,
		quote(CheckpointsTable))), source, nextOffset, batchID)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint for %s: %w", source, err)
	}

	_, err = tx.ExecContext(ctx, s.db.Rebind(fmt.Sprintf(
		"DELETE FROM %s WHERE source = ?", quote(PendingTable))), source)
	if err != nil {
		return fmt.Errorf("failed to clear pending batch for %s: %w", source, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit checkpoint for %s: %w", source, err)
	}
	return nil
}

// PendingBatch is a batch that was started but not yet checkpointed
type PendingBatch struct {
	Offset  int64  `db:"batch_offset"`
	Rows    int    `db:"row_count"`
	BatchID string `db:"batch_id"`
}

// BeginBatch records the extent of a batch before its first append, so a
// resumed run re-reads exactly the rows it started with even if the source
// has grown since
func (s *TableStore) BeginBatch(ctx context.Context, source string, offset int64, rows int, batchID string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(fmt.Sprintf(
		`INSERT INTO %s (source, batch_offset, row_count, batch_id) VALUES (?, ?, ?, ?)
		ON CONFLICT (source) DO UPDATE SET batch_offset = excluded.batch_offset,
			row_count = excluded.row_count, batch_id = excluded.batch_id,
			started_at = CURRENT_TIMESTAMP`,
		quote(PendingTable))), source, offset, rows, batchID)
	if err != nil {
		return fmt.Errorf("failed to record pending batch for %s: %w", source, err)
	}
	return nil
}

// Pending returns the source's started but uncheckpointed batch, if any
func (s *TableStore) Pending(ctx context.Context, source string) (PendingBatch, bool, error) {
	var pending PendingBatch
	err := s.db.GetContext(ctx, &pending, s.db.Rebind(fmt.Sprintf(
		"SELECT batch_offset, row_count, batch_id FROM %s WHERE source = ?", quote(PendingTable))), source)
	if errors.Is(err, sql.ErrNoRows) {
		return PendingBatch{}, false, nil
	}
	if err != nil {
		return PendingBatch{}, false, fmt.Errorf("failed to read pending batch for %s: %w", source, err)
	}
	return pending, true, nil
}

// Exists reports whether a table has been created
func (s *TableStore) Exists(ctx context.Context, table string) (bool, error) {
	cols, err := s.describe(ctx, table)
	if err != nil {
		return false, err
	}
	return len(cols) > 0, nil
}

// toInt64 converts a scanned offset value
func toInt64(v interface{}) (int64, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case int32:
		return int64(val), nil
	case int:
		return int64(val), nil
	case float64:
		return int64(val), nil
	case []byte:
		var n int64
		_, err := fmt.Sscan(string(val), &n)
		return n, err
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

// redactedAtFormat is the layout of redaction_audit.redacted_at
const redactedAtFormat = time.RFC3339Nano
